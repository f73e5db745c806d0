package usagestore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yanqian/truthcard/internal/domain/usage"
)

// PostgresStore implements usage.Store on the usage_records table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs the store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Load fetches the record for a device.
func (s *PostgresStore) Load(ctx context.Context, key string) (usage.Record, bool, error) {
	return loadRecord(ctx, s.pool, key, false)
}

// Save upserts the record for a device.
func (s *PostgresStore) Save(ctx context.Context, key string, record usage.Record) error {
	_, err := s.pool.Exec(ctx, upsertRecordSQL, key, record.Count, record.Date, record.Locked, nullableTime(record.LockoutEnd))
	return err
}

// Update locks the row with SELECT ... FOR UPDATE for the read-modify-write.
func (s *PostgresStore) Update(ctx context.Context, key string, fn usage.UpdateFunc) (usage.Record, error) {
	var result usage.Record
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO usage_records (device_id, count, day, locked)
			VALUES ($1, 0, '', FALSE)
			ON CONFLICT (device_id) DO NOTHING
		`, key); err != nil {
			return err
		}
		current, found, err := loadRecord(ctx, tx, key, true)
		if err != nil {
			return err
		}
		next, err := fn(current, found)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, upsertRecordSQL, key, next.Count, next.Date, next.Locked, nullableTime(next.LockoutEnd)); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return usage.Record{}, err
	}
	return result, nil
}

const upsertRecordSQL = `
	INSERT INTO usage_records (device_id, count, day, locked, lockout_end, updated_at)
	VALUES ($1, $2, $3, $4, $5, NOW())
	ON CONFLICT (device_id) DO UPDATE
	SET count = EXCLUDED.count,
	    day = EXCLUDED.day,
	    locked = EXCLUDED.locked,
	    lockout_end = EXCLUDED.lockout_end,
	    updated_at = NOW()
`

func loadRecord(ctx context.Context, q querier, key string, forUpdate bool) (usage.Record, bool, error) {
	sql := `SELECT count, day, locked, lockout_end FROM usage_records WHERE device_id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	var (
		record     usage.Record
		lockoutEnd *time.Time
	)
	err := q.QueryRow(ctx, sql, key).Scan(&record.Count, &record.Date, &record.Locked, &lockoutEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return usage.Record{}, false, nil
		}
		return usage.Record{}, false, err
	}
	if lockoutEnd != nil {
		record.LockoutEnd = lockoutEnd.UTC()
	}
	// Placeholder rows inserted by Update carry an empty day.
	if record.Date == "" && record.Count == 0 && !record.Locked {
		return usage.Record{}, false, nil
	}
	return record, true, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

var _ usage.Store = (*PostgresStore)(nil)
