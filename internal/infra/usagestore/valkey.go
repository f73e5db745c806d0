package usagestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/truthcard/internal/domain/usage"
)

const (
	defaultRecordTTL   = 62 * 24 * time.Hour
	maxOptimisticTries = 5
)

// ErrUpdateConflict is returned when concurrent writers kept invalidating the transaction.
var ErrUpdateConflict = errors.New("usage record changed concurrently")

// ValkeyStore persists usage records as JSON strings in a Valkey-compatible database.
type ValkeyStore struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
}

// NewValkeyStore constructs a new store backed by Valkey.
func NewValkeyStore(client valkey.Client, prefix string) *ValkeyStore {
	if prefix == "" {
		prefix = "truthcard"
	}
	return &ValkeyStore{client: client, prefix: prefix, ttl: defaultRecordTTL}
}

func (s *ValkeyStore) Load(ctx context.Context, key string) (usage.Record, bool, error) {
	payload, err := s.client.Do(ctx, s.client.B().Get().Key(s.recordKey(key)).Build()).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return usage.Record{}, false, nil
		}
		return usage.Record{}, false, err
	}
	return decodeRecord(payload)
}

func (s *ValkeyStore) Save(ctx context.Context, key string, record usage.Record) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	cmd := s.client.B().Set().Key(s.recordKey(key)).Value(string(payload)).Ex(s.ttl).Build()
	return s.client.Do(ctx, cmd).Error()
}

// Update uses WATCH/MULTI/EXEC and retries when another writer touched the key.
func (s *ValkeyStore) Update(ctx context.Context, key string, fn usage.UpdateFunc) (usage.Record, error) {
	k := s.recordKey(key)
	for attempt := 0; attempt < maxOptimisticTries; attempt++ {
		var (
			result    usage.Record
			committed bool
		)
		err := s.client.Dedicated(func(c valkey.DedicatedClient) error {
			if err := c.Do(ctx, c.B().Watch().Key(k).Build()).Error(); err != nil {
				return err
			}
			current, found := usage.Record{}, false
			payload, err := c.Do(ctx, c.B().Get().Key(k).Build()).ToString()
			switch {
			case err == nil:
				current, found, err = decodeRecord(payload)
				if err != nil {
					_ = c.Do(ctx, c.B().Unwatch().Build()).Error()
					return err
				}
			case !valkey.IsValkeyNil(err):
				_ = c.Do(ctx, c.B().Unwatch().Build()).Error()
				return err
			}

			next, err := fn(current, found)
			if err != nil {
				_ = c.Do(ctx, c.B().Unwatch().Build()).Error()
				return err
			}
			encoded, err := json.Marshal(next)
			if err != nil {
				_ = c.Do(ctx, c.B().Unwatch().Build()).Error()
				return err
			}
			resps := c.DoMulti(ctx,
				c.B().Multi().Build(),
				c.B().Set().Key(k).Value(string(encoded)).Ex(s.ttl).Build(),
				c.B().Exec().Build(),
			)
			for _, resp := range resps[:2] {
				if err := resp.Error(); err != nil {
					return err
				}
			}
			if err := resps[2].Error(); err != nil {
				if valkey.IsValkeyNil(err) {
					return nil
				}
				return err
			}
			result, committed = next, true
			return nil
		})
		if err != nil {
			return usage.Record{}, err
		}
		if committed {
			return result, nil
		}
	}
	return usage.Record{}, fmt.Errorf("%w: %s", ErrUpdateConflict, key)
}

func decodeRecord(payload string) (usage.Record, bool, error) {
	var record usage.Record
	if err := json.Unmarshal([]byte(payload), &record); err != nil {
		return usage.Record{}, false, err
	}
	return record, true, nil
}

func (s *ValkeyStore) recordKey(device string) string {
	return fmt.Sprintf("%s:usage:%s", s.prefix, device)
}

var _ usage.Store = (*ValkeyStore)(nil)
