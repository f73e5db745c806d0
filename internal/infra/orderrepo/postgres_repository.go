package orderrepo

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/yanqian/truthcard/internal/domain/payment"
)

// PostgresRepository persists orders in the payment_orders table.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Create inserts a new order row.
func (r *PostgresRepository) Create(ctx context.Context, order payment.Order) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payment_orders (id, plan, device_id, amount, currency, receipt, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, order.ID, order.Plan, order.DeviceID, order.Amount, order.Currency, order.Receipt, string(order.Status), order.CreatedAt)
	return err
}

// Get fetches an order by id.
func (r *PostgresRepository) Get(ctx context.Context, id string) (payment.Order, bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, plan, device_id, amount, currency, receipt, status, payment_id, created_at, paid_at
		FROM payment_orders
		WHERE id = $1
		LIMIT 1
	`, id)
	if err != nil {
		return payment.Order{}, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return payment.Order{}, false, rows.Err()
	}
	order, err := scanOrder(rows)
	if err != nil {
		return payment.Order{}, false, err
	}
	return order, true, rows.Err()
}

// MarkPaid flips the order to paid.
func (r *PostgresRepository) MarkPaid(ctx context.Context, id, paymentID string, paidAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE payment_orders
		SET status = $2, payment_id = $3, paid_at = $4
		WHERE id = $1
	`, id, string(payment.OrderStatusPaid), paymentID, paidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (payment.Order, error) {
	var (
		order     payment.Order
		status    string
		paymentID *string
		created   time.Time
		paidAt    *time.Time
	)
	if err := row.Scan(&order.ID, &order.Plan, &order.DeviceID, &order.Amount, &order.Currency, &order.Receipt, &status, &paymentID, &created, &paidAt); err != nil {
		return payment.Order{}, err
	}
	order.Status = payment.OrderStatus(status)
	order.CreatedAt = created.UTC()
	if paymentID != nil {
		order.PaymentID = *paymentID
	}
	if paidAt != nil {
		order.PaidAt = paidAt.UTC()
	}
	return order, nil
}

var _ payment.OrderRepository = (*PostgresRepository)(nil)
