package orderrepo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/yanqian/truthcard/internal/domain/payment"
)

// ErrOrderExists is returned when an order id is reused.
var ErrOrderExists = errors.New("order already exists")

// ErrOrderNotFound is returned when marking an unknown order.
var ErrOrderNotFound = errors.New("order not found")

// MemoryRepository keeps orders in process for tests/dev.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]payment.Order
}

// NewMemoryRepository constructs a new in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]payment.Order)}
}

// Create stores a new order.
func (r *MemoryRepository) Create(_ context.Context, order payment.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.orders[order.ID]; exists {
		return ErrOrderExists
	}
	r.orders[order.ID] = order
	return nil
}

// Get fetches an order by id.
func (r *MemoryRepository) Get(_ context.Context, id string) (payment.Order, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.orders[id]
	return order, ok, nil
}

// MarkPaid records the payment against the order.
func (r *MemoryRepository) MarkPaid(_ context.Context, id, paymentID string, paidAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	order.Status = payment.OrderStatusPaid
	order.PaymentID = paymentID
	order.PaidAt = paidAt.UTC()
	r.orders[id] = order
	return nil
}

var _ payment.OrderRepository = (*MemoryRepository)(nil)
