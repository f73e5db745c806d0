package payment

import (
	"context"
	"time"

	"github.com/yanqian/truthcard/internal/domain/usage"
)

// OrderStatus tracks checkout progress.
type OrderStatus string

const (
	OrderStatusCreated OrderStatus = "created"
	OrderStatusPaid    OrderStatus = "paid"
)

// Plan is a purchasable tier.
type Plan struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Tier        usage.Tier `json:"tier"`
	Amount      int64      `json:"amount"`
}

// Order is one checkout attempt of a device.
type Order struct {
	ID        string      `json:"id"`
	Plan      string      `json:"plan"`
	DeviceID  string      `json:"deviceId"`
	Amount    int64       `json:"amount"`
	Currency  string      `json:"currency"`
	Receipt   string      `json:"receipt"`
	Status    OrderStatus `json:"status"`
	PaymentID string      `json:"paymentId,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	PaidAt    time.Time   `json:"paidAt,omitempty"`
}

// Checkout is what the client hands to the payment widget.
type Checkout struct {
	OrderID     string `json:"orderId"`
	Plan        string `json:"plan"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ConfirmRequest carries the widget callback values.
type ConfirmRequest struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

// Confirmation is a verified payment.
type Confirmation struct {
	Order Order      `json:"order"`
	Tier  usage.Tier `json:"tier"`
}

// GatewayOrderRequest asks the provider for a new order.
type GatewayOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// GatewayOrder is the provider side order.
type GatewayOrder struct {
	ID       string
	Amount   int64
	Currency string
	Status   string
}

// Gateway creates orders with the payment provider.
type Gateway interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
}

// OrderRepository persists orders.
type OrderRepository interface {
	Create(ctx context.Context, order Order) error
	Get(ctx context.Context, id string) (Order, bool, error)
	MarkPaid(ctx context.Context, id, paymentID string, paidAt time.Time) error
}
