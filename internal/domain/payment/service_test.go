package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/yanqian/truthcard/internal/domain/usage"
	apperrors "github.com/yanqian/truthcard/pkg/errors"
	"github.com/yanqian/truthcard/pkg/logger"
)

type stubGateway struct {
	last GatewayOrderRequest
	err  error
}

func (g *stubGateway) CreateOrder(_ context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	g.last = req
	if g.err != nil {
		return GatewayOrder{}, g.err
	}
	return GatewayOrder{ID: "order_123", Amount: req.Amount, Currency: req.Currency, Status: "created"}, nil
}

type memOrders struct {
	mu     sync.Mutex
	orders map[string]Order
}

func (m *memOrders) Create(_ context.Context, o Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *memOrders) Get(_ context.Context, id string) (Order, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	return o, ok, nil
}

func (m *memOrders) MarkPaid(_ context.Context, id, paymentID string, paidAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[id]
	o.Status = OrderStatusPaid
	o.PaymentID = paymentID
	o.PaidAt = paidAt
	m.orders[id] = o
	return nil
}

var testPlans = []Plan{
	{ID: "pro", Name: "Pro Roast", Description: "Purchase Pro Tier", Tier: usage.TierPro, Amount: 499},
	{ID: "roaster", Name: "Nuclear Roast", Description: "Nuclear Roast Plan", Tier: usage.TierRoaster, Amount: 999},
}

func newTestService(gw Gateway) (*Service, *memOrders) {
	orders := &memOrders{orders: make(map[string]Order)}
	cfg := Config{KeyID: "rzp_test", KeySecret: "secret", Currency: "USD", MerchantName: "TruthCard AI", Plans: testPlans}
	return NewService(cfg, gw, orders, logger.Discard()), orders
}

func TestCreateOrder(t *testing.T) {
	gw := &stubGateway{}
	svc, orders := newTestService(gw)

	checkout, err := svc.CreateOrder(context.Background(), "dev-1", "Roaster")
	require.NoError(t, err)
	require.Equal(t, Checkout{
		OrderID:     "order_123",
		Plan:        "roaster",
		Amount:      999,
		Currency:    "USD",
		Key:         "rzp_test",
		Name:        "TruthCard AI",
		Description: "Nuclear Roast Plan",
	}, checkout)
	require.Equal(t, int64(999), gw.last.Amount)
	require.Equal(t, "roaster", gw.last.Notes["plan"])
	require.Equal(t, OrderStatusCreated, orders.orders["order_123"].Status)
	require.Equal(t, "dev-1", orders.orders["order_123"].DeviceID)
}

func TestCreateOrderErrors(t *testing.T) {
	svc, _ := newTestService(&stubGateway{err: errors.New("503")})
	_, err := svc.CreateOrder(context.Background(), "dev-1", "gold")
	require.True(t, apperrors.IsCode(err, "invalid_input"))
	_, err = svc.CreateOrder(context.Background(), "dev-1", "pro")
	require.True(t, apperrors.IsCode(err, CodeOrderFailure))

	disabled, _ := newTestService(nil)
	require.False(t, disabled.Enabled())
	_, err = disabled.CreateOrder(context.Background(), "dev-1", "pro")
	require.True(t, apperrors.IsCode(err, CodeWidgetUnavailable))
}

func TestConfirmVerifiesSignature(t *testing.T) {
	svc, orders := newTestService(&stubGateway{})
	_, err := svc.CreateOrder(context.Background(), "dev-1", "pro")
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), "dev-1", ConfirmRequest{OrderID: "order_123", PaymentID: "pay_1", Signature: "deadbeef"})
	require.True(t, apperrors.IsCode(err, CodeInvalidSignature))
	require.Equal(t, OrderStatusCreated, orders.orders["order_123"].Status)

	sig := Sign("order_123", "pay_1", "secret")
	_, err = svc.Confirm(context.Background(), "dev-2", ConfirmRequest{OrderID: "order_123", PaymentID: "pay_1", Signature: sig})
	require.True(t, apperrors.IsCode(err, "not_found"))

	conf, err := svc.Confirm(context.Background(), "dev-1", ConfirmRequest{OrderID: "order_123", PaymentID: "pay_1", Signature: sig})
	require.NoError(t, err)
	require.Equal(t, usage.TierPro, conf.Tier)
	require.Equal(t, OrderStatusPaid, orders.orders["order_123"].Status)
	require.Equal(t, "pay_1", orders.orders["order_123"].PaymentID)

	again, err := svc.Confirm(context.Background(), "dev-1", ConfirmRequest{OrderID: "order_123", PaymentID: "pay_1", Signature: sig})
	require.NoError(t, err)
	require.Equal(t, conf.Order.PaymentID, again.Order.PaymentID)

	_, err = svc.Confirm(context.Background(), "dev-1", ConfirmRequest{OrderID: "order_123"})
	require.True(t, apperrors.IsCode(err, "invalid_input"))
}

func TestSignKnownVector(t *testing.T) {
	// echo -n "order_1|pay_1" | openssl dgst -sha256 -hmac secret
	require.Equal(t, "52115a0d3400de9e86aade1f1b6eba9e8974604f4e267a9e9a16633a4c8dd2cb", Sign("order_1", "pay_1", "secret"))
	require.True(t, VerifySignature("order_1", "pay_1", Sign("order_1", "pay_1", "secret"), "secret"))
	require.False(t, VerifySignature("order_1", "pay_2", Sign("order_1", "pay_1", "secret"), "secret"))
}
