package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/yanqian/truthcard/pkg/errors"
)

// Error codes returned by the service.
const (
	CodeOrderFailure      = "payment_order_failure"
	CodeWidgetUnavailable = "payment_widget_unavailable"
	CodeInvalidSignature  = "invalid_signature"
)

// Config holds merchant credentials and the plan catalogue.
type Config struct {
	KeyID        string
	KeySecret    string
	Currency     string
	MerchantName string
	Plans        []Plan
}

// Service creates and confirms checkout orders.
type Service struct {
	cfg     Config
	gateway Gateway
	orders  OrderRepository
	now     func() time.Time
	logger  *slog.Logger
}

// NewService constructs a Service. A nil gateway disables checkout.
func NewService(cfg Config, gateway Gateway, orders OrderRepository, logger *slog.Logger) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Service{
		cfg:     cfg,
		gateway: gateway,
		orders:  orders,
		now:     time.Now,
		logger:  logger.With("component", "payment.service"),
	}
}

// Plans lists the purchasable plans.
func (s *Service) Plans() []Plan {
	return append([]Plan{}, s.cfg.Plans...)
}

// Plan finds a plan by id.
func (s *Service) Plan(id string) (Plan, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, p := range s.cfg.Plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

// Enabled reports whether checkout can be offered.
func (s *Service) Enabled() bool {
	return s.gateway != nil && s.cfg.KeyID != "" && s.cfg.KeySecret != ""
}

// CreateOrder opens a provider order for planID on behalf of deviceID.
func (s *Service) CreateOrder(ctx context.Context, deviceID, planID string) (Checkout, error) {
	if strings.TrimSpace(deviceID) == "" {
		return Checkout{}, apperrors.Wrap("invalid_input", "device id is required", nil)
	}
	plan, ok := s.Plan(planID)
	if !ok {
		return Checkout{}, apperrors.Wrap("invalid_input", fmt.Sprintf("unknown plan %q", planID), nil)
	}
	if !s.Enabled() {
		return Checkout{}, apperrors.Wrap(CodeWidgetUnavailable, "Payment system not loaded. Please try again later.", nil)
	}

	receipt := "rcpt_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
	gwOrder, err := s.gateway.CreateOrder(ctx, GatewayOrderRequest{
		Amount:   plan.Amount,
		Currency: s.cfg.Currency,
		Receipt:  receipt,
		Notes:    map[string]string{"plan": plan.ID, "deviceId": deviceID},
	})
	if err != nil {
		s.logger.Error("create order failed", "plan", plan.ID, "error", err)
		return Checkout{}, apperrors.Wrap(CodeOrderFailure, "Failed to create order. Please try again.", err)
	}

	order := Order{
		ID:        gwOrder.ID,
		Plan:      plan.ID,
		DeviceID:  deviceID,
		Amount:    plan.Amount,
		Currency:  s.cfg.Currency,
		Receipt:   receipt,
		Status:    OrderStatusCreated,
		CreatedAt: s.now().UTC(),
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return Checkout{}, apperrors.Wrap("storage_error", "failed to persist order", err)
	}
	s.logger.Info("order created", "order", order.ID, "plan", plan.ID)

	return Checkout{
		OrderID:     order.ID,
		Plan:        plan.ID,
		Amount:      order.Amount,
		Currency:    order.Currency,
		Key:         s.cfg.KeyID,
		Name:        s.cfg.MerchantName,
		Description: plan.Description,
	}, nil
}

// Confirm verifies the widget signature and marks the order paid.
func (s *Service) Confirm(ctx context.Context, deviceID string, req ConfirmRequest) (Confirmation, error) {
	orderID := strings.TrimSpace(req.OrderID)
	paymentID := strings.TrimSpace(req.PaymentID)
	signature := strings.TrimSpace(req.Signature)
	if orderID == "" || paymentID == "" || signature == "" {
		return Confirmation{}, apperrors.Wrap("invalid_input", "orderId, paymentId and signature are required", nil)
	}
	if s.cfg.KeySecret == "" {
		return Confirmation{}, apperrors.Wrap(CodeWidgetUnavailable, "payments are not configured", nil)
	}

	order, ok, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return Confirmation{}, apperrors.Wrap("storage_error", "failed to load order", err)
	}
	if !ok || order.DeviceID != deviceID {
		return Confirmation{}, apperrors.Wrap("not_found", "order not found", nil)
	}
	if !VerifySignature(orderID, paymentID, signature, s.cfg.KeySecret) {
		s.logger.Warn("payment signature mismatch", "order", orderID)
		return Confirmation{}, apperrors.Wrap(CodeInvalidSignature, "payment signature mismatch", nil)
	}
	plan, ok := s.Plan(order.Plan)
	if !ok {
		return Confirmation{}, apperrors.Wrap("invalid_input", fmt.Sprintf("plan %q no longer offered", order.Plan), nil)
	}

	if order.Status == OrderStatusPaid {
		if order.PaymentID != paymentID {
			return Confirmation{}, apperrors.Wrap(CodeInvalidSignature, "order already paid", nil)
		}
		return Confirmation{Order: order, Tier: plan.Tier}, nil
	}

	paidAt := s.now().UTC()
	if err := s.orders.MarkPaid(ctx, orderID, paymentID, paidAt); err != nil {
		return Confirmation{}, apperrors.Wrap("storage_error", "failed to mark order paid", err)
	}
	order.Status = OrderStatusPaid
	order.PaymentID = paymentID
	order.PaidAt = paidAt
	s.logger.Info("payment confirmed", "order", orderID, "tier", plan.Tier)
	return Confirmation{Order: order, Tier: plan.Tier}, nil
}

// Sign computes the checkout signature for orderID and paymentID.
func Sign(orderID, paymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares signature with the expected value in constant time.
func VerifySignature(orderID, paymentID, signature, secret string) bool {
	expected := Sign(orderID, paymentID, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
