package razorpay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/yanqian/truthcard/internal/domain/payment"
)

const defaultBaseURL = "https://api.razorpay.com"

// Client talks to the Razorpay Orders API.
type Client struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
}

// NewClient builds an API client.
func NewClient(baseURL, keyID, keySecret string) *Client {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = defaultBaseURL
	}
	return &Client{
		baseURL:   strings.TrimRight(url, "/"),
		keyID:     keyID,
		keySecret: keySecret,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type orderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type orderResponse struct {
	ID       string `json:"id"`
	Entity   string `json:"entity"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder opens an order via POST /v1/orders.
func (c *Client) CreateOrder(ctx context.Context, in payment.GatewayOrderRequest) (payment.GatewayOrder, error) {
	body, err := json.Marshal(orderRequest{
		Amount:   in.Amount,
		Currency: in.Currency,
		Receipt:  in.Receipt,
		Notes:    in.Notes,
	})
	if err != nil {
		return payment.GatewayOrder{}, fmt.Errorf("encode order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return payment.GatewayOrder{}, fmt.Errorf("build order request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return payment.GatewayOrder{}, fmt.Errorf("order request failed: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return payment.GatewayOrder{}, fmt.Errorf("read order response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr errorResponse
		if json.Unmarshal(payload, &apiErr) == nil && apiErr.Error.Description != "" {
			return payment.GatewayOrder{}, fmt.Errorf("order request error: status=%d code=%s: %s", resp.StatusCode, apiErr.Error.Code, apiErr.Error.Description)
		}
		return payment.GatewayOrder{}, fmt.Errorf("order request error: status=%d body=%s", resp.StatusCode, string(payload))
	}

	var out orderResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return payment.GatewayOrder{}, fmt.Errorf("decode order response: %w", err)
	}
	if out.ID == "" {
		return payment.GatewayOrder{}, fmt.Errorf("order response missing id")
	}
	return payment.GatewayOrder{ID: out.ID, Amount: out.Amount, Currency: out.Currency, Status: out.Status}, nil
}

var _ payment.Gateway = (*Client)(nil)
