package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/solarstore/shop/internal/models"
)

// ErrGatewayUnavailable is returned when the provider cannot be reached or
// answers with an error. Callers leave local state untouched and may retry.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

const DefaultAPIURL = "https://api.stripe.com"

type LineItem struct {
	Name        string
	Description string
	UnitAmount  int64 // minor units
	Currency    string
	Quantity    uint
}

type CreateSessionParams struct {
	OrderID       uint
	UserID        uint
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	LineItems     []LineItem
}

// Session is the provider-side checkout session state. Raw carries the
// undecoded response body for audit storage.
type Session struct {
	ID              string         `json:"id"`
	URL             string         `json:"url"`
	PaymentIntentID string         `json:"payment_intent"`
	PaymentStatus   string         `json:"payment_status"`
	Status          string         `json:"status"`
	Raw             models.JSONMap `json:"-"`
}

type Gateway interface {
	CreateSession(ctx context.Context, params CreateSessionParams) (*Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (*Session, error)
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	secretKey  string
}

func NewClient(baseURL, secretKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultAPIURL
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		secretKey:  secretKey,
	}
}

func (c *Client) CreateSession(ctx context.Context, params CreateSessionParams) (*Session, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("payment_method_types[0]", "card")
	form.Set("customer_email", params.CustomerEmail)
	form.Set("success_url", params.SuccessURL)
	form.Set("cancel_url", params.CancelURL)
	form.Set("metadata[order_id]", strconv.FormatUint(uint64(params.OrderID), 10))
	form.Set("metadata[user_id]", strconv.FormatUint(uint64(params.UserID), 10))

	for i, item := range params.LineItems {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form.Set(prefix+"[price_data][currency]", strings.ToLower(item.Currency))
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(item.UnitAmount, 10))
		form.Set(prefix+"[price_data][product_data][name]", item.Name)
		if item.Description != "" {
			form.Set(prefix+"[price_data][product_data][description]", item.Description)
		}
		form.Set(prefix+"[quantity]", strconv.FormatUint(uint64(item.Quantity), 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("stripe: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	return c.doSession(req)
}

func (c *Client) RetrieveSession(ctx context.Context, sessionID string) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/v1/checkout/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return nil, fmt.Errorf("stripe: new request: %w", err)
	}

	return c.doSession(req)
}

func (c *Client) doSession(req *http.Request) (*Session, error) {
	req.Header.Set("Authorization", "Bearer "+c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrGatewayUnavailable, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%w: status %d: %s", ErrGatewayUnavailable, resp.StatusCode, body)
	}

	var session Session
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}

	var raw models.JSONMap
	if err := json.Unmarshal(body, &raw); err == nil {
		session.Raw = raw
	}

	return &session, nil
}
