// Package broker is an HTTP client for a JSON order venue. It handles
// login/session handling with TOTP second factor, request headers, and the
// order endpoints the executor needs.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"tradesim/internal/execution"
	"tradesim/internal/model"
)

// Config holds client credentials and endpoint settings.
type Config struct {
	BaseURL    string
	APIKey     string
	ClientID   string
	Password   string
	TOTPSecret string

	Timeout time.Duration // default 7s
	Debug   bool
}

var routes = map[string]string{
	"auth.login":   "/v1/auth/login",
	"auth.logout":  "/v1/auth/logout",
	"order.place":  "/v1/orders",
	"order.status": "/v1/orders/%s",
	"order.cancel": "/v1/orders/%s/cancel",
}

// Client is a session-holding venue client. Safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client

	mu    sync.Mutex
	token string

	// SessionExpiryHook, if set, runs when the venue answers 401 on an
	// authenticated call.
	SessionExpiryHook func()
}

// New creates a client. Login must be called before order methods.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("broker: base URL required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("broker: API key required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 7 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type loginRequest struct {
	ClientID string `json:"client_id"`
	Password string `json:"password"`
	TOTP     string `json:"totp"`
}

type loginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at"`
}

// Login authenticates and stores the session token. The TOTP code is
// generated from the configured secret at call time.
func (c *Client) Login(ctx context.Context) error {
	code := ""
	if c.cfg.TOTPSecret != "" {
		var err error
		code, err = totp.GenerateCode(c.cfg.TOTPSecret, time.Now())
		if err != nil {
			return fmt.Errorf("broker: generate TOTP: %w", err)
		}
	}

	var out loginResponse
	err := c.do(ctx, http.MethodPost, routes["auth.login"], loginRequest{
		ClientID: c.cfg.ClientID,
		Password: c.cfg.Password,
		TOTP:     code,
	}, &out)
	if err != nil {
		return fmt.Errorf("broker: login: %w", err)
	}
	if out.Token == "" {
		return fmt.Errorf("broker: login response missing token")
	}

	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	log.Printf("[broker] session established for %s", c.cfg.ClientID)
	return nil
}

// Logout invalidates the session token on the venue.
func (c *Client) Logout(ctx context.Context) error {
	err := c.do(ctx, http.MethodPost, routes["auth.logout"], nil, nil)
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
	return err
}

type placeRequest struct {
	Symbol string  `json:"symbol"`
	Side   string  `json:"side"`
	Type   string  `json:"type"`
	Qty    int64   `json:"qty"`
	Price  float64 `json:"price,omitempty"`
	Ref    string  `json:"client_ref"`
}

type placeResponse struct {
	OrderID string `json:"order_id"`
}

// Submit places the order and returns the venue's order id.
func (c *Client) Submit(ctx context.Context, ord *model.Order) (string, error) {
	var out placeResponse
	err := c.do(ctx, http.MethodPost, routes["order.place"], placeRequest{
		Symbol: ord.Symbol,
		Side:   ord.Side.String(),
		Type:   ord.Type.String(),
		Qty:    ord.Qty,
		Price:  ord.Price,
		Ref:    ord.ID,
	}, &out)
	if err != nil {
		return "", err
	}
	if out.OrderID == "" {
		return "", fmt.Errorf("broker: place response missing order_id")
	}
	return out.OrderID, nil
}

type statusResponse struct {
	Status    string  `json:"status"`
	AvgPrice  float64 `json:"avg_price"`
	FilledQty int64   `json:"filled_qty"`
	UpdatedAt string  `json:"updated_at"`
}

// Status fetches the venue's view of a submitted order.
func (c *Client) Status(ctx context.Context, brokerID string) (execution.BrokerStatus, error) {
	var out statusResponse
	path := fmt.Sprintf(routes["order.status"], brokerID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return execution.BrokerStatus{}, err
	}

	st, err := parseStatus(out.Status)
	if err != nil {
		return execution.BrokerStatus{}, err
	}
	bs := execution.BrokerStatus{
		State:     st,
		AvgPrice:  out.AvgPrice,
		FilledQty: out.FilledQty,
	}
	if out.UpdatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, out.UpdatedAt); err == nil {
			bs.TS = ts
		}
	}
	return bs, nil
}

// Cancel requests cancellation of a submitted order.
func (c *Client) Cancel(ctx context.Context, brokerID string) error {
	path := fmt.Sprintf(routes["order.cancel"], brokerID)
	return c.do(ctx, http.MethodPost, path, nil, nil)
}

func parseStatus(s string) (model.OrderStatus, error) {
	switch s {
	case "PENDING", "OPEN":
		return model.StatusPending, nil
	case "FILLED":
		return model.StatusFilled, nil
	case "PARTIALLY_FILLED":
		return model.StatusPartiallyFilled, nil
	case "REJECTED":
		return model.StatusRejected, nil
	case "CANCELLED":
		return model.StatusCancelled, nil
	}
	return 0, fmt.Errorf("broker: unknown order status %q", s)
}

type apiError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-API-Key", c.cfg.APIKey)
	c.mu.Lock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.Unlock()

	if c.cfg.Debug {
		log.Printf("[broker] %s %s", method, path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		if c.SessionExpiryHook != nil {
			c.SessionExpiryHook()
		}
		return fmt.Errorf("broker: session expired (%s %s)", method, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("broker: %s %s: %s (%s)", method, path, apiErr.Message, apiErr.Code)
		}
		return fmt.Errorf("broker: %s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("broker: parse response: %w", err)
		}
	}
	return nil
}

var _ execution.Broker = (*Client)(nil)
