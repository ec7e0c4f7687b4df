// Package backend is the HTTP client for the donation REST backend that owns
// orders, payment verification and the transaction ledger.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/sahara-drive/donation-portal/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/net/proxy"
)

// ErrInvalidResponse is returned when a 2xx body lacks the success flag or the expected payload.
var ErrInvalidResponse = errors.New("invalid API response format or success: false")

// APIError is a non-2xx answer from the backend.
type APIError struct {
	Endpoint   string
	StatusCode int
	// Message is taken from the response body when it carries one.
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("backend %s failed with status %d: %s", e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("backend %s failed with status %d", e.Endpoint, e.StatusCode)
}

// Client talks to the backend. It is safe for concurrent use and can be
// reconfigured in place after a config reload.
type Client struct {
	mu         sync.RWMutex
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client for cfg's backend settings, honoring cfg.ProxyURL.
func NewClient(cfg *config.Config) (*Client, error) {
	c := &Client{}
	if err := c.Reconfigure(cfg); err != nil {
		return nil, err
	}
	return c, nil
}

// NewClientWithBaseURL builds a client without proxy support, mostly for tests.
func NewClientWithBaseURL(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: config.DefaultRequestTimeout},
	}
}

// Reconfigure swaps the base URL, timeout and proxy.
func (c *Client) Reconfigure(cfg *config.Config) error {
	transport, err := newTransport(cfg.ProxyURL)
	if err != nil {
		return err
	}
	httpClient := &http.Client{Transport: transport, Timeout: cfg.Backend.RequestTimeout}

	c.mu.Lock()
	c.baseURL = strings.TrimRight(cfg.Backend.BaseURL, "/")
	c.httpClient = httpClient
	c.mu.Unlock()
	return nil
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.baseURL
}

func newTransport(proxyURL string) (*http.Transport, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxyURL == "" {
		return transport, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy url: %w", err)
	}
	switch u.Scheme {
	case "http", "https":
		transport.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("failed to build socks5 dialer: %w", err)
		}
		transport.Proxy = nil
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.DialContext = func(_ context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	return transport, nil
}

// CreateOrder issues POST /create-order.
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	payload := []byte(`{}`)
	var err error
	for _, field := range []struct {
		path  string
		value any
	}{
		{"amount", req.Amount},
		{"currency", req.Currency},
		{"receipt", req.Receipt},
		{"donor.name", req.Donor.Name},
		{"donor.email", req.Donor.Email},
		{"donor.contact", req.Donor.Contact},
		{"turnstileToken", req.TurnstileToken},
	} {
		if payload, err = sjson.SetBytes(payload, field.path, field.value); err != nil {
			return nil, fmt.Errorf("failed to build create-order payload: %w", err)
		}
	}

	body, err := c.do(ctx, http.MethodPost, "/create-order", payload)
	if err != nil {
		return nil, err
	}
	var order Order
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("failed to parse create-order response: %w", err)
	}
	if order.ID == "" {
		return nil, ErrInvalidResponse
	}
	return &order, nil
}

// VerifyPayment issues POST /verify-payment. A response with success=false is
// returned without error so callers can read its message.
func (c *Client) VerifyPayment(ctx context.Context, req VerifyPaymentRequest) (*VerifyPaymentResponse, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal verify-payment request: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, "/verify-payment", payload)
	if err != nil {
		return nil, err
	}
	var resp VerifyPaymentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse verify-payment response: %w", err)
	}
	return &resp, nil
}

// ListPayments issues POST /all-payments.
func (c *Client) ListPayments(ctx context.Context, req ListRequest) ([]TransactionRecord, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal list request: %w", err)
	}
	return c.fetchList(ctx, http.MethodPost, "/all-payments", payload)
}

// SearchTransactions issues POST /search-transactions and returns the full matching set.
func (c *Client) SearchTransactions(ctx context.Context, query string) ([]TransactionRecord, error) {
	payload, err := sjson.SetBytes([]byte(`{}`), "query", query)
	if err != nil {
		return nil, fmt.Errorf("failed to build search payload: %w", err)
	}
	return c.fetchList(ctx, http.MethodPost, "/search-transactions", payload)
}

// TopPayments issues GET /top-payments.
func (c *Client) TopPayments(ctx context.Context) ([]TransactionRecord, error) {
	return c.fetchList(ctx, http.MethodGet, "/top-payments", nil)
}

// RecentPayments issues GET /recent-payments.
func (c *Client) RecentPayments(ctx context.Context) ([]TransactionRecord, error) {
	return c.fetchList(ctx, http.MethodGet, "/recent-payments", nil)
}

// PaymentStats issues POST /payments-stats.
func (c *Client) PaymentStats(ctx context.Context) (*Statistics, error) {
	body, err := c.do(ctx, http.MethodPost, "/payments-stats", []byte(`{}`))
	if err != nil {
		return nil, err
	}
	root := gjson.ParseBytes(body)
	if !root.Get("success").Bool() || !root.Get("data").IsObject() {
		return nil, ErrInvalidResponse
	}
	var stats Statistics
	if err := json.Unmarshal([]byte(root.Get("data").Raw), &stats); err != nil {
		return nil, fmt.Errorf("failed to parse statistics: %w", err)
	}
	return &stats, nil
}

// SyncOrder issues POST /sync-order and returns the authoritative order state.
func (c *Client) SyncOrder(ctx context.Context, orderID string) (*SyncOrderResult, error) {
	payload, err := sjson.SetBytes([]byte(`{}`), "orderId", orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync payload: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, "/sync-order", payload)
	if err != nil {
		return nil, err
	}
	if !gjson.GetBytes(body, "success").Bool() {
		return nil, ErrInvalidResponse
	}
	return parseSyncOrder(body), nil
}

func (c *Client) fetchList(ctx context.Context, method, path string, payload []byte) ([]TransactionRecord, error) {
	body, err := c.do(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}
	root := gjson.ParseBytes(body)
	if !root.Get("success").Bool() || !root.Get("data").IsArray() {
		return nil, ErrInvalidResponse
	}
	var resp ListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse %s response: %w", path, err)
	}
	if resp.Data == nil {
		resp.Data = []TransactionRecord{}
	}
	return resp.Data, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	c.mu.RLock()
	baseURL, httpClient := c.baseURL, c.httpClient
	c.mu.RUnlock()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, br, zstd, deflate")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend %s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := readBody(resp)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", path, err)
	}

	log.WithFields(log.Fields{
		"endpoint": path,
		"status":   resp.StatusCode,
		"latency":  time.Since(start).Round(time.Millisecond),
	}).Debug("backend call finished")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{Endpoint: path, StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}
	return body, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	case "zstd":
		dec, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		reader = dec
	case "deflate":
		fl := flate.NewReader(resp.Body)
		defer fl.Close()
		reader = fl
	}
	return io.ReadAll(reader)
}

// errorMessage extracts a human readable message from an error body.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	root := gjson.ParseBytes(body)
	for _, path := range []string{"message", "error.description", "error.message", "error"} {
		if r := root.Get(path); r.Type == gjson.String && strings.TrimSpace(r.Str) != "" {
			return strings.TrimSpace(r.Str)
		}
	}
	return ""
}
