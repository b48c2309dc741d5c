// Package prodigi is the client for the print-on-demand provider that
// produces and ships framed prints. Only the request/response contract the
// fulfillment engine needs is modelled here.
package prodigi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Order is the provider's view of a submitted print order.
type Order struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	TrackingURL string `json:"tracking_url,omitempty"`
	Carrier     string `json:"carrier,omitempty"`
}

// OrderItem is one framed print in an order.
type OrderItem struct {
	SKU      string `json:"sku"`
	Copies   int    `json:"copies"`
	AssetURL string `json:"asset_url"`
}

// Address is the shipping destination.
type Address struct {
	Name        string `json:"name"`
	Line1       string `json:"line1"`
	Line2       string `json:"line2,omitempty"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country_code"`
}

// CreateOrderRequest submits an order for production. IdempotencyKey is
// derived from the local order id so the engine can safely repeat the call:
// the provider returns the original order instead of printing twice.
type CreateOrderRequest struct {
	IdempotencyKey string      `json:"idempotency_key"`
	Reference      string      `json:"reference"`
	Items          []OrderItem `json:"items"`
	ShipTo         Address     `json:"ship_to"`
}

// Client is the provider contract the executors consume.
type Client interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error)
	GetOrder(ctx context.Context, providerOrderID string) (*Order, error)
}

// StatusError is a non-2xx provider response. Callers use Code to decide
// whether the failure is worth retrying.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("prodigi: status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the response indicates a transient condition.
// Server errors, rate limits, and request timeouts are; other client errors
// mean the payload itself is wrong.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests || e.Code == http.StatusRequestTimeout
}

// RESTClient talks to the provider's HTTP API. The embedded http.Client
// timeout bounds each attempt; the retry engine treats a timeout like any
// other transient failure.
type RESTClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

var _ Client = (*RESTClient)(nil)

// NewRESTClient builds a client for the given API base URL.
func NewRESTClient(baseURL, apiKey string) *RESTClient {
	return &RESTClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *RESTClient) CreateOrder(ctx context.Context, req CreateOrderRequest) (*Order, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("prodigi: encode order: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v4/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("prodigi: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	return c.do(httpReq)
}

func (c *RESTClient) GetOrder(ctx context.Context, providerOrderID string) (*Order, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v4/orders/"+providerOrderID, nil)
	if err != nil {
		return nil, fmt.Errorf("prodigi: build request: %w", err)
	}
	httpReq.Header.Set("X-API-Key", c.apiKey)

	return c.do(httpReq)
}

func (c *RESTClient) do(req *http.Request) (*Order, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("prodigi: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var order Order
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("prodigi: decode response: %w", err)
	}
	return &order, nil
}
