// Package fulfillment tracks the provider-side state of each storefront
// order: the provider's order id, production status, tracking metadata, and
// the payment status mirrored from webhooks.
package fulfillment

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no fulfillment record exists for an order.
var ErrNotFound = errors.New("fulfillment: record not found")

// Record is the fulfillment state of one order.
type Record struct {
	OrderID         string     `json:"order_id"`
	ProviderOrderID string     `json:"provider_order_id,omitempty"`
	Status          string     `json:"status"`
	TrackingURL     string     `json:"tracking_url,omitempty"`
	Carrier         string     `json:"carrier,omitempty"`
	PaymentStatus   string     `json:"payment_status,omitempty"`
	PaymentRef      string     `json:"payment_ref,omitempty"`
	SubmittedAt     *time.Time `json:"submitted_at,omitempty"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Store persists fulfillment records keyed by order id. Upsert semantics:
// executors may run before the storefront has written an initial record.
type Store interface {
	Get(ctx context.Context, orderID string) (*Record, error)
	// SetProviderOrder records the provider's order id after submission.
	SetProviderOrder(ctx context.Context, orderID, providerOrderID, status string, submittedAt time.Time) error
	// SetProviderStatus mirrors the provider's current status and tracking.
	SetProviderStatus(ctx context.Context, orderID, status, trackingURL, carrier string) error
	// SetPayment applies a payment event to the order.
	SetPayment(ctx context.Context, orderID, paymentStatus, paymentRef string) error
}
