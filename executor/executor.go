// Package executor implements the built-in operation kinds: submitting an
// order to the print provider, refreshing its production status, applying
// payment webhooks, and dispatching customer notifications. Each executor is
// idempotent on its own: the retry engine only guarantees at-least-once
// execution.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"frame-fulfillment/fulfillment"
	"frame-fulfillment/model"
	"frame-fulfillment/notify"
	"frame-fulfillment/prodigi"
	"frame-fulfillment/registry"
)

// Set bundles the collaborators the built-in executors need.
type Set struct {
	Provider     prodigi.Client
	Fulfillments fulfillment.Store
	Notifier     notify.Dispatcher
}

// RegisterAll binds the four built-in operation kinds to r.
func (s Set) RegisterAll(r *registry.Registry) {
	r.Register(model.TypeOrderCreation, s.OrderCreation)
	r.Register(model.TypeStatusRefresh, s.StatusRefresh)
	r.Register(model.TypePaymentWebhook, s.PaymentWebhook)
	r.Register(model.TypeNotificationSend, s.NotificationSend)
}

// OrderCreationPayload describes the order to submit for production.
type OrderCreationPayload struct {
	Items  []prodigi.OrderItem `json:"items"`
	ShipTo prodigi.Address     `json:"ship_to"`
}

// OrderCreation submits the order to the print provider and records the
// provider's order id on the fulfillment record. The idempotency key is
// derived from the order id, so a repeated attempt returns the order the
// provider already accepted instead of printing twice.
func (s Set) OrderCreation(ctx context.Context, subjectID string, payload json.RawMessage) (json.RawMessage, error) {
	var p OrderCreationPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, registry.Permanent(fmt.Errorf("order_creation: decode payload: %w", err))
	}
	if len(p.Items) == 0 {
		return nil, registry.Permanent(errors.New("order_creation: order has no items"))
	}

	order, err := s.Provider.CreateOrder(ctx, prodigi.CreateOrderRequest{
		IdempotencyKey: "order-" + subjectID,
		Reference:      subjectID,
		Items:          p.Items,
		ShipTo:         p.ShipTo,
	})
	if err != nil {
		return nil, classify("order_creation", err)
	}

	if err := s.Fulfillments.SetProviderOrder(ctx, subjectID, order.ID, order.Status, time.Now().UTC()); err != nil {
		return nil, fmt.Errorf("order_creation: %w", err)
	}

	return json.Marshal(map[string]string{
		"provider_order_id": order.ID,
		"status":            order.Status,
	})
}

// StatusRefresh polls the provider's current order status and mirrors it
// onto the local fulfillment record.
func (s Set) StatusRefresh(ctx context.Context, subjectID string, _ json.RawMessage) (json.RawMessage, error) {
	record, err := s.Fulfillments.Get(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("status_refresh: %w", err)
	}
	if record.ProviderOrderID == "" {
		// Submission has not landed yet; retry until it has.
		return nil, errors.New("status_refresh: order not yet submitted to provider")
	}

	order, err := s.Provider.GetOrder(ctx, record.ProviderOrderID)
	if err != nil {
		return nil, classify("status_refresh", err)
	}

	if err := s.Fulfillments.SetProviderStatus(ctx, subjectID, order.Status, order.TrackingURL, order.Carrier); err != nil {
		return nil, fmt.Errorf("status_refresh: %w", err)
	}

	return json.Marshal(map[string]string{
		"status":       order.Status,
		"tracking_url": order.TrackingURL,
	})
}

// PaymentWebhookPayload is a previously-received payment event.
type PaymentWebhookPayload struct {
	Event      string `json:"event"`
	PaymentRef string `json:"payment_ref"`
}

// PaymentWebhook applies a stored payment event to the order's fulfillment
// record. Applying the same event twice writes the same state, so repeats
// are harmless.
func (s Set) PaymentWebhook(ctx context.Context, subjectID string, payload json.RawMessage) (json.RawMessage, error) {
	var p PaymentWebhookPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, registry.Permanent(fmt.Errorf("payment_webhook: decode payload: %w", err))
	}

	var paymentStatus string
	switch p.Event {
	case "payment.succeeded":
		paymentStatus = "paid"
	case "payment.failed":
		paymentStatus = "payment_failed"
	case "payment.refunded":
		paymentStatus = "refunded"
	default:
		return nil, registry.Permanent(fmt.Errorf("payment_webhook: unknown event %q", p.Event))
	}

	if err := s.Fulfillments.SetPayment(ctx, subjectID, paymentStatus, p.PaymentRef); err != nil {
		return nil, fmt.Errorf("payment_webhook: %w", err)
	}

	return json.Marshal(map[string]string{"payment_status": paymentStatus})
}

// NotificationSendPayload is the customer notification to deliver.
type NotificationSendPayload struct {
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// NotificationSend hands the notification to the dispatch queue.
func (s Set) NotificationSend(ctx context.Context, subjectID string, payload json.RawMessage) (json.RawMessage, error) {
	var p NotificationSendPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, registry.Permanent(fmt.Errorf("notification_send: decode payload: %w", err))
	}
	if p.Kind == "" {
		return nil, registry.Permanent(errors.New("notification_send: kind is required"))
	}

	err := s.Notifier.Dispatch(ctx, notify.Message{
		OrderID:  subjectID,
		Kind:     p.Kind,
		Subject:  p.Subject,
		Body:     p.Body,
		QueuedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("notification_send: %w", err)
	}

	return json.Marshal(map[string]bool{"queued": true})
}

// classify turns provider errors into retryable or permanent failures.
// Network errors and transient HTTP statuses stay retryable; a 4xx that
// rejects the payload will never succeed and is marked permanent.
func classify(op string, err error) error {
	var statusErr *prodigi.StatusError
	if errors.As(err, &statusErr) && !statusErr.Retryable() {
		return registry.Permanent(fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
