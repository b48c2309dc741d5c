package fulfillment

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory fulfillment Store for tests and development.
type Memory struct {
	mu      sync.RWMutex
	records map[string]*Record
	now     func() time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]*Record),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Get(_ context.Context, orderID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) SetProviderOrder(_ context.Context, orderID, providerOrderID, status string, submittedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.upsert(orderID)
	r.ProviderOrderID = providerOrderID
	r.Status = status
	t := submittedAt
	r.SubmittedAt = &t
	r.UpdatedAt = m.now()
	return nil
}

func (m *Memory) SetProviderStatus(_ context.Context, orderID, status, trackingURL, carrier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[orderID]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.TrackingURL = trackingURL
	r.Carrier = carrier
	r.UpdatedAt = m.now()
	return nil
}

func (m *Memory) SetPayment(_ context.Context, orderID, paymentStatus, paymentRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.upsert(orderID)
	r.PaymentStatus = paymentStatus
	r.PaymentRef = paymentRef
	r.UpdatedAt = m.now()
	return nil
}

func (m *Memory) upsert(orderID string) *Record {
	r, ok := m.records[orderID]
	if !ok {
		r = &Record{OrderID: orderID, Status: "created"}
		m.records[orderID] = r
	}
	return r
}
