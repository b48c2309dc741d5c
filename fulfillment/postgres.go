package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS fulfillments (
	order_id          TEXT PRIMARY KEY,
	provider_order_id TEXT,
	status            TEXT NOT NULL DEFAULT 'created',
	tracking_url      TEXT,
	carrier           TEXT,
	payment_status    TEXT,
	payment_ref       TEXT,
	submitted_at      TIMESTAMPTZ,
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Postgres is the production fulfillment Store.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps an existing pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the fulfillments table if absent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("fulfillment: migrate: %w", err)
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, orderID string) (*Record, error) {
	var r Record
	var providerOrderID, trackingURL, carrier, paymentStatus, paymentRef *string
	err := p.pool.QueryRow(ctx, `
		SELECT order_id, provider_order_id, status, tracking_url, carrier,
		       payment_status, payment_ref, submitted_at, updated_at
		FROM fulfillments WHERE order_id = $1`, orderID).Scan(
		&r.OrderID, &providerOrderID, &r.Status, &trackingURL, &carrier,
		&paymentStatus, &paymentRef, &r.SubmittedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fulfillment: get: %w", err)
	}
	r.ProviderOrderID = deref(providerOrderID)
	r.TrackingURL = deref(trackingURL)
	r.Carrier = deref(carrier)
	r.PaymentStatus = deref(paymentStatus)
	r.PaymentRef = deref(paymentRef)
	return &r, nil
}

func (p *Postgres) SetProviderOrder(ctx context.Context, orderID, providerOrderID, status string, submittedAt time.Time) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO fulfillments (order_id, provider_order_id, status, submitted_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (order_id) DO UPDATE SET
			provider_order_id = EXCLUDED.provider_order_id,
			status = EXCLUDED.status,
			submitted_at = EXCLUDED.submitted_at,
			updated_at = NOW()`,
		orderID, providerOrderID, status, submittedAt,
	)
	if err != nil {
		return fmt.Errorf("fulfillment: set provider order: %w", err)
	}
	return nil
}

func (p *Postgres) SetProviderStatus(ctx context.Context, orderID, status, trackingURL, carrier string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE fulfillments SET
			status = $2, tracking_url = $3, carrier = $4, updated_at = NOW()
		WHERE order_id = $1`,
		orderID, status, trackingURL, carrier,
	)
	if err != nil {
		return fmt.Errorf("fulfillment: set provider status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetPayment(ctx context.Context, orderID, paymentStatus, paymentRef string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO fulfillments (order_id, payment_status, payment_ref, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (order_id) DO UPDATE SET
			payment_status = EXCLUDED.payment_status,
			payment_ref = EXCLUDED.payment_ref,
			updated_at = NOW()`,
		orderID, paymentStatus, paymentRef,
	)
	if err != nil {
		return fmt.Errorf("fulfillment: set payment: %w", err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
