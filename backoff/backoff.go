// Package backoff computes retry delays for failed fulfillment operations.
// Policies are stateless and safe for concurrent use.
package backoff

import (
	"math"
	"time"
)

const (
	DefaultMaxRetries = 5
	DefaultBaseDelay  = 1 * time.Second
	DefaultMaxDelay   = 300 * time.Second
	DefaultMultiplier = 2.0
)

// Policy describes an exponential backoff curve bounded by a ceiling.
type Policy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Multiplier float64
	MaxRetries int
}

// Default returns the standard fulfillment policy: 1s base, 300s cap,
// doubling per attempt, five attempts total.
func Default() Policy {
	return Policy{
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Multiplier: DefaultMultiplier,
		MaxRetries: DefaultMaxRetries,
	}
}

// Delay returns the wait before the given attempt (1-indexed, the attempt
// about to be made): min(BaseDelay * Multiplier^(attempt-1), MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}
