package reaction

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RetryPolicy is the backoff policy for reaction delivery retries (spec
// 4.7), grounded on the teacher's coordinator.Config Reconnect* fields
// (InitialDelay/MaxDelay/BackoffFactor/MaxAttempts). Reaction transports
// that keep a persistent connection (the websocket reaction) use their
// own reconnect settings, not this policy.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64

	// OnExhaustion selects what happens once MaxAttempts is used up:
	// ExhaustionDrop (default) or ExhaustionFail.
	OnExhaustion ExhaustionBehavior
}

type ExhaustionBehavior int

const (
	ExhaustionDrop ExhaustionBehavior = iota
	ExhaustionFail
)

// DefaultRetryPolicy mirrors the teacher's coordinator reconnect
// defaults, scaled to reaction delivery rather than a websocket dial.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		BackoffFactor:  2.0,
		OnExhaustion:   ExhaustionDrop,
	}
}

// Do calls attempt until it succeeds, attempts are exhausted, or ctx is
// done. A golang.org/x/time/rate.Limiter paces retries within the
// backoff window rather than a bare time.Sleep, so a burst of
// concurrently retrying (reaction, query) pairs doesn't thunder against
// the same failing transport.
func (p RetryPolicy) Do(ctx context.Context, attempt func() error) error {
	backoff := p.InitialBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	limit := rate.NewLimiter(rate.Every(backoff), 1)

	var lastErr error
	maxAttempts := p.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for i := 0; i < maxAttempts; i++ {
		if i > 0 {
			if err := limit.Wait(ctx); err != nil {
				return err
			}
			next := time.Duration(float64(backoff) * p.BackoffFactor)
			if p.MaxBackoff > 0 && next > p.MaxBackoff {
				next = p.MaxBackoff
			}
			backoff = next
			limit.SetLimit(rate.Every(backoff))
		}

		lastErr = attempt()
		if lastErr == nil {
			return nil
		}
	}
	return lastErr
}
