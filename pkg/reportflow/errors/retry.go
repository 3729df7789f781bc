package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig configures backoff between attempts of a stage.
type RetryConfig struct {
	// InitialBackoff is the wait before the second attempt.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64
}

// DefaultRetry is the backoff used between transient gateway failures.
var DefaultRetry = RetryConfig{
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// NoBackoff retries immediately. Tests use it.
var NoBackoff = RetryConfig{}

// Backoff tracks the wait between successive attempts.
type Backoff struct {
	cfg  RetryConfig
	next time.Duration
}

// NewBackoff starts a backoff sequence at cfg.InitialBackoff.
func NewBackoff(cfg RetryConfig) *Backoff {
	return &Backoff{cfg: cfg, next: cfg.InitialBackoff}
}

// Wait sleeps for the current backoff and advances the sequence.
// It returns ctx.Err() if the context ends first.
func (b *Backoff) Wait(ctx context.Context) error {
	d := jittered(b.next, b.cfg.Jitter)

	factor := b.cfg.BackoffFactor
	if factor <= 0 {
		factor = 1
	}
	b.next = time.Duration(float64(b.next) * factor)
	if b.cfg.MaxBackoff > 0 && b.next > b.cfg.MaxBackoff {
		b.next = b.cfg.MaxBackoff
	}

	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// jittered returns base +/- (base * jitter * random).
func jittered(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 || base <= 0 {
		return base
	}
	amount := float64(base) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(base) + amount)
}
