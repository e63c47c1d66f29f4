// Package retry wraps a single remote call with bounded retries and exponential backoff.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// State describes one scheduled retry. It lives for a single Do call.
type State struct {
	Attempt   int           // attempt that just failed, starting at 1
	Delay     time.Duration // sleep before the next attempt
	LastError error
}

// Policy configures Do. The zero value of any numeric field falls back to the default.
type Policy struct {
	Name          string // operation label for logs and metrics
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// ShouldRetry reports whether a failure is worth another attempt.
	// Defaults to IsTransient.
	ShouldRetry func(error) bool

	Log     *slog.Logger
	OnRetry func(State)

	// Sleep and Jitter are replaced in tests.
	Sleep  func(ctx context.Context, d time.Duration) error
	Jitter func(limit time.Duration) time.Duration
}

const (
	DefaultMaxAttempts   = 3
	DefaultBaseDelay     = 1000 * time.Millisecond
	DefaultMaxDelay      = 10000 * time.Millisecond
	DefaultBackoffFactor = 2.0
)

// DefaultPolicy returns the standard policy: 3 attempts, 1s base, 10s cap, factor 2.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:   DefaultMaxAttempts,
		BaseDelay:     DefaultBaseDelay,
		MaxDelay:      DefaultMaxDelay,
		BackoffFactor: DefaultBackoffFactor,
	}
}

// Named returns a copy of p labelled with name.
func (p Policy) Named(name string) Policy {
	p.Name = name
	return p
}

// Do runs op until it succeeds, the policy rejects the failure, or attempts run out.
// On failure the error returned is the one op returned, never a wrapper.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	for attempt := 1; ; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if attempt >= p.MaxAttempts || !p.ShouldRetry(err) {
			return v, err
		}
		if ctx.Err() != nil {
			return v, err
		}

		st := State{Attempt: attempt, Delay: p.delayFor(attempt, err), LastError: err}
		p.Log.Warn("retrying after failure",
			"operation", p.Name,
			"attempt", attempt,
			"max_attempts", p.MaxAttempts,
			"delay_ms", st.Delay.Milliseconds(),
			"error", err,
		)
		if p.OnRetry != nil {
			p.OnRetry(st)
		}
		if serr := p.Sleep(ctx, st.Delay); serr != nil {
			p.Log.Debug("retry sleep interrupted", "operation", p.Name, "error", serr)
			return v, err
		}
	}
}

// Backoff returns the un-jittered delay scheduled after the given failed attempt:
// min(BaseDelay * BackoffFactor^(attempt-1), MaxDelay).
func (p Policy) Backoff(attempt int) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(attempt-1))
	if d > float64(p.MaxDelay) || math.IsInf(d, 0) || math.IsNaN(d) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p Policy) delayFor(attempt int, err error) time.Duration {
	base := p.Backoff(attempt)
	delay := base + p.Jitter(base/10)

	var ra retryAfterer
	if errors.As(err, &ra) {
		if hint := ra.RetryAfterDelay(); hint > delay {
			delay = hint
		}
	}
	return delay
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = DefaultBackoffFactor
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = IsTransient
	}
	if p.Log == nil {
		p.Log = slog.New(slog.DiscardHandler)
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	if p.Jitter == nil {
		p.Jitter = uniformJitter
	}
	if p.Name == "" {
		p.Name = "call"
	}
	return p
}

// retryAfterer is implemented by failures that carry a server-requested delay.
type retryAfterer interface {
	RetryAfterDelay() time.Duration
}

func uniformJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(limit) + 1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
