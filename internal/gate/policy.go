package gate

import (
	"context"
	"time"
)

// Default policy parameters.
const (
	defaultAttemptTimeout = 5 * time.Minute
	defaultBackoff        = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// Policy bounds a guarded call. Retries happen inside the single flight, so
// joined callers share every attempt rather than each retrying on their own.
type Policy struct {
	// AttemptTimeout caps a single attempt. Defaults to 5m if zero; negative
	// disables the cap.
	AttemptTimeout time.Duration

	// MaxRetries is the number of extra attempts after the first failure.
	// Zero means no retry.
	MaxRetries int

	// Backoff is the wait before the first retry. Doubles each attempt up to
	// MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the wait. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// Retryable reports whether an attempt's error is worth retrying. When
	// nil every error is retried.
	Retryable func(error) bool
}

// DefaultPolicy returns a single attempt capped at five minutes.
func DefaultPolicy() Policy {
	return Policy{
		AttemptTimeout: defaultAttemptTimeout,
		Backoff:        defaultBackoff,
		MaxBackoff:     defaultMaxBackoff,
	}
}

func (p Policy) withDefaults() Policy {
	if p.AttemptTimeout == 0 {
		p.AttemptTimeout = defaultAttemptTimeout
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.Backoff <= 0 {
		p.Backoff = defaultBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaultMaxBackoff
	}
	if p.MaxBackoff < p.Backoff {
		p.MaxBackoff = p.Backoff
	}
	return p
}

func (p Policy) retryable(err error) bool {
	if p.Retryable == nil {
		return true
	}
	return p.Retryable(err)
}

// attemptContext derives the context for one attempt.
func (p Policy) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.AttemptTimeout < 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.AttemptTimeout)
}

// wait sleeps for d or until ctx ends.
func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
