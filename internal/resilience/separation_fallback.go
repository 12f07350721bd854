package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/singalong/internal/observe"
	"github.com/MrWong99/singalong/pkg/provider/separation"
)

// namedSeparator carries the entry name through the fallback group so
// failures can be attributed per provider.
type namedSeparator struct {
	name string
	p    separation.Provider
}

// SeparationFallback implements [separation.Provider] over a [FallbackGroup]
// of separation backends.
//
// A backend that refuses the input ([separation.Err]) does not count against
// its circuit breaker, but the next backend is still tried since another
// model may accept the song. When every backend refuses, the last refusal is
// returned as the result.
type SeparationFallback struct {
	group   *FallbackGroup[namedSeparator]
	metrics *observe.Metrics
}

// SeparationOption configures a [SeparationFallback].
type SeparationOption func(*SeparationFallback)

// WithSeparationMetrics records per-provider attempt failures on m.
func WithSeparationMetrics(m *observe.Metrics) SeparationOption {
	return func(f *SeparationFallback) {
		f.metrics = m
	}
}

// NewSeparationFallback creates a [SeparationFallback] with primary as the
// first backend. cfg.CircuitBreaker.IsFailure is set when nil so that service
// refusals and caller cancellations leave the breakers untouched.
func NewSeparationFallback(primary separation.Provider, primaryName string, cfg FallbackConfig, opts ...SeparationOption) *SeparationFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = isSeparationFailure
	}
	f := &SeparationFallback{
		group: NewFallbackGroup(namedSeparator{name: primaryName, p: primary}, primaryName, cfg),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// AddFallback registers another backend, tried after those already added.
func (f *SeparationFallback) AddFallback(name string, p separation.Provider) {
	f.group.AddFallback(name, namedSeparator{name: name, p: p})
}

// Providers returns the backend names in the order they are tried.
func (f *SeparationFallback) Providers() []string {
	return f.group.Names()
}

// Breaker returns the circuit breaker of the named backend, or nil.
func (f *SeparationFallback) Breaker(name string) *CircuitBreaker {
	return f.group.Breaker(name)
}

// Separate implements [separation.Provider].
func (f *SeparationFallback) Separate(ctx context.Context, songID string, audio []byte) (separation.Result, error) {
	var (
		refusal  *separation.Err
		attempts int
		refusals int
	)
	result, err := ExecuteWithResult(ctx, f.group, func(ctx context.Context, ns namedSeparator) (separation.Result, error) {
		attempts++
		res, err := ns.p.Separate(ctx, songID, audio)
		if err == nil && res == nil {
			err = errors.New("separation: provider returned no result")
		}
		if err == nil {
			_, err = res.Unwrap()
		}
		var se *separation.ServiceError
		switch {
		case err == nil:
			return res, nil
		case errors.As(err, &se):
			refusals++
			refusal = &separation.Err{Reason: se.Reason}
		case f.metrics != nil && ctx.Err() == nil:
			f.metrics.RecordSeparationError(ctx, ns.name)
		}
		return nil, err
	})
	if err == nil {
		return result, nil
	}
	if refusal != nil && refusals == attempts {
		return *refusal, nil
	}
	return nil, err
}

func isSeparationFailure(err error) bool {
	var se *separation.ServiceError
	if errors.As(err, &se) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

var _ separation.Provider = (*SeparationFallback)(nil)
