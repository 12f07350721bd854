// Package gate deduplicates concurrent expensive calls per key.
//
// A [Gate] guarantees at most one in-flight call per song identifier across
// the process. The first caller for a key registers the call and every
// caller that arrives while it runs joins it and receives the identical
// outcome. The registration is dropped as soon as the call settles, so a
// failure is never cached: the next caller starts a fresh attempt.
//
// Gates are plain values passed by dependency injection; independent
// instances do not share state.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/singleflight"

	"github.com/MrWong99/singalong/internal/observe"
)

// ErrWorkPanicked is returned to every joined caller when the guarded work
// panics.
var ErrWorkPanicked = errors.New("gate: work panicked")

// WorkFunc is the expensive call guarded by a [Gate]. It receives a context
// that is detached from any single caller's cancellation but bounded by the
// gate's [Policy].
type WorkFunc func(ctx context.Context) ([]byte, error)

// Result is the shared outcome of a guarded call.
type Result struct {
	// Vocals is the isolated vocal audio. The slice is shared by every
	// joined caller and must be treated as read-only.
	Vocals []byte

	// Shared reports whether the result was delivered to more than one
	// caller.
	Shared bool
}

// Option is a functional option for [NewGate].
type Option func(*Gate)

// WithPolicy sets the timeout and retry policy applied to each flight.
func WithPolicy(p Policy) Option {
	return func(g *Gate) {
		g.policy = p.withDefaults()
	}
}

// WithMetrics records request, error, latency, and in-flight metrics on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// Gate is a keyed single-flight coordinator. All methods are safe for
// concurrent use.
type Gate struct {
	group   singleflight.Group
	policy  Policy
	metrics *observe.Metrics

	mu       sync.Mutex
	waiters  map[string]int
	inflight map[string]int
}

// NewGate returns a Gate using [DefaultPolicy] unless overridden.
func NewGate(opts ...Option) *Gate {
	g := &Gate{
		policy:   DefaultPolicy(),
		waiters:  make(map[string]int),
		inflight: make(map[string]int),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// AcquireOrJoin runs work for songID, or joins the call already running for
// it. Every caller joined to the same call receives the same vocals or the
// same error.
//
// The work itself is not cancelled when ctx ends, since other callers may
// still be waiting on it; the caller simply stops waiting and receives
// ctx.Err().
func (g *Gate) AcquireOrJoin(ctx context.Context, songID string, work WorkFunc) (Result, error) {
	if work == nil {
		return Result{}, fmt.Errorf("gate: nil work for %q", songID)
	}

	detached := context.WithoutCancel(ctx)
	ch := g.group.DoChan(songID, func() (any, error) {
		return g.run(detached, songID, work)
	})
	g.addWaiter(songID, 1)
	defer g.addWaiter(songID, -1)

	select {
	case res := <-ch:
		vocals, _ := res.Val.([]byte)
		if g.metrics != nil {
			status := "ok"
			if res.Err != nil {
				status = "error"
			}
			g.metrics.RecordSeparationRequest(ctx, status, res.Shared)
		}
		if res.Err != nil {
			return Result{Shared: res.Shared}, res.Err
		}
		return Result{Vocals: vocals, Shared: res.Shared}, nil
	case <-ctx.Done():
		if g.metrics != nil {
			g.metrics.RecordSeparationRequest(context.WithoutCancel(ctx), "abandoned", false)
		}
		return Result{}, ctx.Err()
	}
}

// Forget drops the registration for songID so the next caller starts a new
// call even if one is still running. Callers already joined keep waiting on
// the old one.
func (g *Gate) Forget(songID string) {
	g.group.Forget(songID)
}

// InFlight returns the number of guarded calls currently executing.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	var n int
	for _, c := range g.inflight {
		n += c
	}
	return n
}

// Waiters returns the number of callers currently registered on songID.
func (g *Gate) Waiters(songID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters[songID]
}

func (g *Gate) addWaiter(songID string, delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.waiters[songID] + delta
	if n <= 0 {
		delete(g.waiters, songID)
		return
	}
	g.waiters[songID] = n
}

func (g *Gate) setInFlight(songID string, running bool) {
	delta := 1
	if !running {
		delta = -1
	}

	// A forgotten key can briefly have two flights, so count per key.
	g.mu.Lock()
	if n := g.inflight[songID] + delta; n > 0 {
		g.inflight[songID] = n
	} else {
		delete(g.inflight, songID)
	}
	g.mu.Unlock()

	if g.metrics != nil {
		g.metrics.SeparationInFlight.Add(context.Background(), int64(delta))
	}
}

// run executes work under the policy. It is called at most once per flight.
func (g *Gate) run(ctx context.Context, songID string, work WorkFunc) ([]byte, error) {
	g.setInFlight(songID, true)
	defer g.setInFlight(songID, false)

	p := g.policy
	backoff := p.Backoff
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if attempt > 0 {
			slog.Info("gate: retrying",
				"song_id", songID,
				"attempt", attempt+1,
				"max_attempts", p.MaxRetries+1,
				"backoff", backoff,
			)
			if werr := wait(ctx, backoff); werr != nil {
				return nil, werr
			}
			backoff = min(backoff*2, p.MaxBackoff)
		}

		var vocals []byte
		vocals, err = g.attempt(ctx, work)
		if err == nil {
			return vocals, nil
		}
		slog.Warn("gate: attempt failed",
			"song_id", songID,
			"attempt", attempt+1,
			"err", err,
		)
		if !p.retryable(err) {
			break
		}
	}
	return nil, err
}

func (g *Gate) attempt(ctx context.Context, work WorkFunc) (vocals []byte, err error) {
	actx, cancel := g.policy.attemptContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			vocals, err = nil, fmt.Errorf("%w: %v", ErrWorkPanicked, r)
		}
		if g.metrics != nil {
			status := "ok"
			if err != nil {
				status = "error"
			}
			g.metrics.SeparationDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(observe.Attr("status", status)))
		}
	}()

	return work(actx)
}
