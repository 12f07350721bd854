package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/singalong/internal/observe"
	"github.com/MrWong99/singalong/pkg/audio"
	"github.com/MrWong99/singalong/pkg/pitch"
)

// Session is one running microphone analysis.
type Session struct {
	id        string
	capture   audio.Capture
	tracker   *pitch.LiveTracker
	estimates chan pitch.Estimate
	done      chan struct{}
	cancel    context.CancelFunc
	metrics   *observe.Metrics
	release   func(*Session)

	stopOnce sync.Once
	stopped  atomic.Bool
	frames   atomic.Int64
	err      error
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Estimates delivers one estimate per captured frame. The channel is closed
// when the session ends.
func (s *Session) Estimates() <-chan pitch.Estimate { return s.estimates }

// Done is closed once the session has ended and its capture is released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Frames returns the number of frames analysed so far.
func (s *Session) Frames() int64 { return s.frames.Load() }

// Stop ends the session. It is safe to call more than once and does not
// wait; use [Session.Done] for that.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.cancel()
	})
}

// Err reports why the session ended. It is nil while running and after a
// [Session.Stop]; otherwise it carries the context error, a device failure
// ([audio.ErrCaptureClosed]), or the error from releasing the capture.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

func (s *Session) run(ctx context.Context) {
	var loopErr error
	defer func() {
		closeErr := s.capture.Close()
		if closeErr != nil {
			closeErr = fmt.Errorf("live: close capture: %w", closeErr)
		}
		s.err = errors.Join(loopErr, closeErr)
		close(s.estimates)
		s.release(s)
		close(s.done)
		slog.Info("live: session ended",
			"session_id", s.id,
			"frames", s.frames.Load(),
			"err", s.err,
		)
	}()
	defer s.cancel()

	frames := s.capture.Frames()
	for {
		select {
		case <-ctx.Done():
			if !s.stopped.Load() {
				loopErr = ctx.Err()
			}
			return
		case f, ok := <-frames:
			if !ok {
				if !s.stopped.Load() {
					loopErr = audio.ErrCaptureClosed
				}
				return
			}
			if !s.handle(ctx, f) {
				if !s.stopped.Load() {
					loopErr = ctx.Err()
				}
				return
			}
		}
	}
}

// handle estimates one frame and publishes it. It reports false when ctx
// ended while waiting for the consumer.
func (s *Session) handle(ctx context.Context, f audio.Frame) bool {
	rate := f.SampleRate
	if rate <= 0 {
		rate = s.capture.SampleRate()
	}
	est := s.tracker.Estimate(f.Samples, rate)
	s.frames.Add(1)
	s.metrics.RecordLiveFrame(ctx, est.Voiced)

	select {
	case s.estimates <- est:
		return true
	case <-ctx.Done():
		return false
	}
}
