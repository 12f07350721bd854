// Package live runs real-time pitch sessions on the microphone.
//
// A [Manager] owns the capture device and allows at most one active
// [Session] at a time. Each session reads frames from an [audio.Capture],
// runs them through a [pitch.LiveTracker], and publishes one
// [pitch.Estimate] per frame for the scoring layer.
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

// defaultBuffer is the estimate channel capacity when Options.Buffer is zero.
const defaultBuffer = 16

var (
	// ErrSessionActive is returned by [Manager.Start] when a session is
	// already running and Options.Replace is not set.
	ErrSessionActive = errors.New("live: a session is already active")

	// ErrNoSession is returned by [Manager.Stop] when nothing is running.
	ErrNoSession = errors.New("live: no active session")
)

// Options configures a new session.
type Options struct {
	// Replace stops a running session before starting the new one instead of
	// failing with [ErrSessionActive]. The previous capture is fully
	// released before the new one is opened.
	Replace bool

	// Buffer is the capacity of the estimate channel. Defaults to 16.
	Buffer int

	// Tracker overrides the manager's tracker configuration for this
	// session when non-nil.
	Tracker *pitch.LiveConfig
}

// ManagerOption is a functional option for [NewManager].
type ManagerOption func(*Manager)

// WithMetrics records frame and session metrics on m. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) ManagerOption {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithTrackerConfig sets the tracker configuration for new sessions.
func WithTrackerConfig(cfg pitch.LiveConfig) ManagerOption {
	return func(mgr *Manager) { mgr.SetTrackerConfig(cfg) }
}

// Manager enforces the single-session rule over a capture device.
// All exported methods are safe for concurrent use.
type Manager struct {
	device  audio.CaptureDevice
	metrics *observe.Metrics
	cfg     atomic.Pointer[pitch.LiveConfig]
	seq     atomic.Uint64

	// startMu serialises Start and Stop so a replacement cannot race a
	// concurrent start.
	startMu sync.Mutex

	mu     sync.Mutex
	active *Session
}

// NewManager returns a Manager opening captures from device.
func NewManager(device audio.CaptureDevice, opts ...ManagerOption) *Manager {
	m := &Manager{device: device}
	m.SetTrackerConfig(pitch.LiveConfig{})
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// SetTrackerConfig changes the tracker configuration used by sessions
// started afterwards. A running session keeps its configuration.
func (m *Manager) SetTrackerConfig(cfg pitch.LiveConfig) {
	m.cfg.Store(&cfg)
}

// TrackerConfig returns the configuration new sessions will use.
func (m *Manager) TrackerConfig() pitch.LiveConfig {
	return *m.cfg.Load()
}

// Start opens the microphone and begins a session. The session ends when
// ctx is cancelled, [Session.Stop] is called, or the capture fails.
func (m *Manager) Start(ctx context.Context, opts Options) (*Session, error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if cur := m.Active(); cur != nil {
		if !opts.Replace {
			return nil, fmt.Errorf("%w (id=%s)", ErrSessionActive, cur.ID())
		}
		slog.Info("live: replacing session", "session_id", cur.ID())
		cur.Stop()
		<-cur.Done()
	}

	capture, err := m.device.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("live: open capture: %w", err)
	}

	cfg := m.TrackerConfig()
	if opts.Tracker != nil {
		cfg = *opts.Tracker
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = defaultBuffer
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:        fmt.Sprintf("live-%d", m.seq.Add(1)),
		capture:   capture,
		tracker:   pitch.NewLiveTracker(cfg),
		estimates: make(chan pitch.Estimate, buffer),
		done:      make(chan struct{}),
		cancel:    cancel,
		metrics:   m.metrics,
		release:   m.release,
	}

	m.mu.Lock()
	m.active = s
	m.mu.Unlock()

	m.metrics.LiveSessions.Add(ctx, 1)
	slog.Info("live: session started",
		"session_id", s.id,
		"sample_rate", capture.SampleRate(),
	)

	go s.run(sctx)
	return s, nil
}

// Stop ends the active session and waits until its capture is released.
func (m *Manager) Stop() error {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	s := m.Active()
	if s == nil {
		return ErrNoSession
	}
	s.Stop()
	<-s.Done()
	return nil
}

// Active returns the running session, or nil.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// release clears s as the active session once it has finished.
func (m *Manager) release(s *Session) {
	m.mu.Lock()
	if m.active == s {
		m.active = nil
	}
	m.mu.Unlock()
	m.metrics.LiveSessions.Add(context.Background(), -1)
}
