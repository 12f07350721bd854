// Package app wires all singalong subsystems into a running engine.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Watch applies configuration edits while running, and Shutdown
// tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithProviders, WithMetrics, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/MrWong99/singalong/internal/analysis"
	"github.com/MrWong99/singalong/internal/config"
	"github.com/MrWong99/singalong/internal/gate"
	"github.com/MrWong99/singalong/internal/live"
	"github.com/MrWong99/singalong/internal/observe"
	"github.com/MrWong99/singalong/internal/resilience"
	"github.com/MrWong99/singalong/pkg/provider/separation"
)

// App owns all subsystem lifetimes.
type App struct {
	providers *Providers
	registry  *config.Registry
	metrics   *observe.Metrics
	logOutput io.Writer
	level     *slog.LevelVar

	registerer prometheus.Registerer

	gate     *gate.Gate
	analyzer *analysis.Analyzer
	live     *live.Manager

	mu      sync.Mutex
	cfg     *config.Config
	watcher *config.Watcher

	// closers are called in order during Shutdown.
	closers []func(context.Context) error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProviders injects ready-made providers instead of building them from
// the config registry.
func WithProviders(p *Providers) Option {
	return func(a *App) { a.providers = p }
}

// WithRegistry builds providers from reg instead of the built-in registry.
func WithRegistry(reg *config.Registry) Option {
	return func(a *App) { a.registry = reg }
}

// WithMetrics records every instrument on m instead of the global meter
// provider. Telemetry export is not initialised when set.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogOutput directs the default logger to w. Defaults to os.Stderr.
func WithLogOutput(w io.Writer) Option {
	return func(a *App) { a.logOutput = w }
}

// WithRegisterer registers the Prometheus collector on reg instead of the
// default registry. Only used when telemetry.prometheus is enabled.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. It installs the
// process-wide default logger at cfg.Server.LogLevel.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg:       cfg,
		logOutput: os.Stderr,
		level:     new(slog.LevelVar),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Logger ────────────────────────────────────────────────────────
	a.level.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(a.logOutput, &slog.HandlerOptions{Level: a.level})))

	// ── 2. Telemetry ─────────────────────────────────────────────────────
	if err := a.initTelemetry(ctx); err != nil {
		return nil, fmt.Errorf("app: init telemetry: %w", err)
	}

	// ── 3. Providers ─────────────────────────────────────────────────────
	if err := a.initProviders(); err != nil {
		a.runClosers(ctx)
		return nil, fmt.Errorf("app: init providers: %w", err)
	}

	// ── 4. Separation gate + analyzer ────────────────────────────────────
	policy := cfg.Separation.Policy()
	policy.Retryable = separation.IsRetryable
	a.gate = gate.NewGate(gate.WithPolicy(policy), gate.WithMetrics(a.metrics))

	a.analyzer = analysis.New(a.providers.Separation,
		analysis.WithGate(a.gate),
		analysis.WithWorkers(cfg.Analysis.Workers),
		analysis.WithTrackerConfig(cfg.Pitch.Tracker(cfg.Analysis.MaxDecodedBytes)),
		analysis.WithNotesConfig(cfg.Notes.Segmenter()),
		analysis.WithMetrics(a.metrics),
	)

	// ── 5. Live sessions ─────────────────────────────────────────────────
	if a.providers.Capture != nil {
		a.live = live.NewManager(a.providers.Capture,
			live.WithMetrics(a.metrics),
			live.WithTrackerConfig(cfg.Live.Tracker()),
		)
		a.closers = append([]func(context.Context) error{a.stopLive}, a.closers...)
	}

	a.printSummary()
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initTelemetry installs the Prometheus exporter when configured and
// resolves the metrics instance every subsystem records on.
func (a *App) initTelemetry(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}
	if a.cfg.Telemetry.Prometheus {
		tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceName: a.cfg.Telemetry.ServiceName,
			Registerer:  a.registerer,
		})
		if err != nil {
			return err
		}
		a.closers = append(a.closers, tel.Shutdown)
		a.metrics = tel.Metrics
		slog.Info("prometheus exporter registered", "service_name", a.cfg.Telemetry.ServiceName)
		return nil
	}
	a.metrics = observe.DefaultMetrics()
	return nil
}

// initProviders builds providers from the registry unless they were injected.
func (a *App) initProviders() error {
	if a.providers != nil {
		return nil
	}
	reg := a.registry
	if reg == nil {
		reg = config.NewRegistry()
		RegisterBuiltins(reg)
	}
	ps, err := BuildProviders(a.cfg, reg, resilience.WithSeparationMetrics(a.metrics))
	if err != nil {
		return err
	}
	a.providers = ps
	return nil
}

func (a *App) printSummary() {
	sep := a.cfg.Providers.Separation.Name
	if sep == "" {
		sep = "(none)"
	}
	slog.Info("singalong ready",
		"separation", sep,
		"separation_fallbacks", len(a.cfg.Providers.SeparationFallbacks),
		"live", a.live != nil,
		"workers", a.analyzer.Workers(),
		"log_level", a.cfg.Server.LogLevel,
	)
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Analyzer returns the offline analysis pipeline.
func (a *App) Analyzer() *analysis.Analyzer { return a.analyzer }

// Live returns the live session manager, or nil when no capture device is
// configured.
func (a *App) Live() *live.Manager { return a.live }

// Gate returns the separation gate shared by every analysis.
func (a *App) Gate() *gate.Gate { return a.gate }

// Config returns the configuration currently in effect.
func (a *App) Config() *config.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of cfg and returns what
// changed. Settings that need a restart are logged and left untouched, both
// in the running subsystems and in [App.Config].
func (a *App) ApplyConfig(cfg *config.Config) config.ConfigDiff {
	a.mu.Lock()
	old := a.cfg
	a.cfg = config.HotReload(old, cfg)
	a.mu.Unlock()

	d := config.Diff(old, cfg)
	if d.LogLevelChanged {
		a.level.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.PitchChanged {
		a.analyzer.SetTrackerConfig(cfg.Pitch.Tracker(cfg.Analysis.MaxDecodedBytes))
		slog.Info("pitch tracker reconfigured")
	}
	if d.NotesChanged {
		a.analyzer.SetNotesConfig(cfg.Notes.Segmenter())
		slog.Info("note segmenter reconfigured")
	}
	if d.LiveChanged && a.live != nil {
		a.live.SetTrackerConfig(cfg.Live.Tracker())
		slog.Info("live tracker reconfigured, applies to new sessions")
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes require a restart", "keys", d.RestartRequired)
	}
	return d
}

// Watch starts polling path and applies the hot-reloadable part of every
// valid edit through [App.ApplyConfig]. The watcher is stopped by Shutdown.
func (a *App) Watch(path string, opts ...config.WatcherOption) error {
	w, err := config.NewWatcher(path, func(effective *config.Config, _ config.ConfigDiff) {
		a.ApplyConfig(effective)
	}, opts...)
	if err != nil {
		return fmt.Errorf("app: watch config: %w", err)
	}

	a.mu.Lock()
	prev := a.watcher
	a.watcher = w
	a.mu.Unlock()
	if prev != nil {
		prev.Stop()
	}
	return nil
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown stops the config watcher, ends any live session and flushes
// telemetry. It respects the context deadline: if ctx expires before all
// closers finish, remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		// Stop outside the lock: a reload in flight needs it to finish.
		a.mu.Lock()
		w := a.watcher
		a.watcher = nil
		a.mu.Unlock()
		if w != nil {
			w.Stop()
		}

		shutdownErr = a.runClosers(ctx)
		if shutdownErr == nil {
			slog.Info("shutdown complete")
		}
	})
	return shutdownErr
}

func (a *App) runClosers(ctx context.Context) error {
	for i, closer := range a.closers {
		select {
		case <-ctx.Done():
			slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
			return ctx.Err()
		default:
		}
		if err := closer(ctx); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	return nil
}

func (a *App) stopLive(context.Context) error {
	if err := a.live.Stop(); err != nil && !errors.Is(err, live.ErrNoSession) {
		return err
	}
	return nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
