package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ReloadFunc receives the configuration now in effect after an edit and the
// diff that produced it. effective only differs from the previous config in
// hot-reloadable settings; restart-only edits are reported in
// d.RestartRequired and otherwise ignored.
type ReloadFunc func(effective *Config, d ConfigDiff)

// Watcher polls a config file and applies the hot-reloadable part of every
// valid edit. Invalid edits are logged once and skipped; the config in
// effect does not change until the file is fixed.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc

	mu      sync.Mutex
	current *Config
	seen    fileState

	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// fileState identifies one revision of the watched file.
type fileState struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads path and starts polling it. The initial load must
// succeed; onReload may be nil.
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onReload: onReload,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	st, data, err := readRevision(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.seen = cfg, st

	go w.run()
	return w, nil
}

// Current returns the configuration in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Check polls the file once, outside the regular interval. It reports the
// diff of a new revision and whether one was accepted.
func (w *Watcher) Check() (ConfigDiff, bool) {
	return w.check()
}

// Stop ends polling and waits for an in-progress check to finish. It must
// not be called from the ReloadFunc.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.stopped
}

func (w *Watcher) run() {
	defer close(w.stopped)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

func (w *Watcher) check() (ConfigDiff, bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: watch: stat failed", "path", w.path, "err", err)
		return ConfigDiff{}, false
	}

	w.mu.Lock()
	seen := w.seen
	w.mu.Unlock()
	if info.ModTime().Equal(seen.mtime) && info.Size() == seen.size {
		return ConfigDiff{}, false
	}

	st, data, err := readRevision(w.path)
	if err != nil {
		slog.Warn("config: watch: read failed", "path", w.path, "err", err)
		return ConfigDiff{}, false
	}
	if st.sum == seen.sum {
		w.remember(st)
		return ConfigDiff{}, false
	}

	// Remember the revision before parsing so a broken file is reported once.
	w.remember(st)
	next, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		slog.Warn("config: watch: edit rejected, keeping current config", "path", w.path, "err", err)
		return ConfigDiff{}, false
	}

	w.mu.Lock()
	d := Diff(w.current, next)
	effective := HotReload(w.current, next)
	w.current = effective
	w.mu.Unlock()

	if len(d.RestartRequired) > 0 {
		slog.Warn("config: watch: edits need a restart", "path", w.path, "keys", d.RestartRequired)
	}
	if !d.Changed() {
		return d, true
	}
	slog.Info("config: watch: reloaded",
		"path", w.path,
		"log_level", d.LogLevelChanged,
		"pitch", d.PitchChanged,
		"live", d.LiveChanged,
		"notes", d.NotesChanged,
	)
	if w.onReload != nil {
		w.onReload(effective, d)
	}
	return d, true
}

func (w *Watcher) remember(st fileState) {
	w.mu.Lock()
	w.seen = st
	w.mu.Unlock()
}

// readRevision reads path and fingerprints its content.
func readRevision(path string) (fileState, []byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileState{}, nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fileState{}, nil, err
	}
	return fileState{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, data, nil
}
