package config_test

import (
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/singalong/internal/config"
)

const watcherValidYAML = `
server:
  log_level: info
analysis:
  workers: 2
notes:
  pitch_tolerance: 30
`

const watcherUpdatedYAML = `
server:
  log_level: debug
analysis:
  workers: 2
notes:
  pitch_tolerance: 20
`

const watcherRestartOnlyYAML = `
server:
  log_level: info
analysis:
  workers: 8
notes:
  pitch_tolerance: 30
telemetry:
  prometheus: true
`

const watcherInvalidYAML = `
server:
  log_level: bananas
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file %q: %v", path, err)
	}
}

// rewrite replaces the file content and pushes its mtime forward so the
// change is visible even on coarse-grained filesystems.
func rewrite(t *testing.T, path, content string) {
	t.Helper()
	writeFile(t, path, content)
	later := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
}

// recorder collects ReloadFunc invocations.
type recorder struct {
	mu    sync.Mutex
	cfgs  []*config.Config
	diffs []config.ConfigDiff
}

func (r *recorder) onReload(cfg *config.Config, d config.ConfigDiff) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfgs = append(r.cfgs, cfg)
	r.diffs = append(r.diffs, d)
}

func (r *recorder) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cfgs)
}

func newWatcher(t *testing.T, content string, onReload config.ReloadFunc) (*config.Watcher, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, content)
	w, err := config.NewWatcher(path, onReload, config.WithInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, path
}

func TestWatcher_InitialLoad(t *testing.T) {
	t.Parallel()
	w, _ := newWatcher(t, watcherValidYAML, nil)

	cfg := w.Current()
	if cfg == nil {
		t.Fatal("Current() returned nil after initial load")
	}
	if cfg.Server.LogLevel != config.LogInfo {
		t.Errorf("log_level: got %q, want %q", cfg.Server.LogLevel, config.LogInfo)
	}
}

func TestWatcher_AppliesHotReloadableEdit(t *testing.T) {
	t.Parallel()
	var rec recorder
	w, path := newWatcher(t, watcherValidYAML, rec.onReload)

	rewrite(t, path, watcherUpdatedYAML)
	d, ok := w.Check()
	if !ok {
		t.Fatal("Check() did not accept the edit")
	}
	if !d.LogLevelChanged || !d.NotesChanged || len(d.RestartRequired) != 0 {
		t.Errorf("diff = %+v, want log level and notes changes only", d)
	}
	if rec.calls() != 1 {
		t.Fatalf("reload calls = %d, want 1", rec.calls())
	}
	if got := rec.cfgs[0].Notes.PitchTolerance; got != 20 {
		t.Errorf("reloaded pitch_tolerance = %v, want 20", got)
	}
	if w.Current() != rec.cfgs[0] {
		t.Error("Current() should return the config handed to the callback")
	}
}

func TestWatcher_RestartOnlyEditIsReportedNotApplied(t *testing.T) {
	t.Parallel()
	var rec recorder
	w, path := newWatcher(t, watcherValidYAML, rec.onReload)

	rewrite(t, path, watcherRestartOnlyYAML)
	d, ok := w.Check()
	if !ok {
		t.Fatal("Check() did not accept the edit")
	}
	if want := []string{"analysis.workers", "telemetry"}; !slices.Equal(d.RestartRequired, want) {
		t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, want)
	}
	if d.Changed() {
		t.Errorf("diff = %+v, want no hot-reloadable change", d)
	}
	if rec.calls() != 0 {
		t.Errorf("reload calls = %d, want 0", rec.calls())
	}
	cur := w.Current()
	if cur.Analysis.Workers != 2 || cur.Telemetry.Prometheus {
		t.Errorf("restart-only settings applied: workers=%d prometheus=%v", cur.Analysis.Workers, cur.Telemetry.Prometheus)
	}
}

func TestWatcher_InvalidEditKeepsCurrentConfig(t *testing.T) {
	t.Parallel()
	var rec recorder
	w, path := newWatcher(t, watcherValidYAML, rec.onReload)

	rewrite(t, path, watcherInvalidYAML)
	if _, ok := w.Check(); ok {
		t.Error("Check() accepted an invalid config")
	}
	// The same broken revision is not parsed again.
	if _, ok := w.Check(); ok {
		t.Error("second Check() accepted an invalid config")
	}
	if rec.calls() != 0 {
		t.Errorf("reload calls = %d, want 0", rec.calls())
	}
	if got := w.Current().Server.LogLevel; got != config.LogInfo {
		t.Errorf("Current() log_level = %q, want %q", got, config.LogInfo)
	}

	// Fixing the file is picked up.
	rewrite(t, path, watcherUpdatedYAML)
	if _, ok := w.Check(); !ok {
		t.Error("Check() did not accept the fixed file")
	}
}

func TestWatcher_TouchWithoutContentChange(t *testing.T) {
	t.Parallel()
	var rec recorder
	w, path := newWatcher(t, watcherValidYAML, rec.onReload)

	later := time.Now().Add(time.Second)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("failed to touch file: %v", err)
	}
	if _, ok := w.Check(); ok {
		t.Error("Check() reported a new revision for a touch")
	}
	if rec.calls() != 0 {
		t.Errorf("reload calls = %d, want 0", rec.calls())
	}
}

func TestWatcher_PollsInBackground(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherValidYAML)

	reloaded := make(chan *config.Config, 1)
	w, err := config.NewWatcher(path, func(cfg *config.Config, _ config.ConfigDiff) {
		select {
		case reloaded <- cfg:
		default:
		}
	}, config.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	rewrite(t, path, watcherUpdatedYAML)
	select {
	case cfg := <-reloaded:
		if cfg.Server.LogLevel != config.LogDebug {
			t.Errorf("log_level = %q, want debug", cfg.Server.LogLevel)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("reload not observed before deadline")
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	t.Parallel()
	if _, err := config.NewWatcher("/nonexistent/path.yaml", nil); err == nil {
		t.Fatal("expected error for non-existent file, got nil")
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, watcherInvalidYAML)
	if _, err := config.NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config, got nil")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	t.Parallel()
	w, _ := newWatcher(t, watcherValidYAML, nil)
	w.Stop()
	w.Stop()
}

func TestHotReload_KeepsRestartOnlySections(t *testing.T) {
	t.Parallel()
	cur := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogInfo},
		Analysis:  config.AnalysisConfig{Workers: 2, MaxDecodedBytes: 100},
		Telemetry: config.TelemetryConfig{ServiceName: "a"},
	}
	next := &config.Config{
		Server:    config.ServerConfig{LogLevel: config.LogWarn},
		Analysis:  config.AnalysisConfig{Workers: 9, MaxDecodedBytes: 200},
		Telemetry: config.TelemetryConfig{ServiceName: "b"},
		Notes:     config.NotesConfig{PitchTolerance: 12},
	}

	got := config.HotReload(cur, next)
	if got == cur {
		t.Fatal("HotReload must return a copy")
	}
	if got.Server.LogLevel != config.LogWarn || got.Analysis.MaxDecodedBytes != 200 || got.Notes.PitchTolerance != 12 {
		t.Errorf("hot settings not applied: %+v", got)
	}
	if got.Analysis.Workers != 2 || got.Telemetry.ServiceName != "a" {
		t.Errorf("restart-only settings changed: %+v", got)
	}
	if cur.Server.LogLevel != config.LogInfo {
		t.Error("HotReload modified cur")
	}
}
