package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/singalong/internal/observe"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"separation": {"remote"},
	"capture":    {"malgo"},
}

// DefaultServiceName is the telemetry service name when none is configured.
const DefaultServiceName = observe.DefaultServiceName

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. An empty document yields the defaults.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyDefaults fills fields whose zero value is not a usable setting.
// Tuning fields left at zero are resolved by the packages that consume them.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Analysis.Workers == 0 {
		cfg.Analysis.Workers = runtime.NumCPU()
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	validateProviderName("separation", cfg.Providers.Separation.Name)
	validateProviderName("capture", cfg.Providers.Capture.Name)
	if len(cfg.Providers.SeparationFallbacks) > 0 && cfg.Providers.Separation.Name == "" {
		errs = append(errs, errors.New("providers.separation_fallbacks requires providers.separation to be configured"))
	}
	for i, fb := range cfg.Providers.SeparationFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.separation_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("separation", fb.Name)
	}
	if cfg.Providers.Separation.Name == "" {
		slog.Warn("no separation provider configured; requests must carry isolated vocals")
	}

	// Separation policy
	s := cfg.Separation
	if s.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("separation.max_retries %d must not be negative", s.MaxRetries))
	}
	if s.Backoff < 0 || s.MaxBackoff < 0 {
		errs = append(errs, errors.New("separation.backoff and separation.max_backoff must not be negative"))
	}
	if s.Backoff > 0 && s.MaxBackoff > 0 && s.MaxBackoff < s.Backoff {
		errs = append(errs, fmt.Errorf("separation.max_backoff %s is less than separation.backoff %s", s.MaxBackoff, s.Backoff))
	}
	if s.CircuitMaxFailures < 0 || s.CircuitReset < 0 {
		errs = append(errs, errors.New("separation.circuit_max_failures and separation.circuit_reset must not be negative"))
	}

	// Analysis
	if cfg.Analysis.Workers < 0 {
		errs = append(errs, fmt.Errorf("analysis.workers %d must not be negative", cfg.Analysis.Workers))
	}

	// Pitch
	p := cfg.Pitch
	errs = appendNonNegative(errs, "pitch",
		field{"min_frequency", p.MinFrequency},
		field{"max_frequency", p.MaxFrequency},
		field{"hop_interval", p.HopInterval},
		field{"window", p.Window},
	)
	if p.MinFrequency > 0 && p.MaxFrequency > 0 && p.MinFrequency >= p.MaxFrequency {
		errs = append(errs, fmt.Errorf("pitch.min_frequency %.1f must be below pitch.max_frequency %.1f", p.MinFrequency, p.MaxFrequency))
	}

	// Live
	l := cfg.Live
	errs = appendNonNegative(errs, "live",
		field{"min_frequency", l.MinFrequency},
		field{"max_frequency", l.MaxFrequency},
		field{"volume_threshold", l.VolumeThreshold},
		field{"threshold", l.Threshold},
		field{"max_cmnd", l.MaxCMND},
		field{"smoothing_weight", l.SmoothingWeight},
		field{"smoothing_max_jump", l.SmoothingMaxJump},
	)
	if l.MinFrequency > 0 && l.MaxFrequency > 0 && l.MinFrequency >= l.MaxFrequency {
		errs = append(errs, fmt.Errorf("live.min_frequency %.1f must be below live.max_frequency %.1f", l.MinFrequency, l.MaxFrequency))
	}
	if l.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("live.threshold %.2f must be below 1", l.Threshold))
	}
	if l.MaxCMND > 1 {
		errs = append(errs, fmt.Errorf("live.max_cmnd %.2f must not exceed 1", l.MaxCMND))
	}
	if l.SmoothingWeight > 1 {
		errs = append(errs, fmt.Errorf("live.smoothing_weight %.2f must not exceed 1", l.SmoothingWeight))
	}

	// Notes
	n := cfg.Notes
	errs = appendNonNegative(errs, "notes",
		field{"pitch_tolerance", n.PitchTolerance},
		field{"max_gap", n.MaxGap},
		field{"min_gap", n.MinGap},
		field{"min_duration", n.MinDuration},
		field{"max_duration", n.MaxDuration},
	)
	if n.MinDuration > 0 && n.MaxDuration > 0 && n.MinDuration > n.MaxDuration {
		errs = append(errs, fmt.Errorf("notes.min_duration %.2f exceeds notes.max_duration %.2f", n.MinDuration, n.MaxDuration))
	}

	return errors.Join(errs...)
}

type field struct {
	name  string
	value float64
}

func appendNonNegative(errs []error, section string, fields ...field) []error {
	for _, f := range fields {
		if f.value < 0 {
			errs = append(errs, fmt.Errorf("%s.%s %.3f must not be negative", section, f.name, f.value))
		}
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
