// Package config provides the configuration schema, loader, and provider registry
// for the singalong analysis engine.
package config

import (
	"time"

	"github.com/MrWong99/singalong/internal/gate"
	"github.com/MrWong99/singalong/pkg/notes"
	"github.com/MrWong99/singalong/pkg/pitch"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Separation SeparationConfig `yaml:"separation"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Pitch      PitchConfig      `yaml:"pitch"`
	Live       LiveConfig       `yaml:"live"`
	Notes      NotesConfig      `yaml:"notes"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// ServerConfig holds process-wide settings.
type ServerConfig struct {
	// LogLevel controls verbosity. Defaults to info.
	LogLevel LogLevel `yaml:"log_level"`
}

// ProvidersConfig declares which implementation backs each external
// dependency. Each entry selects a named provider registered in the [Registry].
type ProvidersConfig struct {
	// Separation is the primary vocal-isolation backend.
	Separation ProviderEntry `yaml:"separation"`

	// SeparationFallbacks are tried in order when the primary fails.
	SeparationFallbacks []ProviderEntry `yaml:"separation_fallbacks"`

	// Capture is the microphone used by live sessions. Leave empty to
	// disable live sessions.
	Capture ProviderEntry `yaml:"capture"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "remote", "malgo").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL is the provider's API endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "htdemucs").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// SeparationConfig bounds each guarded vocal-isolation call.
type SeparationConfig struct {
	// AttemptTimeout caps one attempt. Zero uses the default (5m); negative
	// disables the cap.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`

	// MaxRetries is the number of extra attempts after a transient failure.
	MaxRetries int `yaml:"max_retries"`

	Backoff    time.Duration `yaml:"backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`

	// CircuitMaxFailures and CircuitReset tune the per-provider circuit
	// breakers used when fallbacks are configured.
	CircuitMaxFailures int           `yaml:"circuit_max_failures"`
	CircuitReset       time.Duration `yaml:"circuit_reset"`
}

// AnalysisConfig tunes the offline pipeline.
type AnalysisConfig struct {
	// Workers bounds concurrent CPU-bound analyses. Defaults to the number
	// of CPUs.
	Workers int `yaml:"workers"`

	// MaxDecodedBytes is the decoded stem size above which an analysis is
	// degraded. Zero uses the default (500 MB); negative disables the check.
	MaxDecodedBytes int64 `yaml:"max_decoded_bytes"`
}

// PitchConfig tunes the offline pitch tracker. Zero values take defaults.
type PitchConfig struct {
	MinFrequency float64 `yaml:"min_frequency"`
	MaxFrequency float64 `yaml:"max_frequency"`
	HopInterval  float64 `yaml:"hop_interval"`
	Window       float64 `yaml:"window"`
}

// LiveConfig tunes the live pitch tracker. Zero values take defaults.
type LiveConfig struct {
	MinFrequency     float64 `yaml:"min_frequency"`
	MaxFrequency     float64 `yaml:"max_frequency"`
	VolumeThreshold  float64 `yaml:"volume_threshold"`
	Threshold        float64 `yaml:"threshold"`
	MaxCMND          float64 `yaml:"max_cmnd"`
	SmoothingWeight  float64 `yaml:"smoothing_weight"`
	SmoothingMaxJump float64 `yaml:"smoothing_max_jump"`
}

// NotesConfig tunes note segmentation. Zero values take defaults.
type NotesConfig struct {
	PitchTolerance float64 `yaml:"pitch_tolerance"`
	MaxGap         float64 `yaml:"max_gap"`
	MinGap         float64 `yaml:"min_gap"`
	MinDuration    float64 `yaml:"min_duration"`
	MaxDuration    float64 `yaml:"max_duration"`
}

// TelemetryConfig controls metrics export.
type TelemetryConfig struct {
	// ServiceName is reported as the OpenTelemetry service.name.
	ServiceName string `yaml:"service_name"`

	// Prometheus installs the Prometheus exporter as the global meter
	// provider when true.
	Prometheus bool `yaml:"prometheus"`
}

// Policy converts c into a gate policy.
func (c SeparationConfig) Policy() gate.Policy {
	return gate.Policy{
		AttemptTimeout: c.AttemptTimeout,
		MaxRetries:     c.MaxRetries,
		Backoff:        c.Backoff,
		MaxBackoff:     c.MaxBackoff,
	}
}

// Tracker converts c into an offline tracker configuration with the given
// size ceiling.
func (c PitchConfig) Tracker(maxDecodedBytes int64) pitch.TrackerConfig {
	return pitch.TrackerConfig{
		MinFrequency:    c.MinFrequency,
		MaxFrequency:    c.MaxFrequency,
		HopInterval:     c.HopInterval,
		WindowDuration:  c.Window,
		MaxDecodedBytes: maxDecodedBytes,
	}
}

// Tracker converts c into a live tracker configuration.
func (c LiveConfig) Tracker() pitch.LiveConfig {
	return pitch.LiveConfig{
		MinFrequency:     c.MinFrequency,
		MaxFrequency:     c.MaxFrequency,
		VolumeThreshold:  c.VolumeThreshold,
		Threshold:        c.Threshold,
		MaxCMND:          c.MaxCMND,
		SmoothingWeight:  c.SmoothingWeight,
		SmoothingMaxJump: c.SmoothingMaxJump,
	}
}

// Segmenter converts c into a segmenter configuration.
func (c NotesConfig) Segmenter() notes.Config {
	return notes.Config{
		PitchTolerance: c.PitchTolerance,
		MaxGap:         c.MaxGap,
		MinGap:         c.MinGap,
		MinDuration:    c.MinDuration,
		MaxDuration:    c.MaxDuration,
	}
}
