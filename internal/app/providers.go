package app

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/singalong/internal/config"
	"github.com/MrWong99/singalong/internal/resilience"
	"github.com/MrWong99/singalong/pkg/audio"
	"github.com/MrWong99/singalong/pkg/audio/malgo"
	"github.com/MrWong99/singalong/pkg/provider/separation"
	"github.com/MrWong99/singalong/pkg/provider/separation/remote"
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured.
type Providers struct {
	Separation separation.Provider
	Capture    audio.CaptureDevice
}

// RegisterBuiltins registers every provider implementation shipped with
// singalong on reg.
func RegisterBuiltins(reg *config.Registry) {
	reg.RegisterSeparation("remote", func(entry config.ProviderEntry) (separation.Provider, error) {
		var opts []remote.Option
		if entry.APIKey != "" {
			opts = append(opts, remote.WithAPIKey(entry.APIKey))
		}
		if entry.Model != "" {
			opts = append(opts, remote.WithModel(entry.Model))
		}
		timeout, err := entry.OptDuration("timeout", 0)
		if err != nil {
			return nil, err
		}
		if timeout > 0 {
			opts = append(opts, remote.WithTimeout(timeout))
		}
		return remote.New(entry.BaseURL, opts...)
	})

	reg.RegisterCapture("malgo", func(entry config.ProviderEntry) (audio.CaptureDevice, error) {
		frameSize, err := entry.OptInt("frame_size", 0)
		if err != nil {
			return nil, err
		}
		buffer, err := entry.OptInt("buffer", 0)
		if err != nil {
			return nil, err
		}
		rate, err := entry.OptInt("sample_rate", 0)
		if err != nil {
			return nil, err
		}
		if rate < 0 {
			return nil, fmt.Errorf("config: malgo option \"sample_rate\": must be non-negative, got %d", rate)
		}
		return malgo.New(malgo.Config{
			DeviceName: entry.OptString("device"),
			SampleRate: uint32(rate),
			FrameSize:  frameSize,
			Buffer:     buffer,
		}), nil
	})
}

// BuildProviders instantiates the configured providers from reg. When
// fallbacks are configured the separation slot holds a
// [resilience.SeparationFallback] over the primary and every fallback.
func BuildProviders(cfg *config.Config, reg *config.Registry, opts ...resilience.SeparationOption) (*Providers, error) {
	ps := &Providers{}

	if name := cfg.Providers.Separation.Name; name != "" {
		primary, err := reg.CreateSeparation(cfg.Providers.Separation)
		if err != nil {
			return nil, fmt.Errorf("create separation provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "separation", "name", name)
		ps.Separation = primary

		if len(cfg.Providers.SeparationFallbacks) > 0 {
			fb := resilience.NewSeparationFallback(primary, providerLabel(cfg.Providers.Separation, 0), resilience.FallbackConfig{
				CircuitBreaker: resilience.CircuitBreakerConfig{
					MaxFailures:  cfg.Separation.CircuitMaxFailures,
					ResetTimeout: cfg.Separation.CircuitReset,
				},
			}, opts...)
			for i, entry := range cfg.Providers.SeparationFallbacks {
				p, err := reg.CreateSeparation(entry)
				if err != nil {
					return nil, fmt.Errorf("create separation fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(providerLabel(entry, i+1), p)
				slog.Info("provider created", "kind", "separation_fallback", "name", entry.Name)
			}
			ps.Separation = fb
		}
	}

	if name := cfg.Providers.Capture.Name; name != "" {
		d, err := reg.CreateCapture(cfg.Providers.Capture)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("capture device not available, live sessions disabled", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create capture device %q: %w", name, err)
		} else {
			ps.Capture = d
			slog.Info("provider created", "kind", "capture", "name", name)
		}
	}

	return ps, nil
}

// providerLabel names a separation backend for breakers and metrics. Several
// backends may share a provider name, so the base URL tells them apart.
func providerLabel(entry config.ProviderEntry, index int) string {
	if entry.BaseURL != "" {
		return entry.Name + "@" + entry.BaseURL
	}
	return fmt.Sprintf("%s#%d", entry.Name, index)
}
