package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/singalong/pkg/audio"
	"github.com/MrWong99/singalong/pkg/provider/separation"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider type. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	separation map[string]func(ProviderEntry) (separation.Provider, error)
	capture    map[string]func(ProviderEntry) (audio.CaptureDevice, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		separation: make(map[string]func(ProviderEntry) (separation.Provider, error)),
		capture:    make(map[string]func(ProviderEntry) (audio.CaptureDevice, error)),
	}
}

// RegisterSeparation registers a separation provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterSeparation(name string, factory func(ProviderEntry) (separation.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.separation[name] = factory
}

// RegisterCapture registers a capture device factory under name.
func (r *Registry) RegisterCapture(name string, factory func(ProviderEntry) (audio.CaptureDevice, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.capture[name] = factory
}

// CreateSeparation instantiates a separation provider using the factory
// registered under entry.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateSeparation(entry ProviderEntry) (separation.Provider, error) {
	r.mu.RLock()
	factory, ok := r.separation[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: separation/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateCapture instantiates a capture device using the factory registered
// under entry.Name.
func (r *Registry) CreateCapture(entry ProviderEntry) (audio.CaptureDevice, error) {
	r.mu.RLock()
	factory, ok := r.capture[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: capture/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// SeparationNames returns the registered separation provider names, sorted.
func (r *Registry) SeparationNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.separation))
	for n := range r.separation {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
