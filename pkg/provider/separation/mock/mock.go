// Package mock provides a test double for the separation.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Result: separation.Ok{Vocals: wavBytes}}
//	res, _ := p.Separate(ctx, "song-1", mix)
//	_ = p.Calls()[0].SongID // "song-1"
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/singalong/pkg/provider/separation"
)

// SeparateCall records a single invocation of Provider.Separate.
type SeparateCall struct {
	// SongID is the song identifier passed to Separate.
	SongID string
	// Audio is a copy of the audio passed to Separate.
	Audio []byte
}

// Provider is a mock implementation of separation.Provider.
type Provider struct {
	mu    sync.Mutex
	calls []SeparateCall

	// Result is returned by Separate when Err is nil.
	Result separation.Result

	// Err, if non-nil, is returned as the error from Separate.
	Err error

	// SeparateFunc, if set, replaces the static Result/Err.
	SeparateFunc func(ctx context.Context, songID string, audio []byte) (separation.Result, error)
}

// Separate records the call and returns the configured response.
func (p *Provider) Separate(ctx context.Context, songID string, audio []byte) (separation.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, SeparateCall{SongID: songID, Audio: append([]byte(nil), audio...)})
	fn, res, err := p.SeparateFunc, p.Result, p.Err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, songID, audio)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Calls returns a copy of every recorded call. Thread-safe.
func (p *Provider) Calls() []SeparateCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]SeparateCall, len(p.calls))
	copy(out, p.calls)
	return out
}

// CallCount returns the number of recorded calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = nil
}

// Ensure Provider implements separation.Provider at compile time.
var _ separation.Provider = (*Provider)(nil)
