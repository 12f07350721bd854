// Package separation defines the Provider interface for vocal-isolation
// backends.
//
// A separation provider takes a full song mix and returns an isolated vocal
// stem as a WAV byte buffer. Backends are remote services (for example a
// Demucs or Spleeter server) whose responses are normalised at this
// boundary into an explicit tagged [Result]: either [Ok] carrying the vocal
// audio or [Err] carrying the service's reason. Callers never inspect
// response shapes themselves.
//
// Implementations must be safe for concurrent use.
package separation

import (
	"context"
	"errors"
	"fmt"
)

// ErrEmptyVocals is returned by [Result.Unwrap] when an [Ok] result carries
// no audio.
var ErrEmptyVocals = errors.New("separation: service returned empty vocals")

// Provider isolates the vocal stem of a song.
type Provider interface {
	// Separate submits audio (the encoded song mix) for vocal isolation.
	// songID identifies the song for logging and provider-side caching.
	//
	// A non-nil error means the call itself failed (transport, HTTP status,
	// malformed response). A service-level refusal is reported as an [Err]
	// result with a nil error.
	Separate(ctx context.Context, songID string, audio []byte) (Result, error)
}

// Result is the tagged outcome of a separation call. It is implemented only
// by [Ok] and [Err].
type Result interface {
	// Unwrap returns the vocals for [Ok] or a *[ServiceError] for [Err].
	Unwrap() ([]byte, error)

	isResult()
}

// Ok is a successful isolation.
type Ok struct {
	// Vocals is the isolated vocal stem as a WAV file.
	Vocals []byte
}

// Unwrap returns the vocals, or [ErrEmptyVocals] when there are none.
func (o Ok) Unwrap() ([]byte, error) {
	if len(o.Vocals) == 0 {
		return nil, ErrEmptyVocals
	}
	return o.Vocals, nil
}

func (Ok) isResult() {}

// Err is a refusal reported by the service.
type Err struct {
	// Reason is the service's explanation.
	Reason string
}

// Unwrap returns a *[ServiceError] describing the refusal.
func (e Err) Unwrap() ([]byte, error) {
	return nil, &ServiceError{Reason: e.Reason}
}

func (Err) isResult() {}

// ServiceError is a refusal reported by the separation service. Refusals
// describe the input (unsupported file, song too long) and are not worth
// retrying.
type ServiceError struct {
	Reason string
}

func (e *ServiceError) Error() string {
	if e.Reason == "" {
		return "separation: service refused request"
	}
	return fmt.Sprintf("separation: service refused request: %s", e.Reason)
}

// Run calls p and unwraps the tagged result into vocals or an error.
func Run(ctx context.Context, p Provider, songID string, audio []byte) ([]byte, error) {
	res, err := p.Separate(ctx, songID, audio)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("separation: provider returned no result for %q", songID)
	}
	return res.Unwrap()
}

// IsRetryable reports whether err is worth another attempt. Service refusals
// and empty results are final; transport failures and timeouts are not.
// Errors implementing Retryable() bool decide for themselves.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return false
	}
	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}
	if errors.Is(err, ErrEmptyVocals) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
