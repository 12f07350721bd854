// Package audio defines the shared audio types and the microphone capture
// abstraction used by singalong.
//
// The two capture abstractions are:
//
//   - [CaptureDevice]: opens the microphone and returns a [Capture].
//   - [Capture]: an active acquisition delivering fixed-size [Frame] values
//     until it is closed.
//
// Implementations live in platform packages (e.g., audio/malgo). The
// interfaces are intentionally narrow so that the live session manager can be
// tested with in-memory doubles (see audio/mock).
package audio

import (
	"context"
	"errors"
)

// ErrCaptureClosed is returned by operations on a [Capture] that has already
// been released.
var ErrCaptureClosed = errors.New("audio: capture closed")

// Capture is an active microphone acquisition.
//
// Exactly one goroutine should read from Frames. The channel is closed when
// the capture stops, either because Close was called or because the device
// failed. Close must release the underlying device and is safe to call more
// than once; subsequent calls return nil.
type Capture interface {
	// Frames returns the channel delivering captured audio frames.
	Frames() <-chan Frame

	// SampleRate reports the native rate of the frames delivered by Frames.
	SampleRate() int

	// Close stops capturing and releases the device.
	Close() error
}

// CaptureDevice acquires microphone input.
//
// Implementations must be safe for concurrent use, but a device is not
// required to support more than one open [Capture] at a time; callers that
// need exclusivity (the live session manager) enforce it themselves.
type CaptureDevice interface {
	// Open starts a new capture. ctx bounds the acquisition attempt only;
	// once opened, the capture lives until Close is called.
	Open(ctx context.Context) (Capture, error)
}
