// Package mock provides in-memory mock implementations of the
// [audio.CaptureDevice] and [audio.Capture] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts, and they expose exported fields that the
// test can set to control return values.
//
// Typical usage:
//
//	capture := mock.NewCapture(44100, 4)
//	device := &mock.Device{OpenResult: capture}
//	c, _ := device.Open(ctx)
//	capture.Send(audio.Frame{Samples: frame, SampleRate: 44100})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/singalong/pkg/audio"
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture]. Frames are pushed by
// the test through [Capture.Send]; the frame channel is closed by Close or
// by [Capture.Fail].
type Capture struct {
	frames chan audio.Frame
	rate   int

	mu     sync.Mutex
	closed bool

	// CloseError is returned by the first [Capture.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewCapture returns a Capture delivering frames at sampleRate through a
// channel with the given buffer size.
func NewCapture(sampleRate, buffer int) *Capture {
	return &Capture{frames: make(chan audio.Frame, buffer), rate: sampleRate}
}

// Frames implements [audio.Capture].
func (c *Capture) Frames() <-chan audio.Frame { return c.frames }

// SampleRate implements [audio.Capture].
func (c *Capture) SampleRate() int { return c.rate }

// Send delivers f to the reader. It waits while the buffer is full and
// reports false once the capture is closed.
func (c *Capture) Send(f audio.Frame) bool {
	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return false
		}
		select {
		case c.frames <- f:
			c.mu.Unlock()
			return true
		default:
		}
		c.mu.Unlock()
		time.Sleep(100 * time.Microsecond)
	}
}

// Fail closes the frame channel as if the device had stopped on its own,
// without counting as a Close call.
func (c *Capture) Fail() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown()
}

// Close implements [audio.Capture]. Subsequent calls return nil.
func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	if c.closed {
		return nil
	}
	c.shutdown()
	return c.CloseError
}

// Closed reports whether the frame channel has been closed.
func (c *Capture) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Closes returns how many times Close was called.
func (c *Capture) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCountClose
}

func (c *Capture) shutdown() {
	if !c.closed {
		c.closed = true
		close(c.frames)
	}
}

// ─── Device ───────────────────────────────────────────────────────────────────

// Device is a mock implementation of [audio.CaptureDevice].
type Device struct {
	mu sync.Mutex

	// OpenResult is returned by [Device.Open] when OpenFunc is nil.
	OpenResult audio.Capture

	// OpenError is returned by [Device.Open] when OpenFunc is nil.
	OpenError error

	// OpenFunc, if set, replaces OpenResult and OpenError.
	OpenFunc func(ctx context.Context) (audio.Capture, error)

	// CallCountOpen records how many times Open was called.
	CallCountOpen int
}

// Open implements [audio.CaptureDevice].
func (d *Device) Open(ctx context.Context) (audio.Capture, error) {
	d.mu.Lock()
	d.CallCountOpen++
	fn, res, err := d.OpenFunc, d.OpenResult, d.OpenError
	d.mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Opens returns how many times Open was called.
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.CallCountOpen
}

// Ensure mocks implement the audio interfaces at compile time.
var (
	_ audio.Capture       = (*Capture)(nil)
	_ audio.CaptureDevice = (*Device)(nil)
)
