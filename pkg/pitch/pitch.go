// Package pitch estimates the fundamental frequency of sung audio.
//
// Two trackers are provided:
//
//   - [Tracker] walks a decoded vocal stem in fixed windows and emits a sparse,
//     time-ordered [Series] using normalised autocorrelation. It is pure and
//     stateless across calls; one instance may be shared by many goroutines.
//   - [LiveTracker] turns one microphone frame at a time into an [Estimate]
//     using a YIN-style cumulative mean normalised difference. It carries
//     smoothing state and must be used by a single goroutine.
//
// Neither tracker performs I/O or spawns goroutines, and numerically
// degenerate input always degrades to "no pitch" rather than an error.
package pitch

import (
	"errors"
	"fmt"
	"iter"
	"math"
)

// ErrResourceLimit is returned by [Tracker.Track] when the decoded buffer
// exceeds the configured size ceiling. It signals a degraded, non-fatal
// result: the returned series is empty and callers should continue with no
// notes rather than fail the request.
var ErrResourceLimit = errors.New("pitch: buffer exceeds size ceiling")

// Sample is a single confident pitch observation.
type Sample struct {
	// Time is the start of the analysis window in seconds.
	Time float64

	// Frequency is the estimated fundamental in Hz. Always positive; windows
	// without a confident pitch are omitted from a [Series] entirely.
	Frequency float64
}

// Series is a sparse, ascending-by-time sequence of pitch observations.
type Series []Sample

// All returns a restartable iterator over the series.
func (s Series) All() iter.Seq[Sample] {
	return func(yield func(Sample) bool) {
		for _, p := range s {
			if !yield(p) {
				return
			}
		}
	}
}

// Sorted reports whether the series is in non-decreasing time order.
func (s Series) Sorted() bool {
	for i := 1; i < len(s); i++ {
		if s[i].Time < s[i-1].Time {
			return false
		}
	}
	return true
}

// Estimate is the live tracker's verdict for one audio frame.
type Estimate struct {
	// Frequency is the (smoothed) fundamental in Hz; zero when !Voiced.
	Frequency float64

	// Clarity is 1 - CMND at the chosen lag, in [0, 1]. Higher is more
	// periodic.
	Clarity float64

	// RMS is the frame's root-mean-square amplitude.
	RMS float64

	// Voiced is false for silent, noisy, or degenerate frames.
	Voiced bool
}

var noteNames = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// MIDI returns the fractional MIDI note number of the estimate (A4 = 69).
// Returns 0 for unvoiced estimates.
func (e Estimate) MIDI() float64 {
	return FrequencyToMIDI(e.Frequency)
}

// NoteName returns the nearest equal-tempered note name (e.g., "A3"), or
// "--" for unvoiced estimates.
func (e Estimate) NoteName() string {
	if !e.Voiced {
		return "--"
	}
	return MIDIName(int(math.Round(e.MIDI())))
}

// FrequencyToMIDI converts Hz to a fractional MIDI note number. Non-positive
// frequencies map to 0.
func FrequencyToMIDI(hz float64) float64 {
	if hz <= 0 {
		return 0
	}
	return 69 + 12*math.Log2(hz/440)
}

// MIDIName returns the scientific pitch name of a MIDI note number.
func MIDIName(midi int) string {
	if midi < 0 {
		return "--"
	}
	return fmt.Sprintf("%s%d", noteNames[midi%12], midi/12-1)
}
