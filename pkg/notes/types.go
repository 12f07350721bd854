// Package notes turns a sparse pitch series into the discrete, non-overlapping
// notes a singer is scored against.
//
// A [Segmenter] clusters consecutive pitch observations into candidate notes,
// clamps each new note forward so it never starts before its predecessor
// ends, drops notes that fall outside lyric time ranges, and finishes with an
// idempotent invariant pass ([Segmenter.Enforce]). Every output satisfies:
//
//   - notes are sorted ascending by Start
//   - End > Start for every note
//   - notes[i].Start >= notes[i-1].End
//   - MinDuration <= End-Start <= MaxDuration
//
// The package is pure: no I/O, no goroutines, and identical input always
// yields identical output.
package notes

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidNotes is wrapped by [Validate] when a note set breaks an
// ordering or overlap invariant.
var ErrInvalidNotes = errors.New("notes: invariant violated")

// Note is one scored interval with a single target pitch.
type Note struct {
	// Start and End are in seconds from the beginning of the track.
	Start float64
	End   float64

	// TargetPitch is the mean fundamental of the note in Hz.
	TargetPitch float64

	// Confidence is the fraction of the note's pitch observations that lie
	// within half the pitch tolerance of TargetPitch, in [0, 1].
	Confidence float64
}

// Duration returns End - Start in seconds.
func (n Note) Duration() float64 { return n.End - n.Start }

// MarshalJSON encodes the note in the shape the game front end consumes.
func (n Note) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Start       float64 `json:"start"`
		End         float64 `json:"end"`
		TargetPitch float64 `json:"targetPitch"`
		Duration    float64 `json:"duration"`
		Confidence  float64 `json:"confidence"`
	}{n.Start, n.End, n.TargetPitch, n.Duration(), n.Confidence})
}

// LyricSegment is an externally transcribed lyric line with its time range.
// Segments are expected in ascending Start order and not to overlap.
type LyricSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// overlap returns the length of the intersection of [a0,a1) and [b0,b1),
// or 0 if they are disjoint.
func overlap(a0, a1, b0, b1 float64) float64 {
	lo, hi := max(a0, b0), min(a1, b1)
	if hi <= lo {
		return 0
	}
	return hi - lo
}

// Validate reports the first ordering, positivity, or overlap violation in
// notes. A nil or empty slice is valid.
func Validate(notes []Note) error {
	for i, n := range notes {
		if !(n.End > n.Start) {
			return fmt.Errorf("%w: note %d has end %.3f <= start %.3f", ErrInvalidNotes, i, n.End, n.Start)
		}
		if i == 0 {
			continue
		}
		prev := notes[i-1]
		if n.Start < prev.Start {
			return fmt.Errorf("%w: note %d starts at %.3f before note %d at %.3f", ErrInvalidNotes, i, n.Start, i-1, prev.Start)
		}
		if n.Start < prev.End {
			return fmt.Errorf("%w: note %d starts at %.3f before note %d ends at %.3f", ErrInvalidNotes, i, n.Start, i-1, prev.End)
		}
	}
	return nil
}
