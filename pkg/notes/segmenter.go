package notes

import (
	"cmp"
	"math"
	"slices"

	"github.com/MrWong99/singalong/pkg/pitch"
)

// Segmentation defaults.
const (
	DefaultPitchTolerance = 30.0 // Hz
	DefaultMaxGap         = 0.5  // seconds
	DefaultMinGap         = 0.0  // seconds
	DefaultMinDuration    = 0.1  // seconds
	DefaultMaxDuration    = 3.0  // seconds

	// DefaultSampleSpan is how long a single observation is assumed to last.
	// It matches the offline tracker's hop so back-to-back observations form
	// a contiguous note.
	DefaultSampleSpan = pitch.HopInterval
)

// Config tunes a [Segmenter]. Zero-valued fields take the package defaults,
// except MinGap where zero is the default.
type Config struct {
	// PitchTolerance is the largest distance (Hz) from the running mean that
	// still continues the current note.
	PitchTolerance float64

	// MaxGap is the largest silence (seconds) between the current note's end
	// and the next observation that still continues the note.
	MaxGap float64

	// MinGap is the enforced rest (seconds) between consecutive notes.
	MinGap float64

	MinDuration float64
	MaxDuration float64

	// SampleSpan is the duration credited to each observation.
	SampleSpan float64
}

// DefaultConfig returns the configuration used by a zero Config.
func DefaultConfig() Config {
	return Config{
		PitchTolerance: DefaultPitchTolerance,
		MaxGap:         DefaultMaxGap,
		MinGap:         DefaultMinGap,
		MinDuration:    DefaultMinDuration,
		MaxDuration:    DefaultMaxDuration,
		SampleSpan:     DefaultSampleSpan,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PitchTolerance <= 0 {
		c.PitchTolerance = d.PitchTolerance
	}
	if c.MaxGap <= 0 {
		c.MaxGap = d.MaxGap
	}
	if c.MinGap < 0 {
		c.MinGap = d.MinGap
	}
	if c.MinDuration <= 0 {
		c.MinDuration = d.MinDuration
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = d.MaxDuration
	}
	if c.MaxDuration < c.MinDuration {
		c.MaxDuration = c.MinDuration
	}
	if c.SampleSpan <= 0 {
		c.SampleSpan = d.SampleSpan
	}
	return c
}

// Segmenter converts pitch series into notes. It holds only its immutable
// configuration and is safe for concurrent use.
type Segmenter struct {
	cfg Config
}

// NewSegmenter returns a Segmenter for cfg.
func NewSegmenter(cfg Config) *Segmenter {
	return &Segmenter{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration after defaults were applied.
func (s *Segmenter) Config() Config { return s.cfg }

// candidate is a note under construction.
type candidate struct {
	start float64
	last  float64 // time of the most recent observation
	freqs []float64
	sum   float64
}

func (c *candidate) mean() float64 { return c.sum / float64(len(c.freqs)) }

func (c *candidate) end(span float64) float64 { return c.last + span }

func (c *candidate) add(t, f float64) {
	c.last = t
	c.freqs = append(c.freqs, f)
	c.sum += f
}

// Segment clusters series into notes and filters them against lyrics.
//
// A nil lyrics slice means no lyric data is available and filtering is
// skipped; a non-nil empty slice means the track has no sung sections, so
// every note is dropped. The result always passes [Validate].
func (s *Segmenter) Segment(series pitch.Series, lyrics []LyricSegment) []Note {
	raw := s.cluster(series)
	if lyrics != nil {
		raw = s.ClipToLyrics(raw, lyrics)
	}
	return s.Enforce(raw)
}

// cluster walks the series in time order and builds notes, clamping each new
// note's start to the previous note's end plus MinGap.
func (s *Segmenter) cluster(series pitch.Series) []Note {
	samples := series
	if !series.Sorted() {
		samples = slices.Clone(series)
		slices.SortStableFunc(samples, func(a, b pitch.Sample) int { return cmp.Compare(a.Time, b.Time) })
	}

	var (
		out         []Note
		cur         *candidate
		lastNoteEnd = math.Inf(-1)
	)

	closeCandidate := func() {
		if cur == nil {
			return
		}
		if n, ok := s.finish(cur); ok {
			out = append(out, n)
			lastNoteEnd = n.End
		}
		cur = nil
	}

	for p := range samples.All() {
		if !validSample(p) {
			continue
		}
		if cur != nil {
			withinPitch := math.Abs(p.Frequency-cur.mean()) <= s.cfg.PitchTolerance
			withinGap := p.Time-cur.end(s.cfg.SampleSpan) <= s.cfg.MaxGap
			if withinPitch && withinGap {
				cur.add(p.Time, p.Frequency)
				continue
			}
			closeCandidate()
		}
		cur = &candidate{start: max(p.Time, lastNoteEnd+s.cfg.MinGap)}
		cur.add(p.Time, p.Frequency)
	}
	closeCandidate()
	return out
}

// finish converts a candidate into a note, applying the duration bounds.
func (s *Segmenter) finish(c *candidate) (Note, bool) {
	end := c.end(s.cfg.SampleSpan)
	if end-c.start < s.cfg.MinDuration {
		return Note{}, false
	}
	if end-c.start > s.cfg.MaxDuration {
		end = c.start + s.cfg.MaxDuration
	}

	mean := c.mean()
	var steady int
	for _, f := range c.freqs {
		if math.Abs(f-mean) <= s.cfg.PitchTolerance/2 {
			steady++
		}
	}
	return Note{
		Start:       c.start,
		End:         end,
		TargetPitch: mean,
		Confidence:  float64(steady) / float64(len(c.freqs)),
	}, true
}

// ClipToLyrics drops notes that intersect no lyric segment and clips the rest
// to the segment they overlap most (ties go to the earlier segment). Notes
// shorter than MinDuration after clipping are dropped. Segments with a
// non-positive length are ignored.
func (s *Segmenter) ClipToLyrics(notes []Note, lyrics []LyricSegment) []Note {
	out := make([]Note, 0, len(notes))
	for _, n := range notes {
		bestIdx, bestLen := -1, 0.0
		for i, seg := range lyrics {
			if !(seg.End > seg.Start) {
				continue
			}
			if l := overlap(n.Start, n.End, seg.Start, seg.End); l > bestLen {
				bestIdx, bestLen = i, l
			}
		}
		if bestIdx < 0 {
			continue
		}
		seg := lyrics[bestIdx]
		n.Start = max(n.Start, seg.Start)
		n.End = min(n.End, seg.End)
		if n.Duration() < s.cfg.MinDuration {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Enforce returns a copy of notes that satisfies every output invariant:
// stable-sorted by Start, each overlapping note's start shifted forward to
// its predecessor's end, durations clamped to MaxDuration, and notes that
// end up shorter than MinDuration or non-finite dropped. Enforce is
// idempotent.
func (s *Segmenter) Enforce(notes []Note) []Note {
	sorted := slices.Clone(notes)
	slices.SortStableFunc(sorted, func(a, b Note) int { return cmp.Compare(a.Start, b.Start) })

	out := make([]Note, 0, len(sorted))
	for _, n := range sorted {
		if !finite(n.Start) || !finite(n.End) {
			continue
		}
		if len(out) > 0 {
			if prevEnd := out[len(out)-1].End; n.Start < prevEnd {
				n.Start = prevEnd
			}
		}
		if n.Duration() > s.cfg.MaxDuration {
			n.End = n.Start + s.cfg.MaxDuration
		}
		if !(n.End > n.Start) || n.Duration() < s.cfg.MinDuration {
			continue
		}
		out = append(out, n)
	}
	return out
}

func validSample(p pitch.Sample) bool {
	return finite(p.Time) && finite(p.Frequency) && p.Frequency > 0
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
