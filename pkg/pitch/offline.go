package pitch

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/MrWong99/singalong/pkg/audio"
)

// Offline tracker defaults.
const (
	// MinFrequency bounds the longest lag searched (Hz).
	MinFrequency = 80.0

	// MaxFrequency bounds the shortest lag searched (Hz).
	MaxFrequency = 2000.0

	// HopInterval is the spacing between analysis windows (seconds).
	HopInterval = 0.3

	// WindowDuration is the length of each analysis window (seconds).
	WindowDuration = 0.25

	// HighPassAlpha is the single-pole high-pass coefficient applied per window.
	HighPassAlpha = 0.95

	// MinCorrelation is the normalised autocorrelation a window must exceed
	// to contribute a sample.
	MinCorrelation = 0.05

	// CoarseSteps divides the lag range into this many coarse lags.
	CoarseSteps = 100

	// RefineRadius is the minimum ± lag range re-scanned around each coarse
	// peak. The radius widens to the coarse step when that is larger.
	RefineRadius = 2

	// SubharmonicTolerance selects the shortest refined peak whose
	// correlation is at least this fraction of the global best, so periodic
	// signals are not reported an octave low.
	SubharmonicTolerance = 0.9

	// MinSamples is the shortest buffer worth analysing.
	MinSamples = 1000

	// DefaultMaxDecodedBytes is the decoded-size ceiling above which
	// extraction is skipped (500 MB).
	DefaultMaxDecodedBytes int64 = 500 << 20
)

// TrackerConfig tunes a [Tracker]. Zero-valued fields take the package
// defaults.
type TrackerConfig struct {
	MinFrequency   float64
	MaxFrequency   float64
	HopInterval    float64
	WindowDuration float64
	HighPassAlpha  float64
	MinCorrelation float64

	// MaxDecodedBytes is the ceiling on SampleBuffer.SizeBytes. Negative
	// disables the check.
	MaxDecodedBytes int64
}

// DefaultTrackerConfig returns the configuration used by a zero TrackerConfig.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		MinFrequency:    MinFrequency,
		MaxFrequency:    MaxFrequency,
		HopInterval:     HopInterval,
		WindowDuration:  WindowDuration,
		HighPassAlpha:   HighPassAlpha,
		MinCorrelation:  MinCorrelation,
		MaxDecodedBytes: DefaultMaxDecodedBytes,
	}
}

func (c TrackerConfig) withDefaults() TrackerConfig {
	d := DefaultTrackerConfig()
	if c.MinFrequency <= 0 {
		c.MinFrequency = d.MinFrequency
	}
	if c.MaxFrequency <= 0 {
		c.MaxFrequency = d.MaxFrequency
	}
	if c.HopInterval <= 0 {
		c.HopInterval = d.HopInterval
	}
	if c.WindowDuration <= 0 {
		c.WindowDuration = d.WindowDuration
	}
	if c.HighPassAlpha <= 0 || c.HighPassAlpha >= 1 {
		c.HighPassAlpha = d.HighPassAlpha
	}
	if c.MinCorrelation <= 0 {
		c.MinCorrelation = d.MinCorrelation
	}
	if c.MaxDecodedBytes == 0 {
		c.MaxDecodedBytes = d.MaxDecodedBytes
	}
	return c
}

// Tracker extracts a pitch series from a decoded vocal stem.
// It holds no mutable state and is safe for concurrent use.
type Tracker struct {
	cfg TrackerConfig
}

// NewTracker returns a Tracker for cfg.
func NewTracker(cfg TrackerConfig) *Tracker {
	return &Tracker{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration after defaults were applied.
func (t *Tracker) Config() TrackerConfig { return t.cfg }

// Track analyses buf and returns the confident pitch observations in time
// order.
//
// Buffers shorter than [MinSamples] yield an empty series and no error.
// Buffers larger than the configured ceiling yield an empty series and
// [ErrResourceLimit]. Silence or unpitched audio yields an empty series and
// no error.
func (t *Tracker) Track(buf *audio.SampleBuffer) (Series, error) {
	if buf == nil || buf.Len() < MinSamples {
		return Series{}, nil
	}
	if buf.SampleRate <= 0 {
		return Series{}, fmt.Errorf("pitch: invalid sample rate %d", buf.SampleRate)
	}
	if t.cfg.MaxDecodedBytes > 0 && buf.SizeBytes() > t.cfg.MaxDecodedBytes {
		return Series{}, fmt.Errorf("%w: %d bytes > %d", ErrResourceLimit, buf.SizeBytes(), t.cfg.MaxDecodedBytes)
	}

	sr := float64(buf.SampleRate)
	hop := int(t.cfg.HopInterval * sr)
	win := int(t.cfg.WindowDuration * sr)
	if hop <= 0 || win <= 0 {
		return Series{}, nil
	}

	series := make(Series, 0, buf.Len()/hop+1)
	for start := 0; start < buf.Len(); start += hop {
		end := min(start+win, buf.Len())
		freq, ok := t.estimateWindow(buf.Samples[start:end], buf.SampleRate)
		if !ok {
			continue
		}
		series = append(series, Sample{Time: float64(start) / sr, Frequency: freq})
	}
	return series, nil
}

// estimateWindow returns the fundamental of one window, or false when the
// window has no confident pitch. Any numeric failure, including a panic in
// the inner loops, only discards this window.
func (t *Tracker) estimateWindow(window []float32, sampleRate int) (freq float64, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Debug("pitch: window discarded after numeric failure", "panic", r)
			freq, ok = 0, false
		}
	}()

	sr := float64(sampleRate)
	minPeriod := max(1, int(math.Floor(sr/t.cfg.MaxFrequency)))
	maxPeriod := int(math.Ceil(sr / t.cfg.MinFrequency))
	// The correlation needs at least as many overlapping samples as the lag.
	maxPeriod = min(maxPeriod, len(window)/2)
	if maxPeriod-minPeriod < 2 {
		return 0, false
	}

	x := highPass(window, t.cfg.HighPassAlpha)

	step := max(1, (maxPeriod-minPeriod)/CoarseSteps)
	lags := make([]int, 0, CoarseSteps+2)
	corrs := make([]float64, 0, CoarseSteps+2)
	for lag := minPeriod; lag <= maxPeriod; lag += step {
		lags = append(lags, lag)
		corrs = append(corrs, normalisedAutocorrelation(x, lag))
	}

	// Refine every coarse peak before comparing them, so grid sampling loss
	// cannot demote the fundamental below one of its multiples.
	radius := max(RefineRadius, step)
	var peaks []lagCorr
	best := math.Inf(-1)
	for _, i := range coarsePeaks(corrs) {
		if !(corrs[i] > t.cfg.MinCorrelation) {
			continue
		}
		p := refinePeak(x, lags[i], radius, minPeriod, maxPeriod)
		peaks = append(peaks, p)
		if p.corr > best {
			best = p.corr
		}
	}
	if len(peaks) == 0 || !(best > t.cfg.MinCorrelation) {
		return 0, false
	}

	chosen := pickPeak(peaks, best)
	bestLag, bestCorr := chosen.lag, chosen.corr

	period := float64(bestLag)
	// The neighbours may fall just outside the search range; the final
	// frequency check rejects anything that lands out of bounds.
	if bestLag > 1 && bestLag+1 < len(x) {
		period += parabolicOffset(
			normalisedAutocorrelation(x, bestLag-1),
			bestCorr,
			normalisedAutocorrelation(x, bestLag+1),
		)
	}
	if period <= 0 {
		return 0, false
	}

	freq = sr / period
	if freq < t.cfg.MinFrequency || freq > t.cfg.MaxFrequency || math.IsNaN(freq) {
		return 0, false
	}
	return freq, true
}

type lagCorr struct {
	lag  int
	corr float64
}

// coarsePeaks returns the indices of the local maxima of corrs, including
// either end when it is not below its only neighbour.
func coarsePeaks(corrs []float64) []int {
	n := len(corrs)
	if n == 0 {
		return nil
	}
	if n == 1 {
		return []int{0}
	}
	var idx []int
	if corrs[0] >= corrs[1] {
		idx = append(idx, 0)
	}
	for i := 1; i < n-1; i++ {
		if corrs[i] >= corrs[i-1] && corrs[i] >= corrs[i+1] {
			idx = append(idx, i)
		}
	}
	if corrs[n-1] > corrs[n-2] {
		idx = append(idx, n-1)
	}
	return idx
}

// refinePeak scans lag±radius within [minLag, maxLag] and returns the lag
// with the highest correlation.
func refinePeak(x []float64, lag, radius, minLag, maxLag int) lagCorr {
	best := lagCorr{lag: lag, corr: math.Inf(-1)}
	for l := max(minLag, lag-radius); l <= min(maxLag, lag+radius); l++ {
		if c := normalisedAutocorrelation(x, l); c > best.corr {
			best = lagCorr{lag: l, corr: c}
		}
	}
	return best
}

// pickPeak returns the shortest-lag peak reaching SubharmonicTolerance of
// best. peaks are in ascending lag order.
func pickPeak(peaks []lagCorr, best float64) lagCorr {
	floor := best * SubharmonicTolerance
	shortest := -1
	for i, p := range peaks {
		if p.corr >= floor && (shortest < 0 || p.lag < peaks[shortest].lag) {
			shortest = i
		}
	}
	if shortest < 0 {
		for _, p := range peaks {
			if p.corr == best {
				return p
			}
		}
		return peaks[0]
	}
	return peaks[shortest]
}
