package pitch

import (
	"iter"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Live tracker defaults.
const (
	// LiveMinFrequency is the lowest sung fundamental considered (Hz).
	LiveMinFrequency = 75.0

	// LiveMaxFrequency is the highest sung fundamental considered (Hz).
	LiveMaxFrequency = 800.0

	// DefaultVolumeThreshold is the RMS below which a frame counts as silence.
	DefaultVolumeThreshold = 0.01

	// DefaultYINThreshold is the CMND value a lag must dip below to be taken
	// as the first period candidate.
	DefaultYINThreshold = 0.15

	// DefaultMaxCMND rejects estimates whose best CMND is this high or worse.
	DefaultMaxCMND = 0.5

	// DefaultSmoothingWeight is the weight of the new estimate when blending
	// with the previous one.
	DefaultSmoothingWeight = 0.3

	// DefaultSmoothingMaxJump is the largest change (Hz) that is still
	// smoothed; bigger jumps are taken as a new note.
	DefaultSmoothingMaxJump = 100.0
)

// LiveConfig tunes a [LiveTracker]. Zero-valued fields take the package
// defaults.
type LiveConfig struct {
	MinFrequency     float64
	MaxFrequency     float64
	VolumeThreshold  float64
	Threshold        float64
	MaxCMND          float64
	SmoothingWeight  float64
	SmoothingMaxJump float64
}

// DefaultLiveConfig returns the configuration used by a zero LiveConfig.
func DefaultLiveConfig() LiveConfig {
	return LiveConfig{
		MinFrequency:     LiveMinFrequency,
		MaxFrequency:     LiveMaxFrequency,
		VolumeThreshold:  DefaultVolumeThreshold,
		Threshold:        DefaultYINThreshold,
		MaxCMND:          DefaultMaxCMND,
		SmoothingWeight:  DefaultSmoothingWeight,
		SmoothingMaxJump: DefaultSmoothingMaxJump,
	}
}

func (c LiveConfig) withDefaults() LiveConfig {
	d := DefaultLiveConfig()
	if c.MinFrequency <= 0 {
		c.MinFrequency = d.MinFrequency
	}
	if c.MaxFrequency <= 0 {
		c.MaxFrequency = d.MaxFrequency
	}
	if c.VolumeThreshold <= 0 {
		c.VolumeThreshold = d.VolumeThreshold
	}
	if c.Threshold <= 0 {
		c.Threshold = d.Threshold
	}
	if c.MaxCMND <= 0 {
		c.MaxCMND = d.MaxCMND
	}
	if c.SmoothingWeight <= 0 || c.SmoothingWeight > 1 {
		c.SmoothingWeight = d.SmoothingWeight
	}
	if c.SmoothingMaxJump <= 0 {
		c.SmoothingMaxJump = d.SmoothingMaxJump
	}
	return c
}

// LiveTracker estimates the pitch of successive microphone frames.
//
// It is pull-driven: the caller submits one frame per audio tick and owns
// the cadence. The only state is the previous accepted estimate used for
// smoothing. Not safe for concurrent use.
type LiveTracker struct {
	cfg  LiveConfig
	prev float64
}

// NewLiveTracker returns a LiveTracker for cfg.
func NewLiveTracker(cfg LiveConfig) *LiveTracker {
	return &LiveTracker{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration after defaults were applied.
func (t *LiveTracker) Config() LiveConfig { return t.cfg }

// Reset forgets the smoothing history.
func (t *LiveTracker) Reset() { t.prev = 0 }

// Stream returns a lazy sequence yielding one estimate per frame drawn from
// frames. Ranging over it again restarts from the frames sequence; smoothing
// state carries over unless [LiveTracker.Reset] is called.
func (t *LiveTracker) Stream(frames iter.Seq[[]float32], sampleRate int) iter.Seq[Estimate] {
	return func(yield func(Estimate) bool) {
		for f := range frames {
			if !yield(t.Estimate(f, sampleRate)) {
				return
			}
		}
	}
}

// Estimate returns the pitch of a single frame. Silent, aperiodic, or
// degenerate frames return an unvoiced Estimate; it never panics.
func (t *LiveTracker) Estimate(frame []float32, sampleRate int) Estimate {
	level := rms(frame)
	// Written as a negation so NaN levels fall through to "no pitch".
	if !(level >= t.cfg.VolumeThreshold) || sampleRate <= 0 {
		return Estimate{RMS: sanitise(level)}
	}

	freq, cmnd, ok := t.yin(toFloat64(frame), float64(sampleRate))
	if !ok {
		return Estimate{RMS: sanitise(level)}
	}

	if t.prev > 0 && math.Abs(freq-t.prev) < t.cfg.SmoothingMaxJump {
		w := t.cfg.SmoothingWeight
		freq = w*freq + (1-w)*t.prev
	}
	t.prev = freq

	return Estimate{
		Frequency: freq,
		Clarity:   1 - cmnd,
		RMS:       level,
		Voiced:    true,
	}
}

// yin runs the difference function, CMND, threshold search and parabolic
// refinement. It reports false whenever no trustworthy period exists.
func (t *LiveTracker) yin(x []float64, sr float64) (freq, cmndAt float64, ok bool) {
	half := len(x) / 2
	minLag := max(2, int(math.Floor(sr/t.cfg.MaxFrequency)))
	// One lag of headroom past the range so the last candidate has a right
	// neighbour for interpolation.
	tauMax := min(int(math.Ceil(sr/t.cfg.MinFrequency))+1, half)
	if tauMax-minLag < 3 {
		return 0, 0, false
	}

	// d(τ) = Σ x[i]² + Σ x[i+τ]² − 2 Σ x[i]x[i+τ] over a window of half.
	head := x[:half]
	e0 := floats.Dot(head, head)
	cmnd := make([]float64, tauMax+1)
	cmnd[0] = 1
	var running float64
	for tau := 1; tau <= tauMax; tau++ {
		seg := x[tau : tau+half]
		d := e0 + floats.Dot(seg, seg) - 2*floats.Dot(head, seg)
		if d < 0 {
			d = 0
		}
		running += d
		if running <= 0 || math.IsNaN(running) {
			cmnd[tau] = 1
			continue
		}
		cmnd[tau] = d * float64(tau) / running
	}

	best := -1
	for tau := minLag; tau < tauMax; tau++ {
		if cmnd[tau] < t.cfg.Threshold {
			for tau+1 < tauMax && cmnd[tau+1] < cmnd[tau] {
				tau++
			}
			best = tau
			break
		}
	}
	if best < 0 {
		best = minLag
		for tau := minLag + 1; tau < tauMax; tau++ {
			if cmnd[tau] < cmnd[best] {
				best = tau
			}
		}
	}

	cmndAt = cmnd[best]
	if !(cmndAt < t.cfg.MaxCMND) {
		return 0, 0, false
	}

	period := float64(best) + parabolicOffset(cmnd[best-1], cmnd[best], cmnd[best+1])
	if period <= 0 {
		return 0, 0, false
	}
	freq = sr / period
	if !(freq >= t.cfg.MinFrequency && freq <= t.cfg.MaxFrequency) {
		return 0, 0, false
	}
	return freq, cmndAt, true
}

func sanitise(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
