package pitch

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// highPass applies the single-pole filter y[n] = α·(y[n-1] + x[n] − x[n-1])
// to src and returns the filtered copy as float64.
func highPass(src []float32, alpha float64) []float64 {
	out := make([]float64, len(src))
	if len(src) == 0 {
		return out
	}
	out[0] = float64(src[0])
	for i := 1; i < len(src); i++ {
		out[i] = alpha * (out[i-1] + float64(src[i]) - float64(src[i-1]))
	}
	return out
}

// normalisedAutocorrelation returns Σ x[i]x[i+τ] / sqrt(Σx[i]² · Σx[i+τ]²)
// over the overlapping region. Zero-energy or invalid lags return 0.
func normalisedAutocorrelation(x []float64, lag int) float64 {
	if lag <= 0 || lag >= len(x) {
		return 0
	}
	a := x[:len(x)-lag]
	b := x[lag:]
	den := math.Sqrt(floats.Dot(a, a) * floats.Dot(b, b))
	if den == 0 || math.IsNaN(den) || math.IsInf(den, 0) {
		return 0
	}
	return floats.Dot(a, b) / den
}

// rms returns the root-mean-square amplitude of frame without allocating.
// The gate runs on every live frame, so it stays on float32 input.
func rms(frame []float32) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(frame)))
}

// parabolicOffset returns the sub-sample offset of the extremum of the
// parabola through (−1, y0), (0, y1), (1, y2). The result lies in [-1, 1];
// a flat neighbourhood yields 0.
func parabolicOffset(y0, y1, y2 float64) float64 {
	den := 2 * (2*y1 - y0 - y2)
	if den == 0 || math.IsNaN(den) {
		return 0
	}
	off := (y2 - y0) / den
	if off > 1 || off < -1 || math.IsNaN(off) {
		return 0
	}
	return off
}

func toFloat64(src []float32) []float64 {
	out := make([]float64, len(src))
	for i, s := range src {
		out[i] = float64(s)
	}
	return out
}
