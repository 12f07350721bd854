package audio

import (
	"encoding/binary"
	"math"
)

// FirstChannel extracts channel 0 from interleaved multi-channel samples.
// Mono input (channels <= 1) is returned unchanged. A trailing partial frame
// is discarded.
//
// Channel reduction is deliberately a selection, not a mix: summing channels
// of an isolated vocal stem can cancel out-of-phase content.
func FirstChannel(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := range frames {
		out[i] = interleaved[i*channels]
	}
	return out
}

// Float32FromBytes decodes little-endian IEEE-754 float32 samples, the layout
// miniaudio delivers for f32 capture. A trailing partial sample is ignored.
func Float32FromBytes(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := range n {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// Rechunker accumulates variable-sized sample blocks (as delivered by device
// callbacks) and emits fixed-size frames. Not safe for concurrent use.
type Rechunker struct {
	size int
	buf  []float32
}

// NewRechunker returns a Rechunker that emits frames of exactly size samples.
// A non-positive size defaults to 2048.
func NewRechunker(size int) *Rechunker {
	if size <= 0 {
		size = 2048
	}
	return &Rechunker{size: size, buf: make([]float32, 0, size*2)}
}

// Push appends samples and calls emit once per complete frame. The slice
// handed to emit is freshly allocated and owned by the callee.
func (r *Rechunker) Push(samples []float32, emit func([]float32)) {
	r.buf = append(r.buf, samples...)
	for len(r.buf) >= r.size {
		frame := make([]float32, r.size)
		copy(frame, r.buf[:r.size])
		emit(frame)
		r.buf = r.buf[r.size:]
	}
	// Compact so the backing array does not grow without bound.
	if cap(r.buf)-len(r.buf) < r.size {
		r.buf = append(make([]float32, 0, r.size*2), r.buf...)
	}
}

// Pending reports how many samples are buffered toward the next frame.
func (r *Rechunker) Pending() int { return len(r.buf) }
