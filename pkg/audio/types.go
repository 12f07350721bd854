package audio

import "time"

// SampleBuffer is a decoded, mono, normalised PCM signal ready for analysis.
//
// Samples are in the range [-1, 1]. Multi-channel sources are reduced to their
// first channel during decoding; Channels records the channel count of the
// source so diagnostics can report it. A SampleBuffer is immutable once
// decoded and is owned by the analysis call that created it.
type SampleBuffer struct {
	// Samples holds the mono signal, one value per frame.
	Samples []float32

	// SampleRate in Hz (e.g., 44100, 16000).
	SampleRate int

	// Channels is the channel count of the source container.
	Channels int
}

// Len returns the number of samples in the buffer.
func (b *SampleBuffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Samples)
}

// Duration returns the playback length of the buffer. Returns 0 for a buffer
// with an invalid sample rate.
func (b *SampleBuffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// SizeBytes returns the in-memory size of the decoded samples.
func (b *SampleBuffer) SizeBytes() int64 {
	return int64(b.Len()) * 4
}

// Frame is a single block of live microphone audio delivered by a [Capture].
// Frames are the unit the live pitch tracker consumes: one estimate per frame.
type Frame struct {
	// Samples holds mono float samples in [-1, 1].
	Samples []float32

	// SampleRate is the capture device's native rate in Hz.
	SampleRate int

	// Timestamp marks when this frame was captured, relative to capture start.
	Timestamp time.Duration
}
