// Package wav decodes PCM WAV containers into normalised mono sample buffers
// for pitch analysis.
//
// Decoding is pure and synchronous. Integer PCM at 8, 16, 24 and 32 bits is
// supported at any sample rate and channel count; multi-channel input is
// reduced to its first channel. Anything else fails fast with an
// [*UnsupportedFormatError].
package wav

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"

	"github.com/MrWong99/singalong/pkg/audio"
)

// WAVE format tags accepted by the decoder.
const (
	formatPCM        = 1
	formatExtensible = 0xFFFE
)

var (
	// ErrUnsupportedFormat is the sentinel wrapped by every
	// [*UnsupportedFormatError]. Test with errors.Is.
	ErrUnsupportedFormat = errors.New("wav: unsupported format")

	// ErrEmptyInput is returned when the input buffer has no bytes at all.
	ErrEmptyInput = errors.New("wav: empty input")
)

// UnsupportedFormatError describes why a buffer could not be decoded.
type UnsupportedFormatError struct {
	// Reason is a short human-readable cause (e.g., "bit depth 12").
	Reason string

	// Err is the underlying parser error, if any.
	Err error
}

func (e *UnsupportedFormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wav: unsupported format: %s: %v", e.Reason, e.Err)
	}
	return "wav: unsupported format: " + e.Reason
}

// Is reports whether target is [ErrUnsupportedFormat].
func (e *UnsupportedFormatError) Is(target error) bool { return target == ErrUnsupportedFormat }

// Unwrap returns the underlying parser error.
func (e *UnsupportedFormatError) Unwrap() error { return e.Err }

func unsupported(reason string, err error) error {
	return &UnsupportedFormatError{Reason: reason, Err: err}
}

// Decode parses a complete WAV file held in memory.
func Decode(data []byte) (*audio.SampleBuffer, error) {
	if len(data) == 0 {
		return nil, ErrEmptyInput
	}
	return DecodeReader(bytes.NewReader(data))
}

// DecodeReader parses a WAV stream from r. The reader must support seeking:
// the chunk list is scanned once to validate the layout, then r is rewound
// for sample decoding.
func DecodeReader(r io.ReadSeeker) (*audio.SampleBuffer, error) {
	l, err := scanChunks(r)
	if err != nil {
		return nil, err
	}
	if (l.formatTag != formatPCM && l.formatTag != formatExtensible) || l.subFormat != formatPCM {
		return nil, unsupported(fmt.Sprintf("format tag %#x (sub-format %#x) is not integer PCM", l.formatTag, l.subFormat), nil)
	}
	if l.dataSize <= 0 {
		return nil, unsupported("empty data chunk", nil)
	}
	if l.truncated() {
		return nil, unsupported(fmt.Sprintf("truncated data chunk: %d of %d bytes", l.available, l.dataSize), nil)
	}

	d := gowav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, unsupported("malformed RIFF/fmt header", d.Err())
	}
	switch d.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, unsupported(fmt.Sprintf("bit depth %d", d.BitDepth), nil)
	}
	if d.SampleRate == 0 || d.NumChans == 0 {
		return nil, unsupported("zero sample rate or channel count", nil)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, unsupported("reading data chunk", err)
	}

	// The decoder reads the word-alignment pad byte as a sample.
	if n := int(l.dataSize / (int64(d.BitDepth) / 8)); len(buf.Data) > n {
		buf.Data = buf.Data[:n]
	}

	channels := int(d.NumChans)
	samples := audio.FirstChannel(normalise(buf.Data, int(d.BitDepth)), channels)

	return &audio.SampleBuffer{
		Samples:    samples,
		SampleRate: int(d.SampleRate),
		Channels:   channels,
	}, nil
}

// normalise scales integer PCM to [-1, 1]. 8-bit WAV is unsigned with a
// midpoint of 128 and is recentred here.
func normalise(data []int, bitDepth int) []float32 {
	scale := float32(int64(1) << (bitDepth - 1))
	offset := 0
	if bitDepth == 8 {
		offset = 128
	}
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v-offset) / scale
	}
	return out
}

// Encode writes mono float samples as a 16-bit PCM WAV file.
func Encode(samples []float32, sampleRate int) ([]byte, error) {
	return EncodeChannels([][]float32{samples}, sampleRate)
}

// EncodeChannels writes one or more equal-length channels as an interleaved
// 16-bit PCM WAV file.
func EncodeChannels(channels [][]float32, sampleRate int) ([]byte, error) {
	if len(channels) == 0 {
		return nil, errors.New("wav: encode: no channels")
	}
	frames := len(channels[0])
	for i, ch := range channels {
		if len(ch) != frames {
			return nil, fmt.Errorf("wav: encode: channel %d has %d samples, want %d", i, len(ch), frames)
		}
	}

	data := make([]int, 0, frames*len(channels))
	for f := range frames {
		for _, ch := range channels {
			s := ch[f]
			switch {
			case s > 1:
				s = 1
			case s < -1:
				s = -1
			}
			data = append(data, int(s*32767))
		}
	}

	ws := &writeSeeker{}
	enc := gowav.NewEncoder(ws, sampleRate, 16, len(channels), formatPCM)
	ib := &goaudio.IntBuffer{
		Data:           data,
		Format:         &goaudio.Format{NumChannels: len(channels), SampleRate: sampleRate},
		SourceBitDepth: 16,
	}
	if err := enc.Write(ib); err != nil {
		return nil, fmt.Errorf("wav: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("wav: encode: close: %w", err)
	}
	return ws.buf, nil
}
