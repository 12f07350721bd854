package audio_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/MrWong99/singalong/pkg/audio"
)

func TestFirstChannel(t *testing.T) {
	tests := []struct {
		name     string
		in       []float32
		channels int
		want     []float32
	}{
		{"mono passthrough", []float32{0.1, 0.2, 0.3}, 1, []float32{0.1, 0.2, 0.3}},
		{"stereo picks left", []float32{0.1, -0.1, 0.2, -0.2}, 2, []float32{0.1, 0.2}},
		{"partial frame dropped", []float32{0.1, -0.1, 0.2}, 2, []float32{0.1}},
		{"three channels", []float32{1, 2, 3, 4, 5, 6}, 3, []float32{1, 4}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := audio.FirstChannel(tc.in, tc.channels)
			if len(got) != len(tc.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tc.want))
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Errorf("sample %d: got %v, want %v", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestFloat32FromBytes(t *testing.T) {
	b := make([]byte, 9)
	binary.LittleEndian.PutUint32(b[0:], math.Float32bits(0.25))
	binary.LittleEndian.PutUint32(b[4:], math.Float32bits(-0.75))
	got := audio.Float32FromBytes(b)
	if len(got) != 2 || got[0] != 0.25 || got[1] != -0.75 {
		t.Fatalf("got %v, want [0.25 -0.75]", got)
	}
}

func TestRechunker_EmitsFixedFrames(t *testing.T) {
	r := audio.NewRechunker(4)
	var frames [][]float32
	emit := func(f []float32) { frames = append(frames, f) }

	r.Push([]float32{1, 2, 3}, emit)
	if len(frames) != 0 {
		t.Fatalf("emitted %d frames before a full frame was buffered", len(frames))
	}
	r.Push([]float32{4, 5, 6, 7, 8, 9}, emit)
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if frames[0][0] != 1 || frames[0][3] != 4 || frames[1][0] != 5 || frames[1][3] != 8 {
		t.Errorf("unexpected frame contents: %v", frames)
	}
	if r.Pending() != 1 {
		t.Errorf("Pending = %d, want 1", r.Pending())
	}
}

func TestRechunker_FramesAreIndependentCopies(t *testing.T) {
	r := audio.NewRechunker(2)
	var frames [][]float32
	r.Push([]float32{1, 2, 3, 4}, func(f []float32) { frames = append(frames, f) })
	frames[0][0] = 99
	if frames[1][0] != 3 {
		t.Errorf("frames share backing storage: %v", frames)
	}
}

func TestSampleBuffer_Duration(t *testing.T) {
	buf := &audio.SampleBuffer{Samples: make([]float32, 16000), SampleRate: 16000, Channels: 1}
	if got := buf.Duration().Seconds(); got != 1 {
		t.Errorf("Duration = %vs, want 1s", got)
	}
	if got := buf.SizeBytes(); got != 64000 {
		t.Errorf("SizeBytes = %d, want 64000", got)
	}
	var nilBuf *audio.SampleBuffer
	if nilBuf.Len() != 0 || nilBuf.Duration() != 0 {
		t.Error("nil buffer should report zero length and duration")
	}
}
