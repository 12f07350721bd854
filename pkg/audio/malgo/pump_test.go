package malgo

import (
	"testing"
	"time"
)

func TestPump_RechunksIntoFrames(t *testing.T) {
	p := newPump(4, 8)
	p.setRate(4)

	p.push([]float32{1, 2, 3})
	p.push([]float32{4, 5, 6, 7, 8, 9})
	p.close()

	var got [][]float32
	var stamps []time.Duration
	for f := range p.frames {
		got = append(got, f.Samples)
		stamps = append(stamps, f.Timestamp)
		if f.SampleRate != 4 {
			t.Errorf("SampleRate = %d, want 4", f.SampleRate)
		}
	}
	if len(got) != 2 {
		t.Fatalf("frames = %d, want 2", len(got))
	}
	if got[1][0] != 5 || got[1][3] != 8 {
		t.Errorf("second frame = %v, want [5 6 7 8]", got[1])
	}
	if stamps[0] != 0 || stamps[1] != time.Second {
		t.Errorf("timestamps = %v, want [0s 1s]", stamps)
	}
}

func TestPump_DropsWhenReaderFallsBehind(t *testing.T) {
	p := newPump(2, 1)
	p.push([]float32{1, 2, 3, 4, 5, 6})

	if got := p.droppedFrames(); got != 2 {
		t.Errorf("dropped = %d, want 2", got)
	}
	if f := <-p.frames; f.Samples[0] != 1 {
		t.Errorf("kept frame = %v, want the first", f.Samples)
	}
}

func TestPump_PushAfterCloseIsIgnored(t *testing.T) {
	p := newPump(2, 4)
	p.close()
	p.close()
	p.push([]float32{1, 2})
	if _, ok := <-p.frames; ok {
		t.Error("frames channel should be closed and empty")
	}
}

func TestConfig_Defaults(t *testing.T) {
	d := New(Config{})
	if d.Config().FrameSize != DefaultFrameSize || d.Config().Buffer != DefaultBuffer {
		t.Errorf("Config() = %+v", d.Config())
	}
}
