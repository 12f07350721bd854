package malgo

import (
	"sync"
	"time"

	"github.com/MrWong99/singalong/pkg/audio"
)

// pump turns device callback blocks into fixed-size frames on a channel.
// push and close may be called from different threads.
type pump struct {
	frames chan audio.Frame

	mu      sync.Mutex
	chunker *audio.Rechunker
	rate    int
	emitted int64
	dropped int64
	closed  bool
}

func newPump(frameSize, buffer int) *pump {
	return &pump{
		frames:  make(chan audio.Frame, buffer),
		chunker: audio.NewRechunker(frameSize),
	}
}

func (p *pump) setRate(rate int) {
	p.mu.Lock()
	p.rate = rate
	p.mu.Unlock()
}

func (p *pump) sampleRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

// push appends samples and emits every completed frame without blocking.
func (p *pump) push(samples []float32) {
	if len(samples) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.chunker.Push(samples, func(frame []float32) {
		var ts time.Duration
		if p.rate > 0 {
			ts = time.Duration(float64(p.emitted) / float64(p.rate) * float64(time.Second))
		}
		p.emitted += int64(len(frame))
		select {
		case p.frames <- audio.Frame{Samples: frame, SampleRate: p.rate, Timestamp: ts}:
		default:
			p.dropped++
		}
	})
}

func (p *pump) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.frames)
	}
}

func (p *pump) droppedFrames() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}
