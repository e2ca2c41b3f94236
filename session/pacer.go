package session

import (
	"sync/atomic"
	"time"
)

// Pacer derives the capture interval from the target frame rate and counts
// delivered frames. It does not compensate for late or early deliveries.
type Pacer struct {
	fps    int
	frames atomic.Uint64
	first  atomic.Int64
	last   atomic.Int64
}

func NewPacer(fps int) *Pacer {
	if fps <= 0 {
		fps = DefaultFPS
	}
	return &Pacer{fps: fps}
}

func (p *Pacer) Target() int { return p.fps }

// Interval is 1000/fps whole milliseconds, e.g. 66ms at 15 fps.
func (p *Pacer) Interval() time.Duration {
	return time.Duration(1000/p.fps) * time.Millisecond
}

// Tick records one delivered frame and returns the new count.
func (p *Pacer) Tick() uint64 {
	now := time.Now().UnixNano()
	p.first.CompareAndSwap(0, now)
	p.last.Store(now)
	return p.frames.Add(1)
}

func (p *Pacer) Frames() uint64 {
	return p.frames.Load()
}

// FPS is the measured delivery rate between the first and the last tick.
func (p *Pacer) FPS() float64 {
	n := p.frames.Load()
	first, last := p.first.Load(), p.last.Load()
	if n < 2 || last <= first {
		return 0
	}
	return float64(n-1) / time.Duration(last-first).Seconds()
}
