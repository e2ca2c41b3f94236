package capture

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
)

const DefaultFirstFrameTimeout = 8 * time.Second

func validateOpenOptions(options *Options) (*Options, error) {
	if options == nil {
		options = &Options{}
	}
	opts := *options
	opts.Backend = strings.ToLower(strings.TrimSpace(opts.Backend))
	if opts.Backend == "" {
		opts.Backend = BackendAuto
	}
	if opts.Interval < 0 {
		return nil, fmt.Errorf("%w: Interval must be >= 0", ErrInvalidOptions)
	}
	if opts.Interval == 0 {
		opts.Interval = DefaultInterval
	}
	return &opts, nil
}

// WaitForFirstFrame blocks until ready is closed, ctx ends or timeout
// passes. onTimeout runs before the timeout error is returned.
func WaitForFirstFrame(ctx context.Context, platform string, ready <-chan struct{}, timeout time.Duration, onTimeout func() error) error {
	if timeout <= 0 {
		timeout = DefaultFirstFrameTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		if onTimeout != nil {
			_ = onTimeout()
		}
		return fmt.Errorf("%s capture timed out waiting for first frame", platform)
	}
}

// LogLimiter lets one event through per Period. The zero Period allows
// everything.
type LogLimiter struct {
	Period time.Duration
	last   atomic.Int64
}

func (l *LogLimiter) Allow() bool {
	if l == nil || l.Period <= 0 {
		return true
	}

	now := time.Now().UnixNano()
	for {
		prev := l.last.Load()
		if prev != 0 && time.Duration(now-prev) < l.Period {
			return false
		}
		if l.last.CompareAndSwap(prev, now) {
			return true
		}
	}
}

// FrameGate drops frames that arrive sooner than Interval after the last
// accepted one. Backends driven by the compositor use it to honour
// SetInterval.
type FrameGate struct {
	interval atomic.Int64
	last     atomic.Int64
}

func (g *FrameGate) SetInterval(d time.Duration) {
	g.interval.Store(int64(d))
}

func (g *FrameGate) Interval() time.Duration {
	return time.Duration(g.interval.Load())
}

// Reset lets the next frame through regardless of timing.
func (g *FrameGate) Reset() {
	g.last.Store(0)
}

func (g *FrameGate) Allow(now time.Time) bool {
	interval := g.interval.Load()
	ts := now.UnixNano()
	for {
		prev := g.last.Load()
		if prev != 0 && interval > 0 && ts-prev < interval {
			return false
		}
		if g.last.CompareAndSwap(prev, ts) {
			return true
		}
	}
}
