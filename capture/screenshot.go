package capture

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/kbinani/screenshot"

	"go2tv.app/screenrec/internal/observability"
	"go2tv.app/screenrec/media"
)

func init() {
	Register(BackendScreenshot, func(ctx context.Context, options *Options) (Source, error) {
		return NewScreenshot(options.Interval), nil
	})
}

// Grabber is the display access the screenshot backend needs.
type Grabber interface {
	NumActiveDisplays() int
	GetDisplayBounds(displayIndex int) image.Rectangle
	CaptureRect(rect image.Rectangle) (*image.RGBA, error)
}

type kbinaniGrabber struct{}

func (kbinaniGrabber) NumActiveDisplays() int { return screenshot.NumActiveDisplays() }

func (kbinaniGrabber) GetDisplayBounds(i int) image.Rectangle { return screenshot.GetDisplayBounds(i) }

func (kbinaniGrabber) CaptureRect(rect image.Rectangle) (*image.RGBA, error) {
	return screenshot.CaptureRect(rect)
}

// Screenshot polls the display on a ticker and delivers RGBA frames from a
// single goroutine.
type Screenshot struct {
	grabber  Grabber
	interval atomic.Int64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	closed bool

	errLog  LogLimiter
	slowLog LogLimiter
}

var _ Source = (*Screenshot)(nil)

func NewScreenshot(interval time.Duration) *Screenshot {
	return NewScreenshotWithGrabber(kbinaniGrabber{}, interval)
}

func NewScreenshotWithGrabber(g Grabber, interval time.Duration) *Screenshot {
	s := &Screenshot{
		grabber: g,
		errLog:  LogLimiter{Period: 5 * time.Second},
		slowLog: LogLimiter{Period: 5 * time.Second},
	}
	s.SetInterval(interval)
	return s
}

func (s *Screenshot) Monitors(ctx context.Context) ([]Monitor, error) {
	n := s.grabber.NumActiveDisplays()
	if n <= 0 {
		return nil, ErrNoMonitors
	}
	out := make([]Monitor, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Monitor{
			Index:  i,
			Name:   fmt.Sprintf("display-%d", i),
			Bounds: s.grabber.GetDisplayBounds(i),
		})
	}
	return out, nil
}

func (s *Screenshot) Format() media.PixelFormat {
	return media.PixelFormatRGBA
}

func (s *Screenshot) SetInterval(d time.Duration) {
	if d <= 0 {
		d = DefaultInterval
	}
	s.interval.Store(int64(d))
}

func (s *Screenshot) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

func (s *Screenshot) Start(ctx context.Context, monitor Monitor, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("%w: nil handler", ErrInvalidOptions)
	}
	if monitor.Bounds.Empty() {
		return fmt.Errorf("%w: monitor %s has empty bounds", ErrInvalidOptions, monitor)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.cancel != nil {
		return fmt.Errorf("%w: capture already running", media.ErrInvalidState)
	}

	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done

	observability.Go(loopCtx, func() {
		defer close(done)
		s.loop(loopCtx, monitor, handler)
	})
	logger.Debugf(ctx, "screenshot capture started monitor=%s interval=%s", monitor, s.Interval())
	return nil
}

func (s *Screenshot) loop(ctx context.Context, monitor Monitor, handler Handler) {
	current := s.Interval()
	t := time.NewTicker(current)
	defer t.Stop()

	var index int64
	for {
		if ctx.Err() != nil {
			return
		}
		s.captureOnce(ctx, monitor, handler, &index)

		if d := s.Interval(); d != current {
			current = d
			t.Reset(d)
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (s *Screenshot) captureOnce(ctx context.Context, monitor Monitor, handler Handler, index *int64) {
	img, err := s.grabber.CaptureRect(monitor.Bounds)
	if err != nil {
		if s.errLog.Allow() {
			logger.Warnf(ctx, "screenshot capture of %s failed: %v", monitor, err)
		}
		return
	}
	frame := frameFromRGBA(img)
	frame.Index = *index
	*index++

	// Pause may have been requested while the grab was running.
	if ctx.Err() != nil {
		return
	}

	start := time.Now()
	handler.OnFrame(ctx, frame)
	if took := time.Since(start); took > s.Interval() && s.slowLog.Allow() {
		logger.Warnf(ctx, "frame callback took %s, longer than the %s capture interval", took, s.Interval())
	}
}

// Pause stops the loop and waits for an in-flight callback to return.
func (s *Screenshot) Pause() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (s *Screenshot) Close() error {
	err := s.Pause()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return err
}

// frameFromRGBA drops row padding, if any, so the frame is tightly packed.
func frameFromRGBA(img *image.RGBA) *media.Frame {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	frame := &media.Frame{Width: w, Height: h, Format: media.PixelFormatRGBA}
	if img.Stride == w*4 && len(img.Pix) == w*h*4 {
		frame.Data = img.Pix
		return frame
	}
	frame.Data = make([]byte, w*h*4)
	for y := 0; y < h; y++ {
		off := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		copy(frame.Data[y*w*4:(y+1)*w*4], img.Pix[off:off+w*4])
	}
	return frame
}
