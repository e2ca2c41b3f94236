package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/facebookincubator/go-belt"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/facebookincubator/go-belt/tool/logger/implementation/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go2tv.app/screenrec/media"
)

func testCtx(t *testing.T) context.Context {
	l := logrus.Default().WithLevel(logger.LevelTrace)
	ctx := logger.CtxWithLogger(context.Background(), l)
	t.Cleanup(func() { belt.Flush(ctx) })
	return ctx
}

type fakeGrabber struct {
	bounds   []image.Rectangle
	failures atomic.Int32
	grabs    atomic.Int32
}

func (g *fakeGrabber) NumActiveDisplays() int { return len(g.bounds) }

func (g *fakeGrabber) GetDisplayBounds(i int) image.Rectangle { return g.bounds[i] }

func (g *fakeGrabber) CaptureRect(rect image.Rectangle) (*image.RGBA, error) {
	g.grabs.Add(1)
	if g.failures.Load() > 0 {
		g.failures.Add(-1)
		return nil, errors.New("display went away")
	}
	return image.NewRGBA(rect), nil
}

type recordingHandler struct {
	mu       sync.Mutex
	frames   []*media.Frame
	inFlight atomic.Int32
	overlap  atomic.Bool
	block    chan struct{}
	entered  chan struct{}
}

func (h *recordingHandler) OnFrame(ctx context.Context, frame *media.Frame) {
	if h.inFlight.Add(1) > 1 {
		h.overlap.Store(true)
	}
	defer h.inFlight.Add(-1)

	if h.entered != nil {
		select {
		case h.entered <- struct{}{}:
		default:
		}
	}
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	h.frames = append(h.frames, frame)
	h.mu.Unlock()
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.frames)
}

func TestScreenshotMonitors(t *testing.T) {
	ctx := testCtx(t)
	g := &fakeGrabber{bounds: []image.Rectangle{
		image.Rect(0, 0, 1920, 1080),
		image.Rect(1920, 0, 3200, 1024),
	}}
	src := NewScreenshotWithGrabber(g, 0)
	monitors, err := src.Monitors(ctx)
	require.NoError(t, err)
	require.Len(t, monitors, 2)
	assert.Equal(t, 1280, monitors[1].Width())
	assert.Equal(t, 1024, monitors[1].Height())
	assert.Equal(t, 1, monitors[1].Index)

	_, err = NewScreenshotWithGrabber(&fakeGrabber{}, 0).Monitors(ctx)
	assert.ErrorIs(t, err, ErrNoMonitors)
}

func TestScreenshotDeliversFrames(t *testing.T) {
	ctx := testCtx(t)
	g := &fakeGrabber{bounds: []image.Rectangle{image.Rect(100, 50, 132, 66)}}
	g.failures.Store(2)
	src := NewScreenshotWithGrabber(g, time.Millisecond)
	defer src.Close()

	monitors, err := src.Monitors(ctx)
	require.NoError(t, err)

	h := &recordingHandler{}
	require.NoError(t, src.Start(ctx, monitors[0], h))
	require.Eventually(t, func() bool { return h.count() >= 5 }, 5*time.Second, time.Millisecond)
	require.NoError(t, src.Pause())

	assert.False(t, h.overlap.Load())
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, f := range h.frames {
		assert.Equal(t, 32, f.Width)
		assert.Equal(t, 16, f.Height)
		assert.Equal(t, media.PixelFormatRGBA, f.Format)
		assert.Len(t, f.Data, 32*16*4)
		assert.Equal(t, int64(i), f.Index)
	}
}

func TestScreenshotPauseWaitsForCallback(t *testing.T) {
	ctx := testCtx(t)
	g := &fakeGrabber{bounds: []image.Rectangle{image.Rect(0, 0, 8, 8)}}
	src := NewScreenshotWithGrabber(g, time.Millisecond)
	defer src.Close()

	h := &recordingHandler{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	require.NoError(t, src.Start(ctx, Monitor{Bounds: g.bounds[0]}, h))
	<-h.entered

	paused := make(chan struct{})
	go func() {
		_ = src.Pause()
		close(paused)
	}()

	select {
	case <-paused:
		t.Fatal("Pause returned while a callback was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(h.block)
	<-paused
	assert.Equal(t, 1, h.count())

	grabs := g.grabs.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, grabs, g.grabs.Load(), "no captures after Pause")
	assert.Equal(t, 1, h.count())
}

func TestScreenshotRestartAndClose(t *testing.T) {
	ctx := testCtx(t)
	g := &fakeGrabber{bounds: []image.Rectangle{image.Rect(0, 0, 4, 4)}}
	src := NewScreenshotWithGrabber(g, time.Millisecond)
	m := Monitor{Bounds: g.bounds[0]}

	h := &recordingHandler{}
	require.NoError(t, src.Start(ctx, m, h))
	assert.ErrorIs(t, src.Start(ctx, m, h), media.ErrInvalidState)
	require.NoError(t, src.Pause())
	require.NoError(t, src.Pause())

	require.NoError(t, src.Start(ctx, m, h))
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.ErrorIs(t, src.Start(ctx, m, h), ErrClosed)
}

func TestScreenshotRejectsBadStart(t *testing.T) {
	ctx := testCtx(t)
	src := NewScreenshotWithGrabber(&fakeGrabber{}, 0)
	assert.ErrorIs(t, src.Start(ctx, Monitor{}, &recordingHandler{}), ErrInvalidOptions)
	assert.ErrorIs(t, src.Start(ctx, Monitor{Bounds: image.Rect(0, 0, 1, 1)}, nil), ErrInvalidOptions)
}

func TestSetInterval(t *testing.T) {
	src := NewScreenshotWithGrabber(&fakeGrabber{}, 0)
	assert.Equal(t, DefaultInterval, src.Interval())
	src.SetInterval(66 * time.Millisecond)
	assert.Equal(t, 66*time.Millisecond, src.Interval())
}

func TestFrameFromPaddedRGBA(t *testing.T) {
	parent := image.NewRGBA(image.Rect(0, 0, 8, 4))
	for i := range parent.Pix {
		parent.Pix[i] = byte(i)
	}
	sub := parent.SubImage(image.Rect(2, 1, 6, 3)).(*image.RGBA)
	f := frameFromRGBA(sub)
	require.NoError(t, f.Validate())
	assert.Equal(t, 4, f.Width)
	assert.Equal(t, 2, f.Height)
	assert.Equal(t, parent.Pix[parent.PixOffset(2, 1):parent.PixOffset(2, 1)+16], f.Data[:16])
	assert.Equal(t, parent.Pix[parent.PixOffset(2, 2):parent.PixOffset(2, 2)+16], f.Data[16:])
}

func TestOpen(t *testing.T) {
	ctx := testCtx(t)
	t.Setenv("WAYLAND_DISPLAY", "")

	src, err := Open(ctx, &Options{Backend: "Screenshot", Interval: 66 * time.Millisecond})
	require.NoError(t, err)
	require.IsType(t, &Screenshot{}, src)
	assert.Equal(t, 66*time.Millisecond, src.(*Screenshot).Interval())

	src, err = Open(ctx, nil)
	require.NoError(t, err)
	assert.IsType(t, &Screenshot{}, src)

	_, err = Open(ctx, &Options{Backend: "dxgi"})
	assert.ErrorIs(t, err, ErrNotImplemented)

	_, err = Open(ctx, &Options{Interval: -time.Second})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}

func TestResolveBackendWayland(t *testing.T) {
	t.Setenv("WAYLAND_DISPLAY", "wayland-0")
	_, hasPortal := lookup(BackendPortal)
	if hasPortal {
		assert.Equal(t, BackendPortal, resolveBackend(BackendAuto))
	} else {
		assert.Equal(t, BackendScreenshot, resolveBackend(BackendAuto))
	}
	assert.Equal(t, BackendScreenshot, resolveBackend(BackendScreenshot))
}

func TestWaitForFirstFrame(t *testing.T) {
	ctx := testCtx(t)
	ready := make(chan struct{})
	close(ready)
	require.NoError(t, WaitForFirstFrame(ctx, "test", ready, time.Second, nil))

	timedOut := false
	err := WaitForFirstFrame(ctx, "test", make(chan struct{}), 10*time.Millisecond, func() error {
		timedOut = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, timedOut)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, WaitForFirstFrame(cctx, "test", make(chan struct{}), time.Second, nil), context.Canceled)
}

func TestLogLimiter(t *testing.T) {
	l := &LogLimiter{Period: time.Hour}
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())

	var unlimited LogLimiter
	assert.True(t, unlimited.Allow())
	assert.True(t, unlimited.Allow())
}

func TestFrameGate(t *testing.T) {
	var g FrameGate
	g.SetInterval(66 * time.Millisecond)
	base := time.Unix(100, 0)

	assert.True(t, g.Allow(base))
	assert.False(t, g.Allow(base.Add(10*time.Millisecond)))
	assert.False(t, g.Allow(base.Add(65*time.Millisecond)))
	assert.True(t, g.Allow(base.Add(66*time.Millisecond)))

	g.Reset()
	assert.True(t, g.Allow(base.Add(70*time.Millisecond)))

	g.SetInterval(0)
	assert.True(t, g.Allow(base.Add(70*time.Millisecond)))
	assert.Equal(t, time.Duration(0), g.Interval())
}
