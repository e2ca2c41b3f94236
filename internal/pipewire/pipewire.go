//go:build linux

package pipewire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"go2tv.app/screenrec/internal/observability"
)

var ErrLibraryNotLoaded = errors.New("gstreamer pipewiresrc element is not available")

// SampleFunc receives one tightly packed BGRA frame. data is owned by the
// callee.
type SampleFunc func(data []byte, width, height int)

// Stream pulls a portal PipeWire node through a GStreamer pipeline and
// hands BGRA samples to a callback on the appsink streaming thread.
type Stream struct {
	pipeline *gst.Pipeline
	sink     *app.Sink
	fd       int

	width, height int
	onSample      SampleFunc
	onError       func(error)

	mu        sync.Mutex
	cancelBus context.CancelFunc
	busDone   chan struct{}
	closeOnce sync.Once
	closeErr  error
}

var initOnce sync.Once

func initGst() {
	initOnce.Do(func() { gst.Init(nil) })
}

// IsAvailable reports whether GStreamer can build a pipewiresrc element.
func IsAvailable() bool {
	initGst()
	el, err := gst.NewElement("pipewiresrc")
	if err != nil || el == nil {
		return false
	}
	return true
}

func pipelineDescription(fd int, nodeID uint32, width, height int) string {
	caps := "video/x-raw,format=BGRA"
	if width > 0 && height > 0 {
		caps = fmt.Sprintf("%s,width=%d,height=%d", caps, width, height)
	}
	return fmt.Sprintf(
		"pipewiresrc fd=%d path=%d do-timestamp=true keepalive-time=1000 ! videoconvert ! videoscale ! %s ! appsink name=sink max-buffers=2 drop=true",
		fd, nodeID, caps,
	)
}

// NewStream builds a pipeline for nodeID on the PipeWire remote fd. The fd
// is duplicated; the caller keeps ownership of the original. width and
// height may be zero, in which case the negotiated size is used.
func NewStream(fd int, nodeID uint32, width, height int, onSample SampleFunc, onError func(error)) (*Stream, error) {
	if onSample == nil {
		return nil, fmt.Errorf("pipewire: nil sample callback")
	}
	if !IsAvailable() {
		return nil, ErrLibraryNotLoaded
	}

	dupFd, err := syscall.Dup(fd)
	if err != nil {
		return nil, fmt.Errorf("dup fd: %w", err)
	}

	pipeline, err := gst.NewPipelineFromString(pipelineDescription(dupFd, nodeID, width, height))
	if err != nil {
		_ = syscall.Close(dupFd)
		return nil, fmt.Errorf("create pipeline: %w", err)
	}
	el, err := pipeline.GetElementByName("sink")
	if err != nil {
		_ = syscall.Close(dupFd)
		return nil, fmt.Errorf("find appsink: %w", err)
	}
	sink := app.SinkFromElement(el)
	sink.SetProperty("sync", false)

	s := &Stream{
		pipeline: pipeline,
		sink:     sink,
		fd:       dupFd,
		width:    width,
		height:   height,
		onSample: onSample,
		onError:  onError,
	}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: s.newSample,
	})
	return s, nil
}

func (s *Stream) newSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	frame := make([]byte, len(data))
	copy(frame, data)
	buffer.Unmap()

	w, h := s.width, s.height
	if w <= 0 || h <= 0 {
		w, h = sampleSize(sample)
	}
	if w <= 0 || h <= 0 || len(frame) < w*h*4 {
		return gst.FlowOK
	}
	s.onSample(frame[:w*h*4], w, h)
	return gst.FlowOK
}

func sampleSize(sample *gst.Sample) (int, int) {
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0
	}
	st := caps.GetStructureAt(0)
	if st == nil {
		return 0, 0
	}
	w, errW := st.GetValue("width")
	h, errH := st.GetValue("height")
	if errW != nil || errH != nil {
		return 0, 0
	}
	wi, ok1 := w.(int)
	hi, ok2 := h.(int)
	if !ok1 || !ok2 {
		return 0, 0
	}
	return wi, hi
}

// Start sets the pipeline playing and begins watching its bus.
func (s *Stream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelBus != nil {
		return nil
	}
	if err := s.pipeline.SetState(gst.StatePlaying); err != nil {
		return fmt.Errorf("set pipeline playing: %w", err)
	}

	busCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancelBus, s.busDone = cancel, done
	observability.Go(busCtx, func() {
		defer close(done)
		s.watchBus(busCtx)
	})
	return nil
}

func (s *Stream) watchBus(ctx context.Context) {
	bus := s.pipeline.GetPipelineBus()
	for ctx.Err() == nil {
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			logger.Debugf(ctx, "pipewire stream reached end of stream")
			s.reportError(errors.New("pipewire stream ended"))
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			logger.Errorf(ctx, "pipewire pipeline error: %s (%s)", gerr.Error(), gerr.DebugString())
			s.reportError(fmt.Errorf("pipewire pipeline: %s", gerr.Error()))
			return
		}
	}
}

func (s *Stream) reportError(err error) {
	if s.onError != nil {
		s.onError(err)
	}
}

// Stop pauses the pipeline and waits for the bus watcher to exit. No sample
// callback runs after the pipeline reaches the NULL state.
func (s *Stream) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancelBus, s.busDone
	s.cancelBus, s.busDone = nil, nil
	s.mu.Unlock()

	err := s.pipeline.SetState(gst.StateNull)
	if cancel != nil {
		cancel()
		<-done
	}
	return err
}

func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = errors.Join(s.Stop(), syscall.Close(s.fd))
	})
	return s.closeErr
}
