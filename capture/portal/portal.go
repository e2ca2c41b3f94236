//go:build linux

package portal

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/facebookincubator/go-belt/tool/logger"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/internal/observability"
	"go2tv.app/screenrec/internal/pipewire"
	"go2tv.app/screenrec/internal/xdgportal"
	"go2tv.app/screenrec/media"
)

func init() {
	capture.Register(capture.BackendPortal, func(ctx context.Context, options *capture.Options) (capture.Source, error) {
		return Open(ctx)
	})
}

// Source is a portal screencast session. The user picks the shared
// monitors once, in Open; Start streams one of them.
type Source struct {
	sess    *xdgportal.Session
	streams []xdgportal.Stream
	fd      int

	gate capture.FrameGate

	mu     sync.Mutex
	stream *pipewire.Stream
	closed bool

	// cbMu is held for the duration of every Handler call.
	cbMu    sync.Mutex
	running atomic.Bool
	index   atomic.Int64

	stopClosedWatch func()
	done            chan struct{}
}

var _ capture.Source = (*Source)(nil)

// Open runs the portal handshake: CreateSession, SelectSources, Start and
// OpenPipeWireRemote. A dismissed dialog yields capture.ErrCancelled.
func Open(ctx context.Context) (_ *Source, _err error) {
	if !pipewire.IsAvailable() {
		return nil, fmt.Errorf("%w: %w", media.ErrResourceUnavailable, pipewire.ErrLibraryNotLoaded)
	}

	sess, err := xdgportal.CreateSession(ctx)
	if err != nil {
		return nil, mapErr(err)
	}
	defer func() {
		if _err != nil {
			_ = sess.Close(context.WithoutCancel(ctx))
		}
	}()

	err = sess.SelectSources(ctx, &xdgportal.SelectSourcesOptions{
		Types:      xdgportal.SourceTypeMonitor,
		CursorMode: xdgportal.CursorModeEmbedded,
		Multiple:   true,
	})
	if err != nil {
		return nil, mapErr(err)
	}

	streams, err := sess.Start(ctx, "")
	if err != nil {
		return nil, mapErr(err)
	}
	if len(streams) == 0 {
		return nil, capture.ErrNoMonitors
	}

	fd, err := sess.OpenPipeWireRemote(ctx)
	if err != nil {
		return nil, fmt.Errorf("open pipewire remote: %w", err)
	}

	s := &Source{sess: sess, streams: streams, fd: fd, done: make(chan struct{})}
	s.gate.SetInterval(capture.DefaultInterval)

	if closed, stop, err := sess.Closed(); err == nil {
		s.stopClosedWatch = stop
		observability.GoSafe(ctx, func() {
			select {
			case <-closed:
				logger.Warnf(ctx, "screencast session was ended by the compositor")
			case <-s.done:
			}
		})
	} else {
		logger.Debugf(ctx, "unable to watch the portal session: %v", err)
	}

	logger.Infof(ctx, "portal session %s shares %d stream(s)", sess.Path, len(streams))
	return s, nil
}

func mapErr(err error) error {
	if errors.Is(err, xdgportal.ErrCancelled) {
		return capture.ErrCancelled
	}
	return err
}

func (s *Source) Monitors(ctx context.Context) ([]capture.Monitor, error) {
	return monitorsFromStreams(s.streams), nil
}

func monitorsFromStreams(streams []xdgportal.Stream) []capture.Monitor {
	out := make([]capture.Monitor, 0, len(streams))
	for i, st := range streams {
		name := st.ID
		if name == "" {
			name = fmt.Sprintf("node-%d", st.NodeID)
		}
		origin := image.Pt(int(st.Position[0]), int(st.Position[1]))
		out = append(out, capture.Monitor{
			Index:  i,
			Name:   name,
			Bounds: image.Rectangle{Min: origin, Max: origin.Add(image.Pt(int(st.Size[0]), int(st.Size[1])))},
			NodeID: st.NodeID,
		})
	}
	return out
}

func (s *Source) Format() media.PixelFormat {
	return media.PixelFormatBGRA
}

func (s *Source) SetInterval(d time.Duration) {
	if d <= 0 {
		d = capture.DefaultInterval
	}
	s.gate.SetInterval(d)
}

func (s *Source) Start(ctx context.Context, monitor capture.Monitor, handler capture.Handler) error {
	if handler == nil {
		return fmt.Errorf("%w: nil handler", capture.ErrInvalidOptions)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return capture.ErrClosed
	}
	if s.stream != nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: capture already running", media.ErrInvalidState)
	}

	ready := make(chan struct{})
	var readyOnce sync.Once
	onSample := func(data []byte, w, h int) {
		if !s.running.Load() || !s.gate.Allow(time.Now()) {
			return
		}
		s.cbMu.Lock()
		defer s.cbMu.Unlock()
		if !s.running.Load() {
			return
		}
		readyOnce.Do(func() { close(ready) })
		frame := &media.Frame{Data: data, Width: w, Height: h, Format: media.PixelFormatBGRA, Index: s.index.Add(1) - 1}
		handler.OnFrame(ctx, frame)
	}
	onError := func(err error) {
		logger.Errorf(ctx, "portal capture of %s stopped: %v", monitor, err)
	}

	stream, err := pipewire.NewStream(s.fd, monitor.NodeID, monitor.Width(), monitor.Height(), onSample, onError)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("open pipewire stream for %s: %w", monitor, err)
	}
	s.gate.Reset()
	s.running.Store(true)
	if err := stream.Start(ctx); err != nil {
		s.running.Store(false)
		s.mu.Unlock()
		return errors.Join(err, stream.Close())
	}
	s.stream = stream
	s.mu.Unlock()

	err = capture.WaitForFirstFrame(ctx, "portal", ready, capture.DefaultFirstFrameTimeout, s.Pause)
	if err != nil {
		_ = s.Pause()
		return err
	}
	logger.Debugf(ctx, "portal capture started monitor=%s interval=%s", monitor, s.gate.Interval())
	return nil
}

// Pause stops deliveries and waits for an in-flight Handler call.
func (s *Source) Pause() error {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	s.mu.Unlock()

	s.running.Store(false)
	s.cbMu.Lock()
	s.cbMu.Unlock() // waits out a running callback

	if stream == nil {
		return nil
	}
	return stream.Close()
}

func (s *Source) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	err := s.Pause()
	close(s.done)
	if s.stopClosedWatch != nil {
		s.stopClosedWatch()
	}
	return errors.Join(err, syscall.Close(s.fd), s.sess.Close(context.Background()))
}
