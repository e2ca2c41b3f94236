// Package session runs one bounded recording: capture, scale, encode and
// write, then a terminal flush.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/facebookincubator/go-belt/tool/logger"
	"github.com/google/uuid"

	"go2tv.app/screenrec/capture"
	"go2tv.app/screenrec/encode"
	"go2tv.app/screenrec/media"
	"go2tv.app/screenrec/scale"
	"go2tv.app/screenrec/sink"
)

// Deps are the collaborators a Controller drives. Source and Codecs are
// required.
type Deps struct {
	Source capture.Source
	Codecs encode.Backend
	// Scaler defaults to scale.NativeEngine.
	Scaler scale.Engine
	// OpenSink defaults to sink.OpenFile.
	OpenSink func(path string) (sink.Sink, error)
}

type Result struct {
	SessionID    string
	Monitor      capture.Monitor
	Codec        string
	Frames       uint64
	Packets      uint64
	Bytes        uint64
	FlushPackets int
	Duration     time.Duration
	FPS          float64
}

// Controller owns a session from setup to teardown. It runs once.
type Controller struct {
	opts    Options
	deps    Deps
	id      uuid.UUID
	metrics *Metrics
	ran     atomic.Bool
}

func New(opts Options, deps Deps) *Controller {
	if deps.Scaler == nil {
		deps.Scaler = scale.NativeEngine{}
	}
	if deps.OpenSink == nil {
		deps.OpenSink = func(path string) (sink.Sink, error) {
			return sink.OpenFile(path)
		}
	}
	return &Controller{
		opts:    opts,
		deps:    deps,
		id:      uuid.New(),
		metrics: NewMetrics(),
	}
}

func (c *Controller) ID() string { return c.id.String() }

func (c *Controller) Metrics() *Metrics { return c.metrics }

func (c *Controller) State() State { return c.metrics.State() }

// pipeline is the set of resources opened during setup.
type pipeline struct {
	enc    *encode.Encoder
	scaler *scale.Scaler
	out    sink.Sink
	writer *packetWriter
}

// close releases the encoder, the scaler and the sink in that order.
func (p *pipeline) close() error {
	var errs []error
	if p.enc != nil {
		if err := p.enc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close encoder: %w", err))
		}
	}
	if p.scaler != nil {
		if err := p.scaler.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close scaler: %w", err))
		}
	}
	if p.out != nil {
		if err := p.out.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close sink: %w", err))
		}
	}
	return errors.Join(errs...)
}

// abort undoes a partial setup and removes a created output file.
func (p *pipeline) abort() error {
	err := p.close()
	if r, ok := p.out.(interface{ Remove() error }); ok {
		err = errors.Join(err, r.Remove())
	}
	return err
}

// Run records until the duration passes, ctx is cancelled or the pipeline
// fails. Cancelling ctx is a normal stop: the stream is still flushed.
func (c *Controller) Run(ctx context.Context) (Result, error) {
	result := Result{SessionID: c.ID()}
	if !c.ran.CompareAndSwap(false, true) {
		return result, fmt.Errorf("%w: session %s already ran", media.ErrInvalidState, c.id)
	}
	ctx = logger.CtxWithLogger(ctx, logger.FromCtx(ctx).WithField("session_id", c.ID()))
	c.metrics.setState(StateIdle)
	defer c.metrics.setState(StateClosed)

	opts, err := c.opts.normalize()
	if err != nil {
		return result, err
	}
	if c.deps.Source == nil || c.deps.Codecs == nil {
		return result, fmt.Errorf("%w: source and codec backend are required", ErrInvalidOptions)
	}

	monitor, err := c.pickMonitor(ctx, opts.MonitorIndex)
	if err != nil {
		return result, err
	}
	result.Monitor = monitor

	p, err := c.setup(ctx, opts, monitor)
	if err != nil {
		return result, err
	}
	result.Codec = p.enc.Config().Codec

	pacer := NewPacer(opts.FPS)
	c.deps.Source.SetInterval(pacer.Interval())
	h := &frameHandler{
		scaler:  p.scaler,
		enc:     p.enc,
		pacer:   pacer,
		metrics: c.metrics,
		fatal:   make(chan struct{}),
	}

	c.metrics.setState(StateCapturing)
	startedAt := time.Now()
	if err := c.deps.Source.Start(ctx, monitor, h); err != nil {
		return result, errors.Join(fmt.Errorf("start capture of %s: %w", monitor, err), p.abort())
	}
	logger.Infof(ctx, "recording %s at %d fps for %s into %q", monitor, opts.FPS, opts.Duration, opts.OutputPath)

	c.wait(ctx, opts.Duration, h)

	teardownCtx := context.WithoutCancel(ctx)
	pauseErr := c.deps.Source.Pause()
	h.stop.Store(true)
	c.metrics.setState(StateDraining)
	result.Duration = time.Since(startedAt)

	fatal := h.err()
	var flushErr error
	if !errors.Is(fatal, encode.ErrEncodeFailed) {
		h.mu.Lock()
		result.FlushPackets, flushErr = p.enc.Flush(teardownCtx)
		h.mu.Unlock()
		if flushErr != nil {
			flushErr = fmt.Errorf("flush: %w", flushErr)
		}
	}
	writeErr := p.enc.WriteErr()
	closeErr := p.close()

	stats := p.enc.Stats()
	result.Frames = pacer.Frames()
	result.Packets = p.writer.packets.Load()
	result.Bytes = p.writer.bytes.Load()
	result.FPS = pacer.FPS()
	logger.Infof(ctx, "recorded %d frames into %d packets (%s) in %s, %.1f fps measured; %d packets from flush",
		result.Frames, stats.Packets, humanize.IBytes(result.Bytes), result.Duration.Round(time.Millisecond), result.FPS, result.FlushPackets)

	if fatal != nil && errors.Is(fatal, writeErr) {
		writeErr = nil
	}
	if pauseErr != nil {
		pauseErr = fmt.Errorf("pause capture: %w", pauseErr)
	}
	return result, errors.Join(fatal, pauseErr, flushErr, writeErr, closeErr)
}

func (c *Controller) pickMonitor(ctx context.Context, index int) (capture.Monitor, error) {
	monitors, err := c.deps.Source.Monitors(ctx)
	if err != nil {
		return capture.Monitor{}, fmt.Errorf("list monitors: %w", err)
	}
	if index >= len(monitors) {
		return capture.Monitor{}, fmt.Errorf("%w: monitor %d out of range (%d available)", ErrInvalidOptions, index, len(monitors))
	}
	return monitors[index], nil
}

// setup opens the encoder, the scaler and the sink. On failure everything
// already opened is released before returning.
func (c *Controller) setup(ctx context.Context, opts Options, monitor capture.Monitor) (_ *pipeline, _err error) {
	p := &pipeline{writer: &packetWriter{metrics: c.metrics}}
	defer func() {
		if _err != nil {
			if err := p.abort(); err != nil {
				logger.Warnf(ctx, "teardown after failed setup: %v", err)
			}
		}
	}()

	p.enc = encode.New(c.deps.Codecs, p.writer)
	if err := p.enc.Open(ctx, opts.Encoder); err != nil {
		return nil, fmt.Errorf("open encoder: %w", err)
	}
	cfg := p.enc.Config()

	p.scaler = scale.New(c.deps.Scaler)
	err := p.scaler.Open(scale.Params{
		SrcWidth:  monitor.Width(),
		SrcHeight: monitor.Height(),
		SrcFormat: c.deps.Source.Format(),
		DstWidth:  cfg.Width,
		DstHeight: cfg.Height,
		DstFormat: cfg.PixelFormat,
		Algorithm: opts.Algorithm,
	})
	if err != nil {
		return nil, fmt.Errorf("open scaler: %w", err)
	}

	if opts.OutputPath == "" {
		p.out = sink.Discard()
	} else {
		out, err := c.deps.OpenSink(opts.OutputPath)
		if err != nil {
			return nil, fmt.Errorf("open output: %w", err)
		}
		p.out = out
	}
	p.writer.out = p.out
	return p, nil
}

func (c *Controller) wait(ctx context.Context, d time.Duration, h *frameHandler) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		logger.Debugf(ctx, "session duration %s reached", d)
	case <-ctx.Done():
		logger.Infof(ctx, "session stopped early: %v", context.Cause(ctx))
	case <-h.fatal:
		logger.Errorf(ctx, "session aborted: %v", h.err())
	}
}

// frameHandler is the capture callback. Frames are processed one at a time
// under mu; once stop is set every frame is dropped.
type frameHandler struct {
	mu   sync.Mutex
	stop atomic.Bool

	scaler  *scale.Scaler
	enc     *encode.Encoder
	pacer   *Pacer
	metrics *Metrics

	fatalOnce sync.Once
	fatal     chan struct{}
	fatalErr  atomic.Pointer[error]
}

var _ capture.Handler = (*frameHandler)(nil)

func (h *frameHandler) OnFrame(ctx context.Context, frame *media.Frame) {
	h.metrics.FramesCaptured.Add(1)
	if h.stop.Load() {
		h.metrics.FramesDropped.Add(1)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stop.Load() {
		h.metrics.FramesDropped.Add(1)
		return
	}

	scaled, err := h.scaler.Convert(frame)
	if err != nil {
		h.fail(ctx, fmt.Errorf("scale frame %d: %w", frame.Index, err))
		return
	}
	if err := h.enc.Submit(ctx, scaled); err != nil {
		h.fail(ctx, err)
		return
	}
	n := h.pacer.Tick()
	h.metrics.FramesEncoded.Add(1)
	logger.Tracef(ctx, "capture frame %d encoded, %d so far", frame.Index, n)

	if err := h.enc.WriteErr(); err != nil {
		h.fail(ctx, err)
	}
}

// fail records the first fatal error and ends the session.
func (h *frameHandler) fail(ctx context.Context, err error) {
	h.fatalOnce.Do(func() {
		h.fatalErr.Store(&err)
		h.stop.Store(true)
		close(h.fatal)
		logger.Errorf(ctx, "pipeline failure: %v", err)
	})
}

func (h *frameHandler) err() error {
	if p := h.fatalErr.Load(); p != nil {
		return *p
	}
	return nil
}

// packetWriter forwards packets to the sink and counts what was written.
type packetWriter struct {
	out     sink.Sink
	metrics *Metrics
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func (w *packetWriter) WritePacket(pkt *media.Packet) error {
	if w.out == nil {
		return fmt.Errorf("%w: no sink", sink.ErrSinkWriteFailed)
	}
	if err := w.out.WritePacket(pkt); err != nil {
		return err
	}
	w.packets.Add(1)
	w.bytes.Add(uint64(pkt.Size()))
	w.metrics.Packets.Add(1)
	w.metrics.Bytes.Add(uint64(pkt.Size()))
	return nil
}
