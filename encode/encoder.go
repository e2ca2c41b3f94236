package encode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/facebookincubator/go-belt/tool/logger"

	"go2tv.app/screenrec/media"
)

type State int32

const (
	StateClosed State = iota
	StateOpen
	StateFlushing
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateFlushing:
		return "flushing"
	case StateFinished:
		return "finished"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Stats struct {
	Frames  uint64
	Packets uint64
	Bytes   uint64
}

// Encoder drives a Codec: it stamps frames with consecutive pts values and
// hands every packet the codec produces to a PacketWriter right away.
type Encoder struct {
	backend Backend
	out     PacketWriter

	mu       sync.Mutex
	state    State
	cfg      Config
	codec    Codec
	nextPTS  int64
	failed   error
	writeErr error
	opened   bool

	frames  atomic.Uint64
	packets atomic.Uint64
	bytes   atomic.Uint64
}

// New returns a closed encoder. A nil out discards packets.
func New(backend Backend, out PacketWriter) *Encoder {
	return &Encoder{
		backend: backend,
		out:     out,
	}
}

func (e *Encoder) Open(ctx context.Context, cfg Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.opened {
		return fmt.Errorf("%w: encoder already opened (state %s)", media.ErrInvalidState, e.state)
	}
	if e.backend == nil {
		return fmt.Errorf("%w: no codec backend", ErrCodecUnavailable)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	codec, used, err := openCodec(ctx, e.backend, cfg)
	if err != nil {
		return err
	}

	e.opened = true
	e.codec = codec
	e.cfg = used
	e.state = StateOpen
	logger.Debugf(ctx, "encoder opened codec=%s size=%dx%d fmt=%s rate=%s bitrate=%d gop=%d max_b=%d",
		used.Codec, used.Width, used.Height, used.PixelFormat, used.FrameRate, used.BitRate, used.GOPSize, used.MaxBFrames)
	return nil
}

// Submit encodes one frame and drains whatever the codec has ready. The
// frame's Index is overwritten with its presentation timestamp.
func (e *Encoder) Submit(ctx context.Context, frame *media.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateOpen {
		return fmt.Errorf("%w: submit in state %s", media.ErrInvalidState, e.state)
	}
	if e.failed != nil {
		return e.failed
	}
	if err := e.checkFrame(frame); err != nil {
		return err
	}

	frame.Index = e.nextPTS
	if err := e.codec.SendFrame(frame); err != nil {
		e.failed = fmt.Errorf("%w: send frame pts=%d: %w", ErrEncodeFailed, frame.Index, err)
		return e.failed
	}
	e.nextPTS++
	e.frames.Add(1)

	if _, err := e.drain(ctx); err != nil {
		e.failed = err
		return err
	}
	return nil
}

// Flush signals end of input and drains the codec until end of stream. It
// returns the number of packets produced by the drain. The encoder accepts
// no frames afterwards.
func (e *Encoder) Flush(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateOpen {
		return 0, fmt.Errorf("%w: flush in state %s", media.ErrInvalidState, e.state)
	}
	e.state = StateFlushing
	defer func() { e.state = StateFinished }()

	if e.failed != nil {
		return 0, e.failed
	}

	if err := e.codec.SendFrame(nil); err != nil {
		e.failed = fmt.Errorf("%w: send flush: %w", ErrEncodeFailed, err)
		return 0, e.failed
	}
	n, err := e.drain(ctx)
	if err != nil {
		e.failed = err
		return n, err
	}
	logger.Debugf(ctx, "encoder flushed packets=%d", n)
	return n, nil
}

func (e *Encoder) drain(ctx context.Context) (int, error) {
	n := 0
	for {
		pkt, err := e.codec.ReceivePacket()
		switch {
		case errors.Is(err, ErrNeedMoreInput):
			if e.state == StateFlushing {
				logger.Debugf(ctx, "codec asked for more input during flush, drain ended after %d packets", n)
			}
			return n, nil
		case errors.Is(err, ErrEndOfStream):
			return n, nil
		case err != nil:
			return n, fmt.Errorf("%w: receive packet: %w", ErrEncodeFailed, err)
		case pkt == nil:
			continue
		}
		n++
		e.deliver(ctx, pkt)
	}
}

func (e *Encoder) deliver(ctx context.Context, pkt *media.Packet) {
	e.packets.Add(1)
	e.bytes.Add(uint64(len(pkt.Data)))

	if e.out == nil || e.writeErr != nil {
		return
	}
	if err := e.out.WritePacket(pkt); err != nil {
		e.writeErr = err
		logger.Errorf(ctx, "packet write failed, further packets are dropped: %v", err)
	}
}

func (e *Encoder) checkFrame(frame *media.Frame) error {
	if err := frame.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrEncodeFailed, err)
	}
	if frame.Width != e.cfg.Width || frame.Height != e.cfg.Height || frame.Format != e.cfg.PixelFormat {
		return fmt.Errorf("%w: frame %dx%d %s does not match codec %dx%d %s",
			ErrEncodeFailed, frame.Width, frame.Height, frame.Format, e.cfg.Width, e.cfg.Height, e.cfg.PixelFormat)
	}
	return nil
}

// Close releases the codec. It is safe on an encoder that was never opened
// and on repeated calls.
func (e *Encoder) Close() error {
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.codec == nil {
		return nil
	}
	err := e.codec.Close()
	e.codec = nil
	e.state = StateFinished
	return err
}

func (e *Encoder) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Config returns the configuration the codec was opened with.
func (e *Encoder) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg.clone()
}

// WriteErr returns the first PacketWriter failure, if any.
func (e *Encoder) WriteErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writeErr
}

func (e *Encoder) Stats() Stats {
	return Stats{
		Frames:  e.frames.Load(),
		Packets: e.packets.Load(),
		Bytes:   e.bytes.Load(),
	}
}
