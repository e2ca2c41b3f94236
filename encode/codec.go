package encode

import (
	"context"
	"errors"
	"fmt"

	"go2tv.app/screenrec/media"
)

var (
	ErrCodecUnavailable = fmt.Errorf("%w: codec", media.ErrResourceUnavailable)
	ErrAllocationFailed = errors.New("codec buffer allocation failed")
	ErrConfigRejected   = errors.New("codec rejected configuration")
	ErrEncodeFailed     = errors.New("encode failed")

	// ErrNeedMoreInput and ErrEndOfStream are the two steady-state signals
	// of Codec.ReceivePacket. Neither is a failure.
	ErrNeedMoreInput = errors.New("codec needs more input")
	ErrEndOfStream   = errors.New("codec end of stream")
)

// Codec is an opened codec context.
type Codec interface {
	// SendFrame queues a frame. A nil frame signals end of input.
	SendFrame(frame *media.Frame) error
	// ReceivePacket returns the next ready packet, ErrNeedMoreInput or
	// ErrEndOfStream. The returned packet is owned by the caller.
	ReceivePacket() (*media.Packet, error)
	Close() error
}

// Backend creates codecs by name.
type Backend interface {
	Open(ctx context.Context, cfg Config) (Codec, error)
}

type BackendFunc func(ctx context.Context, cfg Config) (Codec, error)

func (f BackendFunc) Open(ctx context.Context, cfg Config) (Codec, error) {
	return f(ctx, cfg)
}

// PacketWriter receives packets as soon as the codec emits them.
type PacketWriter interface {
	WritePacket(pkt *media.Packet) error
}
