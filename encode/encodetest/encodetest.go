// Package encodetest provides an in-memory codec for exercising code built on
// package encode without libavcodec.
package encodetest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go2tv.app/screenrec/encode"
	"go2tv.app/screenrec/media"
)

var ErrInjected = errors.New("injected codec failure")

// Codec holds up to Depth frames before emitting packets, like an encoder
// with B-frame reordering. Each packet payload is "P<pts>;".
type Codec struct {
	Depth int
	// FailAtFrame makes the n-th SendFrame (1-based) fail. Zero disables it.
	FailAtFrame int

	mu      sync.Mutex
	cfg     encode.Config
	queue   []*media.Packet
	ready   []*media.Packet
	eof     bool
	closed  int
	sent    int
	seenPTS []int64
}

func (c *Codec) SendFrame(frame *media.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed > 0 {
		return errors.New("send on closed codec")
	}
	if c.eof {
		return encode.ErrEndOfStream
	}
	if frame == nil {
		c.eof = true
		return nil
	}
	c.sent++
	if c.FailAtFrame > 0 && c.sent == c.FailAtFrame {
		return ErrInjected
	}
	c.seenPTS = append(c.seenPTS, frame.Index)
	c.queue = append(c.queue, &media.Packet{
		Data: []byte(fmt.Sprintf("P%d;", frame.Index)),
		PTS:  frame.Index,
		Key:  c.cfg.GOPSize > 0 && frame.Index%int64(c.cfg.GOPSize) == 0,
	})
	for len(c.queue) > c.Depth {
		c.ready = append(c.ready, c.queue[0])
		c.queue = c.queue[1:]
	}
	return nil
}

func (c *Codec) ReceivePacket() (*media.Packet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case len(c.ready) > 0:
		pkt := c.ready[0]
		c.ready = c.ready[1:]
		return pkt, nil
	case c.eof && len(c.queue) > 0:
		pkt := c.queue[0]
		c.queue = c.queue[1:]
		return pkt, nil
	case c.eof:
		return nil, encode.ErrEndOfStream
	default:
		return nil, encode.ErrNeedMoreInput
	}
}

func (c *Codec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

// SeenPTS returns the presentation timestamps in the order frames arrived.
func (c *Codec) SeenPTS() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.seenPTS...)
}

func (c *Codec) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Codec) Config() encode.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Backend opens Codecs. Names listed in Unavailable fail with
// encode.ErrCodecUnavailable and names in Reject fail with the mapped error.
type Backend struct {
	Depth       int
	FailAtFrame int
	Unavailable []string
	Reject      map[string]error

	mu     sync.Mutex
	tried  []string
	codecs []*Codec
}

var _ encode.Backend = (*Backend)(nil)

func (b *Backend) Open(ctx context.Context, cfg encode.Config) (encode.Codec, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tried = append(b.tried, cfg.Codec)
	for _, name := range b.Unavailable {
		if name == cfg.Codec {
			return nil, fmt.Errorf("%w: %q", encode.ErrCodecUnavailable, cfg.Codec)
		}
	}
	if err, ok := b.Reject[cfg.Codec]; ok {
		return nil, err
	}
	c := &Codec{Depth: b.Depth, FailAtFrame: b.FailAtFrame, cfg: cfg}
	b.codecs = append(b.codecs, c)
	return c, nil
}

// Tried lists codec names in the order Open was asked for them.
func (b *Backend) Tried() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.tried...)
}

// Last returns the most recently opened codec, or nil.
func (b *Backend) Last() *Codec {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.codecs) == 0 {
		return nil
	}
	return b.codecs[len(b.codecs)-1]
}
