// Package libav adapts FFmpeg, through go-astiav, to the encode.Backend and
// scale.Engine interfaces.
package libav

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"
	"github.com/facebookincubator/go-belt/tool/logger"

	"go2tv.app/screenrec/encode"
	"go2tv.app/screenrec/media"
)

// Backend opens libav encoders by name, e.g. "mpeg4" or "h264_nvenc".
type Backend struct{}

var _ encode.Backend = Backend{}

func (Backend) Open(ctx context.Context, cfg encode.Config) (_ encode.Codec, _err error) {
	codec := astiav.FindEncoderByName(cfg.Codec)
	if codec == nil {
		return nil, fmt.Errorf("%w: %q not found", encode.ErrCodecUnavailable, cfg.Codec)
	}
	pixFmt, ok := pixelFormat(cfg.PixelFormat)
	if !ok {
		return nil, fmt.Errorf("%w: pixel format %s", encode.ErrConfigRejected, cfg.PixelFormat)
	}

	c := &codecContext{closer: astikit.NewCloser(), cfg: cfg}
	defer func() {
		if _err != nil {
			_ = c.closer.Close()
		}
	}()

	if c.ctx = astiav.AllocCodecContext(codec); c.ctx == nil {
		return nil, fmt.Errorf("%w: codec context for %q", encode.ErrAllocationFailed, cfg.Codec)
	}
	c.closer.Add(c.ctx.Free)

	c.ctx.SetWidth(cfg.Width)
	c.ctx.SetHeight(cfg.Height)
	c.ctx.SetPixelFormat(pixFmt)
	tb := cfg.TimeBase()
	c.ctx.SetTimeBase(astiav.NewRational(tb.Num, tb.Den))
	c.ctx.SetFramerate(astiav.NewRational(cfg.FrameRate.Num, cfg.FrameRate.Den))
	if cfg.BitRate > 0 {
		c.ctx.SetBitRate(cfg.BitRate)
	}
	c.ctx.SetGopSize(cfg.GOPSize)
	c.ctx.SetMaxBFrames(cfg.MaxBFrames)

	var dict *astiav.Dictionary
	if len(cfg.Options) > 0 {
		dict = astiav.NewDictionary()
		c.closer.Add(dict.Free)
		for k, v := range cfg.Options {
			if err := dict.Set(k, v, astiav.NewDictionaryFlags()); err != nil {
				return nil, fmt.Errorf("%w: option %s=%s: %w", encode.ErrConfigRejected, k, v, err)
			}
		}
	}
	if err := c.ctx.Open(codec, dict); err != nil {
		return nil, fmt.Errorf("%w: open %q: %w", encode.ErrConfigRejected, cfg.Codec, err)
	}

	if c.frame = astiav.AllocFrame(); c.frame == nil {
		return nil, fmt.Errorf("%w: frame", encode.ErrAllocationFailed)
	}
	c.closer.Add(c.frame.Free)
	c.frame.SetWidth(cfg.Width)
	c.frame.SetHeight(cfg.Height)
	c.frame.SetPixelFormat(pixFmt)
	if err := c.frame.AllocBuffer(0); err != nil {
		return nil, fmt.Errorf("%w: frame buffer %dx%d: %w", encode.ErrAllocationFailed, cfg.Width, cfg.Height, err)
	}

	if c.pkt = astiav.AllocPacket(); c.pkt == nil {
		return nil, fmt.Errorf("%w: packet", encode.ErrAllocationFailed)
	}
	c.closer.Add(c.pkt.Free)

	logger.Debugf(ctx, "libav encoder %s opened %dx%d %s tb=%s bitrate=%d", cfg.Codec, cfg.Width, cfg.Height, cfg.PixelFormat, tb, cfg.BitRate)
	return c, nil
}

type codecContext struct {
	cfg    encode.Config
	closer *astikit.Closer
	ctx    *astiav.CodecContext
	frame  *astiav.Frame
	pkt    *astiav.Packet

	closeOnce sync.Once
	closeErr  error
}

func (c *codecContext) SendFrame(frame *media.Frame) error {
	if frame == nil {
		if err := c.ctx.SendFrame(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
			return fmt.Errorf("%w: flush: %w", encode.ErrEncodeFailed, err)
		}
		return nil
	}
	if err := loadFrame(c.frame, frame.Data); err != nil {
		return fmt.Errorf("%w: load frame %d: %w", encode.ErrAllocationFailed, frame.Index, err)
	}
	c.frame.SetPts(frame.Index)
	if err := c.ctx.SendFrame(c.frame); err != nil {
		return fmt.Errorf("%w: send frame %d: %w", encode.ErrEncodeFailed, frame.Index, err)
	}
	return nil
}

func (c *codecContext) ReceivePacket() (*media.Packet, error) {
	err := c.ctx.ReceivePacket(c.pkt)
	switch {
	case errors.Is(err, astiav.ErrEagain):
		return nil, encode.ErrNeedMoreInput
	case errors.Is(err, astiav.ErrEof):
		return nil, encode.ErrEndOfStream
	case err != nil:
		return nil, fmt.Errorf("%w: receive packet: %w", encode.ErrEncodeFailed, err)
	}
	defer c.pkt.Unref()

	data := c.pkt.Data()
	out := &media.Packet{
		Data: make([]byte, len(data)),
		PTS:  c.pkt.Pts(),
		DTS:  c.pkt.Dts(),
		Key:  c.pkt.Flags().Has(astiav.PacketFlagKey),
	}
	copy(out.Data, data)
	return out, nil
}

func (c *codecContext) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.closer.Close()
	})
	return c.closeErr
}
