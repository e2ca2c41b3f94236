package encode

import (
	"fmt"

	"go2tv.app/screenrec/media"
)

const (
	DefaultCodec      = "mpeg4"
	DefaultBitRate    = 1_600_000
	DefaultWidth      = 800
	DefaultHeight     = 240
	DefaultGOPSize    = 18
	DefaultMaxBFrames = 2
)

type Rational struct {
	Num int
	Den int
}

func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

func (r Rational) Invert() Rational {
	return Rational{Num: r.Den, Den: r.Num}
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Config is fixed once the encoder is opened.
type Config struct {
	Codec       string
	BitRate     int64
	Width       int
	Height      int
	PixelFormat media.PixelFormat
	FrameRate   Rational
	GOPSize     int
	MaxBFrames  int

	// Options are codec private options (e.g. "preset").
	Options map[string]string

	// Candidates are tried in order before Codec. The first one the backend
	// opens wins; Codec is the software fallback.
	Candidates []Plan
}

// TimeBase is the inverse of the frame rate, so one pts tick is one frame.
func (c Config) TimeBase() Rational {
	return c.FrameRate.Invert()
}

func (c Config) Validate() error {
	switch {
	case c.Codec == "":
		return fmt.Errorf("%w: codec name is required", ErrConfigRejected)
	case c.Width <= 0 || c.Height <= 0:
		return fmt.Errorf("%w: invalid size %dx%d", ErrConfigRejected, c.Width, c.Height)
	case c.PixelFormat == media.PixelFormatYUV420P && (c.Width%2 != 0 || c.Height%2 != 0):
		return fmt.Errorf("%w: %s needs even dimensions, got %dx%d", ErrConfigRejected, c.PixelFormat, c.Width, c.Height)
	case c.PixelFormat.BufferSize(c.Width, c.Height) == 0:
		return fmt.Errorf("%w: unsupported pixel format %s", ErrConfigRejected, c.PixelFormat)
	case c.FrameRate.Num <= 0 || c.FrameRate.Den <= 0:
		return fmt.Errorf("%w: invalid frame rate %s", ErrConfigRejected, c.FrameRate)
	case c.BitRate < 0:
		return fmt.Errorf("%w: negative bitrate", ErrConfigRejected)
	case c.GOPSize < 0 || c.MaxBFrames < 0:
		return fmt.Errorf("%w: gop=%d max_b_frames=%d", ErrConfigRejected, c.GOPSize, c.MaxBFrames)
	}
	return nil
}

func (c Config) clone() Config {
	out := c
	if c.Options != nil {
		out.Options = make(map[string]string, len(c.Options))
		for k, v := range c.Options {
			out.Options[k] = v
		}
	}
	out.Candidates = append([]Plan(nil), c.Candidates...)
	return out
}
