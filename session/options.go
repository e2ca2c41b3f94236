package session

import (
	"errors"
	"fmt"
	"time"

	"go2tv.app/screenrec/encode"
	"go2tv.app/screenrec/media"
	"go2tv.app/screenrec/scale"
)

const (
	DefaultFPS      = 15
	DefaultDuration = 6 * time.Second
)

var ErrInvalidOptions = errors.New("invalid session options")

type Options struct {
	// OutputPath is the elementary stream file. Empty discards packets.
	OutputPath   string
	FPS          int
	Duration     time.Duration
	MonitorIndex int

	// Encoder is completed from FPS: FrameRate is always FPS/1.
	Encoder   encode.Config
	Algorithm scale.Algorithm
}

// DefaultOptions records capture_15fps.m4v from monitor 0 for six seconds.
func DefaultOptions() Options {
	return Options{
		OutputPath: OutputName(DefaultFPS),
		FPS:        DefaultFPS,
		Duration:   DefaultDuration,
		Encoder:    DefaultEncoderConfig(),
		Algorithm:  scale.Lanczos,
	}
}

func DefaultEncoderConfig() encode.Config {
	return encode.Config{
		Codec:       encode.DefaultCodec,
		BitRate:     encode.DefaultBitRate,
		Width:       encode.DefaultWidth,
		Height:      encode.DefaultHeight,
		PixelFormat: media.PixelFormatYUV420P,
		GOPSize:     encode.DefaultGOPSize,
		MaxBFrames:  encode.DefaultMaxBFrames,
	}
}

func OutputName(fps int) string {
	return fmt.Sprintf("capture_%dfps.m4v", fps)
}

func (o Options) normalize() (Options, error) {
	if o.FPS <= 0 {
		o.FPS = DefaultFPS
	}
	if o.Duration <= 0 {
		o.Duration = DefaultDuration
	}
	if o.MonitorIndex < 0 {
		return o, fmt.Errorf("%w: monitor index %d", ErrInvalidOptions, o.MonitorIndex)
	}

	def := DefaultEncoderConfig()
	if o.Encoder.Codec == "" {
		o.Encoder.Codec = def.Codec
	}
	if o.Encoder.Width <= 0 || o.Encoder.Height <= 0 {
		o.Encoder.Width, o.Encoder.Height = def.Width, def.Height
	}
	if o.Encoder.PixelFormat == media.PixelFormatUnknown {
		o.Encoder.PixelFormat = def.PixelFormat
	}
	o.Encoder.FrameRate = encode.Rational{Num: o.FPS, Den: 1}
	return o, nil
}
