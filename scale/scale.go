package scale

import (
	"fmt"
	"strings"
	"sync"

	"go2tv.app/screenrec/media"
)

var ErrScalerUnavailable = fmt.Errorf("%w: scaler", media.ErrResourceUnavailable)

type Algorithm int

const (
	Lanczos Algorithm = iota
	Bicubic
	Bilinear
	Nearest
)

func (a Algorithm) String() string {
	switch a {
	case Lanczos:
		return "lanczos"
	case Bicubic:
		return "bicubic"
	case Bilinear:
		return "bilinear"
	case Nearest:
		return "nearest"
	default:
		return fmt.Sprintf("algorithm(%d)", int(a))
	}
}

func ParseAlgorithm(s string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "lanczos":
		return Lanczos, nil
	case "bicubic":
		return Bicubic, nil
	case "bilinear":
		return Bilinear, nil
	case "nearest", "point":
		return Nearest, nil
	}
	return Lanczos, fmt.Errorf("unknown scaling algorithm %q", s)
}

// Params describe one conversion. They are fixed for the lifetime of a
// Scaler; a different geometry needs a new one.
type Params struct {
	SrcWidth  int
	SrcHeight int
	SrcFormat media.PixelFormat
	DstWidth  int
	DstHeight int
	DstFormat media.PixelFormat
	Algorithm Algorithm
}

func (p Params) String() string {
	return fmt.Sprintf("%dx%d %s -> %dx%d %s (%s)",
		p.SrcWidth, p.SrcHeight, p.SrcFormat, p.DstWidth, p.DstHeight, p.DstFormat, p.Algorithm)
}

func (p Params) validate() error {
	if p.SrcFormat.BufferSize(p.SrcWidth, p.SrcHeight) == 0 {
		return fmt.Errorf("%w: invalid source %dx%d %s", ErrScalerUnavailable, p.SrcWidth, p.SrcHeight, p.SrcFormat)
	}
	if p.DstFormat.BufferSize(p.DstWidth, p.DstHeight) == 0 {
		return fmt.Errorf("%w: invalid destination %dx%d %s", ErrScalerUnavailable, p.DstWidth, p.DstHeight, p.DstFormat)
	}
	return nil
}

// Engine is a conversion library. Open fails with ErrScalerUnavailable when
// it cannot perform the requested conversion.
type Engine interface {
	Name() string
	Open(p Params) (Converter, error)
}

// Converter writes the converted src into dst, both tightly packed and
// matching the Params they were opened with.
type Converter interface {
	Convert(src, dst *media.Frame) error
	Close() error
}

// Scaler owns one Converter and allocates a fresh destination frame per call.
type Scaler struct {
	engine Engine

	mu     sync.Mutex
	params Params
	conv   Converter
	opened bool
}

func New(engine Engine) *Scaler {
	return &Scaler{engine: engine}
}

func (s *Scaler) Open(p Params) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return fmt.Errorf("%w: scaler already opened", media.ErrInvalidState)
	}
	if s.engine == nil {
		return fmt.Errorf("%w: no engine", ErrScalerUnavailable)
	}
	if err := p.validate(); err != nil {
		return err
	}
	conv, err := s.engine.Open(p)
	if err != nil {
		return err
	}
	s.opened = true
	s.params = p
	s.conv = conv
	return nil
}

// Convert returns a new frame of the destination size and format. The
// source Index is carried over.
func (s *Scaler) Convert(src *media.Frame) (*media.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conv == nil {
		return nil, fmt.Errorf("%w: scaler not open", media.ErrInvalidState)
	}
	if err := src.Validate(); err != nil {
		return nil, err
	}
	if src.Width != s.params.SrcWidth || src.Height != s.params.SrcHeight || src.Format != s.params.SrcFormat {
		return nil, fmt.Errorf("source frame %dx%d %s does not match scaler %s",
			src.Width, src.Height, src.Format, s.params)
	}

	dst := media.NewFrame(s.params.DstWidth, s.params.DstHeight, s.params.DstFormat)
	dst.Index = src.Index
	if err := s.conv.Convert(src, dst); err != nil {
		return nil, fmt.Errorf("convert %s: %w", s.params, err)
	}
	return dst, nil
}

func (s *Scaler) Params() Params {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// Close is safe on a scaler that was never opened and on repeated calls.
func (s *Scaler) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conv == nil {
		return nil
	}
	err := s.conv.Close()
	s.conv = nil
	return err
}
