package media

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrResourceUnavailable is wrapped by every "cannot create X" error so
	// callers can treat codec, scaler and sink setup failures alike.
	ErrResourceUnavailable = errors.New("resource unavailable")
	ErrInvalidState        = errors.New("invalid state")
	ErrShortBuffer         = errors.New("frame buffer too short")
)

type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatBGRA
	PixelFormatRGBA
	PixelFormatYUV420P
)

func (f PixelFormat) String() string {
	switch f {
	case PixelFormatBGRA:
		return "bgra"
	case PixelFormatRGBA:
		return "rgba"
	case PixelFormatYUV420P:
		return "yuv420p"
	default:
		return fmt.Sprintf("unknown(%d)", int(f))
	}
}

// ParsePixelFormat accepts the lowercase names produced by String, case-insensitively.
func ParsePixelFormat(s string) (PixelFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bgra":
		return PixelFormatBGRA, nil
	case "rgba":
		return PixelFormatRGBA, nil
	case "yuv420p":
		return PixelFormatYUV420P, nil
	}
	return PixelFormatUnknown, fmt.Errorf("unknown pixel format %q", s)
}

// Packed reports whether all channels share one plane.
func (f PixelFormat) Packed() bool {
	return f == PixelFormatBGRA || f == PixelFormatRGBA
}

// BufferSize returns the number of bytes a tightly packed frame of the given
// size occupies, or 0 for an unknown format.
func (f PixelFormat) BufferSize(width, height int) int {
	if width <= 0 || height <= 0 {
		return 0
	}
	switch f {
	case PixelFormatBGRA, PixelFormatRGBA:
		return width * height * 4
	case PixelFormatYUV420P:
		cw, ch := (width+1)/2, (height+1)/2
		return width*height + 2*cw*ch
	}
	return 0
}

// Planes splits a YUV420P buffer into its Y, U and V planes. Packed formats
// return the whole buffer as the single plane.
func (f PixelFormat) Planes(data []byte, width, height int) [][]byte {
	if f != PixelFormatYUV420P {
		return [][]byte{data}
	}
	ySize := width * height
	cSize := ((width + 1) / 2) * ((height + 1) / 2)
	return [][]byte{
		data[:ySize],
		data[ySize : ySize+cSize],
		data[ySize+cSize : ySize+2*cSize],
	}
}

// Frame is a raw picture. Data is tightly packed (no row padding).
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Format PixelFormat
	Index  int64
}

func NewFrame(width, height int, format PixelFormat) *Frame {
	return &Frame{
		Data:   make([]byte, format.BufferSize(width, height)),
		Width:  width,
		Height: height,
		Format: format,
	}
}

func (f *Frame) Validate() error {
	if f == nil {
		return errors.New("nil frame")
	}
	need := f.Format.BufferSize(f.Width, f.Height)
	if need == 0 {
		return fmt.Errorf("invalid frame geometry %dx%d %s", f.Width, f.Height, f.Format)
	}
	if len(f.Data) < need {
		return fmt.Errorf("%w: have %d, need %d for %dx%d %s", ErrShortBuffer, len(f.Data), need, f.Width, f.Height, f.Format)
	}
	return nil
}

// Packet is one unit of compressed bitstream. Data is owned by the packet.
type Packet struct {
	Data []byte
	PTS  int64
	DTS  int64
	Key  bool
}

func (p *Packet) Size() int {
	if p == nil {
		return 0
	}
	return len(p.Data)
}
