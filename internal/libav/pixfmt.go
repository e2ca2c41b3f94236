package libav

import (
	"github.com/asticode/go-astiav"

	"go2tv.app/screenrec/media"
)

func pixelFormat(f media.PixelFormat) (astiav.PixelFormat, bool) {
	switch f {
	case media.PixelFormatBGRA:
		return astiav.PixelFormatBgra, true
	case media.PixelFormatRGBA:
		return astiav.PixelFormatRgba, true
	case media.PixelFormatYUV420P:
		return astiav.PixelFormatYuv420P, true
	}
	return astiav.PixelFormatNone, false
}

// loadFrame points f at data. f must have been allocated with the matching
// geometry; libav copies out of data during the call that consumes f.
func loadFrame(f *astiav.Frame, data []byte) error {
	if err := f.MakeWritable(); err != nil {
		return err
	}
	return f.Data().SetBytes(data, 1)
}
