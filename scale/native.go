package scale

import (
	"fmt"
	"image"
	"image/color"

	"github.com/bamiaux/rez"
	"golang.org/x/image/draw"

	"go2tv.app/screenrec/media"
)

// rez refuses to resample planes narrower than this.
const minLanczosSide = 2

// NativeEngine converts in pure Go. It accepts packed BGRA/RGBA input and
// produces BGRA, RGBA or YUV420P (BT.601, full range).
type NativeEngine struct{}

var _ Engine = NativeEngine{}

func (NativeEngine) Name() string { return "native" }

func (NativeEngine) Open(p Params) (Converter, error) {
	if !p.SrcFormat.Packed() {
		return nil, fmt.Errorf("%w: native engine cannot read %s", ErrScalerUnavailable, p.SrcFormat)
	}
	switch p.DstFormat {
	case media.PixelFormatBGRA, media.PixelFormatRGBA:
	case media.PixelFormatYUV420P:
		if p.DstWidth%2 != 0 || p.DstHeight%2 != 0 {
			return nil, fmt.Errorf("%w: %s needs even dimensions, got %dx%d", ErrScalerUnavailable, p.DstFormat, p.DstWidth, p.DstHeight)
		}
	default:
		return nil, fmt.Errorf("%w: native engine cannot write %s", ErrScalerUnavailable, p.DstFormat)
	}

	c := &nativeConverter{params: p}
	if p.SrcWidth != p.DstWidth || p.SrcHeight != p.DstHeight {
		if p.Algorithm == Lanczos && min(p.SrcWidth, p.SrcHeight, p.DstWidth, p.DstHeight) < minLanczosSide {
			return nil, fmt.Errorf("%w: lanczos needs at least %dpx per side, got %dx%d to %dx%d",
				ErrScalerUnavailable, minLanczosSide, p.SrcWidth, p.SrcHeight, p.DstWidth, p.DstHeight)
		}
		c.resized = image.NewRGBA(image.Rect(0, 0, p.DstWidth, p.DstHeight))
	}
	return c, nil
}

type nativeConverter struct {
	params  Params
	resized *image.RGBA
}

func (c *nativeConverter) Convert(src, dst *media.Frame) error {
	// Channel order is irrelevant to resampling, so BGRA is resized as if it
	// were RGBA and reordered afterwards.
	img := packedImage(src.Data, src.Width, src.Height)
	if c.resized != nil {
		if err := resize(c.resized, img, c.params.Algorithm); err != nil {
			return err
		}
		img = c.resized
	}

	swapRB := c.params.SrcFormat != c.params.DstFormat
	switch c.params.DstFormat {
	case media.PixelFormatYUV420P:
		packedToYUV420P(dst, img, c.params.SrcFormat == media.PixelFormatBGRA)
	default:
		copyPacked(dst.Data, img, swapRB)
	}
	return nil
}

func (c *nativeConverter) Close() error {
	c.resized = nil
	return nil
}

func packedImage(data []byte, width, height int) *image.RGBA {
	return &image.RGBA{
		Pix:    data[:width*height*4],
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
}

func resize(dst, src *image.RGBA, algo Algorithm) error {
	var interp draw.Interpolator
	switch algo {
	case Lanczos:
		if err := rez.Convert(dst, src, rez.NewLanczosFilter(3)); err != nil {
			return fmt.Errorf("lanczos resize: %w", err)
		}
		return nil
	case Bicubic:
		interp = draw.CatmullRom
	case Bilinear:
		interp = draw.BiLinear
	default:
		interp = draw.NearestNeighbor
	}
	interp.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	return nil
}

func copyPacked(out []byte, img *image.RGBA, swapRB bool) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		dstRow := out[y*w*4 : (y+1)*w*4]
		if !swapRB {
			copy(dstRow, row)
			continue
		}
		for x := 0; x < w*4; x += 4 {
			dstRow[x+0] = row[x+2]
			dstRow[x+1] = row[x+1]
			dstRow[x+2] = row[x+0]
			dstRow[x+3] = row[x+3]
		}
	}
}

// packedToYUV420P writes luma per pixel and chroma averaged over 2x2 blocks.
func packedToYUV420P(dst *media.Frame, img *image.RGBA, bgr bool) {
	w, h := dst.Width, dst.Height
	planes := dst.Format.Planes(dst.Data, w, h)
	yPlane, uPlane, vPlane := planes[0], planes[1], planes[2]
	cw := w / 2

	pixel := func(x, y int) (uint8, uint8, uint8) {
		i := y*img.Stride + x*4
		p := img.Pix[i : i+3 : i+3]
		if bgr {
			return p[2], p[1], p[0]
		}
		return p[0], p[1], p[2]
	}

	for y := 0; y < h; y += 2 {
		for x := 0; x < w; x += 2 {
			var cbSum, crSum int
			for dy := 0; dy < 2; dy++ {
				for dx := 0; dx < 2; dx++ {
					r, g, b := pixel(x+dx, y+dy)
					yy, cb, cr := color.RGBToYCbCr(r, g, b)
					yPlane[(y+dy)*w+x+dx] = yy
					cbSum += int(cb)
					crSum += int(cr)
				}
			}
			ci := (y/2)*cw + x/2
			uPlane[ci] = uint8((cbSum + 2) / 4)
			vPlane[ci] = uint8((crSum + 2) / 4)
		}
	}
}
