package libav

import (
	"fmt"
	"sync"

	"github.com/asticode/go-astiav"
	"github.com/asticode/go-astikit"

	"go2tv.app/screenrec/media"
	"go2tv.app/screenrec/scale"
)

// ScaleEngine converts frames with libswscale.
type ScaleEngine struct{}

var _ scale.Engine = ScaleEngine{}

func (ScaleEngine) Name() string { return "libav" }

func swsFlags(a scale.Algorithm) astiav.SoftwareScaleContextFlags {
	switch a {
	case scale.Bicubic:
		return astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBicubic)
	case scale.Bilinear:
		return astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear)
	case scale.Nearest:
		return astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagPoint)
	default:
		return astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagLanczos)
	}
}

func (ScaleEngine) Open(p scale.Params) (_ scale.Converter, _err error) {
	srcFmt, ok := pixelFormat(p.SrcFormat)
	if !ok {
		return nil, fmt.Errorf("%w: source format %s", scale.ErrScalerUnavailable, p.SrcFormat)
	}
	dstFmt, ok := pixelFormat(p.DstFormat)
	if !ok {
		return nil, fmt.Errorf("%w: destination format %s", scale.ErrScalerUnavailable, p.DstFormat)
	}

	c := &swsConverter{closer: astikit.NewCloser(), params: p}
	defer func() {
		if _err != nil {
			_ = c.closer.Close()
		}
	}()

	ssc, err := astiav.CreateSoftwareScaleContext(
		p.SrcWidth, p.SrcHeight, srcFmt,
		p.DstWidth, p.DstHeight, dstFmt,
		swsFlags(p.Algorithm),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", scale.ErrScalerUnavailable, p, err)
	}
	c.ssc = ssc
	c.closer.Add(ssc.Free)

	if c.src, err = allocFrame(c.closer, p.SrcWidth, p.SrcHeight, srcFmt); err != nil {
		return nil, err
	}
	if c.dst, err = allocFrame(c.closer, p.DstWidth, p.DstHeight, dstFmt); err != nil {
		return nil, err
	}
	return c, nil
}

func allocFrame(closer *astikit.Closer, w, h int, pf astiav.PixelFormat) (*astiav.Frame, error) {
	f := astiav.AllocFrame()
	if f == nil {
		return nil, fmt.Errorf("%w: frame", scale.ErrScalerUnavailable)
	}
	closer.Add(f.Free)
	f.SetWidth(w)
	f.SetHeight(h)
	f.SetPixelFormat(pf)
	if err := f.AllocBuffer(1); err != nil {
		return nil, fmt.Errorf("%w: frame buffer %dx%d: %w", scale.ErrScalerUnavailable, w, h, err)
	}
	return f, nil
}

type swsConverter struct {
	params scale.Params
	closer *astikit.Closer
	ssc    *astiav.SoftwareScaleContext
	src    *astiav.Frame
	dst    *astiav.Frame

	closeOnce sync.Once
	closeErr  error
}

func (c *swsConverter) Convert(src, dst *media.Frame) error {
	if err := loadFrame(c.src, src.Data); err != nil {
		return fmt.Errorf("load source frame: %w", err)
	}
	if err := c.ssc.ScaleFrame(c.src, c.dst); err != nil {
		return fmt.Errorf("scale frame %d: %w", src.Index, err)
	}
	if _, err := c.dst.ImageCopyToBuffer(dst.Data, 1); err != nil {
		return fmt.Errorf("copy scaled frame %d: %w", src.Index, err)
	}
	return nil
}

func (c *swsConverter) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.closer.Close()
	})
	return c.closeErr
}
