package scale

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go2tv.app/screenrec/media"
)

func filledFrame(w, h int, format media.PixelFormat, r, g, b uint8) *media.Frame {
	f := media.NewFrame(w, h, format)
	for i := 0; i < len(f.Data); i += 4 {
		if format == media.PixelFormatBGRA {
			f.Data[i+0], f.Data[i+1], f.Data[i+2] = b, g, r
		} else {
			f.Data[i+0], f.Data[i+1], f.Data[i+2] = r, g, b
		}
		f.Data[i+3] = 0xff
	}
	return f
}

func gradientFrame(w, h int, format media.PixelFormat) *media.Frame {
	f := media.NewFrame(w, h, format)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := (y*w + x) * 4
			f.Data[i+0] = uint8(x * 255 / w)
			f.Data[i+1] = uint8(y * 255 / h)
			f.Data[i+2] = uint8((x + y) % 256)
			f.Data[i+3] = 0xff
		}
	}
	return f
}

func TestConvertOutputGeometry(t *testing.T) {
	type size struct{ w, h int }
	srcFormats := []media.PixelFormat{media.PixelFormatBGRA, media.PixelFormatRGBA}
	dstFormats := []media.PixelFormat{media.PixelFormatYUV420P, media.PixelFormatBGRA, media.PixelFormatRGBA}
	pairs := [][2]size{
		{{64, 48}, {32, 24}},
		{{32, 24}, {64, 48}},
		{{40, 30}, {40, 30}},
		{{50, 20}, {16, 6}},
	}
	algos := []Algorithm{Lanczos, Bicubic, Bilinear, Nearest}

	for _, sf := range srcFormats {
		for _, df := range dstFormats {
			for _, pair := range pairs {
				for _, algo := range algos {
					name := fmt.Sprintf("%s_%dx%d_to_%s_%dx%d_%s", sf, pair[0].w, pair[0].h, df, pair[1].w, pair[1].h, algo)
					t.Run(name, func(t *testing.T) {
						s := New(NativeEngine{})
						require.NoError(t, s.Open(Params{
							SrcWidth: pair[0].w, SrcHeight: pair[0].h, SrcFormat: sf,
							DstWidth: pair[1].w, DstHeight: pair[1].h, DstFormat: df,
							Algorithm: algo,
						}))
						defer s.Close()

						src := gradientFrame(pair[0].w, pair[0].h, sf)
						src.Index = 7
						dst, err := s.Convert(src)
						require.NoError(t, err)
						assert.Equal(t, pair[1].w, dst.Width)
						assert.Equal(t, pair[1].h, dst.Height)
						assert.Equal(t, df, dst.Format)
						assert.Len(t, dst.Data, df.BufferSize(pair[1].w, pair[1].h))
						assert.Equal(t, int64(7), dst.Index)
						assert.NotSame(t, &src.Data[0], &dst.Data[0])
					})
				}
			}
		}
	}
}

func TestYUVColors(t *testing.T) {
	cases := []struct {
		name    string
		r, g, b uint8
		y, u, v uint8
	}{
		{"white", 255, 255, 255, 255, 128, 128},
		{"black", 0, 0, 0, 0, 128, 128},
		{"red", 255, 0, 0, 76, 85, 255},
	}
	for _, tc := range cases {
		for _, format := range []media.PixelFormat{media.PixelFormatBGRA, media.PixelFormatRGBA} {
			t.Run(tc.name+"_"+format.String(), func(t *testing.T) {
				s := New(NativeEngine{})
				require.NoError(t, s.Open(Params{
					SrcWidth: 8, SrcHeight: 4, SrcFormat: format,
					DstWidth: 8, DstHeight: 4, DstFormat: media.PixelFormatYUV420P,
				}))
				defer s.Close()

				dst, err := s.Convert(filledFrame(8, 4, format, tc.r, tc.g, tc.b))
				require.NoError(t, err)
				planes := dst.Format.Planes(dst.Data, dst.Width, dst.Height)
				for _, y := range planes[0] {
					require.Equal(t, tc.y, y)
				}
				for _, u := range planes[1] {
					require.Equal(t, tc.u, u)
				}
				for _, v := range planes[2] {
					require.Equal(t, tc.v, v)
				}
			})
		}
	}
}

func TestPackedReorder(t *testing.T) {
	s := New(NativeEngine{})
	require.NoError(t, s.Open(Params{
		SrcWidth: 2, SrcHeight: 2, SrcFormat: media.PixelFormatBGRA,
		DstWidth: 2, DstHeight: 2, DstFormat: media.PixelFormatRGBA,
	}))
	defer s.Close()

	dst, err := s.Convert(filledFrame(2, 2, media.PixelFormatBGRA, 10, 20, 30))
	require.NoError(t, err)
	assert.Equal(t, []byte{10, 20, 30, 0xff}, dst.Data[:4])
}

func TestConvertDeterministic(t *testing.T) {
	s := New(NativeEngine{})
	require.NoError(t, s.Open(Params{
		SrcWidth: 64, SrcHeight: 48, SrcFormat: media.PixelFormatBGRA,
		DstWidth: 16, DstHeight: 12, DstFormat: media.PixelFormatYUV420P,
		Algorithm: Lanczos,
	}))
	defer s.Close()

	src := gradientFrame(64, 48, media.PixelFormatBGRA)
	a, err := s.Convert(src)
	require.NoError(t, err)
	b, err := s.Convert(src)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
}

func TestOpenUnsupported(t *testing.T) {
	cases := map[string]Params{
		"yuv source": {
			SrcWidth: 8, SrcHeight: 8, SrcFormat: media.PixelFormatYUV420P,
			DstWidth: 8, DstHeight: 8, DstFormat: media.PixelFormatBGRA,
		},
		"odd yuv destination": {
			SrcWidth: 8, SrcHeight: 8, SrcFormat: media.PixelFormatBGRA,
			DstWidth: 7, DstHeight: 8, DstFormat: media.PixelFormatYUV420P,
		},
		"zero destination": {
			SrcWidth: 8, SrcHeight: 8, SrcFormat: media.PixelFormatBGRA,
			DstWidth: 0, DstHeight: 8, DstFormat: media.PixelFormatYUV420P,
		},
		"lanczos from a single pixel": {
			SrcWidth: 1, SrcHeight: 1, SrcFormat: media.PixelFormatBGRA,
			DstWidth: 800, DstHeight: 240, DstFormat: media.PixelFormatYUV420P,
			Algorithm: Lanczos,
		},
		"lanczos to a one pixel row": {
			SrcWidth: 64, SrcHeight: 64, SrcFormat: media.PixelFormatRGBA,
			DstWidth: 64, DstHeight: 1, DstFormat: media.PixelFormatRGBA,
			Algorithm: Lanczos,
		},
		"unknown format": {
			SrcWidth: 8, SrcHeight: 8, SrcFormat: media.PixelFormatUnknown,
			DstWidth: 8, DstHeight: 8, DstFormat: media.PixelFormatYUV420P,
		},
	}
	for name, p := range cases {
		t.Run(name, func(t *testing.T) {
			err := New(NativeEngine{}).Open(p)
			require.ErrorIs(t, err, ErrScalerUnavailable)
			assert.ErrorIs(t, err, media.ErrResourceUnavailable)
		})
	}
}

func TestTinySourceWithoutLanczos(t *testing.T) {
	for _, algo := range []Algorithm{Bicubic, Bilinear, Nearest} {
		t.Run(algo.String(), func(t *testing.T) {
			s := New(NativeEngine{})
			require.NoError(t, s.Open(Params{
				SrcWidth: 1, SrcHeight: 1, SrcFormat: media.PixelFormatBGRA,
				DstWidth: 800, DstHeight: 240, DstFormat: media.PixelFormatYUV420P,
				Algorithm: algo,
			}))
			out, err := s.Convert(filledFrame(1, 1, media.PixelFormatBGRA, 10, 20, 30))
			require.NoError(t, err)
			assert.Equal(t, 800, out.Width)
			assert.Equal(t, 240, out.Height)
			assert.Len(t, out.Data, 800*240*3/2)
			require.NoError(t, s.Close())
		})
	}
}

func TestScalerLifecycle(t *testing.T) {
	s := New(NativeEngine{})
	require.NoError(t, s.Close())

	_, err := s.Convert(filledFrame(4, 4, media.PixelFormatBGRA, 0, 0, 0))
	require.ErrorIs(t, err, media.ErrInvalidState)

	p := Params{
		SrcWidth: 4, SrcHeight: 4, SrcFormat: media.PixelFormatBGRA,
		DstWidth: 2, DstHeight: 2, DstFormat: media.PixelFormatYUV420P,
		Algorithm: Bilinear,
	}
	require.NoError(t, s.Open(p))
	require.ErrorIs(t, s.Open(p), media.ErrInvalidState)
	assert.Equal(t, p, s.Params())

	_, err = s.Convert(filledFrame(8, 8, media.PixelFormatBGRA, 0, 0, 0))
	require.Error(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Convert(filledFrame(4, 4, media.PixelFormatBGRA, 0, 0, 0))
	require.ErrorIs(t, err, media.ErrInvalidState)
}

func TestParseAlgorithm(t *testing.T) {
	for _, a := range []Algorithm{Lanczos, Bicubic, Bilinear, Nearest} {
		got, err := ParseAlgorithm(a.String())
		require.NoError(t, err)
		assert.Equal(t, a, got)
	}
	got, err := ParseAlgorithm("")
	require.NoError(t, err)
	assert.Equal(t, Lanczos, got)
	_, err = ParseAlgorithm("spline")
	require.Error(t, err)
}
