package gxtex

import (
	"encoding/binary"
	"fmt"
	"image"
	"math"

	"github.com/chewxy/math32"

	"github.com/Faultbox/gxpack/pkg/formats"
)

// Decode expands one VTF image to NRGBA.
func Decode(format formats.VTFFormat, w, h int, data []byte) (*image.NRGBA, error) {
	size, err := format.ImageSize(w, h)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if len(data) < size {
		return nil, fmt.Errorf("%s image %dx%d: need %d bytes, have %d", format, w, h, size, len(data))
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	switch format {
	case formats.VTFFormatDXT1, formats.VTFFormatDXT1OneBitAlpha:
		decodeBlocks(img, data, 8, func(block []byte, texels *[16][4]uint8) {
			decodeColorBlock(block, texels, true)
		})
		return img, nil
	case formats.VTFFormatDXT3:
		decodeBlocks(img, data, 16, func(block []byte, texels *[16][4]uint8) {
			decodeColorBlock(block[8:], texels, false)
			for i := range texels {
				a := block[i/2] >> (4 * (i % 2)) & 0xf
				texels[i][3] = a<<4 | a
			}
		})
		return img, nil
	case formats.VTFFormatDXT5:
		decodeBlocks(img, data, 16, func(block []byte, texels *[16][4]uint8) {
			decodeColorBlock(block[8:], texels, false)
			decodeAlphaBlock(block[:8], texels)
		})
		return img, nil
	}

	var texel func(p []byte) [4]uint8
	switch format {
	case formats.VTFFormatRGBA8888:
		texel = func(p []byte) [4]uint8 { return [4]uint8{p[0], p[1], p[2], p[3]} }
	case formats.VTFFormatABGR8888:
		texel = func(p []byte) [4]uint8 { return [4]uint8{p[3], p[2], p[1], p[0]} }
	case formats.VTFFormatRGB888:
		texel = func(p []byte) [4]uint8 { return [4]uint8{p[0], p[1], p[2], 255} }
	case formats.VTFFormatBGR888:
		texel = func(p []byte) [4]uint8 { return [4]uint8{p[2], p[1], p[0], 255} }
	case formats.VTFFormatBGRA8888:
		texel = func(p []byte) [4]uint8 { return [4]uint8{p[2], p[1], p[0], p[3]} }
	case formats.VTFFormatBGRX8888:
		texel = func(p []byte) [4]uint8 { return [4]uint8{p[2], p[1], p[0], 255} }
	case formats.VTFFormatI8:
		texel = func(p []byte) [4]uint8 { return [4]uint8{p[0], p[0], p[0], 255} }
	case formats.VTFFormatIA88:
		texel = func(p []byte) [4]uint8 { return [4]uint8{p[0], p[0], p[0], p[1]} }
	case formats.VTFFormatA8:
		texel = func(p []byte) [4]uint8 { return [4]uint8{0, 0, 0, p[0]} }
	case formats.VTFFormatRGBA16161616F:
		texel = func(p []byte) [4]uint8 {
			var out [4]uint8
			for c := range out {
				out[c] = unitToByte(halfToFloat(binary.LittleEndian.Uint16(p[2*c:])))
			}
			return out
		}
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}

	bpp := size / (w * h)
	for i := 0; i < w*h; i++ {
		t := texel(data[i*bpp:])
		copy(img.Pix[4*i:4*i+4], t[:])
	}
	return img, nil
}

func decodeBlocks(img *image.NRGBA, data []byte, blockSize int, decode func([]byte, *[16][4]uint8)) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	blocksWide := max(1, (w+3)/4)
	blocksHigh := max(1, (h+3)/4)
	var texels [16][4]uint8
	for by := 0; by < blocksHigh; by++ {
		for bx := 0; bx < blocksWide; bx++ {
			off := blockSize * (by*blocksWide + bx)
			decode(data[off:off+blockSize], &texels)
			for i, t := range texels {
				x, y := 4*bx+i%4, 4*by+i/4
				if x < w && y < h {
					copy(img.Pix[img.PixOffset(x, y):], t[:])
				}
			}
		}
	}
}

func expand565(c uint16) [4]uint8 {
	r := uint8(c>>11) & 0x1f
	g := uint8(c>>5) & 0x3f
	b := uint8(c) & 0x1f
	return [4]uint8{r<<3 | r>>2, g<<2 | g>>4, b<<3 | b>>2, 255}
}

func mix(a, b [4]uint8, wa, wb, div uint16) [4]uint8 {
	var out [4]uint8
	for i := range out {
		out[i] = uint8((wa*uint16(a[i]) + wb*uint16(b[i])) / div)
	}
	return out
}

// palette returns the four colors of a DXT1 color block. With punchThrough, a block whose
// first color is not greater than the second has three colors and transparent black.
func palette(c0, c1 uint16, punchThrough bool) [4][4]uint8 {
	a, b := expand565(c0), expand565(c1)
	if c0 > c1 || !punchThrough {
		return [4][4]uint8{a, b, mix(a, b, 2, 1, 3), mix(a, b, 1, 2, 3)}
	}
	return [4][4]uint8{a, b, mix(a, b, 1, 1, 2), {0, 0, 0, 0}}
}

func decodeColorBlock(block []byte, texels *[16][4]uint8, punchThrough bool) {
	le := binary.LittleEndian
	p := palette(le.Uint16(block), le.Uint16(block[2:]), punchThrough)
	bits := le.Uint32(block[4:])
	for i := range texels {
		texels[i] = p[bits>>(2*i)&3]
	}
}

func decodeAlphaBlock(block []byte, texels *[16][4]uint8) {
	a0, a1 := uint16(block[0]), uint16(block[1])
	var alphas [8]uint8
	alphas[0], alphas[1] = uint8(a0), uint8(a1)
	if a0 > a1 {
		for i := uint16(1); i < 7; i++ {
			alphas[i+1] = uint8(((7-i)*a0 + i*a1) / 7)
		}
	} else {
		for i := uint16(1); i < 5; i++ {
			alphas[i+1] = uint8(((5-i)*a0 + i*a1) / 5)
		}
		alphas[6], alphas[7] = 0, 255
	}
	var bits uint64
	for i := 0; i < 6; i++ {
		bits |= uint64(block[2+i]) << (8 * i)
	}
	for i := range texels {
		texels[i][3] = alphas[bits>>(3*i)&7]
	}
}

func halfToFloat(h uint16) float32 {
	sign := uint32(h>>15) << 31
	exp := uint32(h>>10) & 0x1f
	mant := uint32(h) & 0x3ff
	switch {
	case exp == 0:
		// Subnormal or zero.
		f := float32(mant) / 1024 / 16384
		if sign != 0 {
			return -f
		}
		return f
	case exp == 0x1f:
		return math.Float32frombits(sign | 0x7f800000 | mant<<13)
	}
	return math.Float32frombits(sign | (exp+112)<<23 | mant<<13)
}

func unitToByte(v float32) uint8 {
	if math32.IsNaN(v) {
		return 0
	}
	return uint8(math32.Max(0, math32.Min(1, v))*255 + 0.5)
}
