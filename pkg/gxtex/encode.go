package gxtex

import (
	"encoding/binary"
	"fmt"
	"image"
)

// texelAt returns the texel at (x, y), clamping coordinates into the image so padding tiles
// repeat the edge.
func texelAt(img *image.NRGBA, x, y int) [4]uint8 {
	b := img.Rect
	x = min(max(x, 0), b.Dx()-1)
	y = min(max(y, 0), b.Dy()-1)
	o := img.PixOffset(b.Min.X+x, b.Min.Y+y)
	return [4]uint8{img.Pix[o], img.Pix[o+1], img.Pix[o+2], img.Pix[o+3]}
}

func intensity(t [4]uint8) uint8 {
	return uint8((uint16(t[0]) + uint16(t[1]) + uint16(t[2])) / 3)
}

// Encode encodes an image in the given format.
func Encode(img *image.NRGBA, f Format) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	tw, th, size := f.Tile()
	out := make([]byte, 0, f.EncodedSize(w, h))
	var tile []byte
	for ty := 0; ty < h; ty += th {
		for tx := 0; tx < w; tx += tw {
			switch f {
			case FormatI8:
				tile = encodeI8(img, tx, ty)
			case FormatIA8:
				tile = encodeIA8(img, tx, ty)
			case FormatRGBA8:
				tile = encodeRGBA8(img, tx, ty)
			case FormatCMPR:
				tile = encodeCMPR(img, tx, ty)
			}
			if len(tile) != size {
				panic(fmt.Sprintf("gxtex: %s tile of %d bytes", f, len(tile)))
			}
			out = append(out, tile...)
		}
	}
	return out
}

func encodeI8(img *image.NRGBA, x0, y0 int) []byte {
	tile := make([]byte, 0, 32)
	for y := 0; y < 4; y++ {
		for x := 0; x < 8; x++ {
			tile = append(tile, intensity(texelAt(img, x0+x, y0+y)))
		}
	}
	return tile
}

func encodeIA8(img *image.NRGBA, x0, y0 int) []byte {
	tile := make([]byte, 0, 32)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			t := texelAt(img, x0+x, y0+y)
			tile = append(tile, t[3], intensity(t))
		}
	}
	return tile
}

// encodeRGBA8 writes the alpha/red pairs of the tile followed by its green/blue pairs.
func encodeRGBA8(img *image.NRGBA, x0, y0 int) []byte {
	tile := make([]byte, 64)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			t := texelAt(img, x0+x, y0+y)
			i := 2 * (4*y + x)
			tile[i], tile[i+1] = t[3], t[0]
			tile[32+i], tile[32+i+1] = t[1], t[2]
		}
	}
	return tile
}

func encodeCMPR(img *image.NRGBA, x0, y0 int) []byte {
	tile := make([]byte, 0, 32)
	var texels [16][4]uint8
	for sy := 0; sy < 2; sy++ {
		for sx := 0; sx < 2; sx++ {
			for i := range texels {
				texels[i] = texelAt(img, x0+4*sx+i%4, y0+4*sy+i/4)
			}
			block := encodeDXT1Block(&texels)
			tile = append(tile, permuteDXT1(block[:])...)
		}
	}
	return tile
}

// permuteDXT1 converts a little-endian DXT1 block to the CMPR sub-block layout: big-endian
// colors and, within each row byte, texel 0 in the high bits. The transform is its own inverse.
func permuteDXT1(block []byte) []byte {
	out := make([]byte, 8)
	out[0], out[1] = block[1], block[0]
	out[2], out[3] = block[3], block[2]
	for i := 4; i < 8; i++ {
		b := block[i]
		out[i] = b<<6 | (b<<2)&0x30 | (b>>2)&0x0c | b>>6
	}
	return out
}

func pack565(c [3]int) uint16 {
	r := uint16(c[0]*31+127) / 255
	g := uint16(c[1]*63+127) / 255
	b := uint16(c[2]*31+127) / 255
	return r<<11 | g<<5 | b
}

// encodeDXT1Block compresses 16 texels into an opaque four-color DXT1 block. The endpoints
// are the texels' color bounding box, inset by a sixteenth of its extent.
func encodeDXT1Block(texels *[16][4]uint8) [8]byte {
	lo := [3]int{255, 255, 255}
	hi := [3]int{0, 0, 0}
	for _, t := range texels {
		for c := 0; c < 3; c++ {
			lo[c] = min(lo[c], int(t[c]))
			hi[c] = max(hi[c], int(t[c]))
		}
	}
	for c := 0; c < 3; c++ {
		inset := (hi[c] - lo[c]) / 16
		lo[c] += inset
		hi[c] -= inset
	}

	c0, c1 := pack565(hi), pack565(lo)
	if c0 < c1 {
		c0, c1 = c1, c0
	}

	var block [8]byte
	binary.LittleEndian.PutUint16(block[0:], c0)
	binary.LittleEndian.PutUint16(block[2:], c1)
	if c0 == c1 {
		return block
	}

	p := palette(c0, c1, false)
	var bits uint32
	for i, t := range texels {
		best, bestDist := 0, -1
		for j, c := range p {
			d := 0
			for k := 0; k < 3; k++ {
				diff := int(t[k]) - int(c[k])
				d += diff * diff
			}
			if bestDist < 0 || d < bestDist {
				best, bestDist = j, d
			}
		}
		bits |= uint32(best) << (2 * i)
	}
	binary.LittleEndian.PutUint32(block[4:], bits)
	return block
}

// EncodeCMPRSubBlock compresses a 4x4 block of RGBA texels, row-major, into one 8-byte CMPR
// sub-block. Alpha is ignored.
func EncodeCMPRSubBlock(texels *[16][4]uint8) [8]byte {
	block := encodeDXT1Block(texels)
	var out [8]byte
	copy(out[:], permuteDXT1(block[:]))
	return out
}

// DXT1ToCMPR re-tiles DXT1 data into CMPR without recompressing. Sub-blocks beyond the edge of
// a small image repeat the nearest source block.
func DXT1ToCMPR(w, h int, data []byte) ([]byte, error) {
	blocksWide := max(1, (w+3)/4)
	blocksHigh := max(1, (h+3)/4)
	if len(data) < 8*blocksWide*blocksHigh {
		return nil, fmt.Errorf("DXT1 image %dx%d: need %d bytes, have %d", w, h, 8*blocksWide*blocksHigh, len(data))
	}
	out := make([]byte, 0, FormatCMPR.EncodedSize(w, h))
	for ty := 0; ty < blocksHigh; ty += 2 {
		for tx := 0; tx < blocksWide; tx += 2 {
			for sy := 0; sy < 2; sy++ {
				for sx := 0; sx < 2; sx++ {
					bx := min(tx+sx, blocksWide-1)
					by := min(ty+sy, blocksHigh-1)
					off := 8 * (by*blocksWide + bx)
					out = append(out, permuteDXT1(data[off:off+8])...)
				}
			}
		}
	}
	return out, nil
}
