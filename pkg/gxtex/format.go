// Package gxtex converts VTF textures into the tiled GX texture formats used on the console.
//
// Every GX format stores texels in fixed-size tiles laid out row-major, so an image is padded
// up to a whole number of tiles. CMPR tiles are 8x8 and hold four DXT1 sub-blocks with
// big-endian colors and reversed index order.
package gxtex

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat is returned for source formats without a decoder.
var ErrUnsupportedFormat = errors.New("unsupported texture format")

// Format is a GX texture format code.
type Format uint8

// GX texture formats.
const (
	FormatI8    Format = 0x1
	FormatIA8   Format = 0x3
	FormatRGBA8 Format = 0x6
	FormatCMPR  Format = 0xe
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatI8:
		return "I8"
	case FormatIA8:
		return "IA8"
	case FormatRGBA8:
		return "RGBA8"
	case FormatCMPR:
		return "CMPR"
	}
	return fmt.Sprintf("Format(0x%x)", uint8(f))
}

// Tile returns the tile dimensions and encoded tile size in bytes.
func (f Format) Tile() (w, h, size int) {
	switch f {
	case FormatI8:
		return 8, 4, 32
	case FormatIA8:
		return 4, 4, 32
	case FormatRGBA8:
		return 4, 4, 64
	case FormatCMPR:
		return 8, 8, 32
	}
	panic(fmt.Sprintf("gxtex: unknown format %s", f))
}

// EncodedSize returns the byte size of a w x h image, padded to whole tiles.
func (f Format) EncodedSize(w, h int) int {
	tw, th, size := f.Tile()
	return ((w + tw - 1) / tw) * ((h + th - 1) / th) * size
}

// Flags of a texture table entry.
const (
	FlagClampS uint8 = 0x01
	FlagClampT uint8 = 0x02
)
