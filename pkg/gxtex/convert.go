package gxtex

import (
	"fmt"
	"image"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"github.com/Faultbox/gxpack/internal/logger"
	"github.com/Faultbox/gxpack/pkg/formats"
)

// Texture is an encoded GX texture with its mips concatenated, largest first.
type Texture struct {
	Format   Format
	Width    int
	Height   int
	MipCount int
	Flags    uint8
	Data     []byte
}

// placeholder stands in for textures that cannot be converted.
func placeholder() *Texture {
	return &Texture{Format: FormatCMPR, Width: 8, Height: 8, MipCount: 1, Data: make([]byte, 32)}
}

// DestinationFormat returns the GX format a VTF format is stored in when encoded as is.
func DestinationFormat(src formats.VTFFormat) (Format, error) {
	switch src {
	case formats.VTFFormatDXT1, formats.VTFFormatDXT1OneBitAlpha, formats.VTFFormatDXT3,
		formats.VTFFormatDXT5, formats.VTFFormatRGBA16161616F:
		return FormatCMPR, nil
	case formats.VTFFormatBGR888, formats.VTFFormatBGRA8888, formats.VTFFormatBGRX8888,
		formats.VTFFormatRGB888, formats.VTFFormatRGBA8888, formats.VTFFormatABGR8888:
		return FormatRGBA8, nil
	case formats.VTFFormatI8:
		return FormatI8, nil
	case formats.VTFFormatIA88:
		return FormatIA8, nil
	}
	return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, src)
}

// TextureFlags maps VTF clamp flags to texture table flags.
func TextureFlags(v *formats.VTF) uint8 {
	var flags uint8
	s, t := v.Clamp()
	if s {
		flags |= FlagClampS
	}
	if t {
		flags |= FlagClampT
	}
	return flags
}

// Mip is one source mip level selected for packing.
type Mip struct {
	Level  int
	Width  int
	Height int

	format formats.VTFFormat
	data   []byte
	scaled *image.NRGBA
}

// Image decodes the mip.
func (m Mip) Image() (*image.NRGBA, error) {
	if m.scaled != nil {
		return m.scaled, nil
	}
	return Decode(m.format, m.Width, m.Height, m.data)
}

// LimitMips returns the mips of face 0 that fit within maxDimension, largest first. When none
// fit, the smallest mip is scaled down to fit.
func LimitMips(v *formats.VTF, maxDimension int) ([]Mip, error) {
	var mips []Mip
	for level := 0; level < v.MipCount; level++ {
		w, h := v.MipSize(level)
		if w > maxDimension || h > maxDimension {
			continue
		}
		data, err := v.MipData(level)
		if err != nil {
			return nil, err
		}
		mips = append(mips, Mip{Level: level, Width: w, Height: h, format: v.Format, data: data})
	}
	if len(mips) > 0 {
		return mips, nil
	}

	level := v.MipCount - 1
	w, h := v.MipSize(level)
	data, err := v.MipData(level)
	if err != nil {
		return nil, err
	}
	src, err := Decode(v.Format, w, h, data)
	if err != nil {
		return nil, err
	}
	sw, sh := fitWithin(w, h, maxDimension)
	dst := image.NewNRGBA(image.Rect(0, 0, sw, sh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	logger.Debug("downscaled texture",
		zap.Int("width", w), zap.Int("height", h), zap.Int("max_dimension", maxDimension))
	return []Mip{{Level: level, Width: sw, Height: sh, format: v.Format, scaled: dst}}, nil
}

func fitWithin(w, h, maxDimension int) (int, int) {
	if w >= h {
		return maxDimension, max(1, h*maxDimension/w)
	}
	return max(1, w*maxDimension/h), maxDimension
}

// Conversion selects how source textures become a GX texture.
type Conversion int

// Texture conversions.
const (
	// ConvertAsIs keeps the texture's colors in the destination format of its source format.
	ConvertAsIs Conversion = iota
	// ConvertIntensity stores the mean of the color channels as I8.
	ConvertIntensity
	// ConvertAlphaToIntensity stores the alpha channel as I8.
	ConvertAlphaToIntensity
	// ConvertComposeIntensityAlpha stores intensity from one texture and alpha from another as IA8.
	ConvertComposeIntensityAlpha
)

func (c Conversion) String() string {
	switch c {
	case ConvertAsIs:
		return "AsIs"
	case ConvertIntensity:
		return "Intensity"
	case ConvertAlphaToIntensity:
		return "AlphaToIntensity"
	case ConvertComposeIntensityAlpha:
		return "ComposeIntensityAlpha"
	}
	return fmt.Sprintf("Conversion(%d)", int(c))
}

// Request describes one texture to convert. Alpha and IntensityFromAlpha are only used by
// ConvertComposeIntensityAlpha.
type Request struct {
	Conversion         Conversion
	Texture            *formats.VTF
	Alpha              *formats.VTF
	IntensityFromAlpha bool
}

func (r Request) format() (Format, error) {
	switch r.Conversion {
	case ConvertAsIs:
		return DestinationFormat(r.Texture.Format)
	case ConvertIntensity, ConvertAlphaToIntensity:
		return FormatI8, nil
	case ConvertComposeIntensityAlpha:
		return FormatIA8, nil
	}
	return 0, fmt.Errorf("unknown conversion %s", r.Conversion)
}

// composable reports whether the two textures of a compose request can be combined texel by
// texel.
func (r Request) composable() bool {
	return r.Texture.Width == r.Alpha.Width && r.Texture.Height == r.Alpha.Height
}

// Size returns the encoded size of the converted texture without encoding it.
func (r Request) Size(maxDimension int) (int, error) {
	if r.Conversion == ConvertComposeIntensityAlpha && !r.composable() {
		return len(placeholder().Data), nil
	}
	f, err := r.format()
	if err != nil {
		return 0, err
	}
	mips, err := LimitMips(r.Texture, maxDimension)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, m := range mips {
		total += f.EncodedSize(m.Width, m.Height)
	}
	return total, nil
}

// Convert encodes the texture, keeping only mips within maxDimension.
func (r Request) Convert(maxDimension int) (*Texture, error) {
	if r.Conversion == ConvertComposeIntensityAlpha && !r.composable() {
		logger.Warn("skipping intensity/alpha composition of textures with different sizes",
			zap.Int("intensity_width", r.Texture.Width), zap.Int("intensity_height", r.Texture.Height),
			zap.Int("alpha_width", r.Alpha.Width), zap.Int("alpha_height", r.Alpha.Height))
		return placeholder(), nil
	}
	f, err := r.format()
	if err != nil {
		return nil, err
	}
	mips, err := LimitMips(r.Texture, maxDimension)
	if err != nil {
		return nil, err
	}
	var alphaMips []Mip
	if r.Conversion == ConvertComposeIntensityAlpha {
		if alphaMips, err = LimitMips(r.Alpha, maxDimension); err != nil {
			return nil, err
		}
		if len(alphaMips) != len(mips) {
			return nil, fmt.Errorf("composed textures have %d and %d mips", len(mips), len(alphaMips))
		}
	}

	tex := &Texture{
		Format:   f,
		Width:    mips[0].Width,
		Height:   mips[0].Height,
		MipCount: len(mips),
		Flags:    TextureFlags(r.Texture),
	}
	for i, m := range mips {
		var data []byte
		switch {
		case r.Conversion == ConvertAsIs && f == FormatCMPR && m.scaled == nil &&
			(m.format == formats.VTFFormatDXT1 || m.format == formats.VTFFormatDXT1OneBitAlpha):
			data, err = DXT1ToCMPR(m.Width, m.Height, m.data)
		case r.Conversion == ConvertComposeIntensityAlpha:
			data, err = composeMip(m, alphaMips[i], r.IntensityFromAlpha)
		default:
			data, err = encodeMip(m, r.Conversion, f)
		}
		if err != nil {
			return nil, fmt.Errorf("mip %d: %w", m.Level, err)
		}
		tex.Data = append(tex.Data, data...)
	}
	return tex, nil
}

func encodeMip(m Mip, c Conversion, f Format) ([]byte, error) {
	img, err := m.Image()
	if err != nil {
		return nil, err
	}
	if c == ConvertAlphaToIntensity {
		// Broadcast alpha to the color channels.
		for i := 0; i < len(img.Pix); i += 4 {
			a := img.Pix[i+3]
			img.Pix[i], img.Pix[i+1], img.Pix[i+2] = a, a, a
		}
	}
	return Encode(img, f), nil
}

func composeMip(im, am Mip, intensityFromAlpha bool) ([]byte, error) {
	img, err := im.Image()
	if err != nil {
		return nil, err
	}
	alpha, err := am.Image()
	if err != nil {
		return nil, err
	}
	if img.Rect.Size() != alpha.Rect.Size() {
		return nil, fmt.Errorf("mip sizes %v and %v differ", img.Rect.Size(), alpha.Rect.Size())
	}
	for i := 0; i < len(img.Pix); i += 4 {
		if intensityFromAlpha {
			a := img.Pix[i+3]
			img.Pix[i], img.Pix[i+1], img.Pix[i+2] = a, a, a
		}
		img.Pix[i+3] = alpha.Pix[i+3]
	}
	return Encode(img, FormatIA8), nil
}
