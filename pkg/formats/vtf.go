package formats

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// VTF format errors.
var (
	ErrInvalidVTFMagic       = errors.New("invalid VTF magic: expected 'VTF\\0'")
	ErrUnsupportedVTFVersion = errors.New("unsupported VTF version")
	ErrTruncatedVTFData      = errors.New("truncated VTF data")
	ErrUnknownVTFFormat      = errors.New("unknown VTF image format")
)

// VTFFormat is a VTF image format identifier.
type VTFFormat int32

// VTF image formats.
const (
	VTFFormatNone             VTFFormat = -1
	VTFFormatRGBA8888         VTFFormat = 0
	VTFFormatABGR8888         VTFFormat = 1
	VTFFormatRGB888           VTFFormat = 2
	VTFFormatBGR888           VTFFormat = 3
	VTFFormatRGB565           VTFFormat = 4
	VTFFormatI8               VTFFormat = 5
	VTFFormatIA88             VTFFormat = 6
	VTFFormatP8               VTFFormat = 7
	VTFFormatA8               VTFFormat = 8
	VTFFormatRGB888Bluescreen VTFFormat = 9
	VTFFormatBGR888Bluescreen VTFFormat = 10
	VTFFormatARGB8888         VTFFormat = 11
	VTFFormatBGRA8888         VTFFormat = 12
	VTFFormatDXT1             VTFFormat = 13
	VTFFormatDXT3             VTFFormat = 14
	VTFFormatDXT5             VTFFormat = 15
	VTFFormatBGRX8888         VTFFormat = 16
	VTFFormatBGR565           VTFFormat = 17
	VTFFormatBGRX5551         VTFFormat = 18
	VTFFormatBGRA4444         VTFFormat = 19
	VTFFormatDXT1OneBitAlpha  VTFFormat = 20
	VTFFormatBGRA5551         VTFFormat = 21
	VTFFormatUV88             VTFFormat = 22
	VTFFormatUVWQ8888         VTFFormat = 23
	VTFFormatRGBA16161616F    VTFFormat = 24
	VTFFormatRGBA16161616     VTFFormat = 25
	VTFFormatUVLX8888         VTFFormat = 26
)

var vtfFormatNames = map[VTFFormat]string{
	VTFFormatNone: "None", VTFFormatRGBA8888: "RGBA8888", VTFFormatABGR8888: "ABGR8888",
	VTFFormatRGB888: "RGB888", VTFFormatBGR888: "BGR888", VTFFormatRGB565: "RGB565",
	VTFFormatI8: "I8", VTFFormatIA88: "IA88", VTFFormatP8: "P8", VTFFormatA8: "A8",
	VTFFormatRGB888Bluescreen: "RGB888_BLUESCREEN", VTFFormatBGR888Bluescreen: "BGR888_BLUESCREEN",
	VTFFormatARGB8888: "ARGB8888", VTFFormatBGRA8888: "BGRA8888", VTFFormatDXT1: "DXT1",
	VTFFormatDXT3: "DXT3", VTFFormatDXT5: "DXT5", VTFFormatBGRX8888: "BGRX8888",
	VTFFormatBGR565: "BGR565", VTFFormatBGRX5551: "BGRX5551", VTFFormatBGRA4444: "BGRA4444",
	VTFFormatDXT1OneBitAlpha: "DXT1_ONEBITALPHA", VTFFormatBGRA5551: "BGRA5551",
	VTFFormatUV88: "UV88", VTFFormatUVWQ8888: "UVWQ8888", VTFFormatRGBA16161616F: "RGBA16161616F",
	VTFFormatRGBA16161616: "RGBA16161616", VTFFormatUVLX8888: "UVLX8888",
}

// String returns the format name.
func (f VTFFormat) String() string {
	if name, ok := vtfFormatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int32(f))
}

// IsBlockCompressed reports whether the format stores 4x4 texel blocks.
func (f VTFFormat) IsBlockCompressed() bool {
	return f == VTFFormatDXT1 || f == VTFFormatDXT1OneBitAlpha || f == VTFFormatDXT3 || f == VTFFormatDXT5
}

func (f VTFFormat) bytesPerPixel() (int, bool) {
	switch f {
	case VTFFormatI8, VTFFormatP8, VTFFormatA8:
		return 1, true
	case VTFFormatIA88, VTFFormatRGB565, VTFFormatBGR565, VTFFormatBGRX5551, VTFFormatBGRA4444,
		VTFFormatBGRA5551, VTFFormatUV88:
		return 2, true
	case VTFFormatRGB888, VTFFormatBGR888, VTFFormatRGB888Bluescreen, VTFFormatBGR888Bluescreen:
		return 3, true
	case VTFFormatRGBA8888, VTFFormatABGR8888, VTFFormatARGB8888, VTFFormatBGRA8888,
		VTFFormatBGRX8888, VTFFormatUVWQ8888, VTFFormatUVLX8888:
		return 4, true
	case VTFFormatRGBA16161616F, VTFFormatRGBA16161616:
		return 8, true
	}
	return 0, false
}

// ImageSize returns the byte size of one w x h image in this format.
func (f VTFFormat) ImageSize(w, h int) (int, error) {
	switch f {
	case VTFFormatDXT1, VTFFormatDXT1OneBitAlpha:
		return max(1, (w+3)/4) * max(1, (h+3)/4) * 8, nil
	case VTFFormatDXT3, VTFFormatDXT5:
		return max(1, (w+3)/4) * max(1, (h+3)/4) * 16, nil
	}
	bpp, ok := f.bytesPerPixel()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownVTFFormat, f)
	}
	return w * h * bpp, nil
}

// VTF texture flags used by the packer.
const (
	VTFFlagClampS        uint32 = 0x0004
	VTFFlagClampT        uint32 = 0x0008
	VTFFlagOneBitAlpha   uint32 = 0x1000
	VTFFlagEightBitAlpha uint32 = 0x2000
	VTFFlagEnvMap        uint32 = 0x4000
)

const (
	vtfResourceLowRes  = 0x01
	vtfResourceHighRes = 0x30
)

// VTF represents a parsed Valve Texture File.
type VTF struct {
	Version      [2]uint32
	Width        int
	Height       int
	Flags        uint32
	Frames       int
	FirstFrame   int
	Reflectivity [3]float32
	BumpScale    float32
	Format       VTFFormat
	MipCount     int
	LowResFormat VTFFormat
	LowResWidth  int
	LowResHeight int
	Depth        int
	Faces        int

	data       []byte
	mipOffsets []int // indexed by mip level, 0 = largest
}

// MipSize returns the dimensions of a mip level, 0 being the full-size image.
func (v *VTF) MipSize(level int) (int, int) {
	return max(1, v.Width>>level), max(1, v.Height>>level)
}

// MipData returns the image bytes of a mip level for frame 0, face 0, slice 0.
func (v *VTF) MipData(level int) ([]byte, error) {
	return v.FaceMipData(level, 0, 0)
}

// FaceMipData returns the image bytes for one mip level, frame and face.
func (v *VTF) FaceMipData(level, frame, face int) ([]byte, error) {
	if level < 0 || level >= v.MipCount {
		return nil, fmt.Errorf("mip level %d out of range [0,%d)", level, v.MipCount)
	}
	if frame < 0 || frame >= v.Frames || face < 0 || face >= v.Faces {
		return nil, fmt.Errorf("frame %d face %d out of range", frame, face)
	}
	w, h := v.MipSize(level)
	size, err := v.Format.ImageSize(w, h)
	if err != nil {
		return nil, err
	}
	start := v.mipOffsets[level] + ((frame*v.Faces+face)*v.depthAt(level))*size
	if start+size > len(v.data) {
		return nil, fmt.Errorf("%w: mip %d", ErrTruncatedVTFData, level)
	}
	return v.data[start : start+size], nil
}

// Clamp reports the S and T clamp flags.
func (v *VTF) Clamp() (s, t bool) {
	return v.Flags&VTFFlagClampS != 0, v.Flags&VTFFlagClampT != 0
}

func (v *VTF) depthAt(level int) int {
	return max(1, v.Depth>>level)
}

// ParseVTF parses a VTF file. Versions 7.0 through 7.5 are supported.
func ParseVTF(data []byte) (*VTF, error) {
	if len(data) < 64 {
		return nil, ErrTruncatedVTFData
	}
	if string(data[0:4]) != "VTF\x00" {
		return nil, ErrInvalidVTFMagic
	}

	le := binary.LittleEndian
	v := &VTF{
		Version:      [2]uint32{le.Uint32(data[4:]), le.Uint32(data[8:])},
		Width:        int(le.Uint16(data[16:])),
		Height:       int(le.Uint16(data[18:])),
		Flags:        le.Uint32(data[20:]),
		Frames:       int(le.Uint16(data[24:])),
		FirstFrame:   int(le.Uint16(data[26:])),
		BumpScale:    math.Float32frombits(le.Uint32(data[48:])),
		Format:       VTFFormat(int32(le.Uint32(data[52:]))),
		MipCount:     int(data[56]),
		LowResFormat: VTFFormat(int32(le.Uint32(data[57:]))),
		LowResWidth:  int(data[61]),
		LowResHeight: int(data[62]),
		Depth:        1,
		Faces:        1,
		data:         data,
	}
	for i := range v.Reflectivity {
		v.Reflectivity[i] = math.Float32frombits(le.Uint32(data[32+4*i:]))
	}
	if v.Version[0] != 7 || v.Version[1] > 5 {
		return nil, fmt.Errorf("%w: %d.%d", ErrUnsupportedVTFVersion, v.Version[0], v.Version[1])
	}
	headerSize := int(le.Uint32(data[12:]))
	if headerSize > len(data) {
		return nil, fmt.Errorf("%w: header size %d", ErrTruncatedVTFData, headerSize)
	}
	if v.Version[1] >= 2 && len(data) >= 65 {
		v.Depth = max(1, int(le.Uint16(data[63:])))
	}
	if v.Frames == 0 {
		v.Frames = 1
	}
	if v.MipCount == 0 {
		v.MipCount = 1
	}
	if v.Flags&VTFFlagEnvMap != 0 {
		v.Faces = 6
		if v.Version[1] < 5 && v.FirstFrame != 0xffff {
			// Older cube maps carry a trailing sphere map face.
			v.Faces = 7
		}
	}

	highResOffset := -1
	if v.Version[1] >= 3 {
		if len(data) < 80 {
			return nil, fmt.Errorf("%w: resource header", ErrTruncatedVTFData)
		}
		numResources := int(le.Uint32(data[68:]))
		if 80+numResources*8 > len(data) {
			return nil, fmt.Errorf("%w: %d resources", ErrTruncatedVTFData, numResources)
		}
		for i := 0; i < numResources; i++ {
			entry := data[80+i*8:]
			if entry[0] == vtfResourceHighRes && entry[1] == 0 && entry[2] == 0 {
				highResOffset = int(le.Uint32(entry[4:]))
			}
		}
		if highResOffset < 0 {
			return nil, fmt.Errorf("%w: no high resolution image resource", ErrTruncatedVTFData)
		}
	} else {
		highResOffset = headerSize
		if v.LowResFormat != VTFFormatNone && v.LowResWidth > 0 && v.LowResHeight > 0 {
			lowSize, err := v.LowResFormat.ImageSize(v.LowResWidth, v.LowResHeight)
			if err != nil {
				return nil, err
			}
			highResOffset += lowSize
		}
	}

	// Mips are stored smallest first, each holding every frame, face and slice.
	v.mipOffsets = make([]int, v.MipCount)
	offset := highResOffset
	for level := v.MipCount - 1; level >= 0; level-- {
		w, h := v.MipSize(level)
		size, err := v.Format.ImageSize(w, h)
		if err != nil {
			return nil, err
		}
		v.mipOffsets[level] = offset
		offset += size * v.Frames * v.Faces * v.depthAt(level)
	}
	if offset > len(data) {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncatedVTFData, offset, len(data))
	}
	return v, nil
}
