package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
)

// createTestVTF builds a VTF whose mip level n is filled with byte n.
func createTestVTF(minor uint32, format VTFFormat, width, height, mips int, flags uint32) []byte {
	le := binary.LittleEndian
	headerSize := 80
	if minor >= 3 {
		headerSize = 80 + 2*8
	}
	header := make([]byte, headerSize)
	copy(header, "VTF\x00")
	le.PutUint32(header[4:], 7)
	le.PutUint32(header[8:], minor)
	le.PutUint32(header[12:], uint32(headerSize))
	le.PutUint16(header[16:], uint16(width))
	le.PutUint16(header[18:], uint16(height))
	le.PutUint32(header[20:], flags)
	le.PutUint16(header[24:], 1)
	le.PutUint16(header[26:], 0)
	le.PutUint32(header[52:], uint32(format))
	header[56] = uint8(mips)
	le.PutUint32(header[57:], 0xffffffff)
	le.PutUint16(header[63:], 1)

	var body bytes.Buffer
	for level := mips - 1; level >= 0; level-- {
		w, h := max(1, width>>level), max(1, height>>level)
		size, _ := format.ImageSize(w, h)
		body.Write(bytes.Repeat([]byte{byte(level)}, size))
	}

	if minor >= 3 {
		le.PutUint32(header[68:], 2)
		// A low-res resource with no data, then the high-res image.
		header[80] = vtfResourceLowRes
		le.PutUint32(header[84:], uint32(headerSize))
		header[88] = vtfResourceHighRes
		le.PutUint32(header[92:], uint32(headerSize))
	}
	return append(header, body.Bytes()...)
}

func TestParseVTF(t *testing.T) {
	for _, minor := range []uint32{2, 3, 5} {
		data := createTestVTF(minor, VTFFormatRGBA8888, 8, 4, 4, VTFFlagClampS)
		vtf, err := ParseVTF(data)
		if err != nil {
			t.Fatalf("7.%d: ParseVTF failed: %v", minor, err)
		}
		if vtf.Width != 8 || vtf.Height != 4 || vtf.MipCount != 4 {
			t.Errorf("7.%d: got %dx%d with %d mips", minor, vtf.Width, vtf.Height, vtf.MipCount)
		}
		if s, tt := vtf.Clamp(); !s || tt {
			t.Errorf("7.%d: clamp = %v %v", minor, s, tt)
		}
		for level := 0; level < 4; level++ {
			mip, err := vtf.MipData(level)
			if err != nil {
				t.Fatalf("7.%d: MipData(%d): %v", minor, level, err)
			}
			w, h := vtf.MipSize(level)
			if len(mip) != w*h*4 {
				t.Errorf("7.%d: mip %d has %d bytes, want %d", minor, level, len(mip), w*h*4)
			}
			for _, b := range mip {
				if b != byte(level) {
					t.Fatalf("7.%d: mip %d contains byte %d", minor, level, b)
				}
			}
		}
	}
}

func TestVTFImageSize(t *testing.T) {
	tests := []struct {
		format VTFFormat
		w, h   int
		want   int
	}{
		{VTFFormatDXT1, 16, 16, 128},
		{VTFFormatDXT1, 1, 1, 8},
		{VTFFormatDXT5, 8, 4, 32},
		{VTFFormatBGR888, 4, 4, 48},
		{VTFFormatI8, 3, 3, 9},
		{VTFFormatIA88, 2, 2, 8},
	}
	for _, tt := range tests {
		got, err := tt.format.ImageSize(tt.w, tt.h)
		if err != nil || got != tt.want {
			t.Errorf("%s %dx%d: got %d, %v; want %d", tt.format, tt.w, tt.h, got, err, tt.want)
		}
	}
	if _, err := VTFFormat(99).ImageSize(4, 4); !errors.Is(err, ErrUnknownVTFFormat) {
		t.Errorf("expected ErrUnknownVTFFormat, got %v", err)
	}
}

func TestParseVTFCubeMap(t *testing.T) {
	data := createTestVTF(5, VTFFormatI8, 4, 4, 1, VTFFlagEnvMap)
	// Six faces of 16 bytes each.
	data = append(data, make([]byte, 5*16)...)
	vtf, err := ParseVTF(data)
	if err != nil {
		t.Fatal(err)
	}
	if vtf.Faces != 6 {
		t.Errorf("faces = %d", vtf.Faces)
	}
	if _, err := vtf.FaceMipData(0, 0, 5); err != nil {
		t.Errorf("face 5: %v", err)
	}
	if _, err := vtf.FaceMipData(0, 0, 6); err == nil {
		t.Error("face 6 should be out of range")
	}
}

func TestParseVTFErrors(t *testing.T) {
	valid := createTestVTF(2, VTFFormatRGBA8888, 4, 4, 1, 0)

	badMagic := bytes.Clone(valid)
	copy(badMagic, "XTF\x00")

	badVersion := bytes.Clone(valid)
	binary.LittleEndian.PutUint32(badVersion[8:], 9)

	tests := []struct {
		name string
		data []byte
		want error
	}{
		{"short", valid[:10], ErrTruncatedVTFData},
		{"magic", badMagic, ErrInvalidVTFMagic},
		{"version", badVersion, ErrUnsupportedVTFVersion},
		{"truncated body", valid[:len(valid)-1], ErrTruncatedVTFData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseVTF(tt.data); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}
