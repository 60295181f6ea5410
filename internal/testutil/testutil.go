// Package testutil builds in-memory game files for tests.
package testutil

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/Faultbox/gxpack/pkg/formats"
)

// LumpBytes encodes v little-endian.
func LumpBytes(v any) []byte {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// BSP lays out the given lumps after a v20 header in index order.
func BSP(lumps map[int][]byte) []byte {
	const numLumps = 64
	const headerSize = 8 + numLumps*16 + 4

	var dir [numLumps]formats.BSPLump
	var body bytes.Buffer
	for i := 0; i < numLumps; i++ {
		data, ok := lumps[i]
		if !ok {
			continue
		}
		dir[i] = formats.BSPLump{Offset: int32(headerSize + body.Len()), Length: int32(len(data))}
		body.Write(data)
		for body.Len()%4 != 0 {
			body.WriteByte(0)
		}
	}

	buf := new(bytes.Buffer)
	buf.WriteString("VBSP")
	binary.Write(buf, binary.LittleEndian, int32(20))
	binary.Write(buf, binary.LittleEndian, dir)
	binary.Write(buf, binary.LittleEndian, int32(1))
	buf.Write(body.Bytes())
	return buf.Bytes()
}

// VTF builds a version 7.2 texture. fill returns the data of a mip level; a nil fill, or a
// short result, leaves the rest of the level zeroed.
func VTF(format formats.VTFFormat, width, height, mips int, flags uint32, fill func(level, w, h int) []byte) []byte {
	const headerSize = 80
	le := binary.LittleEndian
	header := make([]byte, headerSize)
	copy(header, "VTF\x00")
	le.PutUint32(header[4:], 7)
	le.PutUint32(header[8:], 2)
	le.PutUint32(header[12:], headerSize)
	le.PutUint16(header[16:], uint16(width))
	le.PutUint16(header[18:], uint16(height))
	le.PutUint32(header[20:], flags)
	le.PutUint16(header[24:], 1)
	le.PutUint32(header[52:], uint32(format))
	header[56] = uint8(mips)
	le.PutUint32(header[57:], 0xffffffff)
	le.PutUint16(header[63:], 1)

	var body bytes.Buffer
	for level := mips - 1; level >= 0; level-- {
		w, h := max(1, width>>level), max(1, height>>level)
		size, err := format.ImageSize(w, h)
		if err != nil {
			panic(err)
		}
		data := make([]byte, size)
		if fill != nil {
			copy(data, fill(level, w, h))
		}
		body.Write(data)
	}
	return append(header, body.Bytes()...)
}

// Zip builds a stored zip archive.
func Zip(files map[string][]byte) []byte {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range names {
		f, err := w.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		if err != nil {
			panic(err)
		}
		if _, err := f.Write(files[name]); err != nil {
			panic(err)
		}
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
