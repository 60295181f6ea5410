package formats

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
)

// BSP format errors.
var (
	ErrInvalidBSPMagic       = errors.New("invalid BSP magic: expected 'VBSP'")
	ErrUnsupportedBSPVersion = errors.New("unsupported BSP version")
	ErrTruncatedBSPData      = errors.New("truncated BSP data")
	ErrCompressedLump        = errors.New("compressed BSP lumps are not supported")
	ErrBSPIndex              = errors.New("BSP index out of range")
)

// Lump indices.
const (
	LumpEntities         = 0
	LumpPlanes           = 1
	LumpTexData          = 2
	LumpVertexes         = 3
	LumpVisibility       = 4
	LumpNodes            = 5
	LumpTexInfo          = 6
	LumpFaces            = 7
	LumpLighting         = 8
	LumpLeafs            = 10
	LumpEdges            = 12
	LumpSurfEdges        = 13
	LumpLeafFaces        = 16
	LumpDispInfo         = 26
	LumpDispVerts        = 33
	LumpPakFile          = 40
	LumpTexDataStringDat = 43
	LumpTexDataStringTab = 44
	LumpLightingHDR      = 53
	LumpFacesHDR         = 58

	numLumps      = 64
	bspHeaderSize = 8 + numLumps*16 + 4
)

// BSPLump is a lump directory entry.
type BSPLump struct {
	Offset  int32
	Length  int32
	Version int32
	FourCC  [4]byte
}

// Plane is a splitting or face plane: Normal . p == Dist.
type Plane struct {
	Normal mgl32.Vec3
	Dist   float32
	Type   int32
}

// TexData describes a texture referenced by TexInfo.
type TexData struct {
	Reflectivity      mgl32.Vec3
	NameStringTableID int32
	Width             int32
	Height            int32
	ViewWidth         int32
	ViewHeight        int32
}

// Node is an interior BSP node. A negative child is a leaf: -(leaf+1).
type Node struct {
	PlaneNum  int32
	Children  [2]int32
	Mins      [3]int16
	Maxs      [3]int16
	FirstFace uint16
	NumFaces  uint16
	Area      int16
	_         int16
}

// TexInfo maps world positions to texture and lightmap coordinates.
type TexInfo struct {
	TextureVecs  [2][4]float32
	LightmapVecs [2][4]float32
	Flags        int32
	TexData      int32
}

// Surface flags from TexInfo.Flags.
const (
	SurfLight     int32 = 0x0001
	SurfSky2D     int32 = 0x0002
	SurfSky       int32 = 0x0004
	SurfWarp      int32 = 0x0008
	SurfTrans     int32 = 0x0010
	SurfNoDraw    int32 = 0x0080
	SurfSkip      int32 = 0x0200
	SurfNoLight   int32 = 0x0400
	SurfBumpLight int32 = 0x0800
)

// Face is a polygon made of a run of surfedges.
type Face struct {
	PlaneNum                    uint16
	Side                        uint8
	OnNode                      uint8
	FirstEdge                   int32
	NumEdges                    int16
	TexInfo                     int16
	DispInfo                    int16
	SurfaceFogVolumeID          int16
	Styles                      [4]uint8
	LightOfs                    int32
	Area                        float32
	LightmapTextureMinsInLuxels [2]int32
	LightmapTextureSizeInLuxels [2]int32
	OrigFace                    int32
	NumPrims                    uint16
	FirstPrimID                 uint16
	SmoothingGroups             uint32
}

// LightStyleCount returns the number of used light styles (255 terminates the list).
func (f *Face) LightStyleCount() int {
	n := 0
	for _, s := range f.Styles {
		if s == 255 {
			break
		}
		n++
	}
	return n
}

// Leaf is a BSP leaf, normalized across the short (v20+) and long (v19) layouts.
type Leaf struct {
	Contents        int32
	Cluster         int16
	AreaFlags       int16
	Mins            [3]int16
	Maxs            [3]int16
	FirstLeafFace   uint16
	NumLeafFaces    uint16
	FirstLeafBrush  uint16
	NumLeafBrushes  uint16
	LeafWaterDataID int16
}

type shortLeaf struct {
	Leaf
	_ int16
}

type longLeaf struct {
	Leaf
	_ [24]byte // ambient light cube
	_ int16
}

// DispInfo describes a displacement surface built on a four-sided face.
type DispInfo struct {
	StartPosition               mgl32.Vec3
	DispVertStart               int32
	DispTriStart                int32
	Power                       int32
	MinTess                     int32
	SmoothingAngle              float32
	Contents                    int32
	MapFace                     uint16
	_                           uint16
	LightmapAlphaStart          int32
	LightmapSamplePositionStart int32
	EdgeNeighbors               [48]byte
	CornerNeighbors             [40]byte
	AllowedVerts                [10]uint32
}

// VertsPerSide returns the number of vertices along one edge: 2^power + 1.
func (d *DispInfo) VertsPerSide() int {
	return 1<<d.Power + 1
}

// DispVert is one displacement vertex offset.
type DispVert struct {
	Vec   mgl32.Vec3
	Dist  float32
	Alpha float32
}

// ColorRGBExp32 is a lightmap luxel with a shared exponent.
type ColorRGBExp32 struct {
	R, G, B  uint8
	Exponent int8
}

// RGB8 converts the luxel to 8-bit color at the engine's half overbright scale.
func (c ColorRGBExp32) RGB8() [3]uint8 {
	scale := math32.Exp2(float32(c.Exponent)) * 0.5
	conv := func(x uint8) uint8 {
		v := float32(x) * scale
		v = math32.Max(0, math32.Min(255, v))
		return uint8(v + 0.5)
	}
	return [3]uint8{conv(c.R), conv(c.G), conv(c.B)}
}

// SRGB8 converts the luxel to 8-bit sRGB at the same half overbright scale.
func (c ColorRGBExp32) SRGB8() [3]uint8 {
	scale := math32.Exp2(float32(c.Exponent)) * 0.5 / 255
	conv := func(x uint8) uint8 {
		l := math32.Max(0, math32.Min(1, float32(x)*scale))
		if l <= 0.0031308 {
			l *= 12.92
		} else {
			l = 1.055*math32.Pow(l, 1/2.4) - 0.055
		}
		return uint8(l*255 + 0.5)
	}
	return [3]uint8{conv(c.R), conv(c.G), conv(c.B)}
}

// BSP is a parsed Source engine map.
type BSP struct {
	Version  int32
	Revision int32
	Lumps    [numLumps]BSPLump

	Entities   string
	Planes     []Plane
	TexData    []TexData
	Vertices   []mgl32.Vec3
	Visibility []byte
	Nodes      []Node
	TexInfo    []TexInfo
	Faces      []Face
	Lighting   []byte
	Leaves     []Leaf
	Edges      [][2]uint16
	SurfEdges  []int32
	LeafFaces  []uint16
	DispInfo   []DispInfo
	DispVerts  []DispVert
	PakFile    []byte

	TexDataStringData  []byte
	TexDataStringTable []int32
}

// TexDataName returns the material name of a TexData entry.
func (b *BSP) TexDataName(texData int) (string, error) {
	if texData < 0 || texData >= len(b.TexData) {
		return "", fmt.Errorf("%w: texdata %d", ErrBSPIndex, texData)
	}
	id := int(b.TexData[texData].NameStringTableID)
	if id < 0 || id >= len(b.TexDataStringTable) {
		return "", fmt.Errorf("%w: texdata string %d", ErrBSPIndex, id)
	}
	start := int(b.TexDataStringTable[id])
	if start < 0 || start >= len(b.TexDataStringData) {
		return "", fmt.Errorf("%w: texdata string offset %d", ErrBSPIndex, start)
	}
	end := bytes.IndexByte(b.TexDataStringData[start:], 0)
	if end < 0 {
		return "", fmt.Errorf("%w: unterminated texdata string", ErrTruncatedBSPData)
	}
	return string(b.TexDataStringData[start : start+end]), nil
}

// FaceVertices resolves a face's surfedges into vertex indices, in winding order.
func (b *BSP) FaceVertices(f *Face) ([]int, error) {
	first, n := int(f.FirstEdge), int(f.NumEdges)
	if first < 0 || n < 3 || first+n > len(b.SurfEdges) {
		return nil, fmt.Errorf("%w: surfedges [%d,%d)", ErrBSPIndex, first, first+n)
	}
	out := make([]int, 0, n)
	prevLeading := -1
	for i := first; i < first+n; i++ {
		se := int(b.SurfEdges[i])
		flip := 0
		if se < 0 {
			se, flip = -se, 1
		}
		if se >= len(b.Edges) {
			return nil, fmt.Errorf("%w: edge %d", ErrBSPIndex, se)
		}
		trailing := int(b.Edges[se][flip])
		leading := int(b.Edges[se][1^flip])
		if prevLeading >= 0 && trailing != prevLeading {
			return nil, fmt.Errorf("%w: face edges do not form a loop", ErrBSPIndex)
		}
		if trailing >= len(b.Vertices) {
			return nil, fmt.Errorf("%w: vertex %d", ErrBSPIndex, trailing)
		}
		prevLeading = leading
		out = append(out, trailing)
	}
	if prevLeading != out[0] {
		return nil, fmt.Errorf("%w: face edges do not close", ErrBSPIndex)
	}
	return out, nil
}

// LeafFaceIndices returns the face indices referenced by a leaf.
func (b *BSP) LeafFaceIndices(l *Leaf) ([]uint16, error) {
	first, n := int(l.FirstLeafFace), int(l.NumLeafFaces)
	if first+n > len(b.LeafFaces) {
		return nil, fmt.Errorf("%w: leaf faces [%d,%d)", ErrBSPIndex, first, first+n)
	}
	return b.LeafFaces[first : first+n], nil
}

// Luxels returns count lightmap samples starting at byte offset ofs of the lighting lump.
func (b *BSP) Luxels(ofs, count int) ([]ColorRGBExp32, error) {
	if ofs < 0 || count < 0 || ofs+count*4 > len(b.Lighting) {
		return nil, fmt.Errorf("%w: lighting [%d,+%d)", ErrBSPIndex, ofs, count*4)
	}
	out := make([]ColorRGBExp32, count)
	for i := range out {
		d := b.Lighting[ofs+i*4:]
		out[i] = ColorRGBExp32{R: d[0], G: d[1], B: d[2], Exponent: int8(d[3])}
	}
	return out, nil
}

// NumClusters returns the number of visibility clusters, 0 if the map has no visibility.
func (b *BSP) NumClusters() int {
	if len(b.Visibility) < 4 {
		return 0
	}
	return int(int32(binary.LittleEndian.Uint32(b.Visibility)))
}

// ParseBSP parses a Source BSP (versions 19 to 21).
func ParseBSP(data []byte) (*BSP, error) {
	if len(data) < bspHeaderSize {
		return nil, fmt.Errorf("%w: header", ErrTruncatedBSPData)
	}
	if string(data[0:4]) != "VBSP" {
		return nil, ErrInvalidBSPMagic
	}

	b := &BSP{}
	r := bytes.NewReader(data[4:bspHeaderSize])
	if err := binary.Read(r, binary.LittleEndian, &b.Version); err != nil {
		return nil, fmt.Errorf("%w: version", ErrTruncatedBSPData)
	}
	if b.Version < 19 || b.Version > 21 {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedBSPVersion, b.Version)
	}
	if err := binary.Read(r, binary.LittleEndian, &b.Lumps); err != nil {
		return nil, fmt.Errorf("%w: lump directory", ErrTruncatedBSPData)
	}
	if err := binary.Read(r, binary.LittleEndian, &b.Revision); err != nil {
		return nil, fmt.Errorf("%w: revision", ErrTruncatedBSPData)
	}

	p := lumpReader{data: data, lumps: &b.Lumps}
	b.Entities = string(bytes.TrimRight(p.raw(LumpEntities), "\x00"))
	b.Visibility = p.raw(LumpVisibility)
	b.PakFile = p.raw(LumpPakFile)
	b.TexDataStringData = p.raw(LumpTexDataStringDat)

	faces, lighting := LumpFaces, LumpLighting
	if b.Lumps[LumpLighting].Length == 0 {
		// No LDR lighting; use the HDR faces and lighting instead.
		faces, lighting = LumpFacesHDR, LumpLightingHDR
	}
	b.Lighting = p.raw(lighting)

	b.Planes = readLump[Plane](&p, LumpPlanes)
	b.TexData = readLump[TexData](&p, LumpTexData)
	b.Vertices = readLump[mgl32.Vec3](&p, LumpVertexes)
	b.Nodes = readLump[Node](&p, LumpNodes)
	b.TexInfo = readLump[TexInfo](&p, LumpTexInfo)
	b.Faces = readLump[Face](&p, faces)
	b.Edges = readLump[[2]uint16](&p, LumpEdges)
	b.SurfEdges = readLump[int32](&p, LumpSurfEdges)
	b.LeafFaces = readLump[uint16](&p, LumpLeafFaces)
	b.DispInfo = readLump[DispInfo](&p, LumpDispInfo)
	b.DispVerts = readLump[DispVert](&p, LumpDispVerts)
	b.TexDataStringTable = readLump[int32](&p, LumpTexDataStringTab)

	if b.Version == 19 {
		for _, l := range readLump[longLeaf](&p, LumpLeafs) {
			b.Leaves = append(b.Leaves, l.Leaf)
		}
	} else {
		for _, l := range readLump[shortLeaf](&p, LumpLeafs) {
			b.Leaves = append(b.Leaves, l.Leaf)
		}
	}

	if p.err != nil {
		return nil, p.err
	}
	return b, nil
}

// ParseBSPFile parses a BSP file from disk.
func ParseBSPFile(path string) (*BSP, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading BSP file: %w", err)
	}
	return ParseBSP(data)
}

// lumpReader slices lumps out of the file, keeping the first error.
type lumpReader struct {
	data  []byte
	lumps *[numLumps]BSPLump
	err   error
}

func (p *lumpReader) raw(index int) []byte {
	if p.err != nil {
		return nil
	}
	l := p.lumps[index]
	if l.Length == 0 {
		return nil
	}
	start, end := int64(l.Offset), int64(l.Offset)+int64(l.Length)
	if l.Offset < 0 || l.Length < 0 || end > int64(len(p.data)) {
		p.err = fmt.Errorf("%w: lump %d [%d,%d) outside %d bytes", ErrTruncatedBSPData, index, start, end, len(p.data))
		return nil
	}
	lump := p.data[start:end]
	if len(lump) >= 4 && string(lump[:4]) == "LZMA" {
		p.err = fmt.Errorf("%w: lump %d", ErrCompressedLump, index)
		return nil
	}
	return lump
}

func readLump[T any](p *lumpReader, index int) []T {
	lump := p.raw(index)
	if p.err != nil || len(lump) == 0 {
		return nil
	}
	var zero T
	size := binary.Size(zero)
	if size <= 0 || len(lump)%size != 0 {
		p.err = fmt.Errorf("%w: lump %d length %d is not a multiple of %d", ErrTruncatedBSPData, index, len(lump), size)
		return nil
	}
	out := make([]T, len(lump)/size)
	if err := binary.Read(bytes.NewReader(lump), binary.LittleEndian, out); err != nil {
		p.err = fmt.Errorf("%w: lump %d: %v", ErrTruncatedBSPData, index, err)
		return nil
	}
	return out
}

// PlaneEquation returns the plane as (nx, ny, nz, d).
func (p Plane) PlaneEquation() [4]float32 {
	return [4]float32{p.Normal[0], p.Normal[1], p.Normal[2], p.Dist}
}

// IsFinite reports whether every component of the plane is finite.
func (p Plane) IsFinite() bool {
	for _, x := range p.PlaneEquation() {
		if math32.IsNaN(x) || math32.IsInf(x, 0) {
			return false
		}
	}
	return true
}
