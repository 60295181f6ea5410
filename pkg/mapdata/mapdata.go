// Package mapdata reads and writes the packed map blob consumed by the renderer.
//
// The blob starts with one big-endian (offset, count) u32 pair per section, in Section order.
// Offsets are from the start of the blob; counts are in elements of the section's type (bytes,
// u32 words or records). All multi-byte values are big-endian.
package mapdata

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/multierr"

	"github.com/Faultbox/gxpack/pkg/bsptree"
	"github.com/Faultbox/gxpack/pkg/bytecode"
	"github.com/Faultbox/gxpack/pkg/vis"
)

// Map data errors.
var (
	ErrTruncated = errors.New("truncated map data")
	ErrRange     = errors.New("map data index out of range")
)

// Section identifies one section of the blob.
type Section int

const (
	SectionPositions Section = iota
	SectionNormals
	SectionTextureCoords
	SectionClusterGeometryTable
	SectionClusterGeometryByteCode
	SectionClusterGeometryDisplayLists
	SectionBspNodes
	SectionBspLeaves
	SectionVisibility
	SectionTextureTable
	SectionTextureData
	SectionLightmapClusterTable
	SectionLightmapDisplacementTable
	SectionLightmapPatchTable
	SectionLightmapData
	SectionDisplacementPositions
	SectionDisplacementVertexColors
	SectionDisplacementTextureCoords
	SectionDisplacementTable
	SectionDisplacementByteCode
	SectionDisplacementDisplayLists

	NumSections
)

var sectionNames = [NumSections]string{
	"position_data",
	"normal_data",
	"texture_coord_data",
	"cluster_geometry_table",
	"cluster_geometry_byte_code",
	"cluster_geometry_display_lists",
	"bsp_nodes",
	"bsp_leaves",
	"visibility",
	"texture_table",
	"texture_data",
	"lightmap_cluster_table",
	"lightmap_displacement_table",
	"lightmap_patch_table",
	"lightmap_data",
	"displacement_position_data",
	"displacement_vertex_color_data",
	"displacement_texture_coordinate_data",
	"displacement_table",
	"displacement_byte_code",
	"displacement_display_lists",
}

func (s Section) String() string {
	if s >= 0 && s < NumSections {
		return sectionNames[s]
	}
	return fmt.Sprintf("section(%d)", int(s))
}

// HeaderSize is the size of the section directory.
const HeaderSize = int(NumSections) * 8

// alignment returns the byte alignment of a section's start.
func (s Section) alignment() int {
	switch s {
	case SectionClusterGeometryDisplayLists, SectionTextureData, SectionDisplacementDisplayLists:
		return 32
	case SectionPositions, SectionNormals, SectionTextureCoords, SectionVisibility,
		SectionLightmapData, SectionDisplacementPositions, SectionDisplacementVertexColors,
		SectionDisplacementTextureCoords:
		return 1
	}
	return 4
}

// MapData is the content of a packed map blob.
type MapData struct {
	Positions     []byte
	Normals       []byte
	TextureCoords []byte

	ClusterGeometry     []ClusterGeometry
	ClusterByteCode     []uint32
	ClusterDisplayLists []byte

	BspNodes   []BspNode
	BspLeaves  []BspLeaf
	Visibility []byte

	TextureTable []TextureTableEntry
	TextureData  []byte

	LightmapClusters      []LightmapTable
	LightmapDisplacements []DisplacementLightmap
	LightmapPatches       []LightmapPatch
	LightmapData          []byte

	DisplacementPositions     []byte
	DisplacementVertexColors  []byte
	DisplacementTextureCoords []byte
	DisplacementTable         []DisplacementRange
	DisplacementByteCode      []uint32
	DisplacementDisplayLists  []byte
}

// SectionInfo describes where a section was placed.
type SectionInfo struct {
	Section Section
	Offset  int
	Count   int
	Bytes   int
}

func encodeRecords[T any](records []T) []byte {
	if len(records) == 0 {
		return nil
	}
	var buf bytes.Buffer
	buf.Grow(len(records) * binary.Size(records[0]))
	if err := binary.Write(&buf, binary.BigEndian, records); err != nil {
		panic(fmt.Sprintf("mapdata: encoding %T: %v", records, err))
	}
	return buf.Bytes()
}

// encodedSections returns each section's bytes and element count.
func (m *MapData) encodedSections() [NumSections]struct {
	data  []byte
	count int
} {
	var out [NumSections]struct {
		data  []byte
		count int
	}
	raw := func(s Section, b []byte) {
		out[s].data, out[s].count = b, len(b)
	}
	raw(SectionPositions, m.Positions)
	raw(SectionNormals, m.Normals)
	raw(SectionTextureCoords, m.TextureCoords)
	out[SectionClusterGeometryTable].data = encodeRecords(m.ClusterGeometry)
	out[SectionClusterGeometryTable].count = len(m.ClusterGeometry)
	out[SectionClusterGeometryByteCode].data = encodeRecords(m.ClusterByteCode)
	out[SectionClusterGeometryByteCode].count = len(m.ClusterByteCode)
	raw(SectionClusterGeometryDisplayLists, m.ClusterDisplayLists)
	out[SectionBspNodes].data = encodeRecords(m.BspNodes)
	out[SectionBspNodes].count = len(m.BspNodes)
	out[SectionBspLeaves].data = encodeRecords(m.BspLeaves)
	out[SectionBspLeaves].count = len(m.BspLeaves)
	raw(SectionVisibility, m.Visibility)
	out[SectionTextureTable].data = encodeRecords(m.TextureTable)
	out[SectionTextureTable].count = len(m.TextureTable)
	raw(SectionTextureData, m.TextureData)
	out[SectionLightmapClusterTable].data = encodeRecords(m.LightmapClusters)
	out[SectionLightmapClusterTable].count = len(m.LightmapClusters)
	out[SectionLightmapDisplacementTable].data = encodeRecords(m.LightmapDisplacements)
	out[SectionLightmapDisplacementTable].count = len(m.LightmapDisplacements)
	out[SectionLightmapPatchTable].data = encodeRecords(m.LightmapPatches)
	out[SectionLightmapPatchTable].count = len(m.LightmapPatches)
	raw(SectionLightmapData, m.LightmapData)
	raw(SectionDisplacementPositions, m.DisplacementPositions)
	raw(SectionDisplacementVertexColors, m.DisplacementVertexColors)
	raw(SectionDisplacementTextureCoords, m.DisplacementTextureCoords)
	out[SectionDisplacementTable].data = encodeRecords(m.DisplacementTable)
	out[SectionDisplacementTable].count = len(m.DisplacementTable)
	out[SectionDisplacementByteCode].data = encodeRecords(m.DisplacementByteCode)
	out[SectionDisplacementByteCode].count = len(m.DisplacementByteCode)
	raw(SectionDisplacementDisplayLists, m.DisplacementDisplayLists)
	return out
}

// Encode lays out the blob and returns it with the placement of every section.
func (m *MapData) Encode() ([]byte, []SectionInfo) {
	sections := m.encodedSections()
	blob := make([]byte, HeaderSize)
	infos := make([]SectionInfo, NumSections)
	for s := Section(0); s < NumSections; s++ {
		for len(blob)%s.alignment() != 0 {
			blob = append(blob, 0)
		}
		offset := len(blob)
		blob = append(blob, sections[s].data...)
		binary.BigEndian.PutUint32(blob[s*8:], uint32(offset))
		binary.BigEndian.PutUint32(blob[s*8+4:], uint32(sections[s].count))
		infos[s] = SectionInfo{Section: s, Offset: offset, Count: sections[s].count, Bytes: len(sections[s].data)}
	}
	return blob, infos
}

// Bytes returns the encoded blob.
func (m *MapData) Bytes() []byte {
	blob, _ := m.Encode()
	return blob
}

// WriteTo writes the encoded blob to w.
func (m *MapData) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(m.Bytes())
	return int64(n), err
}

type header [NumSections][2]uint32

func readHeader(blob []byte) (header, error) {
	var h header
	if len(blob) < HeaderSize {
		return h, fmt.Errorf("%w: %d byte header", ErrTruncated, len(blob))
	}
	for s := range h {
		h[s][0] = binary.BigEndian.Uint32(blob[s*8:])
		h[s][1] = binary.BigEndian.Uint32(blob[s*8+4:])
	}
	return h, nil
}

func (h header) span(blob []byte, s Section, size int) ([]byte, error) {
	offset, count := uint64(h[s][0]), uint64(h[s][1])
	end := offset + count*uint64(size)
	if end > uint64(len(blob)) {
		return nil, fmt.Errorf("%w: %s [%d, %d) past %d bytes", ErrTruncated, s, offset, end, len(blob))
	}
	return blob[offset:end], nil
}

func decodeRecords[T any](blob []byte, h header, s Section) ([]T, error) {
	var zero T
	data, err := h.span(blob, s, binary.Size(zero))
	if err != nil || len(data) == 0 {
		return nil, err
	}
	out := make([]T, h[s][1])
	if err := binary.Read(bytes.NewReader(data), binary.BigEndian, out); err != nil {
		return nil, fmt.Errorf("%s: %w", s, err)
	}
	return out, nil
}

// Parse decodes a blob. Byte sections alias blob.
func Parse(blob []byte) (*MapData, error) {
	h, err := readHeader(blob)
	if err != nil {
		return nil, err
	}

	m := &MapData{}
	var errs error
	raw := func(s Section) []byte {
		b, err := h.span(blob, s, 1)
		errs = multierr.Append(errs, err)
		return b
	}
	m.Positions = raw(SectionPositions)
	m.Normals = raw(SectionNormals)
	m.TextureCoords = raw(SectionTextureCoords)
	m.ClusterDisplayLists = raw(SectionClusterGeometryDisplayLists)
	m.Visibility = raw(SectionVisibility)
	m.TextureData = raw(SectionTextureData)
	m.LightmapData = raw(SectionLightmapData)
	m.DisplacementPositions = raw(SectionDisplacementPositions)
	m.DisplacementVertexColors = raw(SectionDisplacementVertexColors)
	m.DisplacementTextureCoords = raw(SectionDisplacementTextureCoords)
	m.DisplacementDisplayLists = raw(SectionDisplacementDisplayLists)

	m.ClusterGeometry, err = decodeRecords[ClusterGeometry](blob, h, SectionClusterGeometryTable)
	errs = multierr.Append(errs, err)
	m.ClusterByteCode, err = decodeRecords[uint32](blob, h, SectionClusterGeometryByteCode)
	errs = multierr.Append(errs, err)
	m.BspNodes, err = decodeRecords[BspNode](blob, h, SectionBspNodes)
	errs = multierr.Append(errs, err)
	m.BspLeaves, err = decodeRecords[BspLeaf](blob, h, SectionBspLeaves)
	errs = multierr.Append(errs, err)
	m.TextureTable, err = decodeRecords[TextureTableEntry](blob, h, SectionTextureTable)
	errs = multierr.Append(errs, err)
	m.LightmapClusters, err = decodeRecords[LightmapTable](blob, h, SectionLightmapClusterTable)
	errs = multierr.Append(errs, err)
	m.LightmapDisplacements, err = decodeRecords[DisplacementLightmap](blob, h, SectionLightmapDisplacementTable)
	errs = multierr.Append(errs, err)
	m.LightmapPatches, err = decodeRecords[LightmapPatch](blob, h, SectionLightmapPatchTable)
	errs = multierr.Append(errs, err)
	m.DisplacementTable, err = decodeRecords[DisplacementRange](blob, h, SectionDisplacementTable)
	errs = multierr.Append(errs, err)
	m.DisplacementByteCode, err = decodeRecords[uint32](blob, h, SectionDisplacementByteCode)
	errs = multierr.Append(errs, err)

	if errs != nil {
		return nil, errs
	}
	return m, nil
}

// Sections returns the placement each section gets when the blob is encoded.
func (m *MapData) Sections() []SectionInfo {
	_, infos := m.Encode()
	return infos
}

// NumClusters returns the number of visibility clusters.
func (m *MapData) NumClusters() int {
	return len(m.ClusterGeometry)
}

// VisibleClusters decodes the clusters visible from cluster.
func (m *MapData) VisibleClusters(cluster int) ([]int, error) {
	table, err := vis.ParseTable(m.Visibility)
	if err != nil {
		return nil, err
	}
	return table.Visible(cluster)
}

// Tree returns the BSP tree of the blob.
func (m *MapData) Tree() *bsptree.Tree {
	t := &bsptree.Tree{
		Nodes:  make([]bsptree.Node, len(m.BspNodes)),
		Leaves: make([]bsptree.Leaf, len(m.BspLeaves)),
	}
	for i, n := range m.BspNodes {
		t.Nodes[i] = bsptree.Node{Plane: n.Plane, Children: n.Children}
	}
	for i, l := range m.BspLeaves {
		t.Leaves[i] = bsptree.Leaf{Cluster: l.Cluster}
	}
	return t
}

// Locate resolves a point to its leaf index and cluster. The tree is validated first so that a
// corrupt blob is reported instead of panicking.
func (m *MapData) Locate(p mgl32.Vec3) (leaf, cluster int, err error) {
	t := m.Tree()
	if err := t.Validate(); err != nil {
		return 0, 0, err
	}
	leaf = t.LeafIndex(p)
	cluster, err = t.Cluster(p)
	return leaf, cluster, err
}

// ClusterOps decodes the bytecode of one cluster and pass mode.
func (m *MapData) ClusterOps(cluster, mode int) ([]bytecode.Op, error) {
	if cluster < 0 || cluster >= len(m.ClusterGeometry) {
		return nil, fmt.Errorf("%w: cluster %d of %d", ErrRange, cluster, len(m.ClusterGeometry))
	}
	if mode < 0 || mode >= PassModes {
		return nil, fmt.Errorf("%w: pass mode %d", ErrRange, mode)
	}
	r := m.ClusterGeometry[cluster].Ranges[mode]
	return decodeRange(m.ClusterByteCode, r[0], r[1])
}

// DisplacementOps decodes the displacement bytecode of one displacement pass mode.
func (m *MapData) DisplacementOps(mode int) ([]bytecode.Op, error) {
	if mode < 0 || mode >= len(m.DisplacementTable) {
		return nil, fmt.Errorf("%w: displacement mode %d of %d", ErrRange, mode, len(m.DisplacementTable))
	}
	r := m.DisplacementTable[mode]
	return decodeRange(m.DisplacementByteCode, r.Start, r.End)
}

func decodeRange(words []uint32, start, end uint32) ([]bytecode.Op, error) {
	if start > end || int(end) > len(words) {
		return nil, fmt.Errorf("%w: bytecode [%d, %d) of %d words", ErrRange, start, end, len(words))
	}
	return bytecode.Decode(words[start:end])
}

// Texture returns the data of one mip chain of the texture table.
func (m *MapData) Texture(id int) (TextureTableEntry, []byte, error) {
	if id < 0 || id >= len(m.TextureTable) {
		return TextureTableEntry{}, nil, fmt.Errorf("%w: texture %d of %d", ErrRange, id, len(m.TextureTable))
	}
	e := m.TextureTable[id]
	if e.Start > e.End || int(e.End) > len(m.TextureData) {
		return e, nil, fmt.Errorf("%w: texture %d data [%d, %d)", ErrRange, id, e.Start, e.End)
	}
	return e, m.TextureData[e.Start:e.End], nil
}
