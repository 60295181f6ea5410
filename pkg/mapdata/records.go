package mapdata

// Texture flags of TextureTableEntry.Flags.
const (
	TextureClampS uint8 = 0x01
	TextureClampT uint8 = 0x02
)

// GX texture formats of TextureTableEntry.Format.
const (
	TextureFormatI8    uint8 = 0x1
	TextureFormatIA8   uint8 = 0x3
	TextureFormatRGBA8 uint8 = 0x6
	TextureFormatCMPR  uint8 = 0xE
)

// PassModes is the number of brush pass ranges per cluster.
const PassModes = 18

// BspNode is a packed BSP node: plane normal and distance, then two children. A negative child
// is a leaf, -(leaf+1).
type BspNode struct {
	Plane    [4]float32
	Children [2]int32
}

// BspLeaf is a packed BSP leaf. Cluster -1 marks a leaf with no visibility.
type BspLeaf struct {
	Cluster int16
	_       int16
}

// TextureTableEntry describes one packed texture. Its mips are stored largest first in
// texture data bytes [Start, End).
type TextureTableEntry struct {
	Width    uint16
	Height   uint16
	MipCount uint8
	Flags    uint8
	Format   uint8
	_        uint8
	Start    uint32
	End      uint32
}

// ClusterGeometry holds, per pass mode, the [start, end) word range of the cluster's bytecode.
type ClusterGeometry struct {
	Ranges [PassModes][2]uint32
}

// LightmapTable locates one lightmap atlas and its patches [PatchStart, PatchEnd) in the patch
// table. A zero entry means no lightmap.
type LightmapTable struct {
	Width      uint16
	Height     uint16
	PatchStart uint32
	PatchEnd   uint32
}

// DisplacementLightmap is the lightmap of one displacement, keyed by its map face.
type DisplacementLightmap struct {
	FaceIndex uint16
	_         uint16
	LightmapTable
}

// LightmapPatch locates one face's lightmap inside an atlas, in units of 4x4 texel sub-blocks.
// Its data holds StyleCount CMPR images of the patch back to back.
type LightmapPatch struct {
	SubBlockX     uint8
	SubBlockY     uint8
	SubBlocksWide uint8
	SubBlocksHigh uint8
	StyleCount    uint8
	_             uint8
	_             uint16
	DataStart     uint32
	DataEnd       uint32
}

// DisplacementRange is the [Start, End) word range of the displacement bytecode for one
// displacement pass mode.
type DisplacementRange struct {
	Start uint32
	End   uint32
}
