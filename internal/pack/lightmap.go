package pack

import (
	"fmt"
	"image"
	"image/color"
	"slices"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/gxpack/pkg/atlas"
	"github.com/Faultbox/gxpack/pkg/formats"
	"github.com/Faultbox/gxpack/pkg/gxtex"
	"github.com/Faultbox/gxpack/pkg/mapdata"
)

// lightmapAlign keeps every patch on a CMPR sub-block boundary.
const lightmapAlign = 4

// lightmap is a baked atlas holding one patch per distinct lighting lump offset.
type lightmap struct {
	width, height int
	layout        *atlas.Layout
	offsets       []int32 // ascending
	ids           map[int32]atlas.PatchID
	placements    map[int32]atlas.Placement
	faces         map[int32]int // a face lit by each offset
}

type lightmapBuilder struct {
	packer *atlas.Packer
	ids    map[int32]atlas.PatchID
	faces  map[int32]int
}

func newLightmapBuilder(maxSize int) *lightmapBuilder {
	return &lightmapBuilder{
		packer: atlas.New(maxSize, lightmapAlign),
		ids:    make(map[int32]atlas.PatchID),
		faces:  make(map[int32]int),
	}
}

// add inserts the face's patch unless a face sharing its lighting data already did.
func (lb *lightmapBuilder) add(face *formats.Face, index int) {
	if _, ok := lb.ids[face.LightOfs]; ok {
		return
	}
	w, h := patchSize(face)
	lb.ids[face.LightOfs] = lb.packer.Insert(w, h)
	lb.faces[face.LightOfs] = index
}

func (lb *lightmapBuilder) bake() (*lightmap, error) {
	layout, err := lb.packer.BakeSmallest()
	if err != nil {
		return nil, err
	}
	lm := &lightmap{
		width:      layout.Width,
		height:     layout.Height,
		layout:     layout,
		ids:        lb.ids,
		placements: make(map[int32]atlas.Placement, len(lb.ids)),
		faces:      lb.faces,
	}
	for ofs, id := range lb.ids {
		lm.offsets = append(lm.offsets, ofs)
		lm.placements[ofs] = layout.Placement(id)
	}
	slices.Sort(lm.offsets)
	return lm, nil
}

// patchSize is the luxel extent of a face's lightmap.
func patchSize(f *formats.Face) (int, int) {
	return int(f.LightmapTextureSizeInLuxels[0]) + 1, int(f.LightmapTextureSizeInLuxels[1]) + 1
}

func hasLightmap(f *formats.Face) bool {
	return f.LightOfs >= 0 && f.TexInfo >= 0 && f.LightStyleCount() > 0 &&
		f.LightmapTextureSizeInLuxels[0] >= 0 && f.LightmapTextureSizeInLuxels[1] >= 0
}

// coord maps a patch-space luxel coordinate to the atlas, normalized to [0,1].
func (lm *lightmap) coord(lightOfs int32, s, t float32) mgl32.Vec2 {
	if lm == nil {
		return mgl32.Vec2{}
	}
	pl, ok := lm.placements[lightOfs]
	if !ok {
		return mgl32.Vec2{}
	}
	if pl.Rotated {
		s, t = t, s
	}
	return mgl32.Vec2{
		(s + float32(pl.X)) / float32(lm.width),
		(t + float32(pl.Y)) / float32(lm.height),
	}
}

// buildLightmaps lays out one atlas per cluster for the brush faces of its leaves and one per
// displacement.
func (b *builder) buildLightmaps() error {
	builders := make(map[int]*lightmapBuilder)
	err := b.worldLeaves(func(leaf *formats.Leaf, cluster int) error {
		faces, err := b.leafFaces(leaf)
		if err != nil {
			return err
		}
		lb := builders[cluster]
		if lb == nil {
			lb = newLightmapBuilder(b.cfg.LightmapMaxSize)
			builders[cluster] = lb
		}
		for _, index := range faces {
			face := &b.bsp.Faces[index]
			if face.DispInfo >= 0 || !hasLightmap(face) || b.hidden(face) {
				continue
			}
			lb.add(face, index)
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.clusterLightmaps = make(map[int]*lightmap, len(builders))
	for cluster, lb := range builders {
		if lb.packer.Len() == 0 {
			continue
		}
		lm, err := lb.bake()
		if err != nil {
			return fmt.Errorf("cluster %d lightmap: %w", cluster, err)
		}
		b.clusterLightmaps[cluster] = lm
	}

	b.dispLightmaps = make(map[uint16]*lightmap)
	for i := range b.bsp.DispInfo {
		index := int(b.bsp.DispInfo[i].MapFace)
		if index >= len(b.bsp.Faces) {
			return fmt.Errorf("%w: displacement %d face %d", formats.ErrBSPIndex, i, index)
		}
		face := &b.bsp.Faces[index]
		if !hasLightmap(face) || b.hidden(face) {
			continue
		}
		lb := newLightmapBuilder(b.cfg.LightmapMaxSize)
		lb.add(face, index)
		lm, err := lb.bake()
		if err != nil {
			return fmt.Errorf("displacement %d lightmap: %w", i, err)
		}
		b.dispLightmaps[uint16(index)] = lm
	}
	return nil
}

// packLightmaps writes the cluster table and transcodes every cluster patch. Displacement
// patches are written while their draws are emitted.
func (b *builder) packLightmaps(m *mapdata.MapData) error {
	m.LightmapClusters = make([]mapdata.LightmapTable, b.numClusters)
	for cluster := range m.LightmapClusters {
		lm := b.clusterLightmaps[cluster]
		if lm == nil {
			continue
		}
		table, err := b.packLightmap(m, lm)
		if err != nil {
			return fmt.Errorf("cluster %d lightmap: %w", cluster, err)
		}
		m.LightmapClusters[cluster] = table
	}
	return nil
}

func (b *builder) packLightmap(m *mapdata.MapData, lm *lightmap) (mapdata.LightmapTable, error) {
	table := mapdata.LightmapTable{
		Width:      uint16(lm.width),
		Height:     uint16(lm.height),
		PatchStart: uint32(len(m.LightmapPatches)),
	}
	for _, ofs := range lm.offsets {
		patch, data, err := b.transcodePatch(lm.faces[ofs], lm.placements[ofs])
		if err != nil {
			return table, err
		}
		patch.DataStart = uint32(len(m.LightmapData))
		m.LightmapData = append(m.LightmapData, data...)
		patch.DataEnd = uint32(len(m.LightmapData))
		m.LightmapPatches = append(m.LightmapPatches, patch)
	}
	table.PatchEnd = uint32(len(m.LightmapPatches))
	return table, nil
}

// transcodePatch encodes each light style of a face's patch as CMPR sub-blocks in row-major
// order, oriented as placed on the atlas. Texels past the patch edge repeat the last row or
// column.
func (b *builder) transcodePatch(faceIndex int, pl atlas.Placement) (mapdata.LightmapPatch, []byte, error) {
	face := &b.bsp.Faces[faceIndex]
	w, h := patchSize(face)
	ow, oh := w, h
	if pl.Rotated {
		ow, oh = h, w
	}
	blocksWide, blocksHigh := max(1, (ow+3)/4), max(1, (oh+3)/4)

	var patch mapdata.LightmapPatch
	fields := []struct {
		dst  *uint8
		v    int
		name string
	}{
		{&patch.SubBlockX, pl.X / 4, "sub-block x"},
		{&patch.SubBlockY, pl.Y / 4, "sub-block y"},
		{&patch.SubBlocksWide, blocksWide, "width"},
		{&patch.SubBlocksHigh, blocksHigh, "height"},
		{&patch.StyleCount, face.LightStyleCount(), "style count"},
	}
	for _, f := range fields {
		if f.v > 0xff {
			return patch, nil, fmt.Errorf("face %d lightmap %s %d does not fit a byte", faceIndex, f.name, f.v)
		}
		*f.dst = uint8(f.v)
	}

	angles := 1
	if b.bsp.TexInfo[face.TexInfo].Flags&formats.SurfBumpLight != 0 {
		angles = 4
	}

	styles := face.LightStyleCount()
	data := make([]byte, 0, 8*blocksWide*blocksHigh*styles)
	for style := 0; style < styles; style++ {
		// Styles are stored last to first; each style holds its bump angles in order and only
		// the first, omnidirectional one is kept.
		index := angles * (styles - style - 1)
		luxels, err := b.bsp.Luxels(int(face.LightOfs)+4*w*h*index, w*h)
		if err != nil {
			return patch, nil, fmt.Errorf("face %d: %w", faceIndex, err)
		}
		for by := 0; by < blocksHigh; by++ {
			for bx := 0; bx < blocksWide; bx++ {
				var texels [16][4]uint8
				for i := range texels {
					x, y := 4*bx+i%4, 4*by+i/4
					if pl.Rotated {
						x, y = y, x
					}
					c := luxels[min(y, h-1)*w+min(x, w-1)].SRGB8()
					texels[i] = [4]uint8{c[0], c[1], c[2], 0xff}
				}
				block := gxtex.EncodeCMPRSubBlock(&texels)
				data = append(data, block[:]...)
			}
		}
	}
	return patch, data, nil
}

// previewLightmaps renders the first light style of every cluster atlas.
func (b *builder) previewLightmaps() (map[int]*image.NRGBA, error) {
	out := make(map[int]*image.NRGBA, len(b.clusterLightmaps))
	for cluster, lm := range b.clusterLightmaps {
		patches := make([]*image.NRGBA, len(lm.layout.Placements))
		for _, ofs := range lm.offsets {
			patch, err := b.previewPatch(lm.faces[ofs])
			if err != nil {
				return nil, fmt.Errorf("cluster %d: %w", cluster, err)
			}
			patches[lm.ids[ofs]] = patch
		}
		img, err := atlas.Composite(lm.layout, patches)
		if err != nil {
			return nil, fmt.Errorf("cluster %d: %w", cluster, err)
		}
		out[cluster] = img
	}
	return out, nil
}

// previewPatch decodes the first light style of a face's lightmap to sRGB.
func (b *builder) previewPatch(faceIndex int) (*image.NRGBA, error) {
	face := &b.bsp.Faces[faceIndex]
	w, h := patchSize(face)
	index := face.LightStyleCount() - 1
	if b.bsp.TexInfo[face.TexInfo].Flags&formats.SurfBumpLight != 0 {
		index *= 4
	}
	luxels, err := b.bsp.Luxels(int(face.LightOfs)+4*w*h*index, w*h)
	if err != nil {
		return nil, fmt.Errorf("face %d: %w", faceIndex, err)
	}
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := luxels[y*w+x].SRGB8()
			img.SetNRGBA(x, y, color.NRGBA{R: c[0], G: c[1], B: c[2], A: 0xff})
		}
	}
	return img, nil
}
