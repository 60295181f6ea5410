package pack

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/gxpack/pkg/displaylist"
	"github.com/Faultbox/gxpack/pkg/formats"
	"github.com/Faultbox/gxpack/pkg/pipeline"
)

// dispKey groups displacement quads. Each displacement face is its own draw so the renderer can
// bind that face's lightmap.
type dispKey struct {
	pass     pipeline.DisplacementPass
	face     uint16
	material pipeline.PackedMaterial
}

func (k dispKey) compare(o dispKey) int {
	return cmp.Or(
		cmp.Compare(k.pass, o.pass),
		cmp.Compare(k.face, o.face),
		k.material.Compare(o.material),
	)
}

type dispBatch struct {
	key  dispKey
	mat  *formats.Material
	list *displaylist.Builder
}

func (b *builder) sortedDisplacements() []*dispBatch {
	out := make([]*dispBatch, 0, len(b.displacements))
	for _, d := range b.displacements {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b *dispBatch) int { return a.key.compare(b.key) })
	return out
}

func (b *builder) processDisplacements() error {
	for i := range b.bsp.DispInfo {
		if err := b.processDisplacement(i); err != nil {
			return fmt.Errorf("displacement %d: %w", i, err)
		}
	}
	return nil
}

// dispVertex is a displacement vertex before its attributes are interned.
type dispVertex struct {
	position mgl32.Vec3
	lightmap mgl32.Vec2
	texCoord mgl32.Vec2
	alpha    float32
}

func (b *builder) processDisplacement(i int) error {
	disp := &b.bsp.DispInfo[i]
	face := &b.bsp.Faces[disp.MapFace]
	if face.NumEdges != 4 {
		return fmt.Errorf("%w: displacement face %d has %d edges", ErrCorruptMap, disp.MapFace, face.NumEdges)
	}
	name, ti, err := b.faceMaterial(face)
	if err != nil || name == "" {
		return err
	}
	info := b.material(name, true)
	if info.mat == nil {
		if info.failed {
			b.stats.SkippedFaces++
		}
		return nil
	}

	if disp.Power < 0 || disp.Power > 4 {
		return fmt.Errorf("%w: power %d", ErrCorruptMap, disp.Power)
	}
	side := disp.VertsPerSide()
	first := int(disp.DispVertStart)
	if first < 0 || first+side*side > len(b.bsp.DispVerts) {
		return fmt.Errorf("%w: displacement vertices [%d,+%d)", formats.ErrBSPIndex, first, side*side)
	}
	dverts := b.bsp.DispVerts[first : first+side*side]

	indices, err := b.bsp.FaceVertices(face)
	if err != nil {
		return err
	}
	// The surface starts at the corner nearest the displacement's start position.
	var corners [4]mgl32.Vec3
	start, best := 0, math32.Inf(1)
	for c := range corners {
		corners[c] = b.bsp.Vertices[indices[c]]
		if d := disp.StartPosition.Sub(corners[c]).Len(); d < best {
			start, best = c, d
		}
	}
	corner := func(n int) mgl32.Vec3 { return corners[(start+n)%4] }

	lm := b.dispLightmaps[disp.MapFace]
	w := float32(face.LightmapTextureSizeInLuxels[0]) + 0.5
	h := float32(face.LightmapTextureSizeInLuxels[1]) + 0.5
	lmCorners := [4]mgl32.Vec2{{0.5, 0.5}, {0.5, h}, {w, h}, {w, 0.5}}

	verts := make([]dispVertex, len(dverts))
	minTile := mgl32.Vec2{math32.Inf(1), math32.Inf(1)}
	for y := 0; y < side; y++ {
		for x := 0; x < side; x++ {
			xf := float32(x) / float32(side-1)
			yf := float32(y) / float32(side-1)
			dv := &dverts[y*side+x]

			base := lerp3(lerp3(corner(0), corner(3), xf), lerp3(corner(1), corner(2), xf), yf)
			tc := mgl32.Vec2{
				texVec(ti.TextureVecs[0], base) / info.baseSize[0],
				texVec(ti.TextureVecs[1], base) / info.baseSize[1],
			}
			minTile[0] = math32.Min(minTile[0], math32.Floor(tc[0]))
			minTile[1] = math32.Min(minTile[1], math32.Floor(tc[1]))

			v := dispVertex{
				position: base.Add(dv.Vec.Mul(dv.Dist)),
				texCoord: tc,
				alpha:    dv.Alpha,
			}
			if lm != nil {
				p := lerp2(lerp2(lmCorners[0], lmCorners[3], xf), lerp2(lmCorners[1], lmCorners[2], xf), yf)
				v.lightmap = lm.coord(face.LightOfs, p[0], p[1])
			}
			verts[y*side+x] = v
		}
	}

	encoded := make([][]byte, len(verts))
	for n, v := range verts {
		pos, err := b.dispPositions.add(positionBits(v.position))
		if err != nil {
			return err
		}
		a := uint8(math32.Round(math32.Max(0, math32.Min(255, v.alpha))))
		clr, err := b.dispColors.add([3]uint8{a, a, a})
		if err != nil {
			return err
		}
		lmc, _ := quantizeLightmapCoord(v.lightmap)
		tcq, clamped := quantizeTexCoord(v.texCoord.Sub(minTile))
		if clamped {
			b.log.Sugar().Warnf("displacement %d texture coordinate clamped", i)
		}
		tc, err := b.dispTexCoords.add(tcq)
		if err != nil {
			return err
		}
		e := make([]byte, 0, displaylist.FormatDisplacement.VertexSize())
		e = binary.BigEndian.AppendUint16(e, pos)
		e = binary.BigEndian.AppendUint16(e, clr)
		e = binary.BigEndian.AppendUint16(e, lmc[0])
		e = binary.BigEndian.AppendUint16(e, lmc[1])
		// Both texture layers share the face's projection.
		e = binary.BigEndian.AppendUint16(e, tc)
		e = binary.BigEndian.AppendUint16(e, tc)
		encoded[n] = e
	}

	key := dispKey{pass: info.dispPass, face: disp.MapFace, material: info.packed}
	db, ok := b.displacements[key]
	if !ok {
		db = &dispBatch{key: key, mat: info.mat, list: displaylist.NewBuilder(displaylist.Quads, displaylist.FormatDisplacement)}
		b.displacements[key] = db
	}

	quads := side - 1
	data := make([]byte, 0, 4*quads*quads*displaylist.FormatDisplacement.VertexSize())
	for y := 0; y < quads; y++ {
		for x := 0; x < quads; x++ {
			order := [4][2]int{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
			// Alternate the winding start so quad diagonals form a diamond pattern.
			if (x^y)&1 != 0 {
				order = [4][2]int{{1, 0}, {1, 1}, {0, 1}, {0, 0}}
			}
			for _, o := range order {
				data = append(data, encoded[(y+o[0])*side+x+o[1]]...)
			}
		}
	}
	b.stats.Displacements++
	return db.list.EmitVertices(4*quads*quads, data)
}

func lerp3(a, b mgl32.Vec3, t float32) mgl32.Vec3 {
	return a.Add(b.Sub(a).Mul(t))
}

func lerp2(a, b mgl32.Vec2, t float32) mgl32.Vec2 {
	return a.Add(b.Sub(a).Mul(t))
}
