package pack

import (
	"encoding/binary"
	"fmt"
	"math"
	"slices"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/Faultbox/gxpack/pkg/displaylist"
	"github.com/Faultbox/gxpack/pkg/encoding"
	"github.com/Faultbox/gxpack/pkg/formats"
	"github.com/Faultbox/gxpack/pkg/pipeline"
)

// maxAttributes is the number of distinct values a u16 vertex attribute index can address.
const maxAttributes = 1 << 16

// Faces with any of these flags are compile-time helpers and never drawn.
const hiddenSurfaces = formats.SurfSky | formats.SurfSky2D | formats.SurfNoDraw | formats.SurfSkip

// attributes interns vertex attribute values, appending each new one to data in big-endian
// order.
type attributes[T comparable] struct {
	name    string
	encode  func([]byte, T) []byte
	indices map[T]uint16
	data    []byte
}

func newAttributes[T comparable](name string, encode func([]byte, T) []byte) *attributes[T] {
	return &attributes[T]{name: name, encode: encode, indices: make(map[T]uint16)}
}

func (a *attributes[T]) add(v T) (uint16, error) {
	if i, ok := a.indices[v]; ok {
		return i, nil
	}
	if len(a.indices) >= maxAttributes {
		return 0, fmt.Errorf("%w: more than %d %s values", ErrTooManyVertices, maxAttributes, a.name)
	}
	i := uint16(len(a.indices))
	a.indices[v] = i
	a.data = a.encode(a.data, v)
	return i, nil
}

func (a *attributes[T]) len() int {
	return len(a.indices)
}

func encodePosition(dst []byte, p [3]uint32) []byte {
	for _, bits := range p {
		dst = binary.BigEndian.AppendUint32(dst, bits)
	}
	return dst
}

func encodeNormal(dst []byte, n [3]int8) []byte {
	return append(dst, byte(n[0]), byte(n[1]), byte(n[2]))
}

func encodeTexCoord(dst []byte, c [2]uint16) []byte {
	dst = binary.BigEndian.AppendUint16(dst, c[0])
	return binary.BigEndian.AppendUint16(dst, c[1])
}

func encodeColor(dst []byte, c [3]uint8) []byte {
	return append(dst, c[0], c[1], c[2])
}

// positionBits keys a position by its exact float bit patterns.
func positionBits(p mgl32.Vec3) [3]uint32 {
	return [3]uint32{math.Float32bits(p[0]), math.Float32bits(p[1]), math.Float32bits(p[2])}
}

// quantizeNormal maps each component to a signed 1.6 fixed point value.
func quantizeNormal(n mgl32.Vec3) [3]int8 {
	var q [3]int8
	for i, c := range n {
		q[i] = int8(math32.Max(-64, math32.Min(64, c*64)) + 0.5)
	}
	return q
}

// quantizeFixed rounds c*scale to the nearest u16, clamping out of range values. clamped
// reports whether clamping happened.
func quantizeFixed(c mgl32.Vec2, scale float32) (q [2]uint16, clamped bool) {
	for i := range q {
		r := math32.Round(c[i] * scale)
		v := math32.Max(0, math32.Min(0xffff, r))
		if v != r {
			clamped = true
		}
		q[i] = uint16(v)
	}
	return q, clamped
}

// quantizeTexCoord converts a texture coordinate to 8.8 fixed point.
func quantizeTexCoord(c mgl32.Vec2) ([2]uint16, bool) {
	return quantizeFixed(c, 256)
}

// quantizeLightmapCoord converts a normalized lightmap coordinate to 1.15 fixed point.
func quantizeLightmapCoord(c mgl32.Vec2) ([2]uint16, bool) {
	return quantizeFixed(c, 32768)
}

// texVec evaluates one row of a texture or lightmap projection at p.
func texVec(v [4]float32, p mgl32.Vec3) float32 {
	return v[0]*p[0] + v[1]*p[1] + v[2]*p[2] + v[3]
}

type materialKey struct {
	path         string
	displacement bool
}

// materialInfo is a loaded material resolved for brush or displacement use. A nil mat means
// the material is never drawn.
type materialInfo struct {
	mat      *formats.Material
	packed   pipeline.PackedMaterial
	pass     pipeline.Pass
	mode     uint8
	dispPass pipeline.DisplacementPass
	baseSize mgl32.Vec2
	failed   bool
}

// material loads and packs a material once per use. Failures are recorded as skipped assets
// and leave the info without a material, as do materials that are never drawn.
func (b *builder) material(name string, displacement bool) *materialInfo {
	key := materialKey{path: encoding.MaterialPath(name), displacement: displacement}
	if info, ok := b.materials[key]; ok {
		return info
	}
	info, err := b.loadMaterial(key)
	if err != nil {
		b.skip(key.path, err)
		info = &materialInfo{failed: true}
	}
	b.materials[key] = info
	return info
}

func (b *builder) loadMaterial(key materialKey) (*materialInfo, error) {
	m, err := b.assets.Material(key.path)
	if err != nil {
		return nil, err
	}
	if m.Shader == formats.ShaderSky {
		return &materialInfo{}, nil
	}
	if !m.Supported() {
		return nil, fmt.Errorf("%w: %q", pipeline.ErrUnsupportedShader, m.Shader)
	}

	// Pack against scratch IDs first so a material with a missing texture never claims an ID.
	scratch := pipeline.NewTextureIDs()
	trial, err := pipeline.Pack(m, b.assets, scratch, key.displacement)
	if err != nil {
		return nil, err
	}
	for _, k := range scratch.Keys() {
		for _, path := range []string{k.Path, k.AlphaPath} {
			if path == "" {
				continue
			}
			if _, err := b.assets.Texture(path); err != nil {
				return nil, err
			}
		}
	}
	base, err := b.assets.Texture(m.BaseTexture)
	if err != nil {
		return nil, err
	}
	if _, err := pipeline.ParamsFor(m, pipeline.Matrix{}); err != nil {
		return nil, err
	}

	info := &materialInfo{
		mat:      m,
		baseSize: mgl32.Vec2{float32(base.Width), float32(base.Height)},
	}
	if key.displacement {
		if info.dispPass, err = pipeline.DisplacementPassFor(m); err != nil {
			return nil, err
		}
	} else {
		// The pass only depends on which IDs are present, so the trial decides it.
		if info.pass, err = pipeline.PassFor(m, trial); err != nil {
			return nil, err
		}
		if info.mode, err = info.pass.Mode(); err != nil {
			return nil, err
		}
	}

	if info.packed, err = pipeline.Pack(m, b.assets, b.ids, key.displacement); err != nil {
		return nil, err
	}
	return info, nil
}

// faceMaterial returns the material name of a textured face, or "" for faces that are never
// drawn.
func (b *builder) faceMaterial(face *formats.Face) (string, *formats.TexInfo, error) {
	if face.TexInfo < 0 {
		return "", nil, nil
	}
	if int(face.TexInfo) >= len(b.bsp.TexInfo) {
		return "", nil, fmt.Errorf("%w: texinfo %d", formats.ErrBSPIndex, face.TexInfo)
	}
	ti := &b.bsp.TexInfo[face.TexInfo]
	if ti.Flags&hiddenSurfaces != 0 || ti.TexData < 0 {
		return "", ti, nil
	}
	name, err := b.bsp.TexDataName(int(ti.TexData))
	if err != nil {
		return "", nil, err
	}
	return name, ti, nil
}

// hidden reports whether a face is never drawn. Faces with an invalid texinfo count as hidden
// here; drawing them reports the index error.
func (b *builder) hidden(face *formats.Face) bool {
	if face.TexInfo < 0 || int(face.TexInfo) >= len(b.bsp.TexInfo) {
		return true
	}
	ti := &b.bsp.TexInfo[face.TexInfo]
	return ti.Flags&hiddenSurfaces != 0 || ti.TexData < 0
}

type batchKey struct {
	pass     pipeline.Pass
	material pipeline.PackedMaterial
	params   pipeline.ShaderParams
}

func (k batchKey) compare(o batchKey) int {
	if c := k.pass.Compare(o.pass); c != 0 {
		return c
	}
	if c := k.material.Compare(o.material); c != 0 {
		return c
	}
	return k.params.Compare(o.params)
}

// batch is the triangles of one cluster drawn with one pass, material and parameter set.
type batch struct {
	key  batchKey
	mat  *formats.Material
	mode uint8
	list *displaylist.Builder
}

type clusterGeometry struct {
	batches map[batchKey]*batch
	faces   map[int]bool
}

func (c *clusterGeometry) batch(key batchKey, info *materialInfo) *batch {
	bt, ok := c.batches[key]
	if !ok {
		bt = &batch{
			key:  key,
			mat:  info.mat,
			mode: info.mode,
			list: displaylist.NewBuilder(displaylist.Triangles, displaylist.FormatBrush),
		}
		c.batches[key] = bt
	}
	return bt
}

// sorted returns the cluster's non-empty batches in key order.
func (c *clusterGeometry) sorted() []*batch {
	out := make([]*batch, 0, len(c.batches))
	for _, bt := range c.batches {
		if bt.list.VertexCount() > 0 {
			out = append(out, bt)
		}
	}
	slices.SortFunc(out, func(a, b *batch) int { return a.key.compare(b.key) })
	return out
}

// processBrushes triangulates every drawn face of every clustered leaf into its cluster's
// batches. A face listed by several leaves of the same cluster is drawn once.
func (b *builder) processBrushes() error {
	b.clusters = make([]*clusterGeometry, b.numClusters)
	for i := range b.clusters {
		b.clusters[i] = &clusterGeometry{batches: make(map[batchKey]*batch), faces: make(map[int]bool)}
	}
	return b.worldLeaves(func(leaf *formats.Leaf, cluster int) error {
		faces, err := b.leafFaces(leaf)
		if err != nil {
			return err
		}
		cg := b.clusters[cluster]
		for _, index := range faces {
			if cg.faces[index] {
				continue
			}
			cg.faces[index] = true
			if err := b.processFace(cg, b.clusterLightmaps[cluster], index); err != nil {
				return err
			}
		}
		return nil
	})
}

// brushVertex is a face vertex before its attributes are interned.
type brushVertex struct {
	position mgl32.Vec3
	lightmap mgl32.Vec2
	texCoord mgl32.Vec2
}

func (b *builder) processFace(cg *clusterGeometry, lm *lightmap, index int) error {
	face := &b.bsp.Faces[index]
	if face.DispInfo >= 0 {
		return nil
	}
	name, ti, err := b.faceMaterial(face)
	if err != nil || name == "" {
		return err
	}
	info := b.material(name, false)
	if info.mat == nil {
		if info.failed {
			b.stats.SkippedFaces++
		}
		return nil
	}

	if int(face.PlaneNum) >= len(b.bsp.Planes) {
		return fmt.Errorf("%w: face %d plane %d", formats.ErrBSPIndex, index, face.PlaneNum)
	}
	normal := b.bsp.Planes[face.PlaneNum].Normal
	if face.Side != 0 {
		normal = normal.Mul(-1)
	}
	var plane pipeline.Matrix
	if info.packed.Env.Valid {
		plane = pipeline.ReflectionMatrix(normal)
	}
	params, err := pipeline.ParamsFor(info.mat, plane)
	if err != nil {
		return err
	}
	bt := cg.batch(batchKey{pass: info.pass, material: info.packed, params: params}, info)

	indices, err := b.bsp.FaceVertices(face)
	if err != nil {
		return fmt.Errorf("face %d: %w", index, err)
	}
	verts := make([]brushVertex, len(indices))
	minTile := mgl32.Vec2{math32.Inf(1), math32.Inf(1)}
	for i, vi := range indices {
		p := b.bsp.Vertices[vi]
		tc := mgl32.Vec2{
			texVec(ti.TextureVecs[0], p) / info.baseSize[0],
			texVec(ti.TextureVecs[1], p) / info.baseSize[1],
		}
		minTile[0] = math32.Min(minTile[0], math32.Floor(tc[0]))
		minTile[1] = math32.Min(minTile[1], math32.Floor(tc[1]))
		verts[i] = brushVertex{position: p, texCoord: tc}
		if lm != nil && hasLightmap(face) {
			s := texVec(ti.LightmapVecs[0], p) - float32(face.LightmapTextureMinsInLuxels[0])
			t := texVec(ti.LightmapVecs[1], p) - float32(face.LightmapTextureMinsInLuxels[1])
			verts[i].lightmap = lm.coord(face.LightOfs, s+0.5, t+0.5)
		}
	}

	nrm, err := b.normals.add(quantizeNormal(normal))
	if err != nil {
		return err
	}
	encoded := make([][]byte, len(verts))
	for i, v := range verts {
		pos, err := b.positions.add(positionBits(v.position))
		if err != nil {
			return err
		}
		lmc, clamped := quantizeLightmapCoord(v.lightmap)
		if clamped {
			b.log.Warn("lightmap coordinate clamped", zap.Int("face", index), zap.Float32s("coord", v.lightmap[:]))
		}
		tcq, clamped := quantizeTexCoord(v.texCoord.Sub(minTile))
		if clamped {
			b.log.Warn("texture coordinate clamped", zap.Int("face", index), zap.String("material", name))
		}
		tc, err := b.texCoords.add(tcq)
		if err != nil {
			return err
		}
		e := make([]byte, 0, displaylist.FormatBrush.VertexSize())
		e = binary.BigEndian.AppendUint16(e, pos)
		e = binary.BigEndian.AppendUint16(e, nrm)
		e = binary.BigEndian.AppendUint16(e, lmc[0])
		e = binary.BigEndian.AppendUint16(e, lmc[1])
		e = binary.BigEndian.AppendUint16(e, tc)
		encoded[i] = e
	}

	// Fan triangulation around the first vertex.
	tris := make([]byte, 0, 3*(len(verts)-2)*displaylist.FormatBrush.VertexSize())
	for i := 2; i < len(encoded); i++ {
		tris = append(tris, encoded[0]...)
		tris = append(tris, encoded[i-1]...)
		tris = append(tris, encoded[i]...)
	}
	return bt.list.EmitVertices(3*(len(verts)-2), tris)
}
