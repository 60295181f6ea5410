package pack

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/multierr"

	"github.com/Faultbox/gxpack/internal/assets"
	"github.com/Faultbox/gxpack/internal/config"
	"github.com/Faultbox/gxpack/internal/testutil"
	"github.com/Faultbox/gxpack/pkg/bytecode"
	"github.com/Faultbox/gxpack/pkg/encoding"
	"github.com/Faultbox/gxpack/pkg/formats"
	"github.com/Faultbox/gxpack/pkg/mapdata"
	"github.com/Faultbox/gxpack/pkg/pipeline"
	"github.com/Faultbox/gxpack/pkg/vis"
)

// memAssets serves materials and textures from memory.
type memAssets struct {
	materials map[string]*formats.Material
	textures  map[string]*formats.VTF
}

func (a *memAssets) Material(name string) (*formats.Material, error) {
	path := encoding.MaterialPath(name)
	if m, ok := a.materials[path]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", assets.ErrNotFound, path)
}

func (a *memAssets) Texture(name string) (*formats.VTF, error) {
	path := encoding.TexturePath(name)
	if v, ok := a.textures[path]; ok {
		return v, nil
	}
	return nil, fmt.Errorf("%w: %s", assets.ErrNotFound, path)
}

func parseVTF(t *testing.T, data []byte) *formats.VTF {
	t.Helper()
	v, err := formats.ParseVTF(data)
	if err != nil {
		t.Fatalf("ParseVTF: %v", err)
	}
	return v
}

// testAssets holds a lightmapped floor material and a five-sided skybox.
func testAssets(t *testing.T) *memAssets {
	t.Helper()
	a := &memAssets{
		materials: map[string]*formats.Material{
			"materials/dev/floor.vmt": {
				Path:        "materials/dev/floor.vmt",
				Shader:      formats.ShaderLightmappedGeneric,
				BaseTexture: "materials/dev/floor.vtf",
			},
		},
		textures: map[string]*formats.VTF{
			"materials/dev/floor.vtf": parseVTF(t, testutil.VTF(formats.VTFFormatBGR888, 16, 16, 1, 0, nil)),
		},
	}
	for _, face := range skyboxFaces {
		tex := "materials/skybox/sky_day" + face + ".vtf"
		a.materials["materials/skybox/sky_day"+face+".vmt"] = &formats.Material{
			Path:        "materials/skybox/sky_day" + face + ".vmt",
			Shader:      formats.ShaderUnlitGeneric,
			BaseTexture: tex,
		}
		a.textures[tex] = parseVTF(t, testutil.VTF(formats.VTFFormatBGR888, 8, 8, 1, 0, nil))
	}
	return a
}

// sourceVisibility builds a compiled visibility lump with empty PAS rows.
func sourceVisibility(rows [][]byte) []byte {
	buf := new(bytes.Buffer)
	n := len(rows)
	binary.Write(buf, binary.LittleEndian, int32(n))
	offset := int32(4 + 8*n)
	for _, row := range rows {
		binary.Write(buf, binary.LittleEndian, offset)
		binary.Write(buf, binary.LittleEndian, offset)
		offset += int32(len(row))
	}
	for _, row := range rows {
		buf.Write(row)
	}
	return buf.Bytes()
}

// testMap is a floor split by the plane x=0 into two leaves. Cluster 0 (x > 0) sees only itself
// and cluster 1 (x < 0) sees both. Each leaf holds one lightmapped 16x16 quad.
func testMap() *formats.BSP {
	quad := func(x0 float32) []mgl32.Vec3 {
		return []mgl32.Vec3{{x0, 0, 0}, {x0, 16, 0}, {x0 + 16, 16, 0}, {x0 + 16, 0, 0}}
	}
	face := func(firstEdge, lightOfs int32) formats.Face {
		return formats.Face{
			FirstEdge:                   firstEdge,
			NumEdges:                    4,
			DispInfo:                    -1,
			Styles:                      [4]uint8{0, 255, 255, 255},
			LightOfs:                    lightOfs,
			LightmapTextureSizeInLuxels: [2]int32{1, 1},
		}
	}
	lighting := make([]byte, 32)
	for i := 0; i < len(lighting); i += 4 {
		copy(lighting[i:], []byte{128, 64, 32, 0})
	}

	return &formats.BSP{
		Entities: `{ "classname" "worldspawn" "skyname" "sky_day" }`,
		Planes: []formats.Plane{
			{Normal: mgl32.Vec3{0, 0, 1}},
			{Normal: mgl32.Vec3{1, 0, 0}},
		},
		TexData:            []formats.TexData{{NameStringTableID: 0, Width: 16, Height: 16}},
		TexDataStringData:  []byte("DEV/FLOOR\x00"),
		TexDataStringTable: []int32{0},
		Vertices:           append(quad(1), quad(-17)...),
		Visibility: sourceVisibility([][]byte{
			vis.EncodeRow([]bool{true, false}),
			vis.EncodeRow([]bool{true, true}),
		}),
		Nodes: []formats.Node{{PlaneNum: 1, Children: [2]int32{-2, -3}}},
		TexInfo: []formats.TexInfo{{
			TextureVecs:  [2][4]float32{{1, 0, 0, 0}, {0, 1, 0, 0}},
			LightmapVecs: [2][4]float32{{1.0 / 16, 0, 0, 0}, {0, 1.0 / 16, 0, 0}},
		}},
		Faces:     []formats.Face{face(0, 0), face(4, 16)},
		Lighting:  lighting,
		Leaves:    []formats.Leaf{{Cluster: -1}, {Cluster: 0, NumLeafFaces: 1}, {Cluster: 1, FirstLeafFace: 1, NumLeafFaces: 1}},
		Edges:     [][2]uint16{{0, 0}, {0, 1}, {1, 2}, {2, 3}, {3, 0}, {4, 5}, {5, 6}, {6, 7}, {7, 4}},
		SurfEdges: []int32{1, 2, 3, 4, 5, 6, 7, 8},
		LeafFaces: []uint16{0, 1},
	}
}

func testConfig() config.PackConfig {
	return config.Default().Pack
}

func TestBuild(t *testing.T) {
	res, err := Build(context.Background(), testMap(), testAssets(t), testConfig())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Skipped != nil {
		t.Fatalf("unexpected skipped assets: %v", res.Skipped)
	}

	m, err := mapdata.Parse(res.Map.Bytes())
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	t.Run("visibility", func(t *testing.T) {
		for cluster, want := range [][]int{{0}, {0, 1}} {
			got, err := m.VisibleClusters(cluster)
			if err != nil {
				t.Fatalf("VisibleClusters(%d): %v", cluster, err)
			}
			if !slices.Equal(got, want) {
				t.Errorf("VisibleClusters(%d) = %v, want %v", cluster, got, want)
			}
		}
	})

	t.Run("locate", func(t *testing.T) {
		tests := []struct {
			p       mgl32.Vec3
			leaf    int
			cluster int
		}{
			{mgl32.Vec3{8, 8, 1}, 1, 0},
			{mgl32.Vec3{-8, 8, 1}, 2, 1},
		}
		for _, tt := range tests {
			leaf, cluster, err := m.Locate(tt.p)
			if err != nil {
				t.Fatalf("Locate(%v): %v", tt.p, err)
			}
			if leaf != tt.leaf || cluster != tt.cluster {
				t.Errorf("Locate(%v) = leaf %d cluster %d, want leaf %d cluster %d",
					tt.p, leaf, cluster, tt.leaf, tt.cluster)
			}
		}
	})

	t.Run("textures", func(t *testing.T) {
		// Five skybox faces come first, then the floor.
		if len(res.Textures) != 6 {
			t.Fatalf("got %d textures, want 6", len(res.Textures))
		}
		if got := res.Textures[5].Path; got != "materials/dev/floor.vtf" {
			t.Errorf("texture 5 = %s, want the floor", got)
		}
		entry, data, err := m.Texture(5)
		if err != nil {
			t.Fatalf("Texture(5): %v", err)
		}
		if entry.Width != 16 || entry.Height != 16 || len(data) == 0 {
			t.Errorf("floor entry = %+v with %d bytes", entry, len(data))
		}
		if entry.Start%textureAlignment != 0 {
			t.Errorf("floor data starts at %d, not %d aligned", entry.Start, textureAlignment)
		}
	})

	t.Run("bytecode", func(t *testing.T) {
		for cluster := 0; cluster < 2; cluster++ {
			ops, err := m.ClusterOps(cluster, 0)
			if err != nil {
				t.Fatalf("ClusterOps(%d, 0): %v", cluster, err)
			}
			var codes []bytecode.Opcode
			for _, op := range ops {
				codes = append(codes, op.Code)
			}
			want := []bytecode.Opcode{bytecode.OpSetBaseTexture, bytecode.OpSetAlpha, bytecode.OpDraw}
			if !slices.Equal(codes, want) {
				t.Fatalf("cluster %d ops = %v, want %v", cluster, ops, want)
			}
			if ops[0].Texture != 5 {
				t.Errorf("cluster %d base texture = %d, want 5", cluster, ops[0].Texture)
			}
			draw := ops[2]
			if draw.Start%32 != 0 || draw.End <= draw.Start || int(draw.End) > len(m.ClusterDisplayLists) {
				t.Errorf("cluster %d draw range [%d, %d) of %d", cluster, draw.Start, draw.End, len(m.ClusterDisplayLists))
			}

			for mode := 1; mode < mapdata.PassModes; mode++ {
				ops, err := m.ClusterOps(cluster, mode)
				if err != nil || len(ops) != 0 {
					t.Errorf("cluster %d mode %d = %v, %v, want empty", cluster, mode, ops, err)
				}
			}
		}
	})

	t.Run("stats", func(t *testing.T) {
		s := res.Stats
		if s.Clusters != 2 || s.Batches != 2 || s.PipelineStates != 1 {
			t.Errorf("clusters %d batches %d states %d, want 2 2 1", s.Clusters, s.Batches, s.PipelineStates)
		}
		if s.Positions != 8 || s.Normals != 1 {
			t.Errorf("positions %d normals %d, want 8 1", s.Positions, s.Normals)
		}
		if s.LightmapPatches != 2 {
			t.Errorf("lightmap patches = %d, want 2", s.LightmapPatches)
		}
		if s.TextureDimension != testConfig().MaxTextureDimension {
			t.Errorf("texture dimension = %d, want %d", s.TextureDimension, testConfig().MaxTextureDimension)
		}
	})

	t.Run("lightmaps", func(t *testing.T) {
		if len(m.LightmapClusters) != 2 {
			t.Fatalf("got %d cluster lightmaps, want 2", len(m.LightmapClusters))
		}
		for cluster, table := range m.LightmapClusters {
			if table.Width == 0 || table.PatchEnd-table.PatchStart != 1 {
				t.Errorf("cluster %d lightmap = %+v, want one patch", cluster, table)
				continue
			}
			patch := m.LightmapPatches[table.PatchStart]
			// A 2x2 patch fits one 4x4 sub-block of 8 bytes.
			if patch.SubBlocksWide != 1 || patch.SubBlocksHigh != 1 || patch.StyleCount != 1 {
				t.Errorf("cluster %d patch = %+v", cluster, patch)
			}
			if patch.DataEnd-patch.DataStart != 8 {
				t.Errorf("cluster %d patch data = %d bytes, want 8", cluster, patch.DataEnd-patch.DataStart)
			}
		}
	})
}

func TestBuildSkipsBrokenMaterial(t *testing.T) {
	bsp := testMap()
	bsp.TexData = append(bsp.TexData, formats.TexData{NameStringTableID: 1})
	bsp.TexDataStringTable = append(bsp.TexDataStringTable, int32(len(bsp.TexDataStringData)))
	bsp.TexDataStringData = append(bsp.TexDataStringData, "dev/missing\x00"...)
	bsp.TexInfo = append(bsp.TexInfo, bsp.TexInfo[0])
	bsp.TexInfo[1].TexData = 1
	bsp.Faces[1].TexInfo = 1

	res, err := Build(context.Background(), bsp, testAssets(t), testConfig())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	errs := multierr.Errors(res.Skipped)
	if len(errs) != 1 || !errors.Is(errs[0], assets.ErrNotFound) {
		t.Fatalf("skipped = %v, want one not found error", res.Skipped)
	}
	if res.Stats.SkippedFaces != 1 || res.Stats.Batches != 1 {
		t.Errorf("skipped faces %d batches %d, want 1 1", res.Stats.SkippedFaces, res.Stats.Batches)
	}
	ops, err := res.Map.ClusterOps(1, 0)
	if err != nil || len(ops) != 0 {
		t.Errorf("cluster 1 ops = %v, %v, want none", ops, err)
	}
}

func TestBuildSkipsBlendedBaseAlpha(t *testing.T) {
	a := testAssets(t)
	a.materials["materials/dev/floor.vmt"].Translucent = true

	res, err := Build(context.Background(), testMap(), a, testConfig())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	errs := multierr.Errors(res.Skipped)
	if len(errs) != 1 || !errors.Is(errs[0], pipeline.ErrBlendBaseAlpha) {
		t.Fatalf("skipped = %v, want one blend base alpha error", res.Skipped)
	}
	if res.Stats.SkippedFaces != 2 || res.Stats.Batches != 0 {
		t.Errorf("skipped faces %d batches %d, want 2 0", res.Stats.SkippedFaces, res.Stats.Batches)
	}
}

func TestBuildHiddenSurfaces(t *testing.T) {
	bsp := testMap()
	bsp.TexInfo[0].Flags = formats.SurfNoDraw

	res, err := Build(context.Background(), bsp, testAssets(t), testConfig())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if res.Stats.Batches != 0 || res.Stats.SkippedFaces != 0 {
		t.Errorf("batches %d skipped %d, want 0 0", res.Stats.Batches, res.Stats.SkippedFaces)
	}
	// Only the skybox is referenced.
	if len(res.Textures) != len(skyboxFaces) {
		t.Errorf("got %d textures, want %d", len(res.Textures), len(skyboxFaces))
	}
}

func TestBuildWithoutVisibility(t *testing.T) {
	bsp := testMap()
	bsp.Visibility = nil

	res, err := Build(context.Background(), bsp, testAssets(t), testConfig())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for cluster := 0; cluster < 2; cluster++ {
		got, err := res.Map.VisibleClusters(cluster)
		if err != nil {
			t.Fatalf("VisibleClusters(%d): %v", cluster, err)
		}
		if !slices.Equal(got, []int{0, 1}) {
			t.Errorf("VisibleClusters(%d) = %v, want [0 1]", cluster, got)
		}
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*formats.BSP, *config.PackConfig, *memAssets)
		want   error
	}{
		{
			name: "texture limit",
			modify: func(_ *formats.BSP, cfg *config.PackConfig, _ *memAssets) {
				cfg.MaxTextures = 3
			},
			want: ErrTooManyTextures,
		},
		{
			name: "texture budget",
			modify: func(_ *formats.BSP, cfg *config.PackConfig, _ *memAssets) {
				cfg.TextureMemoryBudget = 16
			},
			want: ErrTextureBudget,
		},
		{
			name: "leaf cluster outside visibility",
			modify: func(bsp *formats.BSP, _ *config.PackConfig, _ *memAssets) {
				bsp.Leaves[2].Cluster = 5
			},
			want: ErrCorruptMap,
		},
		{
			name: "node plane out of range",
			modify: func(bsp *formats.BSP, _ *config.PackConfig, _ *memAssets) {
				bsp.Nodes[0].PlaneNum = 9
			},
			want: formats.ErrBSPIndex,
		},
		{
			name: "missing skybox",
			modify: func(_ *formats.BSP, _ *config.PackConfig, a *memAssets) {
				delete(a.materials, "materials/skybox/sky_dayup.vmt")
			},
			want: assets.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bsp, cfg, a := testMap(), testConfig(), testAssets(t)
			tt.modify(bsp, &cfg, a)
			_, err := Build(context.Background(), bsp, a, cfg)
			if !errors.Is(err, tt.want) {
				t.Errorf("Build error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBuildLightmapPreview(t *testing.T) {
	cfg := testConfig()
	cfg.DumpLightmaps = true
	res, err := Build(context.Background(), testMap(), testAssets(t), cfg)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(res.Lightmaps) != 2 {
		t.Fatalf("got %d previews, want 2", len(res.Lightmaps))
	}
	img := res.Lightmaps[0]
	want := formats.ColorRGBExp32{R: 128, G: 64, B: 32}.SRGB8()
	c := img.NRGBAAt(0, 0)
	if c.R != want[0] || c.G != want[1] || c.B != want[2] || c.A != 0xff {
		t.Errorf("luxel (0,0) = %v, want %v", c, want)
	}
	// One 2x2 patch padded to the 4x4 block grid; the padding stays transparent.
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 4 {
		t.Fatalf("preview bounds = %v, want 4x4", b)
	}
	if c := img.NRGBAAt(1, 1); c.A != 0xff {
		t.Errorf("luxel (1,1) = %v, want opaque", c)
	}
	if c := img.NRGBAAt(3, 3); c.A != 0 {
		t.Errorf("padding (3,3) = %v, want transparent", c)
	}
}

func TestAttributesInternsValues(t *testing.T) {
	a := newAttributes("normal", encodeNormal)
	first, _ := a.add([3]int8{0, 0, 64})
	second, _ := a.add([3]int8{0, 64, 0})
	again, _ := a.add([3]int8{0, 0, 64})
	if first != 0 || second != 1 || again != 0 {
		t.Errorf("indices = %d %d %d, want 0 1 0", first, second, again)
	}
	if want := []byte{0, 0, 64, 0, 64, 0}; !bytes.Equal(a.data, want) {
		t.Errorf("data = %v, want %v", a.data, want)
	}
}

func TestAttributesLimit(t *testing.T) {
	a := newAttributes("texture coordinate", encodeTexCoord)
	for i := 0; i < maxAttributes; i++ {
		if _, err := a.add([2]uint16{uint16(i), uint16(i >> 16)}); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if _, err := a.add([2]uint16{0, 1}); !errors.Is(err, ErrTooManyVertices) {
		t.Errorf("add past limit: %v, want ErrTooManyVertices", err)
	}
	if _, err := a.add([2]uint16{7, 0}); err != nil {
		t.Errorf("re-adding a known value: %v", err)
	}
}

func TestQuantize(t *testing.T) {
	t.Run("normal", func(t *testing.T) {
		tests := []struct {
			in   mgl32.Vec3
			want [3]int8
		}{
			{mgl32.Vec3{0, 0, 1}, [3]int8{0, 0, 64}},
			{mgl32.Vec3{0, 0, -1}, [3]int8{0, 0, -63}},
			{mgl32.Vec3{0.5, -0.5, 2}, [3]int8{32, -31, 64}},
		}
		for _, tt := range tests {
			if got := quantizeNormal(tt.in); got != tt.want {
				t.Errorf("quantizeNormal(%v) = %v, want %v", tt.in, got, tt.want)
			}
		}
	})

	t.Run("texture coordinate", func(t *testing.T) {
		tests := []struct {
			in      mgl32.Vec2
			want    [2]uint16
			clamped bool
		}{
			{mgl32.Vec2{0, 1}, [2]uint16{0, 256}, false},
			{mgl32.Vec2{0.5, 1.0 / 512}, [2]uint16{128, 1}, false},
			{mgl32.Vec2{-1, 300}, [2]uint16{0, 0xffff}, true},
		}
		for _, tt := range tests {
			got, clamped := quantizeTexCoord(tt.in)
			if got != tt.want || clamped != tt.clamped {
				t.Errorf("quantizeTexCoord(%v) = %v %v, want %v %v", tt.in, got, clamped, tt.want, tt.clamped)
			}
		}
	})

	t.Run("lightmap coordinate", func(t *testing.T) {
		got, clamped := quantizeLightmapCoord(mgl32.Vec2{0.5, 1})
		if got != [2]uint16{16384, 32768} || clamped {
			t.Errorf("quantizeLightmapCoord = %v %v", got, clamped)
		}
		if _, clamped := quantizeLightmapCoord(mgl32.Vec2{2.5, 0}); !clamped {
			t.Error("coordinate past 2 was not clamped")
		}
	})
}

func TestManifestRoundTrip(t *testing.T) {
	res, err := Build(context.Background(), testMap(), testAssets(t), testConfig())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	blob, sections := res.Map.Encode()
	path := filepath.Join(t.TempDir(), "out", "test.manifest.yaml")
	if err := NewManifest("test", "test.dat", len(blob), res, sections).WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := ReadManifest(path)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if got.BuildID == "" || got.Map != "test" || got.Size != len(blob) {
		t.Errorf("manifest header = %q %q %d", got.BuildID, got.Map, got.Size)
	}
	if len(got.Sections) != len(sections) {
		t.Errorf("got %d sections, want %d", len(got.Sections), len(sections))
	}
	if got.Stats != res.Stats {
		t.Errorf("stats = %+v, want %+v", got.Stats, res.Stats)
	}
	if len(got.Textures) != 6 {
		t.Errorf("got %d textures, want 6", len(got.Textures))
	}
}
