// Package pack converts a compiled map and the assets it references into a map data blob.
//
// The build runs in fixed stages: the world tree and visibility are checked first, lightmap
// patches are laid out per cluster, brush faces and displacements are grouped into batches that
// share a pipeline state, the referenced textures are converted, and finally every cluster's
// batches are compiled to bytecode and display lists. Failures of a single material or texture
// only drop the faces that use it; they are collected and reported together in Result.Skipped.
package pack

import (
	"context"
	"errors"
	"fmt"
	"image"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/gxpack/internal/config"
	"github.com/Faultbox/gxpack/internal/logger"
	"github.com/Faultbox/gxpack/pkg/bsptree"
	"github.com/Faultbox/gxpack/pkg/formats"
	"github.com/Faultbox/gxpack/pkg/mapdata"
	"github.com/Faultbox/gxpack/pkg/pipeline"
)

// Build errors.
var (
	ErrTooManyTextures = errors.New("too many textures")
	ErrTextureBudget   = errors.New("textures do not fit the texture memory budget")
	ErrTooManyVertices = errors.New("too many distinct vertex attributes")
	ErrCorruptMap      = errors.New("corrupt map")
)

// skyboxFaces are the suffixes of the 2D skybox materials, in the order the renderer expects
// their texture IDs.
var skyboxFaces = [...]string{"rt", "lf", "bk", "ft", "up"}

// Assets loads the materials and textures a map references.
type Assets interface {
	Material(name string) (*formats.Material, error)
	Texture(name string) (*formats.VTF, error)
}

// Stats summarizes a build.
type Stats struct {
	Clusters            int `yaml:"clusters"`
	Nodes               int `yaml:"nodes"`
	Leaves              int `yaml:"leaves"`
	Positions           int `yaml:"positions"`
	Normals             int `yaml:"normals"`
	TextureCoords       int `yaml:"texture_coords"`
	Batches             int `yaml:"batches"`
	Displacements       int `yaml:"displacements"`
	DisplacementBatches int `yaml:"displacement_batches"`
	Textures            int `yaml:"textures"`
	TextureBytes        int `yaml:"texture_bytes"`
	TextureDimension    int `yaml:"texture_dimension"`
	PipelineStates      int `yaml:"pipeline_states"`
	LightmapPatches     int `yaml:"lightmap_patches"`
	LightmapBytes       int `yaml:"lightmap_bytes"`
	SkippedFaces        int `yaml:"skipped_faces"`
}

// Result is a finished build.
type Result struct {
	Map      *mapdata.MapData
	Stats    Stats
	Textures []pipeline.TextureKey // indexed by texture ID
	States   []pipeline.State      // distinct pipeline states in first-use order

	// Lightmaps holds a preview of each cluster's lightmap atlas, first light style only. It is
	// only filled when the build is configured to dump lightmaps.
	Lightmaps map[int]*image.NRGBA

	// Skipped combines the errors of every material or texture whose faces were dropped.
	Skipped error
}

// Build packs a map. The returned error is fatal: corrupt map data or an exhausted device
// table. Asset failures are reported in Result.Skipped instead.
func Build(ctx context.Context, bsp *formats.BSP, assets Assets, cfg config.PackConfig) (*Result, error) {
	b := &builder{
		bsp:       bsp,
		assets:    assets,
		cfg:       cfg,
		log:       logger.Named("pack"),
		ids:       pipeline.NewTextureIDs(),
		states:    pipeline.NewRegistry(cfg.MaxPipelineStates),
		materials: make(map[materialKey]*materialInfo),
		positions: newAttributes("position", encodePosition),
		normals:   newAttributes("normal", encodeNormal),
		texCoords: newAttributes("texture coordinate", encodeTexCoord),

		dispPositions: newAttributes("displacement position", encodePosition),
		dispColors:    newAttributes("displacement color", encodeColor),
		dispTexCoords: newAttributes("displacement texture coordinate", encodeTexCoord),
		displacements: make(map[dispKey]*dispBatch),
	}
	return b.build(ctx)
}

type builder struct {
	bsp    *formats.BSP
	assets Assets
	cfg    config.PackConfig
	log    *zap.Logger

	tree        *bsptree.Tree
	numClusters int

	ids       *pipeline.TextureIDs
	states    *pipeline.Registry
	materials map[materialKey]*materialInfo
	skipped   error
	stats     Stats

	clusterLightmaps map[int]*lightmap
	dispLightmaps    map[uint16]*lightmap

	positions *attributes[[3]uint32]
	normals   *attributes[[3]int8]
	texCoords *attributes[[2]uint16]
	clusters  []*clusterGeometry

	dispPositions *attributes[[3]uint32]
	dispColors    *attributes[[3]uint8]
	dispTexCoords *attributes[[2]uint16]
	displacements map[dispKey]*dispBatch
}

func (b *builder) build(ctx context.Context) (*Result, error) {
	m := &mapdata.MapData{}

	nodes, err := b.worldTree()
	if err != nil {
		return nil, err
	}
	m.BspNodes = nodes
	m.BspLeaves = b.packLeaves()
	if m.Visibility, err = b.packVisibility(); err != nil {
		return nil, err
	}

	if err := b.reserveSkybox(); err != nil {
		return nil, err
	}
	if err := b.buildLightmaps(); err != nil {
		return nil, err
	}
	if err := b.processBrushes(); err != nil {
		return nil, err
	}
	if err := b.processDisplacements(); err != nil {
		return nil, err
	}

	if err := b.ids.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTooManyTextures, err)
	}
	if limit := b.cfg.MaxTextures; limit > 0 && b.ids.Len() > limit {
		return nil, fmt.Errorf("%w: %d textures, limit %d", ErrTooManyTextures, b.ids.Len(), limit)
	}
	if err := b.packTextures(ctx, m); err != nil {
		return nil, err
	}

	if err := b.emitBrushes(m); err != nil {
		return nil, err
	}
	if err := b.emitDisplacements(m); err != nil {
		return nil, err
	}
	if err := b.packLightmaps(m); err != nil {
		return nil, err
	}

	m.Positions = b.positions.data
	m.Normals = b.normals.data
	m.TextureCoords = b.texCoords.data
	m.DisplacementPositions = b.dispPositions.data
	m.DisplacementVertexColors = b.dispColors.data
	m.DisplacementTextureCoords = b.dispTexCoords.data

	b.stats.Clusters = b.numClusters
	b.stats.Nodes = len(m.BspNodes)
	b.stats.Leaves = len(m.BspLeaves)
	b.stats.Positions = b.positions.len()
	b.stats.Normals = b.normals.len()
	b.stats.TextureCoords = b.texCoords.len()
	b.stats.Textures = len(m.TextureTable)
	b.stats.TextureBytes = len(m.TextureData)
	b.stats.PipelineStates = b.states.Len()
	b.stats.LightmapPatches = len(m.LightmapPatches)
	b.stats.LightmapBytes = len(m.LightmapData)

	res := &Result{
		Map:      m,
		Stats:    b.stats,
		Textures: b.ids.Keys(),
		States:   b.states.States(),
		Skipped:  b.skipped,
	}
	if b.cfg.DumpLightmaps {
		if res.Lightmaps, err = b.previewLightmaps(); err != nil {
			return nil, err
		}
	}

	if n := len(multierr.Errors(b.skipped)); n > 0 {
		b.log.Warn("assets skipped", zap.Int("count", n), zap.Int("faces", b.stats.SkippedFaces))
	}
	b.log.Info("map packed",
		zap.Int("clusters", b.stats.Clusters),
		zap.Int("batches", b.stats.Batches),
		zap.Int("displacements", b.stats.Displacements),
		zap.Int("textures", b.stats.Textures),
		zap.Int("pipeline_states", b.stats.PipelineStates))
	return res, nil
}

// skip records an asset failure once per asset.
func (b *builder) skip(asset string, err error) {
	b.log.Warn("skipping asset", zap.String("asset", asset), zap.Error(err))
	b.skipped = multierr.Append(b.skipped, fmt.Errorf("%s: %w", asset, err))
}

// reserveSkybox allocates the first texture IDs to the 2D skybox faces named by the
// worldspawn entity.
func (b *builder) reserveSkybox() error {
	entities, err := formats.ParseEntities(b.bsp.Entities)
	if err != nil {
		return fmt.Errorf("%w: entities: %v", ErrCorruptMap, err)
	}
	if len(entities) == 0 || entities[0]["skyname"] == "" {
		b.log.Warn("map has no skybox")
		return nil
	}

	sky := entities[0]["skyname"]
	for _, face := range skyboxFaces {
		m, err := b.assets.Material("materials/skybox/" + sky + face + ".vmt")
		if err != nil {
			return fmt.Errorf("skybox %s%s: %w", sky, face, err)
		}
		switch m.Shader {
		case formats.ShaderUnlitGeneric, formats.ShaderSky:
		default:
			return fmt.Errorf("skybox %s: %w: %q", m.Path, pipeline.ErrUnsupportedShader, m.Shader)
		}
		if _, err := b.assets.Texture(m.BaseTexture); err != nil {
			return fmt.Errorf("skybox %s: %w", m.Path, err)
		}
		b.ids.ForceUnique(pipeline.EncodeAsIs(m.BaseTexture))
	}
	return nil
}
