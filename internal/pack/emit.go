package pack

import (
	"fmt"

	"github.com/Faultbox/gxpack/pkg/bytecode"
	"github.com/Faultbox/gxpack/pkg/displaylist"
	"github.com/Faultbox/gxpack/pkg/mapdata"
	"github.com/Faultbox/gxpack/pkg/pipeline"
)

// appendList appends a built display list to dst and returns its byte range.
func appendList(dst []byte, list *displaylist.Builder) ([]byte, uint32, uint32) {
	start := uint32(len(dst))
	dst = append(dst, list.Build().Bytes()...)
	return dst, start, uint32(len(dst))
}

// emitBrushes compiles every cluster's batches into bytecode, one range per cluster and pass
// mode. Batches within a mode are in key order so consecutive draws share as much bound state
// as possible.
func (b *builder) emitBrushes(m *mapdata.MapData) error {
	var w bytecode.Writer
	e := bytecode.NewEmitter(&w)
	desc := pipeline.BrushVertexDesc()

	m.ClusterGeometry = make([]mapdata.ClusterGeometry, len(b.clusters))
	for cluster, cg := range b.clusters {
		batches := cg.sorted()
		for mode := 0; mode < mapdata.PassModes; mode++ {
			e.Reset()
			start := uint32(w.Len())
			for _, bt := range batches {
				if int(bt.mode) != mode {
					continue
				}
				if _, err := b.states.Intern(pipeline.StateFor(bt.mat, bt.key.material, bt.key.params, desc)); err != nil {
					return err
				}
				bindBatch(e, bt.key)

				var from, to uint32
				m.ClusterDisplayLists, from, to = appendList(m.ClusterDisplayLists, bt.list)
				if err := e.Draw(from, to); err != nil {
					return fmt.Errorf("cluster %d: %w", cluster, err)
				}
				b.stats.Batches++
			}
			m.ClusterGeometry[cluster].Ranges[mode] = [2]uint32{start, uint32(w.Len())}
		}
	}
	m.ClusterByteCode = w.Words()
	return nil
}

// bindBatch emits the state changes a brush batch needs.
func bindBatch(e *bytecode.Emitter, k batchKey) {
	if k.material.Env.Valid {
		e.SetPlane(k.params.Plane.Floats())
	}
	e.SetBaseTexture(k.material.Base)
	if k.material.Aux.Valid {
		e.SetAuxTexture(k.material.Aux.ID)
	}
	if k.material.Env.Valid {
		e.SetEnvMapTexture(k.material.Env.ID)
		e.SetEnvMapTint(k.params.EnvMapTint)
	}
	a := k.params.Alpha
	e.SetAlpha(a.Mode == pipeline.AlphaTest, a.Threshold, a.Mode == pipeline.AlphaBlend)
}

// emitDisplacements compiles the displacement draws, one bytecode range per displacement mode.
// Each draw gets a lightmap table entry, in draw order.
func (b *builder) emitDisplacements(m *mapdata.MapData) error {
	var w bytecode.Writer
	e := bytecode.NewEmitter(&w)
	desc := pipeline.DisplacementVertexDesc()
	batches := b.sortedDisplacements()

	m.DisplacementTable = make([]mapdata.DisplacementRange, pipeline.DisplacementModeCount)
	for mode := 0; mode < pipeline.DisplacementModeCount; mode++ {
		e.Reset()
		start := uint32(w.Len())
		for _, db := range batches {
			if int(db.key.pass.Mode()) != mode {
				continue
			}
			params, err := pipeline.ParamsFor(db.mat, pipeline.Matrix{})
			if err != nil {
				return err
			}
			if _, err := b.states.Intern(pipeline.StateFor(db.mat, db.key.material, params, desc)); err != nil {
				return err
			}

			entry := mapdata.DisplacementLightmap{FaceIndex: db.key.face}
			if lm := b.dispLightmaps[db.key.face]; lm != nil {
				if entry.LightmapTable, err = b.packLightmap(m, lm); err != nil {
					return fmt.Errorf("displacement face %d lightmap: %w", db.key.face, err)
				}
			}
			m.LightmapDisplacements = append(m.LightmapDisplacements, entry)

			e.SetBaseTexture(db.key.material.Base)
			if db.key.material.Aux.Valid {
				e.SetAuxTexture(db.key.material.Aux.ID)
			}
			var from, to uint32
			m.DisplacementDisplayLists, from, to = appendList(m.DisplacementDisplayLists, db.list)
			if err := e.Draw(from, to); err != nil {
				return fmt.Errorf("displacement face %d: %w", db.key.face, err)
			}
			b.stats.DisplacementBatches++
		}
		m.DisplacementTable[mode] = mapdata.DisplacementRange{Start: start, End: uint32(w.Len())}
	}
	m.DisplacementByteCode = w.Words()
	return nil
}
