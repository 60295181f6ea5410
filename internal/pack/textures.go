package pack

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Faultbox/gxpack/pkg/gxtex"
	"github.com/Faultbox/gxpack/pkg/mapdata"
	"github.com/Faultbox/gxpack/pkg/pipeline"
)

// minTextureDimension is the smallest mip size the budget search will go down to.
const minTextureDimension = 8

// textureAlignment keeps every texture on the GX texture cache line.
const textureAlignment = 32

// textureRequest resolves a texture key into a conversion of loaded textures.
func (b *builder) textureRequest(k pipeline.TextureKey) (gxtex.Request, error) {
	tex, err := b.assets.Texture(k.Path)
	if err != nil {
		return gxtex.Request{}, err
	}
	r := gxtex.Request{Texture: tex}
	switch k.Kind {
	case pipeline.KeyEncodeAsIs:
		r.Conversion = gxtex.ConvertAsIs
	case pipeline.KeyIntensity:
		r.Conversion = gxtex.ConvertIntensity
	case pipeline.KeyAlphaToIntensity:
		r.Conversion = gxtex.ConvertAlphaToIntensity
	case pipeline.KeyComposeIntensityAlpha:
		r.Conversion = gxtex.ConvertComposeIntensityAlpha
		r.IntensityFromAlpha = k.IntensityFromAlpha
		if r.Alpha, err = b.assets.Texture(k.AlphaPath); err != nil {
			return gxtex.Request{}, err
		}
	default:
		return gxtex.Request{}, fmt.Errorf("unknown texture key kind %d", k.Kind)
	}
	return r, nil
}

// textureBudget picks the largest mip dimension, halving from the configured maximum, at which
// every texture fits the memory budget together.
func (b *builder) textureBudget(requests []gxtex.Request) (int, int, error) {
	dim := b.cfg.MaxTextureDimension
	if dim <= 0 {
		dim = 1024
	}
	budget := b.cfg.TextureMemoryBudget
	var total int
	for ; dim >= minTextureDimension; dim /= 2 {
		total = 0
		for i, r := range requests {
			size, err := r.Size(dim)
			if err != nil {
				return 0, 0, fmt.Errorf("texture %d: %w", i, err)
			}
			total += size
		}
		if budget <= 0 || total <= budget {
			return dim, total, nil
		}
		b.log.Debug("textures exceed budget",
			zap.Int("dimension", dim), zap.Int("bytes", total), zap.Int("budget", budget))
	}
	return 0, 0, fmt.Errorf("%w: %d bytes at %d texels, budget %d", ErrTextureBudget, total, minTextureDimension, budget)
}

// packTextures converts every texture a draw references, in texture ID order.
func (b *builder) packTextures(ctx context.Context, m *mapdata.MapData) error {
	keys := b.ids.Keys()
	requests := make([]gxtex.Request, len(keys))
	for i, k := range keys {
		r, err := b.textureRequest(k)
		if err != nil {
			return fmt.Errorf("texture %s: %w", k, err)
		}
		requests[i] = r
	}

	dim, total, err := b.textureBudget(requests)
	if err != nil {
		return err
	}
	if dim < b.cfg.MaxTextureDimension {
		b.log.Info("textures downscaled to fit budget", zap.Int("dimension", dim), zap.Int("bytes", total))
	}

	converted := make([]*gxtex.Texture, len(requests))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range requests {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tex, err := requests[i].Convert(dim)
			if err != nil {
				return fmt.Errorf("texture %s: %w", keys[i], err)
			}
			converted[i] = tex
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.TextureTable = make([]mapdata.TextureTableEntry, len(converted))
	for i, tex := range converted {
		for len(m.TextureData)%textureAlignment != 0 {
			m.TextureData = append(m.TextureData, 0)
		}
		start := len(m.TextureData)
		m.TextureData = append(m.TextureData, tex.Data...)
		m.TextureTable[i] = mapdata.TextureTableEntry{
			Width:    uint16(tex.Width),
			Height:   uint16(tex.Height),
			MipCount: uint8(tex.MipCount),
			Flags:    tex.Flags,
			Format:   uint8(tex.Format),
			Start:    uint32(start),
			End:      uint32(len(m.TextureData)),
		}
	}
	b.stats.TextureDimension = dim
	return nil
}
