package pipeline

import (
	"cmp"
	"fmt"

	"github.com/Faultbox/gxpack/pkg/formats"
)

// TextureKeyKind says how a texture is derived from its source VTF files.
type TextureKeyKind uint8

const (
	// KeyEncodeAsIs converts the texture to the closest target format.
	KeyEncodeAsIs TextureKeyKind = iota
	// KeyIntensity stores the texture's color as a single intensity channel.
	KeyIntensity
	// KeyAlphaToIntensity stores the texture's alpha as a single intensity channel.
	KeyAlphaToIntensity
	// KeyComposeIntensityAlpha combines an intensity from one texture with alpha from another.
	KeyComposeIntensityAlpha
)

// TextureKey identifies one texture of the packed texture table.
type TextureKey struct {
	Kind TextureKeyKind
	// Path is the source texture, or the intensity source for KeyComposeIntensityAlpha.
	Path               string
	IntensityFromAlpha bool
	AlphaPath          string
}

// EncodeAsIs is the key of a texture converted to its closest target format.
func EncodeAsIs(path string) TextureKey {
	return TextureKey{Kind: KeyEncodeAsIs, Path: path}
}

// Intensity is the key of a texture's color reduced to one intensity channel.
func Intensity(path string) TextureKey {
	return TextureKey{Kind: KeyIntensity, Path: path}
}

// AlphaToIntensity is the key of a texture's alpha stored as intensity.
func AlphaToIntensity(path string) TextureKey {
	return TextureKey{Kind: KeyAlphaToIntensity, Path: path}
}

// ComposeIntensityAlpha is the key of an IA texture taking intensity from intensityPath (its
// alpha if intensityFromAlpha, else its color) and alpha from alphaPath.
func ComposeIntensityAlpha(intensityPath string, intensityFromAlpha bool, alphaPath string) TextureKey {
	return TextureKey{
		Kind:               KeyComposeIntensityAlpha,
		Path:               intensityPath,
		IntensityFromAlpha: intensityFromAlpha,
		AlphaPath:          alphaPath,
	}
}

func (k TextureKey) String() string {
	switch k.Kind {
	case KeyIntensity:
		return "intensity(" + k.Path + ")"
	case KeyAlphaToIntensity:
		return "alpha-to-intensity(" + k.Path + ")"
	case KeyComposeIntensityAlpha:
		src := "color"
		if k.IntensityFromAlpha {
			src = "alpha"
		}
		return fmt.Sprintf("compose(%s of %s, alpha of %s)", src, k.Path, k.AlphaPath)
	}
	return k.Path
}

// MaxTextureIDs is the number of IDs a u16 texture reference can address.
const MaxTextureIDs = 1 << 16

// TextureIDs allocates dense texture IDs in first-request order. Once MaxTextureIDs are in use,
// allocation stops and Err reports ErrTooManyTextureIDs.
type TextureIDs struct {
	keys []TextureKey
	ids  map[TextureKey]uint16
	err  error
}

// NewTextureIDs creates an empty allocator.
func NewTextureIDs() *TextureIDs {
	return &TextureIDs{ids: make(map[TextureKey]uint16)}
}

// Get returns the ID of k, allocating one on first use.
func (t *TextureIDs) Get(k TextureKey) uint16 {
	if id, ok := t.ids[k]; ok {
		return id
	}
	return t.ForceUnique(k)
}

// ForceUnique allocates a new ID for k even if k already has one. Later Get calls return the
// newest ID. Used for slots the renderer addresses by fixed position, like the skybox faces.
func (t *TextureIDs) ForceUnique(k TextureKey) uint16 {
	if len(t.keys) >= MaxTextureIDs {
		t.err = fmt.Errorf("%w: %s needs ID %d", ErrTooManyTextureIDs, k, len(t.keys))
		return 0
	}
	id := uint16(len(t.keys))
	t.keys = append(t.keys, k)
	t.ids[k] = id
	return id
}

// Len returns the number of allocated IDs.
func (t *TextureIDs) Len() int {
	return len(t.keys)
}

// Err returns the error of the first allocation that did not fit.
func (t *TextureIDs) Err() error {
	return t.err
}

// Keys returns the keys indexed by ID.
func (t *TextureIDs) Keys() []TextureKey {
	return t.keys
}

// TextureSource loads textures by normalized path.
type TextureSource interface {
	Texture(path string) (*formats.VTF, error)
}

// PackedMaterial is a material's set of texture IDs and how their channels are used.
type PackedMaterial struct {
	Base       uint16
	Aux        OptionalID
	BaseAlpha  BaseAlpha
	Env        OptionalID
	EnvMapMask EnvMapMask
}

// Pack assigns texture IDs for a material. Displacement geometry with a blended material
// binds the second base texture as its aux texture.
func Pack(m *formats.Material, textures TextureSource, ids *TextureIDs, forDisplacement bool) (PackedMaterial, error) {
	pm, err := pack(m, textures, ids, forDisplacement)
	if err != nil {
		return PackedMaterial{}, err
	}
	if err := ids.Err(); err != nil {
		return PackedMaterial{}, err
	}
	return pm, nil
}

func pack(m *formats.Material, textures TextureSource, ids *TextureIDs, forDisplacement bool) (PackedMaterial, error) {
	switch m.Shader {
	case formats.ShaderLightmappedGeneric:
		if m.SelfIllum {
			return selfIllum(m, ids), nil
		}
		return packLightmapped(m, textures, ids)

	case formats.ShaderUnlitGeneric:
		if m.SelfIllum {
			return selfIllum(m, ids), nil
		}
		return PackedMaterial{Base: ids.Get(EncodeAsIs(m.BaseTexture))}, nil

	case formats.ShaderWorldVertexTransition:
		pm := PackedMaterial{Base: ids.Get(EncodeAsIs(m.BaseTexture))}
		if forDisplacement {
			pm.Aux = SomeID(ids.Get(EncodeAsIs(m.BaseTexture2)))
		}
		return pm, nil
	}
	return PackedMaterial{}, fmt.Errorf("%w: %q in %s", ErrUnsupportedShader, m.Shader, m.Path)
}

func selfIllum(m *formats.Material, ids *TextureIDs) PackedMaterial {
	return PackedMaterial{
		Base:      ids.Get(EncodeAsIs(m.BaseTexture)),
		Aux:       SomeID(ids.Get(AlphaToIntensity(m.BaseTexture))),
		BaseAlpha: AuxTextureAlpha,
	}
}

func packLightmapped(m *formats.Material, textures TextureSource, ids *TextureIDs) (PackedMaterial, error) {
	base, err := textures.Texture(m.BaseTexture)
	if err != nil {
		return PackedMaterial{}, fmt.Errorf("material %s: %w", m.Path, err)
	}

	// Blending a base texture that keeps its own alpha is rejected later by Pass.Mode.
	pm := PackedMaterial{Base: ids.Get(EncodeAsIs(m.BaseTexture))}
	if alphaLostInTarget(base.Format) {
		pm.BaseAlpha = AuxTextureAlpha
	}

	if m.EnvMap != "" {
		pm.Env = SomeID(ids.Get(EncodeAsIs(m.EnvMap)))
		switch {
		case m.BaseAlphaEnvMapMask:
			pm.EnvMapMask = EnvMapMaskAuxTextureIntensity
			pm.Aux = SomeID(ids.Get(AlphaToIntensity(m.BaseTexture)))
			return pm, nil
		case m.EnvMapMask != "" && pm.BaseAlpha == AuxTextureAlpha:
			pm.EnvMapMask = EnvMapMaskAuxTextureIntensity
			pm.Aux = SomeID(ids.Get(ComposeIntensityAlpha(m.EnvMapMask, false, m.BaseTexture)))
			return pm, nil
		case m.EnvMapMask != "":
			pm.EnvMapMask = EnvMapMaskAuxTextureIntensity
			pm.Aux = SomeID(ids.Get(Intensity(m.EnvMapMask)))
			return pm, nil
		}
	}

	if pm.BaseAlpha == AuxTextureAlpha {
		pm.Aux = SomeID(ids.Get(AlphaToIntensity(m.BaseTexture)))
	}
	return pm, nil
}

// alphaLostInTarget reports whether a source format's alpha does not survive conversion to the
// block compressed target format, whose alpha is a single bit.
func alphaLostInTarget(f formats.VTFFormat) bool {
	switch f {
	case formats.VTFFormatDXT3, formats.VTFFormatDXT5, formats.VTFFormatRGBA16161616F:
		return true
	}
	return false
}

// Compare orders packed materials field by field.
func (m PackedMaterial) Compare(o PackedMaterial) int {
	return cmp.Or(
		cmp.Compare(m.Base, o.Base),
		m.Aux.compare(o.Aux),
		cmp.Compare(m.BaseAlpha, o.BaseAlpha),
		m.Env.compare(o.Env),
		cmp.Compare(m.EnvMapMask, o.EnvMapMask),
	)
}

// StateFor assembles the pipeline state of a brush or displacement batch.
func StateFor(m *formats.Material, pm PackedMaterial, params ShaderParams, desc VertexDesc) State {
	s := State{
		Reflection:  params.Plane,
		VertexDesc:  desc,
		BaseTexture: pm.Base,
		AuxTexture:  pm.Aux,
		EnvTexture:  pm.Env,
	}
	switch m.Shader {
	case formats.ShaderUnlitGeneric:
		s.Shader = Shader{Kind: ShaderUnlitGeneric}
	case formats.ShaderWorldVertexTransition:
		s.Shader = Shader{Kind: ShaderWorldVertexTransition}
	default:
		s.Shader = Shader{
			Kind:       ShaderLightmappedGeneric,
			BaseAlpha:  pm.BaseAlpha,
			EnvMap:     pm.Env.Valid,
			EnvMapMask: pm.EnvMapMask,
		}
	}
	if pm.Env.Valid {
		s.EnvMapTint = Tint{RGB: params.EnvMapTint, Valid: true}
	}
	return s
}
