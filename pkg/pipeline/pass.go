package pipeline

import (
	"cmp"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/gxpack/pkg/formats"
)

// ModeCount is the number of brush pass modes a cluster geometry entry carries ranges for.
const ModeCount = 18

// DisplacementModeCount is the number of displacement pass modes.
const DisplacementModeCount = 2

// PassKind is the family of a brush pass.
type PassKind uint8

const (
	PassLightmappedGeneric PassKind = iota
	PassUnlitGeneric
	PassSelfIllum
)

// PassAlpha separates the opaque and the blended halves of the lightmapped passes.
type PassAlpha uint8

const (
	PassOpaqueOrAlphaTest PassAlpha = iota
	PassAlphaBlend
)

// Pass groups brush batches that the renderer draws with the same TEV setup.
type Pass struct {
	Kind       PassKind
	Alpha      PassAlpha
	BaseAlpha  BaseAlpha
	EnvMap     bool
	EnvMapMask EnvMapMask
}

// PassFor derives the pass of a material packed as pm.
func PassFor(m *formats.Material, pm PackedMaterial) (Pass, error) {
	switch m.Shader {
	case formats.ShaderLightmappedGeneric:
		if m.SelfIllum {
			return Pass{Kind: PassSelfIllum}, nil
		}
		p := Pass{
			Kind:       PassLightmappedGeneric,
			BaseAlpha:  pm.BaseAlpha,
			EnvMap:     pm.Env.Valid,
			EnvMapMask: pm.EnvMapMask,
		}
		switch {
		case m.AlphaTest && m.Translucent:
			return Pass{}, fmt.Errorf("%w: %s", ErrAlphaConflict, m.Path)
		case m.Translucent:
			p.Alpha = PassAlphaBlend
		}
		return p, nil

	case formats.ShaderUnlitGeneric:
		if m.SelfIllum {
			return Pass{Kind: PassSelfIllum}, nil
		}
		return Pass{Kind: PassUnlitGeneric}, nil

	case formats.ShaderWorldVertexTransition:
		return Pass{
			Kind:       PassLightmappedGeneric,
			BaseAlpha:  pm.BaseAlpha,
			EnvMap:     pm.Env.Valid,
			EnvMapMask: pm.EnvMapMask,
		}, nil
	}
	return Pass{}, fmt.Errorf("%w: %q in %s", ErrUnsupportedShader, m.Shader, m.Path)
}

// Mode returns the renderer's pass number.
//
//	0  1  3   opaque, base alpha: no env map, env mask none, env mask aux intensity
//	4     7   opaque, aux alpha: no env map, env mask aux intensity
//	12 13 15  blended, aux alpha: no env map, env mask none, env mask aux intensity
//	16        unlit
//	17        self-illuminated
//
// Every other combination has no renderer support and is an error.
func (p Pass) Mode() (uint8, error) {
	switch p.Kind {
	case PassUnlitGeneric:
		return 16, nil
	case PassSelfIllum:
		return 17, nil
	}

	if p.EnvMap && p.EnvMapMask == EnvMapMaskBaseTextureAlpha {
		return 0, fmt.Errorf("%w: env map masked by base alpha", ErrUnsupportedPass)
	}

	var mode uint8
	switch {
	case p.Alpha == PassAlphaBlend:
		if p.BaseAlpha != AuxTextureAlpha {
			return 0, ErrBlendBaseAlpha
		}
		mode = 12
	case p.BaseAlpha == AuxTextureAlpha:
		mode = 4
	}
	if p.EnvMap {
		switch p.EnvMapMask {
		case EnvMapMaskNone:
			mode++
		case EnvMapMaskAuxTextureIntensity:
			mode += 3
		}
	}
	if mode == 5 {
		return 0, fmt.Errorf("%w: opaque aux alpha with unmasked env map", ErrUnsupportedPass)
	}
	return mode, nil
}

// Compare orders passes field by field.
func (p Pass) Compare(o Pass) int {
	return cmp.Or(
		cmp.Compare(p.Kind, o.Kind),
		cmp.Compare(p.Alpha, o.Alpha),
		cmp.Compare(p.BaseAlpha, o.BaseAlpha),
		compareBool(p.EnvMap, o.EnvMap),
		cmp.Compare(p.EnvMapMask, o.EnvMapMask),
	)
}

func compareBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

// DisplacementPass groups displacement batches.
type DisplacementPass uint8

const (
	DisplacementLightmappedGeneric     DisplacementPass = 0
	DisplacementWorldVertexTransition DisplacementPass = 1
)

// DisplacementPassFor derives the displacement pass of a material.
func DisplacementPassFor(m *formats.Material) (DisplacementPass, error) {
	switch m.Shader {
	case formats.ShaderLightmappedGeneric:
		return DisplacementLightmappedGeneric, nil
	case formats.ShaderWorldVertexTransition:
		return DisplacementWorldVertexTransition, nil
	}
	return 0, fmt.Errorf("%w: %q on displacement in %s", ErrUnsupportedShader, m.Shader, m.Path)
}

// Mode returns the renderer's displacement pass number.
func (p DisplacementPass) Mode() uint8 {
	return uint8(p)
}

// AlphaMode is how a batch treats fragment alpha.
type AlphaMode uint8

const (
	AlphaOpaque AlphaMode = iota
	AlphaTest
	AlphaBlend
)

// Alpha is a batch's alpha configuration. Threshold only applies to AlphaTest.
type Alpha struct {
	Mode      AlphaMode
	Threshold uint8
}

// ShaderParams are the per-batch values that change between draws within a pass. Plane
// comes first so that sorted batches change planes as rarely as possible.
type ShaderParams struct {
	Plane      Matrix
	EnvMapTint [3]uint8
	Alpha      Alpha
}

// ParamsFor derives the shader parameters of a material drawn with the given plane matrix.
func ParamsFor(m *formats.Material, plane Matrix) (ShaderParams, error) {
	switch m.Shader {
	case formats.ShaderLightmappedGeneric:
		tint := mgl32.Vec3{1, 1, 1}
		if m.EnvMapTint != nil {
			tint = *m.EnvMapTint
		}
		p := ShaderParams{
			Plane:      plane,
			EnvMapTint: [3]uint8{QuantizeUnit(tint[0]), QuantizeUnit(tint[1]), QuantizeUnit(tint[2])},
		}
		switch {
		case m.AlphaTest && m.Translucent:
			return ShaderParams{}, fmt.Errorf("%w: %s", ErrAlphaConflict, m.Path)
		case m.AlphaTest:
			p.Alpha = Alpha{Mode: AlphaTest, Threshold: QuantizeUnit(m.AlphaTestReference)}
		case m.Translucent:
			p.Alpha = Alpha{Mode: AlphaBlend}
		}
		return p, nil

	case formats.ShaderUnlitGeneric, formats.ShaderWorldVertexTransition:
		return ShaderParams{Plane: plane, EnvMapTint: [3]uint8{255, 255, 255}}, nil
	}
	return ShaderParams{}, fmt.Errorf("%w: %q in %s", ErrUnsupportedShader, m.Shader, m.Path)
}

// Compare orders parameters by plane, then tint, then alpha.
func (p ShaderParams) Compare(o ShaderParams) int {
	if c := p.Plane.Compare(o.Plane); c != 0 {
		return c
	}
	for i := range p.EnvMapTint {
		if c := cmp.Compare(p.EnvMapTint[i], o.EnvMapTint[i]); c != 0 {
			return c
		}
	}
	return cmp.Or(
		cmp.Compare(p.Alpha.Mode, o.Alpha.Mode),
		cmp.Compare(p.Alpha.Threshold, o.Alpha.Threshold),
	)
}

// QuantizeUnit maps [0,1] onto [0,255], rounding to nearest. NaN maps to 0.
func QuantizeUnit(x float32) uint8 {
	if math32.IsNaN(x) {
		return 0
	}
	return uint8(math32.Max(0, math32.Min(255, x*255)) + 0.5)
}

// ReflectionMatrix builds the env map matrix of a face plane: a reflection through the plane
// with no translation.
func ReflectionMatrix(normal mgl32.Vec3) Matrix {
	n := normal.Normalize()
	r := mgl32.Ident3().Sub(mgl32.Mat3{
		n[0] * n[0], n[1] * n[0], n[2] * n[0],
		n[0] * n[1], n[1] * n[1], n[2] * n[1],
		n[0] * n[2], n[1] * n[2], n[2] * n[2],
	}.Mul(2))
	var m [3][4]float32
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			m[row][col] = r.At(row, col)
		}
	}
	return NewMatrix(m)
}
