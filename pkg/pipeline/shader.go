// Package pipeline maps parsed materials onto the fixed-function render states the target
// renderer knows about, and deduplicates those states into dense IDs.
package pipeline

import (
	"cmp"
	"errors"
	"fmt"
)

// Pipeline errors.
var (
	ErrUnsupportedShader = errors.New("unsupported shader")
	ErrAlphaConflict     = errors.New("material is both alpha-tested and alpha-blended")
	ErrBlendBaseAlpha    = errors.New("alpha blending requires base alpha packed in the aux texture")
	ErrUnsupportedPass   = errors.New("unsupported pass combination")
	ErrTooManyStates     = errors.New("too many pipeline states")
	ErrTooManyTextureIDs = errors.New("too many texture IDs")
)

// BaseAlpha selects which texture carries a material's opacity.
type BaseAlpha uint8

const (
	BaseTextureAlpha BaseAlpha = iota
	AuxTextureAlpha
)

func (a BaseAlpha) String() string {
	if a == AuxTextureAlpha {
		return "aux-alpha"
	}
	return "base-alpha"
}

// EnvMapMask selects where an env map reads its mask from.
type EnvMapMask uint8

const (
	EnvMapMaskNone EnvMapMask = iota
	EnvMapMaskBaseTextureAlpha
	EnvMapMaskAuxTextureIntensity
)

func (m EnvMapMask) String() string {
	switch m {
	case EnvMapMaskBaseTextureAlpha:
		return "base-alpha"
	case EnvMapMaskAuxTextureIntensity:
		return "aux-intensity"
	}
	return "none"
}

// ShaderKind is the family of a TEV configuration.
type ShaderKind uint8

const (
	ShaderLightmappedGeneric ShaderKind = iota
	ShaderUnlitGeneric
	ShaderWorldVertexTransition
)

// Shader uniquely identifies a TEV configuration. BaseAlpha and the env map fields only
// apply to ShaderLightmappedGeneric.
type Shader struct {
	Kind       ShaderKind
	BaseAlpha  BaseAlpha
	EnvMap     bool
	EnvMapMask EnvMapMask
}

// ID returns the renderer's shader number.
//
//	0-3  lightmapped, base alpha: no env map, env mask none, base alpha, aux intensity
//	4-7  lightmapped, aux alpha: same order
//	8    unlit
//	9    world vertex transition
func (s Shader) ID() uint8 {
	switch s.Kind {
	case ShaderUnlitGeneric:
		return 8
	case ShaderWorldVertexTransition:
		return 9
	}
	var id uint8
	if s.BaseAlpha == AuxTextureAlpha {
		id = 4
	}
	if s.EnvMap {
		id += 1 + uint8(s.EnvMapMask)
	}
	return id
}

// Compare orders shaders by ID, then by the fields the ID folds together, so that only equal
// shaders compare as 0.
func (s Shader) Compare(o Shader) int {
	return cmp.Or(
		cmp.Compare(s.ID(), o.ID()),
		cmp.Compare(s.Kind, o.Kind),
		cmp.Compare(s.BaseAlpha, o.BaseAlpha),
		compareBool(s.EnvMap, o.EnvMap),
		cmp.Compare(s.EnvMapMask, o.EnvMapMask),
	)
}

func (s Shader) String() string {
	switch s.Kind {
	case ShaderUnlitGeneric:
		return "UnlitGeneric"
	case ShaderWorldVertexTransition:
		return "WorldVertexTransition"
	}
	if !s.EnvMap {
		return fmt.Sprintf("LightmappedGeneric(%s)", s.BaseAlpha)
	}
	return fmt.Sprintf("LightmappedGeneric(%s, envmap %s)", s.BaseAlpha, s.EnvMapMask)
}
