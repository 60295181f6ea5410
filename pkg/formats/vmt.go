package formats

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"
	"go.uber.org/zap"

	"github.com/Faultbox/gxpack/internal/logger"
	"github.com/Faultbox/gxpack/pkg/encoding"
)

// Material format errors.
var (
	ErrDuplicateKey       = errors.New("duplicate material parameter")
	ErrInvalidParam       = errors.New("invalid material parameter")
	ErrMissingBaseTexture = errors.New("material has no $basetexture")
	ErrBadConditional     = errors.New("unsupported material conditional")
	ErrPatchInclude       = errors.New("patch material without include")
)

// Shader names as they appear, lowercased, at the root of a material.
const (
	ShaderLightmappedGeneric    = "lightmappedgeneric"
	ShaderUnlitGeneric          = "unlitgeneric"
	ShaderWorldVertexTransition = "worldvertextransition"
	ShaderPatch                 = "patch"
	ShaderSky                   = "sky"
)

// DefaultAlphaTestReference is used when $alphatest is set without $alphatestreference.
const DefaultAlphaTestReference = 0.5

// Material is a parsed VMT. Texture paths are normalized ("materials/....vtf"); an empty path
// means the parameter was not set. A $envmap of env_cubemap leaves EnvMap empty and sets
// EnvMapCubemap instead.
type Material struct {
	Path   string
	Shader string

	AlphaTest                bool
	AlphaTestReference       float32
	BaseAlphaEnvMapMask      bool
	BaseTexture              string
	BaseTexture2             string
	BumpMap                  string
	Decal                    string
	Detail                   string
	DetailBlendFactor        float32
	DetailBlendMode          int
	DetailScale              float32
	EnvMap                   string
	EnvMapCubemap            bool
	EnvMapContrast           *float32
	EnvMapMask               string
	EnvMapSaturation         *float32
	EnvMapTint               *mgl32.Vec3
	NoDiffuseBumpLighting    bool
	NormalMapAlphaEnvMapMask bool
	SelfIllum                bool
	Translucent              bool
	VertexColor              bool

	// Params holds the raw value of every recognised parameter by lowercased name.
	Params map[string]string
}

// Supported reports whether the material's shader is one the packer can render.
func (m *Material) Supported() bool {
	switch m.Shader {
	case ShaderLightmappedGeneric, ShaderUnlitGeneric, ShaderWorldVertexTransition:
		return true
	}
	return false
}

func (m *Material) clone() *Material {
	c := *m
	c.Params = make(map[string]string, len(m.Params))
	for k, v := range m.Params {
		c.Params[k] = v
	}
	return &c
}

// IncludeFunc resolves the material named by a patch shader's include parameter.
type IncludeFunc func(path string) (*Material, error)

// ParseMaterial parses a VMT. Patch materials are resolved through include and the patched
// result is returned with the patch's own path.
func ParseMaterial(path string, data []byte, include IncludeFunc) (*Material, error) {
	root, err := ParseKeyValues(encoding.DecodeText(data))
	if err != nil {
		return nil, fmt.Errorf("material %s: %w", path, err)
	}

	shader := strings.ToLower(root.Name)
	if shader == ShaderPatch {
		return parsePatch(path, root, include)
	}

	m := &Material{
		Path:               path,
		Shader:             shader,
		AlphaTestReference: DefaultAlphaTestReference,
		DetailBlendFactor:  1,
		DetailScale:        4,
		Params:             make(map[string]string),
	}
	if !m.Supported() && shader != ShaderSky {
		logger.Warn("unsupported shader",
			zap.String("material", path), zap.String("shader", root.Name))
		return m, nil
	}

	p := materialParser{m: m, seen: make(map[string]bool)}
	if err := p.entries(root.Entries); err != nil {
		return nil, fmt.Errorf("material %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("material %s: %w", path, err)
	}
	return m, nil
}

func parsePatch(path string, root *KVObject, include IncludeFunc) (*Material, error) {
	var includePath string
	var replace []KVEntry
	for _, e := range root.Entries {
		switch strings.ToLower(e.Key) {
		case "include":
			if !e.IsObject() {
				includePath = encoding.MaterialPath(e.Value)
				continue
			}
		case "replace", "insert":
			if e.IsObject() {
				replace = append(replace, e.Object.Entries...)
				continue
			}
		}
		logger.Warn("unexpected patch entry", zap.String("material", path), zap.String("key", e.Key))
	}
	if includePath == "" {
		return nil, fmt.Errorf("material %s: %w", path, ErrPatchInclude)
	}
	if include == nil {
		return nil, fmt.Errorf("material %s: no resolver for include %s", path, includePath)
	}

	base, err := include(includePath)
	if err != nil {
		return nil, fmt.Errorf("material %s: include: %w", path, err)
	}
	m := base.clone()
	m.Path = path
	if !m.Supported() {
		return m, nil
	}

	p := materialParser{m: m, seen: make(map[string]bool)}
	if err := p.entries(replace); err != nil {
		return nil, fmt.Errorf("material %s: %w", path, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("material %s: %w", path, err)
	}
	return m, nil
}

func (m *Material) validate() error {
	if m.BaseTexture == "" {
		return ErrMissingBaseTexture
	}
	if m.Shader == ShaderWorldVertexTransition && m.BaseTexture2 == "" {
		return fmt.Errorf("%w: $basetexture2", ErrMissingBaseTexture)
	}
	if m.EnvMap != "" && m.EnvMapContrast != nil && *m.EnvMapContrast != 1 {
		logger.Debug("ignoring $envmapcontrast", zap.String("material", m.Path))
	}
	return nil
}

type materialParser struct {
	m    *Material
	seen map[string]bool
}

func (p *materialParser) entries(entries []KVEntry) error {
	for _, e := range entries {
		if !conditionHolds(e.Condition) {
			continue
		}
		var err error
		if e.IsObject() {
			err = p.object(e)
		} else {
			err = p.keyValue(e)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// conditionHolds evaluates a [condition] suffix for a desktop dx9 target.
func conditionHolds(cond string) bool {
	if cond == "" {
		return true
	}
	negated := strings.HasPrefix(cond, "!")
	switch strings.ToLower(strings.TrimPrefix(cond, "!")) {
	case "$x360", "$ps3", "$gameconsole", "$osx", "$linux", "$dx90_20b":
		return negated
	}
	return !negated
}

func (p *materialParser) object(e KVEntry) error {
	name := strings.ToLower(e.Key)
	switch {
	case name == "proxies":
		logger.Warn("ignoring material proxies", zap.String("material", p.m.Path))
		return nil
	case strings.HasSuffix(name, "_dx6"):
		// Fallback for the targeted feature level; applies as if inlined.
		return p.entries(e.Object.Entries)
	case strings.HasPrefix(name, p.m.Shader+"_"):
		// Higher feature level fallbacks.
		return nil
	case strings.ContainsAny(name, "<>"):
		return p.conditional(name, e.Object.Entries)
	}
	logger.Warn("unexpected material block", zap.String("material", p.m.Path), zap.String("block", e.Key))
	return nil
}

func (p *materialParser) conditional(name string, entries []KVEntry) error {
	var op string
	for _, candidate := range []string{"<=", ">=", "<", ">"} {
		if strings.HasPrefix(name, candidate) {
			op = candidate
			break
		}
	}
	if op == "" {
		return fmt.Errorf("%w: %q", ErrBadConditional, name)
	}
	switch level := name[len(op):]; level {
	case "dx90", "dx90_20b":
	default:
		return fmt.Errorf("%w: %q", ErrBadConditional, name)
	}
	if op == "<" || op == "<=" {
		return p.entries(entries)
	}
	return nil
}

func (p *materialParser) keyValue(e KVEntry) error {
	key := strings.ToLower(e.Key)
	if strings.HasPrefix(key, "%") {
		return nil
	}
	switch key {
	case "$parallaxmap", "$parallaxmapscale", "$reflectivity", "$surfaceprop":
		return nil
	}

	if p.seen[key] {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, e.Key)
	}
	p.seen[key] = true

	m := p.m
	v := e.Value
	var err error
	switch key {
	case "$alphatest":
		m.AlphaTest, err = parseBool(v)
	case "$alphatestreference":
		m.AlphaTestReference, err = parseFloat(v)
	case "$basealphaenvmapmask":
		m.BaseAlphaEnvMapMask, err = parseBool(v)
	case "$basetexture":
		m.BaseTexture = encoding.TexturePath(v)
	case "$basetexture2":
		m.BaseTexture2 = encoding.TexturePath(v)
	case "$bumpmap":
		m.BumpMap = encoding.TexturePath(v)
	case "$decal":
		m.Decal = encoding.TexturePath(v)
	case "$detail":
		m.Detail = encoding.TexturePath(v)
	case "$detailblendfactor":
		m.DetailBlendFactor, err = parseFloat(v)
	case "$detailblendmode":
		m.DetailBlendMode, err = strconv.Atoi(strings.TrimSpace(v))
	case "$detailscale":
		m.DetailScale, err = parseFloat(v)
	case "$envmap":
		if strings.EqualFold(strings.TrimSpace(v), "env_cubemap") {
			m.EnvMapCubemap = true
		} else {
			m.EnvMap = encoding.TexturePath(v)
		}
	case "$envmapcontrast":
		var f float32
		f, err = parseFloat(v)
		m.EnvMapContrast = &f
	case "$envmapmask":
		m.EnvMapMask = encoding.TexturePath(v)
	case "$envmapsaturation":
		var f float32
		f, err = parseVectorOrFloat(v)
		m.EnvMapSaturation = &f
	case "$envmaptint":
		var tint mgl32.Vec3
		tint, err = ParseMaterialVector(v)
		m.EnvMapTint = &tint
	case "$nodiffusebumplighting":
		m.NoDiffuseBumpLighting, err = parseBool(v)
	case "$normalmapalphaenvmapmask":
		m.NormalMapAlphaEnvMapMask, err = parseBool(v)
	case "$selfillum":
		m.SelfIllum, err = parseBool(v)
	case "$translucent":
		m.Translucent, err = parseBool(v)
	case "$vertexcolor":
		m.VertexColor, err = parseBool(v)
	default:
		logger.Warn("ignoring material parameter",
			zap.String("material", m.Path), zap.String("shader", m.Shader), zap.String("key", e.Key))
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalidParam, e.Key, v, err)
	}
	m.Params[key] = v
	return nil
}

func parseBool(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case "0":
		return false, nil
	case "1":
		return true, nil
	}
	return strconv.ParseBool(strings.TrimSpace(s))
}

func parseFloat(s string) (float32, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 32)
	return float32(f), err
}

func parseVectorOrFloat(s string) (float32, error) {
	if v, err := ParseMaterialVector(s); err == nil {
		return (v[0] + v[1] + v[2]) / 3, nil
	}
	return parseFloat(s)
}

// ParseMaterialVector parses "[r g b]" as floats or "{r g b}" as bytes scaled to 0..1.
func ParseMaterialVector(s string) (mgl32.Vec3, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return mgl32.Vec3{}, fmt.Errorf("bad vector %q", s)
	}
	var scale float32
	switch {
	case s[0] == '[' && s[len(s)-1] == ']':
		scale = 1
	case s[0] == '{' && s[len(s)-1] == '}':
		scale = 1.0 / 255
	default:
		return mgl32.Vec3{}, fmt.Errorf("bad vector %q", s)
	}

	fields := strings.Fields(s[1 : len(s)-1])
	if len(fields) != 3 {
		return mgl32.Vec3{}, fmt.Errorf("bad vector %q: want 3 components", s)
	}
	var v mgl32.Vec3
	for i, f := range fields {
		x, err := parseFloat(f)
		if err != nil {
			return mgl32.Vec3{}, fmt.Errorf("bad vector %q: %w", s, err)
		}
		v[i] = x * scale
	}
	return v, nil
}
