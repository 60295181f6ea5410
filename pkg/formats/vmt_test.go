package formats

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

func noInclude(path string) (*Material, error) {
	return nil, fmt.Errorf("unexpected include %s", path)
}

func TestParseMaterialLightmappedGeneric(t *testing.T) {
	src := `"LightmappedGeneric"
{
	"$basetexture" "Metal/MetalFloor001a"
	"$envmap" "env_cubemap"
	"$envmapmask" "metal/metalfloor001a_mask"
	"$envmaptint" "{128 255 0}"
	"$alphatest" "1"
	"$alphatestreference" ".25"
	"$surfaceprop" "metal"
	"%keywords" "tides"
	"$somethingnew" "1"

	"lightmappedgeneric_dx9"
	{
		"$bumpmap" "metal/metalfloor001a_normal"
	}
	"lightmappedgeneric_dx6"
	{
		"$translucent" "0"
	}
	"<dx90"
	{
		"$selfillum" "1"
	}
	">=dx90"
	{
		"$decal" "ignored"
	}
	"Proxies"
	{
		"AnimatedTexture" { "animatedtexturevar" "$basetexture" }
	}
}`
	m, err := ParseMaterial("materials/metal/floor.vmt", []byte(src), noInclude)
	if err != nil {
		t.Fatalf("ParseMaterial failed: %v", err)
	}
	if m.Shader != ShaderLightmappedGeneric {
		t.Errorf("shader = %q", m.Shader)
	}
	if m.BaseTexture != "materials/metal/metalfloor001a.vtf" {
		t.Errorf("base texture = %q", m.BaseTexture)
	}
	if m.EnvMap != "" || !m.EnvMapCubemap {
		t.Errorf("env_cubemap should not produce a path: %q %v", m.EnvMap, m.EnvMapCubemap)
	}
	if m.EnvMapMask != "materials/metal/metalfloor001a_mask.vtf" {
		t.Errorf("env map mask = %q", m.EnvMapMask)
	}
	want := mgl32.Vec3{128.0 / 255, 1, 0}
	if m.EnvMapTint == nil || !m.EnvMapTint.ApproxEqual(want) {
		t.Errorf("tint = %v, want %v", m.EnvMapTint, want)
	}
	if !m.AlphaTest || m.AlphaTestReference != 0.25 {
		t.Errorf("alpha test = %v %v", m.AlphaTest, m.AlphaTestReference)
	}
	if !m.SelfIllum {
		t.Error("<dx90 block should apply")
	}
	if m.Decal != "" || m.BumpMap != "" {
		t.Errorf("higher feature level blocks should be ignored: %q %q", m.Decal, m.BumpMap)
	}
	if _, ok := m.Params["$surfaceprop"]; ok {
		t.Error("$surfaceprop should be ignored")
	}
}

func TestParseMaterialDefaults(t *testing.T) {
	m, err := ParseMaterial("m.vmt", []byte(`"UnlitGeneric" { "$basetexture" "a" }`), noInclude)
	if err != nil {
		t.Fatal(err)
	}
	if m.AlphaTestReference != DefaultAlphaTestReference {
		t.Errorf("alpha test reference = %v", m.AlphaTestReference)
	}
	if m.EnvMapTint != nil {
		t.Errorf("tint should be unset")
	}
}

func TestParseMaterialErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"duplicate key", `"LightmappedGeneric" { "$basetexture" "a" "$BaseTexture" "b" }`, ErrDuplicateKey},
		{"duplicate across fallback", `"LightmappedGeneric" { "$basetexture" "a" "lightmappedgeneric_dx6" { "$basetexture" "b" } }`, ErrDuplicateKey},
		{"bad bool", `"LightmappedGeneric" { "$basetexture" "a" "$alphatest" "maybe" }`, ErrInvalidParam},
		{"bad vector", `"LightmappedGeneric" { "$basetexture" "a" "$envmaptint" "[1 1]" }`, ErrInvalidParam},
		{"no base texture", `"LightmappedGeneric" { "$alphatest" "1" }`, ErrMissingBaseTexture},
		{"wvt needs second base", `"WorldVertexTransition" { "$basetexture" "a" }`, ErrMissingBaseTexture},
		{"bad conditional", `"LightmappedGeneric" { "$basetexture" "a" "<dx80" { } }`, ErrBadConditional},
		{"syntax", `"LightmappedGeneric" {`, ErrKeyValuesSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseMaterial("m.vmt", []byte(tt.src), noInclude)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestParseMaterialUnsupportedShader(t *testing.T) {
	m, err := ParseMaterial("m.vmt", []byte(`"Water" { "$abovewater" "1" "$abovewater" "1" }`), noInclude)
	if err != nil {
		t.Fatalf("unsupported shaders are not a parse error: %v", err)
	}
	if m.Supported() || m.Shader != "water" {
		t.Errorf("shader = %q supported=%v", m.Shader, m.Supported())
	}
}

func TestParseMaterialSky(t *testing.T) {
	m, err := ParseMaterial("materials/skybox/sky_dayrt.vmt",
		[]byte(`"Sky" { "$basetexture" "skybox/sky_dayrt" "$nofog" "1" }`), noInclude)
	if err != nil {
		t.Fatalf("ParseMaterial failed: %v", err)
	}
	if m.Shader != ShaderSky || m.Supported() {
		t.Errorf("shader = %q supported=%v", m.Shader, m.Supported())
	}
	if m.BaseTexture != "materials/skybox/sky_dayrt.vtf" {
		t.Errorf("base texture = %q", m.BaseTexture)
	}
}

func TestParseMaterialPatch(t *testing.T) {
	base := `"LightmappedGeneric" { "$basetexture" "brick/wall" "$translucent" "0" }`
	include := func(path string) (*Material, error) {
		if path != "materials/brick/wall.vmt" {
			return nil, fmt.Errorf("unexpected include %s", path)
		}
		return ParseMaterial(path, []byte(base), noInclude)
	}

	patch := `"patch" { "include" "materials/brick/wall.vmt" "replace" { "$translucent" "1" } }`
	m, err := ParseMaterial("materials/maps/test/wall_patched.vmt", []byte(patch), include)
	if err != nil {
		t.Fatalf("ParseMaterial failed: %v", err)
	}
	if m.Path != "materials/maps/test/wall_patched.vmt" {
		t.Errorf("path = %q", m.Path)
	}
	if !m.Translucent || m.BaseTexture != "materials/brick/wall.vtf" {
		t.Errorf("patched material = %+v", m)
	}

	if _, err := ParseMaterial("p.vmt", []byte(`"patch" { "replace" { } }`), include); !errors.Is(err, ErrPatchInclude) {
		t.Errorf("expected ErrPatchInclude, got %v", err)
	}
}

func TestParseMaterialVector(t *testing.T) {
	tests := []struct {
		in   string
		want mgl32.Vec3
		ok   bool
	}{
		{"[1 0.5 .25]", mgl32.Vec3{1, 0.5, 0.25}, true},
		{" {255 0 51} ", mgl32.Vec3{1, 0, 0.2}, true},
		{"1 1 1", mgl32.Vec3{}, false},
		{"[1 1 1 1]", mgl32.Vec3{}, false},
		{"[a b c]", mgl32.Vec3{}, false},
	}
	for _, tt := range tests {
		got, err := ParseMaterialVector(tt.in)
		if (err == nil) != tt.ok {
			t.Errorf("ParseMaterialVector(%q) err = %v", tt.in, err)
			continue
		}
		if tt.ok && !got.ApproxEqual(tt.want) {
			t.Errorf("ParseMaterialVector(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
