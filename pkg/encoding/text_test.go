package encoding

import "testing"

func TestDecodeText(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{"ascii", []byte(`"LightmappedGeneric"`), `"LightmappedGeneric"`},
		{"utf8 passthrough", []byte("caf\xc3\xa9"), "café"},
		{"windows-1252", []byte("caf\xe9"), "café"},
		{"bom stripped", []byte("\xef\xbb\xbfpatch"), "patch"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DecodeText(tt.in); got != tt.want {
				t.Errorf("DecodeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		`Materials\Concrete\Floor01.vmt`: "materials/concrete/floor01.vmt",
		"./maps/d1_trainstation_01.bsp":  "maps/d1_trainstation_01.bsp",
		"/materials//tools/toolsnodraw":  "materials/tools/toolsnodraw",
	}
	for in, want := range tests {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaterialAndTexturePath(t *testing.T) {
	tests := []struct {
		fn   func(string) string
		in   string
		want string
	}{
		{MaterialPath, "CONCRETE/Floor01", "materials/concrete/floor01.vmt"},
		{MaterialPath, "materials/metal/plate.vmt", "materials/metal/plate.vmt"},
		{TexturePath, `nature\blendsandsand008a`, "materials/nature/blendsandsand008a.vtf"},
		{TexturePath, "maps/d1.v2/cubemap", "materials/maps/d1.v2/cubemap.vtf"},
	}
	for _, tt := range tests {
		if got := tt.fn(tt.in); got != tt.want {
			t.Errorf("path(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTrimNullString(t *testing.T) {
	if got := TrimNullString([]byte("tools/toolsnodraw\x00\x00junk")); got != "tools/toolsnodraw" {
		t.Errorf("unexpected %q", got)
	}
}
