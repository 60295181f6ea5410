package main

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/Faultbox/gxpack/internal/config"
	"github.com/Faultbox/gxpack/internal/pack"
	"github.com/Faultbox/gxpack/internal/testutil"
)

func TestMapName(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"maps/d1_trainstation_01.bsp", "d1_trainstation_01"},
		{"/games/hl2/maps/Background01.BSP", "background01"},
		{"noext", "noext"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := mapName(tt.path); got != tt.want {
				t.Errorf("mapName(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestMatchPath(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"*.vtf", "materials/brick/wall.vtf", true},
		{"*.vmt", "materials/brick/wall.vtf", false},
		{"brick", "materials/Brick/wall.vtf", true},
		{"metal", "materials/brick/wall.vtf", false},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"_"+tt.path, func(t *testing.T) {
			if got := matchPath(tt.pattern, tt.path); got != tt.want {
				t.Errorf("matchPath(%q, %q) = %v, want %v", tt.pattern, tt.path, got, tt.want)
			}
		})
	}
}

func TestOpenAssets(t *testing.T) {
	game := t.TempDir()
	if err := os.MkdirAll(filepath.Join(game, "materials", "dev"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(game, "materials", "dev", "floor.vmt"), []byte("loose"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(game, "materials", "dev", "wall.vmt"), []byte("loose"), 0644); err != nil {
		t.Fatal(err)
	}

	pak := testutil.Zip(map[string][]byte{
		"materials/dev/floor.vmt": []byte("embedded"),
	})
	paths := config.PathsConfig{
		GameDir:    game,
		SearchDirs: []string{filepath.Join(game, "missing")},
		VPKs:       []string{filepath.Join(game, "missing_dir.vpk")},
	}

	files, err := openAssets(paths, pak)
	if err != nil {
		t.Fatalf("openAssets: %v", err)
	}
	defer files.Close()

	tests := []struct {
		path string
		want string
	}{
		{"materials/dev/floor.vmt", "embedded"},
		{"Materials\\Dev\\Wall.vmt", "loose"},
	}
	for _, tt := range tests {
		data, err := files.Load(tt.path)
		if err != nil {
			t.Errorf("Load(%q): %v", tt.path, err)
			continue
		}
		if string(data) != tt.want {
			t.Errorf("Load(%q) = %q, want %q", tt.path, data, tt.want)
		}
	}

	if _, err := files.Load("materials/dev/none.vmt"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestDumpLightmaps(t *testing.T) {
	dir := t.TempDir()
	res := &pack.Result{Lightmaps: map[int]*image.NRGBA{
		0: image.NewNRGBA(image.Rect(0, 0, 4, 4)),
		3: image.NewNRGBA(image.Rect(0, 0, 8, 4)),
	}}

	if err := dumpLightmaps(dir, "test", res); err != nil {
		t.Fatalf("dumpLightmaps: %v", err)
	}
	for _, name := range []string{"test_lightmap_0.bmp", "test_lightmap_3.bmp"} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Errorf("missing %s: %v", name, err)
			continue
		}
		if info.Size() == 0 {
			t.Errorf("%s is empty", name)
		}
	}
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "mappack.yaml")

	if err := initConfig(path, false); err != nil {
		t.Fatalf("initConfig: %v", err)
	}
	cfg, err := config.Load(&config.Flags{ConfigPath: path})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pack != config.Default().Pack {
		t.Errorf("pack config = %+v, want defaults", cfg.Pack)
	}

	if err := initConfig(path, false); err == nil {
		t.Error("expected error when the file exists")
	}
	if err := initConfig(path, true); err != nil {
		t.Errorf("initConfig with force: %v", err)
	}
}
