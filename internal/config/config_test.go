package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Paths.GameDir != "hl2" {
		t.Errorf("expected game dir hl2, got %s", cfg.Paths.GameDir)
	}
	if len(cfg.Paths.VPKs) != 2 {
		t.Errorf("expected 2 default VPKs, got %d", len(cfg.Paths.VPKs))
	}
	if cfg.Pack.MaxTextureDimension != 512 {
		t.Errorf("expected max texture dimension 512, got %d", cfg.Pack.MaxTextureDimension)
	}
	if cfg.Pack.MaxTextures != 2048 {
		t.Errorf("expected 2048 texture slots, got %d", cfg.Pack.MaxTextures)
	}
	if cfg.Pack.LightmapMaxSize != 1024 {
		t.Errorf("expected lightmap max size 1024, got %d", cfg.Pack.LightmapMaxSize)
	}
	if cfg.Pack.DumpLightmaps {
		t.Error("expected dump_lightmaps to be false by default")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.Logging.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "mappack.yaml")

	yamlContent := `
paths:
  game_dir: /games/hl2
  search_dirs: ["/mods/a", "/mods/b"]
  vpks: ["/games/hl2/hl2_textures_dir.vpk"]
  output_dir: out

pack:
  max_texture_dimension: 256
  max_textures: 1024
  max_pipeline_states: 512
  lightmap_max_size: 512
  dump_lightmaps: true

logging:
  level: "debug"
  log_file: "pack.log"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg := Default()
	if err := loadFromFile(cfg, configPath); err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Paths.GameDir != "/games/hl2" {
		t.Errorf("expected game dir /games/hl2, got %s", cfg.Paths.GameDir)
	}
	if len(cfg.Paths.SearchDirs) != 2 || cfg.Paths.SearchDirs[1] != "/mods/b" {
		t.Errorf("unexpected search dirs %v", cfg.Paths.SearchDirs)
	}
	if len(cfg.Paths.VPKs) != 1 {
		t.Errorf("expected VPK list to be replaced, got %v", cfg.Paths.VPKs)
	}
	if cfg.Pack.MaxTextureDimension != 256 {
		t.Errorf("expected max texture dimension 256, got %d", cfg.Pack.MaxTextureDimension)
	}
	if cfg.Pack.MaxPipelineStates != 512 {
		t.Errorf("expected 512 pipeline states, got %d", cfg.Pack.MaxPipelineStates)
	}
	if !cfg.Pack.DumpLightmaps {
		t.Error("expected dump_lightmaps to be true")
	}
	if cfg.Logging.LogFile != "pack.log" {
		t.Errorf("expected log file 'pack.log', got %s", cfg.Logging.LogFile)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.yaml")
	invalidYAML := `
pack:
  max_textures: not a number
  invalid syntax here
`
	if err := os.WriteFile(configPath, []byte(invalidYAML), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	if err := loadFromFile(Default(), configPath); err == nil {
		t.Error("expected error loading invalid YAML, got nil")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	if err := loadFromFile(Default(), "/nonexistent/path/mappack.yaml"); err == nil {
		t.Error("expected error loading missing file, got nil")
	}
}

func TestConfigDir(t *testing.T) {
	dir := ConfigDir()
	if dir == "" {
		t.Error("ConfigDir returned empty string")
	}
	if !filepath.IsAbs(dir) {
		t.Errorf("ConfigDir should return absolute path, got %s", dir)
	}
}

func TestFlags(t *testing.T) {
	tests := []struct {
		name   string
		args   []string
		verify func(t *testing.T, cfg *Config)
	}{
		{
			name: "debug",
			args: []string{"-debug"},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Logging.Level != "debug" {
					t.Errorf("expected log level 'debug', got %s", cfg.Logging.Level)
				}
			},
		},
		{
			name: "paths",
			args: []string{"-game", "/srv/hl2", "-o", "/tmp/out"},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Paths.GameDir != "/srv/hl2" {
					t.Errorf("expected game dir /srv/hl2, got %s", cfg.Paths.GameDir)
				}
				if cfg.Paths.OutputDir != "/tmp/out" {
					t.Errorf("expected output dir /tmp/out, got %s", cfg.Paths.OutputDir)
				}
			},
		},
		{
			name: "texture limit",
			args: []string{"-max-texture", "128", "-dump-lightmaps"},
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Pack.MaxTextureDimension != 128 {
					t.Errorf("expected 128, got %d", cfg.Pack.MaxTextureDimension)
				}
				if !cfg.Pack.DumpLightmaps {
					t.Error("expected dump_lightmaps from flag")
				}
			},
		},
		{
			name: "no flags keeps defaults",
			args: nil,
			verify: func(t *testing.T, cfg *Config) {
				if cfg.Pack.MaxTextureDimension != 512 {
					t.Errorf("expected default 512, got %d", cfg.Pack.MaxTextureDimension)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := flag.NewFlagSet("test", flag.ContinueOnError)
			f := BindFlags(fs)
			if err := fs.Parse(tt.args); err != nil {
				t.Fatalf("parse: %v", err)
			}

			cfg := Default()
			f.apply(cfg)
			tt.verify(t, cfg)
		})
	}
}

func TestLoadPriority(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "mappack.yaml")
	yamlContent := `
paths:
  game_dir: /from/file
  output_dir: file-out
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(&Flags{ConfigPath: configPath, OutputDir: "flag-out"})
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Paths.OutputDir != "flag-out" {
		t.Errorf("expected output dir from flag, got %s", cfg.Paths.OutputDir)
	}
	if cfg.Paths.GameDir != "/from/file" {
		t.Errorf("expected game dir from file, got %s", cfg.Paths.GameDir)
	}
	if cfg.Pack.MaxTextures != 2048 {
		t.Errorf("expected default texture slots, got %d", cfg.Pack.MaxTextures)
	}
}

func TestSaveTo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "mappack.yaml")

	cfg := Default()
	cfg.Pack.MaxTextures = 99
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo failed: %v", err)
	}

	loaded := Default()
	if err := loadFromFile(loaded, path); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if loaded.Pack.MaxTextures != 99 {
		t.Errorf("expected 99 after round trip, got %d", loaded.Pack.MaxTextures)
	}
}
