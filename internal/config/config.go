// Package config handles packer configuration loading and management.
package config

// Config holds all packer settings.
type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Pack    PackConfig    `yaml:"pack"`
	Logging LoggingConfig `yaml:"logging"`
}

// PathsConfig holds the asset search locations.
type PathsConfig struct {
	GameDir    string   `yaml:"game_dir"`    // Directory holding loose game files (materials/, maps/)
	SearchDirs []string `yaml:"search_dirs"` // Extra loose-file directories, searched after GameDir
	VPKs       []string `yaml:"vpks"`        // *_dir.vpk archives, searched after loose files
	OutputDir  string   `yaml:"output_dir"`
}

// PackConfig holds limits of the on-device tables and packing knobs.
type PackConfig struct {
	MaxTextureDimension int  `yaml:"max_texture_dimension"`
	MaxTextures         int  `yaml:"max_textures"`
	TextureMemoryBudget int  `yaml:"texture_memory_budget"` // Bytes of texture data the device can hold
	MaxPipelineStates   int  `yaml:"max_pipeline_states"`
	LightmapMaxSize     int  `yaml:"lightmap_max_size"`
	DumpLightmaps       bool `yaml:"dump_lightmaps"` // Write each cluster lightmap atlas as BMP next to the blob
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level   string `yaml:"level"`
	LogFile string `yaml:"log_file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			GameDir:   "hl2",
			VPKs:      []string{"hl2/hl2_textures_dir.vpk", "hl2/hl2_misc_dir.vpk"},
			OutputDir: "build",
		},
		Pack: PackConfig{
			MaxTextureDimension: 512,
			MaxTextures:         2048,
			TextureMemoryBudget: 8 << 20,
			MaxPipelineStates:   4096,
			LightmapMaxSize:     1024,
			DumpLightmaps:       false,
		},
		Logging: LoggingConfig{
			Level:   "info",
			LogFile: "",
		},
	}
}
