package config

import "flag"

// Flags holds the command-line overrides shared by the mappack subcommands.
type Flags struct {
	ConfigPath          string
	Debug               bool
	LogFile             string
	GameDir             string
	OutputDir           string
	MaxTextureDimension int
	DumpLightmaps       bool
}

// BindFlags registers the config overrides on a subcommand flag set.
func BindFlags(fs *flag.FlagSet) *Flags {
	f := &Flags{}
	fs.StringVar(&f.ConfigPath, "config", "", "Path to config file")
	fs.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	fs.StringVar(&f.LogFile, "log", "", "Also write logs to this file")
	fs.StringVar(&f.GameDir, "game", "", "Game directory with loose materials")
	fs.StringVar(&f.OutputDir, "o", "", "Output directory")
	fs.IntVar(&f.MaxTextureDimension, "max-texture", 0, "Largest texture edge to keep")
	fs.BoolVar(&f.DumpLightmaps, "dump-lightmaps", false, "Write cluster lightmap atlases as BMP")
	return f
}

// apply applies flag overrides to the config.
func (f *Flags) apply(cfg *Config) {
	if f.Debug {
		cfg.Logging.Level = "debug"
	}
	if f.LogFile != "" {
		cfg.Logging.LogFile = f.LogFile
	}
	if f.GameDir != "" {
		cfg.Paths.GameDir = f.GameDir
	}
	if f.OutputDir != "" {
		cfg.Paths.OutputDir = f.OutputDir
	}
	if f.MaxTextureDimension > 0 {
		cfg.Pack.MaxTextureDimension = f.MaxTextureDimension
	}
	if f.DumpLightmaps {
		cfg.Pack.DumpLightmaps = true
	}
}
