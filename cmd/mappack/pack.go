package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Faultbox/gxpack/internal/assets"
	"github.com/Faultbox/gxpack/internal/config"
	"github.com/Faultbox/gxpack/internal/logger"
	"github.com/Faultbox/gxpack/internal/pack"
	"github.com/Faultbox/gxpack/pkg/atlas"
	"github.com/Faultbox/gxpack/pkg/formats"
)

func cmdPack(args []string) {
	flags := flag.NewFlagSet("pack", flag.ExitOnError)
	cfgFlags := config.BindFlags(flags)
	strict := flags.Bool("strict", false, "Fail when any material or texture is skipped")
	flags.Parse(args)

	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: mappack pack [options] <map.bsp>")
		os.Exit(1)
	}

	cfg, err := config.Load(cfgFlags)
	if err != nil {
		fail(err)
	}
	if err := logger.Init(cfg.Logging.Level, cfg.Logging.LogFile); err != nil {
		fail(fmt.Errorf("initializing logger: %w", err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := runPack(ctx, cfg, flags.Arg(0), *strict); err != nil {
		logger.Error("pack failed", zap.String("map", flags.Arg(0)), zap.Error(err))
		logger.Sync()
		fail(err)
	}
}

// runPack packs one map and writes the blob, its manifest and the optional lightmap dumps.
func runPack(ctx context.Context, cfg *config.Config, bspPath string, strict bool) error {
	bsp, err := formats.ParseBSPFile(bspPath)
	if err != nil {
		return err
	}
	logger.Info("map loaded",
		zap.String("path", bspPath),
		zap.Int("faces", len(bsp.Faces)),
		zap.Int("clusters", bsp.NumClusters()),
		zap.Int("displacements", len(bsp.DispInfo)))

	files, err := openAssets(cfg.Paths, bsp.PakFile)
	if err != nil {
		return err
	}
	defer files.Close()
	loader := assets.NewLoader(files)

	res, err := pack.Build(ctx, bsp, loader, cfg.Pack)
	if err != nil {
		return fmt.Errorf("packing %s: %w", bspPath, err)
	}

	skipped := multierr.Errors(res.Skipped)
	if len(skipped) > 0 {
		logger.Sugar.Warnf("%d assets skipped, their faces are not drawn", len(skipped))
	}
	if strict && len(skipped) > 0 {
		return fmt.Errorf("%d assets skipped: %w", len(skipped), res.Skipped)
	}

	name := mapName(bspPath)
	blob, sections := res.Map.Encode()
	blobPath := filepath.Join(cfg.Paths.OutputDir, name+".dat")
	if err := os.MkdirAll(cfg.Paths.OutputDir, 0755); err != nil {
		return err
	}
	if err := os.WriteFile(blobPath, blob, 0644); err != nil {
		return err
	}

	manifest := pack.NewManifest(name, filepath.Base(blobPath), len(blob), res, sections)
	if err := manifest.WriteFile(filepath.Join(cfg.Paths.OutputDir, name+".manifest.yaml")); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	if cfg.Pack.DumpLightmaps {
		if err := dumpLightmaps(cfg.Paths.OutputDir, name, res); err != nil {
			return err
		}
	}

	materials, textures := loader.Stats()
	logger.Info("map packed",
		zap.String("blob", blobPath),
		zap.Int("bytes", len(blob)),
		zap.Int("materials", materials),
		zap.Int("textures", textures),
		zap.Int("skipped", len(skipped)))
	fmt.Printf("Packed: %s (%d bytes, %d clusters, %d textures, %d states)\n",
		blobPath, len(blob), res.Stats.Clusters, res.Stats.Textures, res.Stats.PipelineStates)
	return nil
}

// openAssets builds the asset search chain: the map's embedded pakfile first, then loose
// directories, then VPK archives. Missing search locations are logged and skipped.
func openAssets(paths config.PathsConfig, pakFile []byte) (*assets.FallbackLoader, error) {
	log := logger.Named("assets")
	files := assets.NewFallbackLoader()

	if len(pakFile) > 0 {
		z, err := assets.NewZipLoader(pakFile)
		if err != nil {
			return nil, err
		}
		log.Debug("pakfile", zap.Int("files", z.Len()))
		files.Add(z)
	}

	for _, dir := range append([]string{paths.GameDir}, paths.SearchDirs...) {
		if dir == "" {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			log.Warn("search directory unavailable", zap.String("dir", dir), zap.Error(err))
			continue
		}
		files.Add(assets.DirectoryLoader{Root: dir})
	}

	for _, path := range paths.VPKs {
		v, err := assets.OpenVPK(path)
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn("archive not found", zap.String("path", path))
			continue
		}
		if err != nil {
			return nil, multierr.Append(err, files.Close())
		}
		files.Add(v)
	}
	return files, nil
}

// dumpLightmaps writes each cluster's lightmap preview as <map>_lightmap_<cluster>.bmp.
func dumpLightmaps(dir, name string, res *pack.Result) error {
	clusters := make([]int, 0, len(res.Lightmaps))
	for c := range res.Lightmaps {
		clusters = append(clusters, c)
	}
	sort.Ints(clusters)

	for _, c := range clusters {
		path := filepath.Join(dir, fmt.Sprintf("%s_lightmap_%d.bmp", name, c))
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		err = atlas.DumpBMP(f, res.Lightmaps[c])
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

// mapName returns the map's base name without extension, lowercased.
func mapName(path string) string {
	base := filepath.Base(path)
	return strings.ToLower(strings.TrimSuffix(base, filepath.Ext(base)))
}
