package main

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Faultbox/gxpack/internal/config"
)

func cmdConfig(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: mappack config <init|show> ...")
		os.Exit(1)
	}

	switch args[0] {
	case "init":
		cmdConfigInit(args[1:])
	case "show":
		cmdConfigShow(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown config command: %s\n", args[0])
		os.Exit(1)
	}
}

func cmdConfigInit(args []string) {
	flags := flag.NewFlagSet("config init", flag.ExitOnError)
	force := flags.Bool("f", false, "Overwrite an existing config file")
	flags.Parse(args)

	path := filepath.Join(config.ConfigDir(), config.FileName)
	if flags.NArg() > 0 {
		path = flags.Arg(0)
	}
	if err := initConfig(path, *force); err != nil {
		fail(err)
	}
	fmt.Printf("Wrote: %s\n", path)
}

// initConfig writes the default config to path, refusing to replace an existing file unless
// force is set.
func initConfig(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use -f to overwrite)", path)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	cfg := config.Default()
	if path == filepath.Join(config.ConfigDir(), config.FileName) {
		return cfg.Save()
	}
	return cfg.SaveTo(path)
}

func cmdConfigShow(args []string) {
	flags := flag.NewFlagSet("config show", flag.ExitOnError)
	cfgFlags := config.BindFlags(flags)
	flags.Parse(args)

	cfg, err := config.Load(cfgFlags)
	if err != nil {
		fail(err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		fail(err)
	}
	os.Stdout.Write(data)
}
