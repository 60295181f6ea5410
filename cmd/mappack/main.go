// mappack converts Source engine maps into GX map blobs and inspects the result.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/Faultbox/gxpack/pkg/mapdata"
	"github.com/Faultbox/gxpack/pkg/vpk"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "pack":
		cmdPack(args)
	case "info":
		cmdInfo(args)
	case "vis":
		cmdVis(args)
	case "locate":
		cmdLocate(args)
	case "ops":
		cmdOps(args)
	case "vpk":
		cmdVPK(args)
	case "config":
		cmdConfig(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`mappack - Source map to GX blob packer

Usage:
  mappack <command> [options]

Commands:
  pack [options] <map.bsp>             Pack a map into <output>/<map>.dat
  info <map.dat>                       Show blob sections and table sizes
  vis <map.dat> <cluster>              List clusters visible from a cluster
  locate <map.dat> <x> <y> <z>         Find the leaf and cluster holding a point
  ops <map.dat> <cluster> [mode]       Decode a cluster's draw bytecode
  vpk list <dir.vpk> [pattern]         List files in a VPK archive
  vpk extract <dir.vpk> <path> [out]   Extract file(s) from a VPK archive
  config init [-f] [path]              Write the default config (default: user config dir)
  config show [options]                Print the effective config

Pack options:
  -config <file>      Config file (default: mappack.yaml in standard locations)
  -game <dir>         Game directory with loose materials
  -o <dir>            Output directory
  -max-texture <n>    Largest texture edge to keep
  -dump-lightmaps     Write cluster lightmap atlases as BMP
  -strict             Fail when any material or texture is skipped
  -debug              Enable debug logging
  -log <file>         Also write logs to this file

Examples:
  mappack pack -game hl2 -o build hl2/maps/d1_trainstation_01.bsp
  mappack info build/d1_trainstation_01.dat
  mappack locate build/d1_trainstation_01.dat -3750 -3500 30
  mappack vpk list hl2/hl2_textures_dir.vpk "*.vtf"
  mappack config init ./mappack.yaml`)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func readBlob(path string) *mapdata.MapData {
	data, err := os.ReadFile(path)
	if err != nil {
		fail(err)
	}
	m, err := mapdata.Parse(data)
	if err != nil {
		fail(fmt.Errorf("%s: %w", path, err))
	}
	return m
}

func cmdInfo(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: mappack info <map.dat>")
		os.Exit(1)
	}

	m := readBlob(args[0])

	var total int
	fmt.Printf("Blob:     %s\n", args[0])
	fmt.Printf("Clusters: %d\n", m.NumClusters())
	fmt.Printf("Nodes:    %d\n", len(m.BspNodes))
	fmt.Printf("Leaves:   %d\n", len(m.BspLeaves))
	fmt.Printf("Textures: %d\n", len(m.TextureTable))
	fmt.Println()
	fmt.Println("Sections:")
	for _, s := range m.Sections() {
		fmt.Printf("  %-40s %10d %8d %10d\n", s.Section, s.Offset, s.Count, s.Bytes)
		total += s.Bytes
	}
	fmt.Printf("\nPayload: %.2f MB\n", float64(total)/(1024*1024))
}

func cmdVis(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: mappack vis <map.dat> <cluster>")
		os.Exit(1)
	}

	m := readBlob(args[0])
	cluster, err := strconv.Atoi(args[1])
	if err != nil {
		fail(fmt.Errorf("invalid cluster %q", args[1]))
	}

	visible, err := m.VisibleClusters(cluster)
	if err != nil {
		fail(err)
	}
	for _, c := range visible {
		fmt.Println(c)
	}
	fmt.Fprintf(os.Stderr, "\n(%d of %d clusters visible)\n", len(visible), m.NumClusters())
}

func cmdLocate(args []string) {
	if len(args) < 4 {
		fmt.Fprintln(os.Stderr, "Usage: mappack locate <map.dat> <x> <y> <z>")
		os.Exit(1)
	}

	m := readBlob(args[0])
	var p mgl32.Vec3
	for i := range p {
		v, err := strconv.ParseFloat(args[i+1], 32)
		if err != nil {
			fail(fmt.Errorf("invalid coordinate %q", args[i+1]))
		}
		p[i] = float32(v)
	}

	leaf, cluster, err := m.Locate(p)
	if err != nil {
		fail(err)
	}
	fmt.Printf("Point:   %v\n", p)
	fmt.Printf("Leaf:    %d\n", leaf)
	if cluster < 0 {
		fmt.Println("Cluster: none (solid)")
		return
	}
	fmt.Printf("Cluster: %d\n", cluster)
}

func cmdOps(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "Usage: mappack ops <map.dat> <cluster> [mode]")
		os.Exit(1)
	}

	m := readBlob(args[0])
	cluster, err := strconv.Atoi(args[1])
	if err != nil {
		fail(fmt.Errorf("invalid cluster %q", args[1]))
	}

	first, last := 0, mapdata.PassModes-1
	if len(args) > 2 {
		mode, err := strconv.Atoi(args[2])
		if err != nil {
			fail(fmt.Errorf("invalid mode %q", args[2]))
		}
		first, last = mode, mode
	}

	for mode := first; mode <= last; mode++ {
		ops, err := m.ClusterOps(cluster, mode)
		if err != nil {
			fail(err)
		}
		if len(ops) == 0 {
			continue
		}
		fmt.Printf("mode %d:\n", mode)
		for _, op := range ops {
			fmt.Printf("  %s\n", op)
		}
	}
}

func cmdVPK(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "Usage: mappack vpk <list|extract> ...")
		os.Exit(1)
	}

	switch args[0] {
	case "list", "ls":
		cmdVPKList(args[1:])
	case "extract", "x":
		cmdVPKExtract(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown vpk command: %s\n", args[0])
		os.Exit(1)
	}
}

func cmdVPKList(args []string) {
	fs := flag.NewFlagSet("vpk list", flag.ExitOnError)
	limit := fs.Int("n", 0, "Limit output to N files (0 = all)")
	fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: mappack vpk list <dir.vpk> [pattern]")
		os.Exit(1)
	}

	archive, err := vpk.Open(fs.Arg(0))
	if err != nil {
		fail(err)
	}
	defer archive.Close()

	files := archive.List()
	sort.Strings(files)

	pattern := ""
	if fs.NArg() > 1 {
		pattern = strings.ToLower(fs.Arg(1))
	}

	count := 0
	for _, f := range files {
		if pattern != "" && !matchPath(pattern, f) {
			continue
		}
		fmt.Println(f)
		count++
		if *limit > 0 && count >= *limit {
			break
		}
	}

	if pattern != "" {
		fmt.Fprintf(os.Stderr, "\n(%d files matched)\n", count)
	}
}

// matchPath reports whether a lowercase pattern matches a path's base name as a glob or
// appears anywhere in the path.
func matchPath(pattern, path string) bool {
	path = strings.ToLower(path)
	if matched, _ := filepath.Match(pattern, filepath.Base(path)); matched {
		return true
	}
	return strings.Contains(path, pattern)
}

func cmdVPKExtract(args []string) {
	fs := flag.NewFlagSet("vpk extract", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: mappack vpk extract <dir.vpk> <path> [output_dir]")
		os.Exit(1)
	}

	filePath := fs.Arg(1)
	outputDir := "."
	if fs.NArg() > 2 {
		outputDir = fs.Arg(2)
	}

	archive, err := vpk.Open(fs.Arg(0))
	if err != nil {
		fail(err)
	}
	defer archive.Close()

	if strings.Contains(filePath, "*") {
		extracted := 0
		pattern := strings.ToLower(filePath)
		for _, f := range archive.List() {
			if matched, _ := filepath.Match(pattern, strings.ToLower(filepath.Base(f))); !matched {
				continue
			}
			if err := extractFile(archive, f, filepath.Join(outputDir, f)); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				continue
			}
			extracted++
		}
		fmt.Fprintf(os.Stderr, "\nExtracted %d files\n", extracted)
		return
	}

	if !archive.Contains(filePath) {
		fmt.Fprintf(os.Stderr, "File not found: %s\n", filePath)
		os.Exit(1)
	}
	if err := extractFile(archive, filePath, filepath.Join(outputDir, filepath.Base(filePath))); err != nil {
		fail(err)
	}
}

func extractFile(archive *vpk.Archive, path, outputPath string) error {
	data, err := archive.Read(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, data, 0644); err != nil {
		return err
	}
	fmt.Printf("Extracted: %s (%d bytes)\n", outputPath, len(data))
	return nil
}
