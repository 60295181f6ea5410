package pack

import (
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/gxpack/pkg/mapdata"
)

// ManifestSection records where one section landed in the blob.
type ManifestSection struct {
	Name   string `yaml:"name"`
	Offset int    `yaml:"offset"`
	Count  int    `yaml:"count"`
	Bytes  int    `yaml:"bytes"`
}

// Manifest describes a packed blob for humans and build tooling.
type Manifest struct {
	BuildID   string            `yaml:"build_id"`
	Map       string            `yaml:"map"`
	Blob      string            `yaml:"blob"`
	CreatedAt time.Time         `yaml:"created_at"`
	Size      int               `yaml:"size"`
	Sections  []ManifestSection `yaml:"sections"`
	Stats     Stats             `yaml:"stats"`
	Textures  []string          `yaml:"textures"`
	Skipped   []string          `yaml:"skipped,omitempty"`
}

// NewManifest describes a build result encoded into a blob of size bytes.
func NewManifest(mapName, blob string, size int, res *Result, sections []mapdata.SectionInfo) *Manifest {
	m := &Manifest{
		BuildID:   uuid.NewString(),
		Map:       mapName,
		Blob:      blob,
		CreatedAt: time.Now().UTC(),
		Size:      size,
		Stats:     res.Stats,
	}
	for _, s := range sections {
		m.Sections = append(m.Sections, ManifestSection{
			Name:   s.Section.String(),
			Offset: s.Offset,
			Count:  s.Count,
			Bytes:  s.Bytes,
		})
	}
	for _, k := range res.Textures {
		m.Textures = append(m.Textures, k.String())
	}
	for _, err := range multierr.Errors(res.Skipped) {
		m.Skipped = append(m.Skipped, err.Error())
	}
	return m
}

// WriteFile writes the manifest as YAML.
func (m *Manifest) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// ReadManifest reads a manifest written by WriteFile.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
