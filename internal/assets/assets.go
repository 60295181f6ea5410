// Package assets locates and loads game files: loose directories, VPK archives and the pakfile
// embedded in a BSP, searched in order.
package assets

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/Faultbox/gxpack/pkg/encoding"
	"github.com/Faultbox/gxpack/pkg/vpk"
)

// ErrNotFound is returned when no loader has the requested file.
var ErrNotFound = errors.New("file not found")

// FileLoader loads raw files. A missing file is reported as (nil, false, nil); errors are
// reserved for files that exist but cannot be read.
type FileLoader interface {
	LoadFile(path string) ([]byte, bool, error)
}

// DirectoryLoader loads loose files under a root directory.
type DirectoryLoader struct {
	Root string
}

// LoadFile implements FileLoader.
func (d DirectoryLoader) LoadFile(path string) ([]byte, bool, error) {
	p := encoding.NormalizePath(path)
	if p == "" || strings.Contains(p, "..") {
		return nil, false, nil
	}
	data, err := os.ReadFile(filepath.Join(d.Root, filepath.FromSlash(p)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, true, nil
}

// VPKLoader loads files from a VPK archive.
type VPKLoader struct {
	archive *vpk.Archive
}

// OpenVPK opens a *_dir.vpk archive.
func OpenVPK(dirPath string) (*VPKLoader, error) {
	a, err := vpk.Open(dirPath)
	if err != nil {
		return nil, fmt.Errorf("opening archive %s: %w", dirPath, err)
	}
	return &VPKLoader{archive: a}, nil
}

// LoadFile implements FileLoader.
func (v *VPKLoader) LoadFile(path string) ([]byte, bool, error) {
	if !v.archive.Contains(path) {
		return nil, false, nil
	}
	data, err := v.archive.Read(path)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Close closes the archive.
func (v *VPKLoader) Close() error {
	return v.archive.Close()
}

// ZipLoader loads files from a zip archive held in memory, such as a BSP pakfile lump.
type ZipLoader struct {
	files map[string]*zip.File
}

// NewZipLoader indexes a zip archive. An empty archive yields a loader that finds nothing.
func NewZipLoader(data []byte) (*ZipLoader, error) {
	z := &ZipLoader{files: make(map[string]*zip.File)}
	if len(data) == 0 {
		return z, nil
	}
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("reading pakfile: %w", err)
	}
	for _, f := range r.File {
		z.files[encoding.NormalizePath(f.Name)] = f
	}
	return z, nil
}

// LoadFile implements FileLoader.
func (z *ZipLoader) LoadFile(path string) ([]byte, bool, error) {
	f, ok := z.files[encoding.NormalizePath(path)]
	if !ok {
		return nil, false, nil
	}
	rc, err := f.Open()
	if err != nil {
		return nil, false, fmt.Errorf("opening %s: %w", path, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, true, nil
}

// Len returns the number of files in the archive.
func (z *ZipLoader) Len() int {
	return len(z.files)
}

// FallbackLoader tries each loader in order; the first one that has the file wins.
type FallbackLoader struct {
	loaders []FileLoader
	cache   *Cache
	mu      sync.RWMutex
}

// NewFallbackLoader creates a loader chain.
func NewFallbackLoader(loaders ...FileLoader) *FallbackLoader {
	return &FallbackLoader{
		loaders: loaders,
		cache:   NewCache(),
	}
}

// Add appends a loader with the lowest priority.
func (f *FallbackLoader) Add(l FileLoader) {
	f.mu.Lock()
	f.loaders = append(f.loaders, l)
	f.mu.Unlock()
}

// LoadFile implements FileLoader.
func (f *FallbackLoader) LoadFile(path string) ([]byte, bool, error) {
	key := encoding.NormalizePath(path)
	if data, ok := f.cache.Get(key); ok {
		return data, true, nil
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	for _, l := range f.loaders {
		data, ok, err := l.LoadFile(key)
		if err != nil {
			return nil, false, err
		}
		if ok {
			f.cache.Set(key, data)
			return data, true, nil
		}
	}
	return nil, false, nil
}

// Load loads a file, failing with ErrNotFound when no loader has it.
func (f *FallbackLoader) Load(path string) ([]byte, error) {
	data, ok, err := f.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return data, nil
}

// Cache returns the raw file cache.
func (f *FallbackLoader) Cache() *Cache {
	return f.cache
}

// Close closes every loader that holds open files and clears the cache.
func (f *FallbackLoader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var err error
	for _, l := range f.loaders {
		if c, ok := l.(io.Closer); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	f.loaders = nil
	f.cache.Clear()
	return err
}

// Cache is a simple in-memory cache for loaded files.
type Cache struct {
	data map[string][]byte
	mu   sync.RWMutex

	// Stats
	hits   int
	misses int
}

// NewCache creates a new cache.
func NewCache() *Cache {
	return &Cache{
		data: make(map[string][]byte),
	}
}

// Get retrieves an item from cache.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, ok := c.data[key]
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	return data, ok
}

// Set stores an item in cache.
func (c *Cache) Set(key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = data
}

// Clear clears the cache.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[string][]byte)
	c.hits = 0
	c.misses = 0
}

// Stats returns cache statistics.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}
