package assets

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/Faultbox/gxpack/internal/logger"
	"github.com/Faultbox/gxpack/pkg/encoding"
	"github.com/Faultbox/gxpack/pkg/formats"
)

// ErrRecursiveLoad is returned when an asset's load depends on itself, such as a patch
// material that includes itself.
var ErrRecursiveLoad = errors.New("recursive asset load")

// memo caches parsed assets. Loads run outside the lock, so two goroutines asking for the same
// uncached path may both parse it; the first result stored wins. Failed loads are not cached.
type memo[T any] struct {
	mu     sync.Mutex
	values map[string]T
}

func newMemo[T any]() *memo[T] {
	return &memo[T]{values: make(map[string]T)}
}

func (m *memo[T]) get(path string, load func() (T, error)) (T, error) {
	m.mu.Lock()
	v, ok := m.values[path]
	m.mu.Unlock()
	if ok {
		return v, nil
	}

	v, err := load()
	if err != nil {
		var zero T
		return zero, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.values[path]; ok {
		return prev, nil
	}
	m.values[path] = v
	return v, nil
}

func (m *memo[T]) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.values)
}

// Loader parses materials and textures found through a FileLoader and memoizes them by
// normalized path. It is safe for concurrent use when its FileLoader is.
type Loader struct {
	files     FileLoader
	materials *memo[*formats.Material]
	textures  *memo[*formats.VTF]
	log       *zap.Logger
}

// NewLoader creates a Loader reading files from fl.
func NewLoader(fl FileLoader) *Loader {
	return &Loader{
		files:     fl,
		materials: newMemo[*formats.Material](),
		textures:  newMemo[*formats.VTF](),
		log:       logger.Named("assets"),
	}
}

func (l *Loader) load(path string) ([]byte, error) {
	data, ok, err := l.files.LoadFile(path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return data, nil
}

// Material loads and parses a VMT, given either a full path or a bare material name.
// Patch materials resolve their include through this loader.
func (l *Loader) Material(name string) (*formats.Material, error) {
	return l.material(name, nil)
}

// material loads a material on behalf of the chain of patch materials including it.
func (l *Loader) material(name string, includers []string) (*formats.Material, error) {
	path := encoding.MaterialPath(name)
	if slices.Contains(includers, path) {
		return nil, fmt.Errorf("%w: %s", ErrRecursiveLoad, strings.Join(append(includers, path), " -> "))
	}
	chain := append(includers[:len(includers):len(includers)], path)
	return l.materials.get(path, func() (*formats.Material, error) {
		data, err := l.load(path)
		if err != nil {
			return nil, err
		}
		m, err := formats.ParseMaterial(path, data, func(include string) (*formats.Material, error) {
			return l.material(include, chain)
		})
		if err != nil {
			return nil, err
		}
		l.log.Debug("loaded material", zap.String("material", path), zap.String("shader", m.Shader))
		return m, nil
	})
}

// Texture loads and parses a VTF, given either a full path or a bare texture name.
func (l *Loader) Texture(name string) (*formats.VTF, error) {
	path := encoding.TexturePath(name)
	return l.textures.get(path, func() (*formats.VTF, error) {
		data, err := l.load(path)
		if err != nil {
			return nil, err
		}
		v, err := formats.ParseVTF(data)
		if err != nil {
			return nil, fmt.Errorf("texture %s: %w", path, err)
		}
		l.log.Debug("loaded texture",
			zap.String("texture", path), zap.Int("width", v.Width), zap.Int("height", v.Height),
			zap.Stringer("format", v.Format))
		return v, nil
	})
}

// Stats returns the number of memoized materials and textures.
func (l *Loader) Stats() (materials, textures int) {
	return l.materials.len(), l.textures.len()
}
