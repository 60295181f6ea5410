// Package vpk reads Valve pack archives: a *_dir.vpk directory file holding the file tree and
// small files, plus numbered *_NNN.vpk archives holding the bulk data.
package vpk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"

	"github.com/Faultbox/gxpack/pkg/encoding"
)

const vpkSignature = 0x55aa1234

// dirArchiveIndex marks entries whose data follows the tree in the directory file.
const dirArchiveIndex = 0x7fff

const entryTerminator = 0xffff

// VPK errors.
var (
	ErrInvalidSignature   = errors.New("invalid VPK signature")
	ErrUnsupportedVersion = errors.New("unsupported VPK version")
	ErrCorruptTree        = errors.New("corrupt VPK directory tree")
	ErrNotFound           = errors.New("file not found in VPK")
	ErrChecksum           = errors.New("VPK entry checksum mismatch")
)

// Header is the directory file header. The section sizes are only present in version 2.
type Header struct {
	Signature           uint32
	Version             uint32
	TreeSize            uint32
	FileDataSectionSize uint32
	ArchiveMD5Size      uint32
	OtherMD5Size        uint32
	SignatureSize       uint32
}

func (h *Header) size() int {
	if h.Version == 2 {
		return 28
	}
	return 12
}

// Entry describes one file.
type Entry struct {
	Path         string
	CRC          uint32
	ArchiveIndex uint16
	Offset       uint32
	Length       uint32
	Preload      []byte
}

// Size returns the full size of the file.
func (e *Entry) Size() int {
	return len(e.Preload) + int(e.Length)
}

// Archive is an opened VPK.
type Archive struct {
	dirPath  string
	prefix   string
	header   Header
	dataBase int64
	entries  map[string]*Entry

	mu    sync.Mutex
	files map[uint16]*os.File
}

// Open opens a directory file such as "pak01_dir.vpk".
func Open(dirPath string) (*Archive, error) {
	data, err := os.ReadFile(dirPath)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	a, err := parseDir(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", dirPath, err)
	}
	a.dirPath = dirPath
	a.prefix = strings.TrimSuffix(dirPath, "_dir.vpk")
	return a, nil
}

func parseDir(data []byte) (*Archive, error) {
	a := &Archive{
		entries: make(map[string]*Entry),
		files:   make(map[uint16]*os.File),
	}
	if len(data) < 12 {
		return nil, fmt.Errorf("%w: file too short", ErrInvalidSignature)
	}
	le := binary.LittleEndian
	a.header.Signature = le.Uint32(data)
	a.header.Version = le.Uint32(data[4:])
	a.header.TreeSize = le.Uint32(data[8:])
	if a.header.Signature != vpkSignature {
		return nil, fmt.Errorf("%w: 0x%08x", ErrInvalidSignature, a.header.Signature)
	}
	switch a.header.Version {
	case 1:
	case 2:
		if len(data) < 28 {
			return nil, fmt.Errorf("%w: truncated v2 header", ErrCorruptTree)
		}
		a.header.FileDataSectionSize = le.Uint32(data[12:])
		a.header.ArchiveMD5Size = le.Uint32(data[16:])
		a.header.OtherMD5Size = le.Uint32(data[20:])
		a.header.SignatureSize = le.Uint32(data[24:])
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, a.header.Version)
	}

	start := a.header.size()
	end := start + int(a.header.TreeSize)
	if end > len(data) {
		return nil, fmt.Errorf("%w: tree of %d bytes exceeds file", ErrCorruptTree, a.header.TreeSize)
	}
	a.dataBase = int64(end)
	if err := a.readTree(data[start:end]); err != nil {
		return nil, err
	}
	// Entries stored in the directory file are read from memory.
	for _, e := range a.entries {
		if e.ArchiveIndex == dirArchiveIndex && e.Length > 0 {
			s := a.dataBase + int64(e.Offset)
			if s+int64(e.Length) > int64(len(data)) {
				return nil, fmt.Errorf("%w: %s data outside directory file", ErrCorruptTree, e.Path)
			}
		}
	}
	return a, nil
}

type treeReader struct {
	data []byte
	pos  int
}

func (r *treeReader) string() (string, error) {
	i := bytes.IndexByte(r.data[r.pos:], 0)
	if i < 0 {
		return "", fmt.Errorf("%w: unterminated string at %d", ErrCorruptTree, r.pos)
	}
	s := encoding.DecodeText(r.data[r.pos : r.pos+i])
	r.pos += i + 1
	return s, nil
}

func (r *treeReader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("%w: truncated entry at %d", ErrCorruptTree, r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (a *Archive) readTree(tree []byte) error {
	r := &treeReader{data: tree}
	le := binary.LittleEndian
	for {
		ext, err := r.string()
		if err != nil {
			return err
		}
		if ext == "" {
			return nil
		}
		for {
			dir, err := r.string()
			if err != nil {
				return err
			}
			if dir == "" {
				break
			}
			for {
				name, err := r.string()
				if err != nil {
					return err
				}
				if name == "" {
					break
				}
				raw, err := r.bytes(18)
				if err != nil {
					return err
				}
				if term := le.Uint16(raw[16:]); term != entryTerminator {
					return fmt.Errorf("%w: bad terminator 0x%04x for %s", ErrCorruptTree, term, name)
				}
				preload, err := r.bytes(int(le.Uint16(raw[4:])))
				if err != nil {
					return err
				}
				e := &Entry{
					Path:         joinPath(dir, name, ext),
					CRC:          le.Uint32(raw),
					ArchiveIndex: le.Uint16(raw[6:]),
					Offset:       le.Uint32(raw[8:]),
					Length:       le.Uint32(raw[12:]),
					Preload:      preload,
				}
				a.entries[e.Path] = e
			}
		}
	}
}

// joinPath builds a normalized path. A single space stands for an empty directory or extension.
func joinPath(dir, name, ext string) string {
	p := name
	if ext != " " {
		p += "." + ext
	}
	if dir != " " {
		p = dir + "/" + p
	}
	return encoding.NormalizePath(p)
}

// Header returns the directory header.
func (a *Archive) Header() Header {
	return a.header
}

// List returns all file paths in the archive, sorted.
func (a *Archive) List() []string {
	result := make([]string, 0, len(a.entries))
	for path := range a.entries {
		result = append(result, path)
	}
	sort.Strings(result)
	return result
}

// Contains checks if a file exists.
func (a *Archive) Contains(path string) bool {
	_, ok := a.entries[encoding.NormalizePath(path)]
	return ok
}

// Stat returns the entry of a file.
func (a *Archive) Stat(path string) (*Entry, bool) {
	e, ok := a.entries[encoding.NormalizePath(path)]
	return e, ok
}

// Read reads a file, verifying its CRC32.
func (a *Archive) Read(path string) ([]byte, error) {
	e, ok := a.entries[encoding.NormalizePath(path)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	out := make([]byte, e.Size())
	copy(out, e.Preload)
	if e.Length > 0 {
		f, base, err := a.archiveFile(e.ArchiveIndex)
		if err != nil {
			return nil, err
		}
		if _, err := f.ReadAt(out[len(e.Preload):], base+int64(e.Offset)); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}
	if sum := crc32.ChecksumIEEE(out); sum != e.CRC {
		return nil, fmt.Errorf("%w: %s: 0x%08x, want 0x%08x", ErrChecksum, path, sum, e.CRC)
	}
	return out, nil
}

func (a *Archive) archiveFile(index uint16) (io.ReaderAt, int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var base int64
	name := fmt.Sprintf("%s_%03d.vpk", a.prefix, index)
	if index == dirArchiveIndex {
		base = a.dataBase
		name = a.dirPath
	}
	if f, ok := a.files[index]; ok {
		return f, base, nil
	}
	f, err := os.Open(filepath.Clean(name))
	if err != nil {
		return nil, 0, fmt.Errorf("opening archive %d: %w", index, err)
	}
	a.files[index] = f
	return f, base, nil
}

// Close closes every archive file opened by Read.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var err error
	for index, f := range a.files {
		err = multierr.Append(err, f.Close())
		delete(a.files, index)
	}
	return err
}
