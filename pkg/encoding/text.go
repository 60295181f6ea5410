// Package encoding provides text and path helpers for Source engine asset files.
package encoding

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// DecodeText returns data as a UTF-8 string. Text assets written by older tools are
// Windows-1252; valid UTF-8 input is passed through unchanged.
func DecodeText(data []byte) string {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if utf8.Valid(data) {
		return string(data)
	}
	result, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data)
	if err != nil {
		return string(data)
	}
	return string(result)
}

// NormalizePath normalizes an asset path for case-insensitive lookup.
func NormalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.ToLower(path)
	for strings.HasPrefix(path, "./") {
		path = path[2:]
	}
	path = strings.TrimLeft(path, "/")
	for strings.Contains(path, "//") {
		path = strings.ReplaceAll(path, "//", "/")
	}
	return path
}

// withPrefixAndExtension builds "<prefix>/<name>.<ext>". The prefix is skipped when name already
// starts with it, and the extension is skipped when the file name already has one.
func withPrefixAndExtension(name, prefix, ext string) string {
	name = NormalizePath(name)
	if !strings.HasPrefix(name, prefix+"/") {
		name = prefix + "/" + name
	}
	base := name[strings.LastIndexByte(name, '/')+1:]
	if !strings.Contains(base, ".") {
		name += "." + ext
	}
	return name
}

// MaterialPath returns the canonical path of a material referenced by name.
func MaterialPath(name string) string {
	return withPrefixAndExtension(name, "materials", "vmt")
}

// TexturePath returns the canonical path of a texture referenced by name.
func TexturePath(name string) string {
	return withPrefixAndExtension(name, "materials", "vtf")
}

// TrimNullString removes trailing null bytes and converts to string.
func TrimNullString(data []byte) string {
	if idx := bytes.IndexByte(data, 0); idx >= 0 {
		data = data[:idx]
	}
	return DecodeText(data)
}
