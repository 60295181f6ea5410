// Package displaylist builds GX draw command streams. A command is one byte holding the
// primitive and vertex format, a big-endian u16 vertex count and the inline vertex data. Lists are
// padded with NOP bytes to a 32-byte boundary.
package displaylist

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Display list errors.
var (
	ErrVertexData = errors.New("vertex data does not match vertex count")
	ErrCorrupt    = errors.New("corrupt display list")
)

// MaxVertices is the largest vertex count one command can carry.
const MaxVertices = 0xffff

// Alignment is the byte alignment of a built list.
const Alignment = 32

const opNOP = 0x00

// Primitive is a GX primitive type.
type Primitive uint8

const (
	Quads     Primitive = 0x80
	Triangles Primitive = 0x90
)

// VerticesPer returns the number of vertices one primitive consumes.
func (p Primitive) VerticesPer() int {
	if p == Quads {
		return 4
	}
	return 3
}

func (p Primitive) String() string {
	switch p {
	case Quads:
		return "quads"
	case Triangles:
		return "triangles"
	}
	return fmt.Sprintf("primitive(0x%02x)", uint8(p))
}

// VertexFormat selects one of the renderer's vertex attribute format tables.
type VertexFormat uint8

const (
	// FormatBrush: u16 position index, u16 normal index, 2 x u16 lightmap coordinate, u16
	// texture coordinate index.
	FormatBrush VertexFormat = 0
	// FormatDisplacement: u16 position index, u16 color index, 2 x u16 lightmap coordinate,
	// two u16 texture coordinate indices.
	FormatDisplacement VertexFormat = 1
)

// VertexSize returns the size in bytes of one vertex of the format.
func (f VertexFormat) VertexSize() int {
	if f == FormatDisplacement {
		return 12
	}
	return 10
}

// Command is one draw command.
type Command struct {
	Primitive Primitive
	Format    VertexFormat
	Count     int
	Data      []byte
}

// DisplayList is an ordered sequence of draw commands.
type DisplayList struct {
	Commands []Command
}

// Empty reports whether the list draws nothing. Callers skip all state setup for empty lists.
func (d DisplayList) Empty() bool {
	return len(d.Commands) == 0
}

// VertexCount returns the total number of vertices drawn.
func (d DisplayList) VertexCount() int {
	n := 0
	for _, c := range d.Commands {
		n += c.Count
	}
	return n
}

// Bytes encodes the list, padded to Alignment. An empty list encodes to no bytes.
func (d DisplayList) Bytes() []byte {
	if d.Empty() {
		return nil
	}
	var out []byte
	for _, c := range d.Commands {
		out = append(out, byte(c.Primitive)|byte(c.Format))
		out = binary.BigEndian.AppendUint16(out, uint16(c.Count))
		out = append(out, c.Data...)
	}
	for len(out)%Alignment != 0 {
		out = append(out, opNOP)
	}
	return out
}

// Parse decodes an encoded list, skipping NOP padding.
func Parse(data []byte) (DisplayList, error) {
	var d DisplayList
	for pos := 0; pos < len(data); {
		op := data[pos]
		if op == opNOP {
			pos++
			continue
		}
		prim := Primitive(op & 0xf8)
		format := VertexFormat(op & 0x07)
		if prim != Quads && prim != Triangles {
			return DisplayList{}, fmt.Errorf("%w: op 0x%02x at %d", ErrCorrupt, op, pos)
		}
		if pos+3 > len(data) {
			return DisplayList{}, fmt.Errorf("%w: truncated command at %d", ErrCorrupt, pos)
		}
		count := int(binary.BigEndian.Uint16(data[pos+1:]))
		size := count * format.VertexSize()
		start := pos + 3
		if start+size > len(data) {
			return DisplayList{}, fmt.Errorf("%w: %d vertices overrun at %d", ErrCorrupt, count, pos)
		}
		d.Commands = append(d.Commands, Command{
			Primitive: prim,
			Format:    format,
			Count:     count,
			Data:      data[start : start+size],
		})
		pos = start + size
	}
	return d, nil
}

// Builder accumulates vertices for one primitive and vertex format.
type Builder struct {
	primitive Primitive
	format    VertexFormat
	commands  []Command
}

func NewBuilder(primitive Primitive, format VertexFormat) *Builder {
	return &Builder{primitive: primitive, format: format}
}

// EmitVertices appends count pre-encoded vertices. A call that fits in one command is never
// split; when the current command cannot take it a new command is started. A call larger than
// a command is split at primitive boundaries.
func (b *Builder) EmitVertices(count int, data []byte) error {
	size := b.format.VertexSize()
	if count < 0 || len(data) != count*size {
		return fmt.Errorf("%w: %d vertices, %d bytes", ErrVertexData, count, len(data))
	}
	chunk := MaxVertices - MaxVertices%b.primitive.VerticesPer()
	for count > 0 {
		n := min(count, chunk)
		b.append(n, data[:n*size])
		count -= n
		data = data[n*size:]
	}
	return nil
}

func (b *Builder) append(count int, data []byte) {
	if last := len(b.commands) - 1; last >= 0 && b.commands[last].Count+count <= MaxVertices {
		c := &b.commands[last]
		c.Count += count
		c.Data = append(c.Data, data...)
		return
	}
	b.commands = append(b.commands, Command{
		Primitive: b.primitive,
		Format:    b.format,
		Count:     count,
		Data:      append([]byte(nil), data...),
	})
}

// VertexCount returns the number of vertices emitted so far.
func (b *Builder) VertexCount() int {
	n := 0
	for _, c := range b.commands {
		n += c.Count
	}
	return n
}

// Build returns the accumulated list. A builder that never received vertices builds an empty
// list.
func (b *Builder) Build() DisplayList {
	return DisplayList{Commands: b.commands}
}
