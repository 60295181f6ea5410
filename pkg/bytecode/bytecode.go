// Package bytecode encodes the straight-line instruction stream the renderer replays for each
// cluster and pass. Every instruction is one or more big-endian u32 words with the opcode in the
// top byte of the first word.
//
//	0x00 Draw             start offset (24 bits), then a word holding the end offset
//	0x01 SetPlane         followed by 12 float32 words, a row-major 3x4 matrix
//	0x02 SetBaseTexture   texture ID in the low 16 bits
//	0x03 SetEnvMapTexture texture ID in the low 16 bits
//	0x04 SetEnvMapTint    r<<16 | g<<8 | b
//	0x05 SetAlpha         test<<16 | threshold<<8 | blend
//	0x06 SetAuxTexture    texture ID in the low 16 bits
package bytecode

import (
	"errors"
	"fmt"
	"math"
)

// Bytecode errors.
var (
	ErrUnknownOp = errors.New("unknown bytecode op")
	ErrTruncated = errors.New("truncated bytecode")
	ErrRange     = errors.New("bytecode operand out of range")
)

// Opcode is the top byte of an instruction's first word.
type Opcode uint8

const (
	OpDraw             Opcode = 0x00
	OpSetPlane         Opcode = 0x01
	OpSetBaseTexture   Opcode = 0x02
	OpSetEnvMapTexture Opcode = 0x03
	OpSetEnvMapTint    Opcode = 0x04
	OpSetAlpha         Opcode = 0x05
	OpSetAuxTexture    Opcode = 0x06
)

var opNames = map[Opcode]string{
	OpDraw:             "Draw",
	OpSetPlane:         "SetPlane",
	OpSetBaseTexture:   "SetBaseTexture",
	OpSetEnvMapTexture: "SetEnvMapTexture",
	OpSetEnvMapTint:    "SetEnvMapTint",
	OpSetAlpha:         "SetAlpha",
	OpSetAuxTexture:    "SetAuxTexture",
}

func (o Opcode) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("Op(0x%02x)", uint8(o))
}

// MaxDrawOffset is the largest display list start offset a Draw can carry.
const MaxDrawOffset = 1<<24 - 1

// Op is one decoded instruction. Only the fields of its opcode are meaningful.
type Op struct {
	Code Opcode

	// Draw: display list byte range [Start, End).
	Start, End uint32

	// SetPlane.
	Plane [3][4]float32

	// SetBaseTexture, SetEnvMapTexture, SetAuxTexture.
	Texture uint16

	// SetEnvMapTint.
	Tint [3]uint8

	// SetAlpha.
	AlphaTest bool
	Threshold uint8
	Blend     bool
}

func (o Op) String() string {
	switch o.Code {
	case OpDraw:
		return fmt.Sprintf("Draw [%d, %d)", o.Start, o.End)
	case OpSetPlane:
		return fmt.Sprintf("SetPlane %v", o.Plane)
	case OpSetBaseTexture, OpSetEnvMapTexture, OpSetAuxTexture:
		return fmt.Sprintf("%s %d", o.Code, o.Texture)
	case OpSetEnvMapTint:
		return fmt.Sprintf("SetEnvMapTint %d %d %d", o.Tint[0], o.Tint[1], o.Tint[2])
	case OpSetAlpha:
		return fmt.Sprintf("SetAlpha test=%v threshold=%d blend=%v", o.AlphaTest, o.Threshold, o.Blend)
	}
	return o.Code.String()
}

// Writer appends instructions to a word stream.
type Writer struct {
	words []uint32
}

// Len returns the number of words written so far.
func (w *Writer) Len() int {
	return len(w.words)
}

// Words returns the encoded stream.
func (w *Writer) Words() []uint32 {
	return w.words
}

func word(op Opcode, operand uint32) uint32 {
	return uint32(op)<<24 | operand&0x00ffffff
}

// Draw emits a draw of the display list bytes [start, end).
func (w *Writer) Draw(start, end uint32) error {
	if start > MaxDrawOffset {
		return fmt.Errorf("%w: draw start %d", ErrRange, start)
	}
	if end < start {
		return fmt.Errorf("%w: draw end %d before start %d", ErrRange, end, start)
	}
	w.words = append(w.words, word(OpDraw, start), end)
	return nil
}

// SetPlane emits a plane matrix.
func (w *Writer) SetPlane(m [3][4]float32) {
	w.words = append(w.words, word(OpSetPlane, 0))
	for r := range m {
		for c := range m[r] {
			w.words = append(w.words, math.Float32bits(m[r][c]))
		}
	}
}

// SetBaseTexture emits a base texture binding by texture ID.
func (w *Writer) SetBaseTexture(id uint16) {
	w.words = append(w.words, word(OpSetBaseTexture, uint32(id)))
}

// SetEnvMapTexture emits an environment map binding by texture ID.
func (w *Writer) SetEnvMapTexture(id uint16) {
	w.words = append(w.words, word(OpSetEnvMapTexture, uint32(id)))
}

// SetEnvMapTint emits the environment map tint as 8-bit RGB.
func (w *Writer) SetEnvMapTint(rgb [3]uint8) {
	w.words = append(w.words, word(OpSetEnvMapTint, uint32(rgb[0])<<16|uint32(rgb[1])<<8|uint32(rgb[2])))
}

// SetAlpha emits an alpha configuration. threshold is ignored by the renderer unless test is set.
func (w *Writer) SetAlpha(test bool, threshold uint8, blend bool) {
	w.words = append(w.words, word(OpSetAlpha, boolBit(test)<<16|uint32(threshold)<<8|boolBit(blend)))
}

// SetAuxTexture emits an auxiliary texture binding by texture ID.
func (w *Writer) SetAuxTexture(id uint16) {
	w.words = append(w.words, word(OpSetAuxTexture, uint32(id)))
}

func boolBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// Reader decodes a word stream one instruction at a time.
//
//	r := bytecode.NewReader(words)
//	for r.Next() {
//		apply(r.Op())
//	}
//	if err := r.Err(); err != nil { ... }
type Reader struct {
	words []uint32
	pos   int
	op    Op
	err   error
}

// NewReader returns a Reader decoding ops from words.
func NewReader(words []uint32) *Reader {
	return &Reader{words: words}
}

// Next decodes the next instruction. It returns false at the end of the stream or on error.
func (r *Reader) Next() bool {
	if r.err != nil || r.pos >= len(r.words) {
		return false
	}
	first := r.words[r.pos]
	code := Opcode(first >> 24)
	operand := first & 0x00ffffff
	size := 1
	switch code {
	case OpDraw:
		size = 2
	case OpSetPlane:
		size = 13
	case OpSetBaseTexture, OpSetEnvMapTexture, OpSetEnvMapTint, OpSetAlpha, OpSetAuxTexture:
	default:
		r.err = fmt.Errorf("%w: 0x%02x at word %d", ErrUnknownOp, uint8(code), r.pos)
		return false
	}
	if r.pos+size > len(r.words) {
		r.err = fmt.Errorf("%w: %s at word %d needs %d words, %d left",
			ErrTruncated, code, r.pos, size, len(r.words)-r.pos)
		return false
	}

	op := Op{Code: code}
	switch code {
	case OpDraw:
		op.Start = operand
		op.End = r.words[r.pos+1]
	case OpSetPlane:
		for i := 0; i < 12; i++ {
			op.Plane[i/4][i%4] = math.Float32frombits(r.words[r.pos+1+i])
		}
	case OpSetBaseTexture, OpSetEnvMapTexture, OpSetAuxTexture:
		op.Texture = uint16(operand)
	case OpSetEnvMapTint:
		op.Tint = [3]uint8{uint8(operand >> 16), uint8(operand >> 8), uint8(operand)}
	case OpSetAlpha:
		op.AlphaTest = uint8(operand>>16) != 0
		op.Threshold = uint8(operand >> 8)
		op.Blend = uint8(operand) != 0
	}
	r.op = op
	r.pos += size
	return true
}

// Op returns the instruction decoded by the last successful Next.
func (r *Reader) Op() Op {
	return r.op
}

// Err returns the first decoding error, if any.
func (r *Reader) Err() error {
	return r.err
}

// Decode reads a whole stream.
func Decode(words []uint32) ([]Op, error) {
	var ops []Op
	r := NewReader(words)
	for r.Next() {
		ops = append(ops, r.Op())
	}
	return ops, r.Err()
}
