package pipeline

import (
	"cmp"
	"fmt"
	"math"
)

// VertexAttribute is a GX vertex attribute number.
type VertexAttribute uint8

const (
	AttrPos  VertexAttribute = 9
	AttrNrm  VertexAttribute = 10
	AttrClr0 VertexAttribute = 11
	AttrClr1 VertexAttribute = 12
	AttrTex0 VertexAttribute = 13
	AttrTex1 VertexAttribute = 14
	AttrTex2 VertexAttribute = 15
)

const firstAttr, lastAttr = AttrPos, AttrTex2

// VertexInput is how an attribute is fed to the vertex pipeline.
type VertexInput uint8

const (
	InputNone    VertexInput = 0
	InputDirect  VertexInput = 1
	InputIndex8  VertexInput = 2
	InputIndex16 VertexInput = 3
)

// VertexDesc lists the enabled vertex attributes. The zero value has none enabled.
type VertexDesc struct {
	inputs [lastAttr - firstAttr + 1]VertexInput
}

// VertexAttrInput is one enabled attribute of a VertexDesc.
type VertexAttrInput struct {
	Attr  VertexAttribute
	Input VertexInput
}

// Add enables attr with the given input, replacing any previous input for it.
func (d *VertexDesc) Add(attr VertexAttribute, input VertexInput) {
	if attr < firstAttr || attr > lastAttr {
		panic(fmt.Sprintf("pipeline: invalid vertex attribute %d", attr))
	}
	d.inputs[attr-firstAttr] = input
}

// Entries returns the enabled attributes in attribute order.
func (d VertexDesc) Entries() []VertexAttrInput {
	var out []VertexAttrInput
	for i, in := range d.inputs {
		if in != InputNone {
			out = append(out, VertexAttrInput{Attr: firstAttr + VertexAttribute(i), Input: in})
		}
	}
	return out
}

// Bytes encodes the descriptor as (attribute, input) byte pairs.
func (d VertexDesc) Bytes() []byte {
	var out []byte
	for _, e := range d.Entries() {
		out = append(out, byte(e.Attr), byte(e.Input))
	}
	return out
}

func (d VertexDesc) compare(o VertexDesc) int {
	for i := range d.inputs {
		if c := cmp.Compare(d.inputs[i], o.inputs[i]); c != 0 {
			return c
		}
	}
	return 0
}

// BrushVertexDesc is the descriptor used by world brush geometry: indexed position, normal
// and texture coordinate with a direct lightmap coordinate.
func BrushVertexDesc() VertexDesc {
	var d VertexDesc
	d.Add(AttrPos, InputIndex16)
	d.Add(AttrNrm, InputIndex16)
	d.Add(AttrTex0, InputDirect)
	d.Add(AttrTex1, InputIndex16)
	return d
}

// DisplacementVertexDesc is the descriptor used by displacement geometry, which carries a
// vertex color and a second texture coordinate for blended materials.
func DisplacementVertexDesc() VertexDesc {
	var d VertexDesc
	d.Add(AttrPos, InputIndex16)
	d.Add(AttrClr0, InputIndex16)
	d.Add(AttrTex0, InputDirect)
	d.Add(AttrTex1, InputIndex16)
	d.Add(AttrTex2, InputIndex16)
	return d
}

// Matrix is a 3x4 row-major matrix held as float bit patterns, so == is bit exact: +0 and -0
// differ, and a NaN equals itself.
type Matrix [12]uint32

// NewMatrix converts a float matrix.
func NewMatrix(m [3][4]float32) Matrix {
	var b Matrix
	for r := range m {
		for c := range m[r] {
			b[r*4+c] = math.Float32bits(m[r][c])
		}
	}
	return b
}

// At returns the element at row r, column c.
func (m Matrix) At(r, c int) float32 {
	return math.Float32frombits(m[r*4+c])
}

// Floats converts the matrix back to floats.
func (m Matrix) Floats() [3][4]float32 {
	var f [3][4]float32
	for i, b := range m {
		f[i/4][i%4] = math.Float32frombits(b)
	}
	return f
}

// Compare orders matrices by element bit patterns in row-major order.
func (m Matrix) Compare(o Matrix) int {
	for i := range m {
		if c := cmp.Compare(m[i], o[i]); c != 0 {
			return c
		}
	}
	return 0
}

// OptionalID is a texture ID that may be absent.
type OptionalID struct {
	ID    uint16
	Valid bool
}

// SomeID returns a present OptionalID.
func SomeID(id uint16) OptionalID {
	return OptionalID{ID: id, Valid: true}
}

func (o OptionalID) compare(p OptionalID) int {
	if o.Valid != p.Valid {
		if !o.Valid {
			return -1
		}
		return 1
	}
	return cmp.Compare(o.ID, p.ID)
}

// Tint is an optional 8-bit RGB color.
type Tint struct {
	RGB   [3]uint8
	Valid bool
}

func (t Tint) compare(u Tint) int {
	if t.Valid != u.Valid {
		if !t.Valid {
			return -1
		}
		return 1
	}
	for i := range t.RGB {
		if c := cmp.Compare(t.RGB[i], u.RGB[i]); c != 0 {
			return c
		}
	}
	return 0
}

// State is the complete GPU configuration needed to draw a batch.
type State struct {
	Shader     Shader
	Reflection Matrix
	VertexDesc VertexDesc

	// BaseTexture is bound to TEXMAP1.
	BaseTexture uint16
	// AuxTexture is bound to TEXMAP2, typically opacity or an env map mask.
	AuxTexture OptionalID
	// EnvTexture is bound to TEXMAP3.
	EnvTexture OptionalID
	EnvMapTint Tint
}

// Equal reports whether two states are identical, comparing floats by bit pattern.
func (s State) Equal(o State) bool {
	return s == o
}

// Compare is a total order over states consistent with Equal.
func (s State) Compare(o State) int {
	if c := s.Shader.Compare(o.Shader); c != 0 {
		return c
	}
	if c := s.Reflection.Compare(o.Reflection); c != 0 {
		return c
	}
	if c := s.VertexDesc.compare(o.VertexDesc); c != 0 {
		return c
	}
	if c := cmp.Compare(s.BaseTexture, o.BaseTexture); c != 0 {
		return c
	}
	if c := s.AuxTexture.compare(o.AuxTexture); c != 0 {
		return c
	}
	if c := s.EnvTexture.compare(o.EnvTexture); c != 0 {
		return c
	}
	return s.EnvMapTint.compare(o.EnvMapTint)
}

// Registry assigns dense IDs to distinct states in first-seen order.
type Registry struct {
	limit  int
	ids    map[State]int
	states []State
}

// NewRegistry creates a registry holding at most limit states. A limit <= 0 means unbounded.
func NewRegistry(limit int) *Registry {
	return &Registry{limit: limit, ids: make(map[State]int)}
}

// Intern returns the ID of s, assigning the next one if s has not been seen.
func (r *Registry) Intern(s State) (int, error) {
	if id, ok := r.ids[s]; ok {
		return id, nil
	}
	if r.limit > 0 && len(r.states) >= r.limit {
		return 0, fmt.Errorf("%w: limit %d", ErrTooManyStates, r.limit)
	}
	id := len(r.states)
	r.ids[s] = id
	r.states = append(r.states, s)
	return id, nil
}

// Len returns the number of distinct states.
func (r *Registry) Len() int {
	return len(r.states)
}

// States returns the registered states indexed by ID.
func (r *Registry) States() []State {
	return r.states
}
