package bytecode

import "math"

// latch remembers the last value bound to one piece of renderer state.
type latch[T comparable] struct {
	v   T
	set bool
}

// update stores v and reports whether it differs from the stored value.
func (l *latch[T]) update(v T) bool {
	if l.set && l.v == v {
		return false
	}
	l.v, l.set = v, true
	return true
}

// Emitter writes state instructions only when they change the bound value. The renderer starts
// every cluster and pass with unknown state, so call Reset at each range boundary.
type Emitter struct {
	w *Writer

	plane latch[[12]uint32]
	base  latch[uint16]
	aux   latch[uint16]
	env   latch[uint16]
	tint  latch[[3]uint8]
	alpha latch[[3]uint8]
}

func NewEmitter(w *Writer) *Emitter {
	return &Emitter{w: w}
}

// Reset forgets all bound state.
func (e *Emitter) Reset() {
	*e = Emitter{w: e.w}
}

// Writer returns the underlying writer.
func (e *Emitter) Writer() *Writer {
	return e.w
}

// SetPlane binds a plane matrix. Matrices are compared by bit pattern.
func (e *Emitter) SetPlane(m [3][4]float32) {
	var bits [12]uint32
	for i := range bits {
		bits[i] = math.Float32bits(m[i/4][i%4])
	}
	if e.plane.update(bits) {
		e.w.SetPlane(m)
	}
}

func (e *Emitter) SetBaseTexture(id uint16) {
	if e.base.update(id) {
		e.w.SetBaseTexture(id)
	}
}

func (e *Emitter) SetAuxTexture(id uint16) {
	if e.aux.update(id) {
		e.w.SetAuxTexture(id)
	}
}

func (e *Emitter) SetEnvMapTexture(id uint16) {
	if e.env.update(id) {
		e.w.SetEnvMapTexture(id)
	}
}

func (e *Emitter) SetEnvMapTint(rgb [3]uint8) {
	if e.tint.update(rgb) {
		e.w.SetEnvMapTint(rgb)
	}
}

func (e *Emitter) SetAlpha(test bool, threshold uint8, blend bool) {
	if !test {
		threshold = 0
	}
	if e.alpha.update([3]uint8{uint8(boolBit(test)), threshold, uint8(boolBit(blend))}) {
		e.w.SetAlpha(test, threshold, blend)
	}
}

func (e *Emitter) Draw(start, end uint32) error {
	return e.w.Draw(start, end)
}
