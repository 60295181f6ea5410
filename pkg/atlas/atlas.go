// Package atlas packs rectangular patches into the smallest power-of-two canvas.
//
// Packing is a greedy shelf algorithm: patches are sorted by decreasing height (ties by
// decreasing width, then insertion order) and placed into the first shelf with room, opening a
// new shelf below the last one when none fits. A patch is stored transposed only when that is
// the only way it fits. Candidate canvases are tried in increasing area, squarer and then
// narrower first, so the result is reproducible for the same insertions.
package atlas

import (
	"errors"
	"fmt"
	"sort"
)

// ErrDoesNotFit is returned when no candidate canvas holds every patch.
var ErrDoesNotFit = errors.New("patches do not fit in the largest atlas canvas")

// DefaultMaxSize is the largest canvas edge tried by New when maxSize is not positive.
const DefaultMaxSize = 1024

// PatchID identifies an inserted patch. IDs are dense and start at zero.
type PatchID int

// Placement is where a patch ended up on the canvas. Width and Height are the extent on the
// canvas. A rotated patch is stored transposed: source texel (x, y) lands at (X+y, Y+x).
type Placement struct {
	X, Y          int
	Width, Height int
	Rotated       bool
}

// Layout is the result of baking.
type Layout struct {
	Width, Height int
	Placements    []Placement // indexed by PatchID
}

// Placement returns the placement of a patch.
func (l *Layout) Placement(id PatchID) Placement {
	return l.Placements[id]
}

// Packer collects patch sizes. It is not safe for concurrent use.
type Packer struct {
	maxSize int
	align   int
	sizes   [][2]int
}

// New creates a packer. Patch extents are rounded up to a multiple of align (use 4 for
// block-compressed targets); align <= 1 disables rounding.
func New(maxSize, align int) *Packer {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if align < 1 {
		align = 1
	}
	return &Packer{maxSize: maxSize, align: align}
}

// Insert records a patch and returns its ID.
func (p *Packer) Insert(width, height int) PatchID {
	if width <= 0 || height <= 0 {
		panic(fmt.Sprintf("atlas: invalid patch size %dx%d", width, height))
	}
	p.sizes = append(p.sizes, [2]int{width, height})
	return PatchID(len(p.sizes) - 1)
}

// Len returns the number of inserted patches.
func (p *Packer) Len() int {
	return len(p.sizes)
}

func (p *Packer) aligned(n int) int {
	return (n + p.align - 1) / p.align * p.align
}

type canvas struct {
	w, h int
}

// candidates lists power-of-two canvases no smaller than the alignment, in trial order.
func (p *Packer) candidates() []canvas {
	var edges []int
	for e := 1; e <= p.maxSize; e *= 2 {
		if e >= p.align {
			edges = append(edges, e)
		}
	}

	var out []canvas
	for _, w := range edges {
		for _, h := range edges {
			out = append(out, canvas{w, h})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.w*a.h != b.w*b.h {
			return a.w*a.h < b.w*b.h
		}
		if skew(a) != skew(b) {
			return skew(a) < skew(b)
		}
		return a.w < b.w
	})
	return out
}

func skew(c canvas) int {
	if c.w > c.h {
		return c.w / c.h
	}
	return c.h / c.w
}

// BakeSmallest lays out every patch on the smallest candidate canvas that holds them all.
func (p *Packer) BakeSmallest() (*Layout, error) {
	area, minEdge := 0, 0
	order := make([]int, len(p.sizes))
	for i, s := range p.sizes {
		order[i] = i
		w, h := p.aligned(s[0]), p.aligned(s[1])
		area += w * h
		minEdge = max(minEdge, min(w, h))
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := p.sizes[order[i]], p.sizes[order[j]]
		if a[1] != b[1] {
			return a[1] > b[1]
		}
		return a[0] > b[0]
	})

	for _, c := range p.candidates() {
		if c.w*c.h < area || max(c.w, c.h) < minEdge {
			continue
		}
		if placements, ok := p.pack(c, order); ok {
			return &Layout{Width: c.w, Height: c.h, Placements: placements}, nil
		}
	}
	return nil, fmt.Errorf("%w: %d patches covering %d texels, max %dx%d",
		ErrDoesNotFit, len(p.sizes), area, p.maxSize, p.maxSize)
}

type shelf struct {
	y, height, used int
}

func (p *Packer) pack(c canvas, order []int) ([]Placement, bool) {
	placements := make([]Placement, len(p.sizes))
	var shelves []shelf
	nextY := 0

	place := func(id, w, h int, rotated bool) bool {
		for i := range shelves {
			s := &shelves[i]
			if h <= s.height && s.used+w <= c.w {
				placements[id] = Placement{X: s.used, Y: s.y, Width: w, Height: h, Rotated: rotated}
				s.used += w
				return true
			}
		}
		return false
	}
	open := func(id, w, h int, rotated bool) bool {
		if w > c.w || nextY+h > c.h {
			return false
		}
		shelves = append(shelves, shelf{y: nextY, height: h, used: w})
		placements[id] = Placement{X: 0, Y: nextY, Width: w, Height: h, Rotated: rotated}
		nextY += h
		return true
	}

	for _, id := range order {
		w, h := p.aligned(p.sizes[id][0]), p.aligned(p.sizes[id][1])
		switch {
		case place(id, w, h, false):
		case w != h && place(id, h, w, true):
		case open(id, w, h, false):
		case w != h && open(id, h, w, true):
		default:
			return nil, false
		}
	}
	return placements, true
}
