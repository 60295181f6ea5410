// Package bsptree resolves points to leaves and visibility clusters of a compiled BSP tree.
package bsptree

import (
	"errors"
	"fmt"

	"github.com/chewxy/math32"
	"github.com/gammazero/deque"
	"github.com/go-gl/mathgl/mgl32"
)

// NoCluster is the cluster of leaves that are not potentially visible from anywhere, such as
// solid leaves.
const NoCluster = -1

// Tree errors.
var (
	ErrCorrupt   = errors.New("corrupt bsp tree")
	ErrNoCluster = errors.New("leaf has no visibility cluster")
)

// Node is an internal node: a splitting plane (normal xyz, distance) and two children.
// A non-negative child indexes Nodes; a negative child c refers to leaf -(c+1).
type Node struct {
	Plane    [4]float32
	Children [2]int32
}

// Leaf is a terminal cell of the tree.
type Leaf struct {
	Cluster int16
}

// HasCluster reports whether the leaf belongs to a visibility cluster.
func (l Leaf) HasCluster() bool {
	return l.Cluster >= 0
}

// Tree is an immutable BSP tree rooted at node 0.
type Tree struct {
	Nodes  []Node
	Leaves []Leaf
}

// LeafChild encodes a leaf index as a child reference.
func LeafChild(leaf int) int32 {
	return -int32(leaf) - 1
}

// IsLeafChild reports whether a child reference points at a leaf, returning its index.
func IsLeafChild(child int32) (int, bool) {
	if child < 0 {
		return int(-(child + 1)), true
	}
	return 0, false
}

// Side returns the child taken for p: 0 when p is strictly in front of the plane, 1 otherwise.
// Points exactly on the plane go to child 1.
func (n *Node) Side(p mgl32.Vec3) int {
	normal := mgl32.Vec3{n.Plane[0], n.Plane[1], n.Plane[2]}
	if normal.Dot(p) > n.Plane[3] {
		return 0
	}
	return 1
}

// LeafIndex descends from the root to the leaf containing p.
// Out of range node or leaf indices panic; run Validate on untrusted data first.
func (t *Tree) LeafIndex(p mgl32.Vec3) int {
	index := int32(0)
	for {
		if int(index) >= len(t.Nodes) {
			panic(fmt.Sprintf("bsptree: node index %d out of range [0, %d)", index, len(t.Nodes)))
		}
		node := &t.Nodes[index]
		child := node.Children[node.Side(p)]
		if leaf, ok := IsLeafChild(child); ok {
			if leaf >= len(t.Leaves) {
				panic(fmt.Sprintf("bsptree: leaf index %d out of range [0, %d)", leaf, len(t.Leaves)))
			}
			return leaf
		}
		index = child
	}
}

// Traverse returns the leaf containing p.
func (t *Tree) Traverse(p mgl32.Vec3) *Leaf {
	return &t.Leaves[t.LeafIndex(p)]
}

// Cluster returns the visibility cluster containing p. Points inside leaves without a cluster
// return ErrNoCluster.
func (t *Tree) Cluster(p mgl32.Vec3) (int, error) {
	leaf := t.LeafIndex(p)
	if !t.Leaves[leaf].HasCluster() {
		return NoCluster, fmt.Errorf("%w: leaf %d at %v", ErrNoCluster, leaf, p)
	}
	return int(t.Leaves[leaf].Cluster), nil
}

// Validate checks that every node reachable from the root has finite planes and in-range
// children, and that no node is reachable twice.
func (t *Tree) Validate() error {
	if len(t.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrCorrupt)
	}

	visited := make([]bool, len(t.Nodes))
	var queue deque.Deque[int32]
	queue.PushBack(0)
	visited[0] = true

	for queue.Len() > 0 {
		index := queue.PopFront()
		node := &t.Nodes[index]
		for _, v := range node.Plane {
			if math32.IsNaN(v) || math32.IsInf(v, 0) {
				return fmt.Errorf("%w: node %d has non-finite plane %v", ErrCorrupt, index, node.Plane)
			}
		}

		for side, child := range node.Children {
			if leaf, ok := IsLeafChild(child); ok {
				if leaf >= len(t.Leaves) {
					return fmt.Errorf("%w: node %d child %d refers to leaf %d of %d",
						ErrCorrupt, index, side, leaf, len(t.Leaves))
				}
				continue
			}
			if int(child) >= len(t.Nodes) {
				return fmt.Errorf("%w: node %d child %d refers to node %d of %d",
					ErrCorrupt, index, side, child, len(t.Nodes))
			}
			if visited[child] {
				return fmt.Errorf("%w: node %d reachable more than once", ErrCorrupt, child)
			}
			visited[child] = true
			queue.PushBack(child)
		}
	}
	return nil
}

// WalkLeaves calls fn for every leaf under the root, depth first with child 0 before child 1.
// The tree must be valid.
func (t *Tree) WalkLeaves(fn func(leaf int)) {
	if len(t.Nodes) == 0 {
		return
	}
	stack := []int32{0}
	for len(stack) > 0 {
		ref := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if leaf, ok := IsLeafChild(ref); ok {
			fn(leaf)
			continue
		}
		node := &t.Nodes[ref]
		stack = append(stack, node.Children[1], node.Children[0])
	}
}
