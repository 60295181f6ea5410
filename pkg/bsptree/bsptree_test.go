package bsptree

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
)

// createTestTree builds:
//
//	node 0: x > 0 ? node 1 : leaf 0
//	node 1: y > 5 ? leaf 1 : leaf 2
func createTestTree() *Tree {
	return &Tree{
		Nodes: []Node{
			{Plane: [4]float32{1, 0, 0, 0}, Children: [2]int32{1, LeafChild(0)}},
			{Plane: [4]float32{0, 1, 0, 5}, Children: [2]int32{LeafChild(1), LeafChild(2)}},
		},
		Leaves: []Leaf{{Cluster: NoCluster}, {Cluster: 0}, {Cluster: 1}},
	}
}

func TestLeafChildEncoding(t *testing.T) {
	if got := LeafChild(0); got != -1 {
		t.Errorf("LeafChild(0) = %d, want -1", got)
	}
	if leaf, ok := IsLeafChild(-1); !ok || leaf != 0 {
		t.Errorf("IsLeafChild(-1) = %d, %v", leaf, ok)
	}
	if _, ok := IsLeafChild(0); ok {
		t.Error("child 0 must be a node reference")
	}
}

func TestLeafIndex(t *testing.T) {
	tree := createTestTree()

	tests := []struct {
		name  string
		point mgl32.Vec3
		leaf  int
	}{
		{"behind root", mgl32.Vec3{-3, 100, 0}, 0},
		{"on root plane goes back", mgl32.Vec3{0, 100, 0}, 0},
		{"front of both", mgl32.Vec3{1, 6, 0}, 1},
		{"front then back", mgl32.Vec3{1, 4, 0}, 2},
		{"on second plane goes back", mgl32.Vec3{1, 5, 0}, 2},
		{"just past second plane", mgl32.Vec3{1, 5.0001, 0}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tree.LeafIndex(tt.point); got != tt.leaf {
				t.Errorf("LeafIndex(%v) = %d, want %d", tt.point, got, tt.leaf)
			}
		})
	}
}

func TestTieBreakUsesChildOne(t *testing.T) {
	tree := &Tree{
		Nodes: []Node{
			{Plane: [4]float32{0, 0, 1, 64}, Children: [2]int32{1, LeafChild(0)}},
			{Plane: [4]float32{0, 0, 1, 128}, Children: [2]int32{LeafChild(1), LeafChild(2)}},
		},
		Leaves: []Leaf{{Cluster: 0}, {Cluster: 1}, {Cluster: 2}},
	}

	leaf := tree.Traverse(mgl32.Vec3{10, -20, 64})
	if leaf != &tree.Leaves[0] {
		t.Errorf("point on plane resolved to cluster %d, want child 1 subtree (cluster 0)", leaf.Cluster)
	}
}

func TestCluster(t *testing.T) {
	tree := createTestTree()

	c, err := tree.Cluster(mgl32.Vec3{1, 6, 0})
	if err != nil || c != 0 {
		t.Errorf("Cluster = %d, %v; want 0", c, err)
	}

	c, err = tree.Cluster(mgl32.Vec3{-1, 0, 0})
	if !errors.Is(err, ErrNoCluster) {
		t.Errorf("expected ErrNoCluster, got %v", err)
	}
	if c != NoCluster {
		t.Errorf("expected NoCluster, got %d", c)
	}
}

func TestOutOfRangePanics(t *testing.T) {
	tests := []struct {
		name string
		tree *Tree
	}{
		{"bad node", &Tree{
			Nodes:  []Node{{Plane: [4]float32{1, 0, 0, 0}, Children: [2]int32{7, 7}}},
			Leaves: []Leaf{{}},
		}},
		{"bad leaf", &Tree{
			Nodes:  []Node{{Plane: [4]float32{1, 0, 0, 0}, Children: [2]int32{LeafChild(3), LeafChild(3)}}},
			Leaves: []Leaf{{}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			tt.tree.LeafIndex(mgl32.Vec3{})
		})
	}
}

func TestValidate(t *testing.T) {
	if err := createTestTree().Validate(); err != nil {
		t.Fatalf("valid tree rejected: %v", err)
	}

	nan := float32(math.NaN())
	tests := []struct {
		name string
		tree *Tree
	}{
		{"empty", &Tree{}},
		{"node out of range", &Tree{
			Nodes:  []Node{{Children: [2]int32{4, LeafChild(0)}}},
			Leaves: []Leaf{{}},
		}},
		{"leaf out of range", &Tree{
			Nodes:  []Node{{Children: [2]int32{LeafChild(0), LeafChild(1)}}},
			Leaves: []Leaf{{}},
		}},
		{"cycle", &Tree{
			Nodes: []Node{
				{Children: [2]int32{1, LeafChild(0)}},
				{Children: [2]int32{0, LeafChild(0)}},
			},
			Leaves: []Leaf{{}},
		}},
		{"shared subtree", &Tree{
			Nodes: []Node{
				{Children: [2]int32{1, 1}},
				{Children: [2]int32{LeafChild(0), LeafChild(0)}},
			},
			Leaves: []Leaf{{}},
		}},
		{"nan plane", &Tree{
			Nodes:  []Node{{Plane: [4]float32{nan, 0, 0, 0}, Children: [2]int32{LeafChild(0), LeafChild(0)}}},
			Leaves: []Leaf{{}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.tree.Validate(); !errors.Is(err, ErrCorrupt) {
				t.Errorf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestWalkLeaves(t *testing.T) {
	var leaves []int
	createTestTree().WalkLeaves(func(leaf int) {
		leaves = append(leaves, leaf)
	})
	if !reflect.DeepEqual(leaves, []int{1, 2, 0}) {
		t.Errorf("WalkLeaves order = %v, want [1 2 0]", leaves)
	}
}
