package pack

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/Faultbox/gxpack/pkg/bsptree"
	"github.com/Faultbox/gxpack/pkg/formats"
	"github.com/Faultbox/gxpack/pkg/mapdata"
	"github.com/Faultbox/gxpack/pkg/vis"
)

// worldTree resolves node planes, validates the tree rooted at node 0 and returns the packed
// nodes.
func (b *builder) worldTree() ([]mapdata.BspNode, error) {
	nodes := make([]mapdata.BspNode, len(b.bsp.Nodes))
	t := &bsptree.Tree{
		Nodes:  make([]bsptree.Node, len(b.bsp.Nodes)),
		Leaves: make([]bsptree.Leaf, len(b.bsp.Leaves)),
	}
	for i, n := range b.bsp.Nodes {
		if n.PlaneNum < 0 || int(n.PlaneNum) >= len(b.bsp.Planes) {
			return nil, fmt.Errorf("%w: node %d plane %d", formats.ErrBSPIndex, i, n.PlaneNum)
		}
		plane := b.bsp.Planes[n.PlaneNum].PlaneEquation()
		nodes[i] = mapdata.BspNode{Plane: plane, Children: n.Children}
		t.Nodes[i] = bsptree.Node{Plane: plane, Children: n.Children}
	}
	for i, l := range b.bsp.Leaves {
		t.Leaves[i] = bsptree.Leaf{Cluster: l.Cluster}
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	b.tree = t
	return nodes, nil
}

func (b *builder) packLeaves() []mapdata.BspLeaf {
	leaves := make([]mapdata.BspLeaf, len(b.bsp.Leaves))
	for i, l := range b.bsp.Leaves {
		leaves[i] = mapdata.BspLeaf{Cluster: l.Cluster}
	}
	return leaves
}

// packVisibility re-packs the compiled PVS rows. A map compiled without visibility gets one
// cluster per distinct leaf cluster, each seeing every other.
func (b *builder) packVisibility() ([]byte, error) {
	rows, err := vis.ParseSourceLump(b.bsp.Visibility)
	if err != nil {
		return nil, err
	}

	maxCluster := int16(bsptree.NoCluster)
	b.tree.WalkLeaves(func(leaf int) {
		maxCluster = max(maxCluster, b.tree.Leaves[leaf].Cluster)
	})

	if rows == nil {
		b.numClusters = int(maxCluster) + 1
		if b.numClusters > 0 {
			b.log.Warn("map has no visibility, every cluster sees every cluster",
				zap.Int("clusters", b.numClusters))
		}
		all := make([]bool, b.numClusters)
		for i := range all {
			all[i] = true
		}
		row := vis.EncodeRow(all)
		rows = make([][]byte, b.numClusters)
		for i := range rows {
			rows[i] = row
		}
		return vis.Pack(rows), nil
	}

	b.numClusters = len(rows)
	if int(maxCluster) >= b.numClusters {
		return nil, fmt.Errorf("%w: leaf cluster %d of %d", ErrCorruptMap, maxCluster, b.numClusters)
	}
	return vis.Pack(rows), nil
}

// worldLeaves calls fn for every leaf of the world tree that belongs to a cluster.
func (b *builder) worldLeaves(fn func(leaf *formats.Leaf, cluster int) error) error {
	var err error
	b.tree.WalkLeaves(func(index int) {
		if err != nil {
			return
		}
		leaf := &b.bsp.Leaves[index]
		if leaf.Cluster < 0 {
			return
		}
		err = fn(leaf, int(leaf.Cluster))
	})
	return err
}

// leafFaces returns the faces of a leaf with their indices.
func (b *builder) leafFaces(leaf *formats.Leaf) ([]int, error) {
	indices, err := b.bsp.LeafFaceIndices(leaf)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(indices))
	for i, f := range indices {
		if int(f) >= len(b.bsp.Faces) {
			return nil, fmt.Errorf("%w: leaf face %d", formats.ErrBSPIndex, f)
		}
		out[i] = int(f)
	}
	return out, nil
}
