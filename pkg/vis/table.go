package vis

import (
	"encoding/binary"
	"fmt"
)

// Table is a parsed visibility blob: a big-endian u32 cluster count, one u32 row offset per
// cluster (relative to the blob start), then the compressed rows.
type Table struct {
	data        []byte
	numClusters int
}

// ParseTable validates the blob header and row offsets.
func ParseTable(data []byte) (*Table, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: blob shorter than header", ErrCorrupt)
	}
	n := binary.BigEndian.Uint32(data)
	headerLen := 4 + 4*uint64(n)
	if headerLen > uint64(len(data)) {
		return nil, fmt.Errorf("%w: %d clusters need %d header bytes, blob has %d",
			ErrCorrupt, n, headerLen, len(data))
	}

	t := &Table{data: data, numClusters: int(n)}
	for i := 0; i < t.numClusters; i++ {
		off := t.offset(i)
		if uint64(off) < headerLen || int(off) > len(data) {
			return nil, fmt.Errorf("%w: cluster %d row offset %d outside [%d, %d]",
				ErrCorrupt, i, off, headerLen, len(data))
		}
	}
	return t, nil
}

func (t *Table) offset(cluster int) uint32 {
	return binary.BigEndian.Uint32(t.data[4+4*cluster:])
}

// NumClusters returns the number of clusters in the table.
func (t *Table) NumClusters() int {
	return t.numClusters
}

// Row returns the compressed row of clusters potentially visible from cluster.
func (t *Table) Row(cluster int) (Bitmap, error) {
	if cluster < 0 || cluster >= t.numClusters {
		return Bitmap{}, fmt.Errorf("%w: %d of %d", ErrClusterRange, cluster, t.numClusters)
	}
	return NewBitmap(t.data[t.offset(cluster):], t.numClusters), nil
}

// Visible decodes the set of clusters potentially visible from cluster.
func (t *Table) Visible(cluster int) ([]int, error) {
	row, err := t.Row(cluster)
	if err != nil {
		return nil, err
	}
	clusters, err := row.Clusters()
	if err != nil {
		return nil, fmt.Errorf("cluster %d: %w", cluster, err)
	}
	return clusters, nil
}

// Pack builds a visibility blob from compressed rows, one per cluster.
func Pack(rows [][]byte) []byte {
	size := 4 + 4*len(rows)
	for _, row := range rows {
		size += len(row)
	}

	out := make([]byte, 4+4*len(rows), size)
	binary.BigEndian.PutUint32(out, uint32(len(rows)))
	offset := uint32(4 + 4*len(rows))
	for i, row := range rows {
		binary.BigEndian.PutUint32(out[4+4*i:], offset)
		offset += uint32(len(row))
	}
	for _, row := range rows {
		out = append(out, row...)
	}
	return out
}

// ParseSourceLump extracts the PVS rows of a compiled map's visibility lump: a little-endian
// i32 cluster count followed by (pvs, pas) i32 offset pairs. Each returned row is trimmed to its
// compressed length.
func ParseSourceLump(lump []byte) ([][]byte, error) {
	if len(lump) == 0 {
		return nil, nil
	}
	if len(lump) < 4 {
		return nil, fmt.Errorf("%w: lump shorter than header", ErrCorrupt)
	}
	n := int32(binary.LittleEndian.Uint32(lump))
	if n < 0 || 4+8*int64(n) > int64(len(lump)) {
		return nil, fmt.Errorf("%w: bad cluster count %d for %d byte lump", ErrCorrupt, n, len(lump))
	}

	rows := make([][]byte, n)
	for i := range rows {
		off := int32(binary.LittleEndian.Uint32(lump[4+8*i:]))
		if off < 0 || int(off) > len(lump) {
			return nil, fmt.Errorf("%w: cluster %d pvs offset %d outside lump", ErrCorrupt, i, off)
		}
		length, err := RowLength(lump[off:], int(n))
		if err != nil {
			return nil, fmt.Errorf("cluster %d: %w", i, err)
		}
		rows[i] = lump[off : int(off)+length]
	}
	return rows, nil
}
