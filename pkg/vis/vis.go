// Package vis encodes and decodes run-length compressed potentially-visible-set rows.
//
// A row holds one bit per cluster, least significant bit first. A zero byte is followed by a
// count byte and skips 8*count clusters; any other byte is a literal mask for the next eight
// clusters. Decoding stops exactly at the cluster count, ignoring the unused high bits of the
// final literal byte.
package vis

import (
	"errors"
	"fmt"
)

// Visibility errors.
var (
	ErrCorrupt      = errors.New("corrupt visibility data")
	ErrClusterRange = errors.New("cluster index out of range")
)

// maxSkipRun is the largest group count a single skip instruction can carry.
const maxSkipRun = 255

// Bitmap is a compressed visibility row borrowed from a visibility blob.
type Bitmap struct {
	data        []byte
	numClusters int
}

// NewBitmap wraps a compressed row. data may extend past the end of the row.
func NewBitmap(data []byte, numClusters int) Bitmap {
	return Bitmap{data: data, numClusters: numClusters}
}

// NumClusters returns the number of clusters the row describes.
func (b Bitmap) NumClusters() int {
	return b.numClusters
}

// Iter returns an iterator over the visible clusters of the row.
func (b Bitmap) Iter() *Iterator {
	return &Iterator{data: b.data, numClusters: b.numClusters, current: -1}
}

// Clusters decodes the whole row.
func (b Bitmap) Clusters() ([]int, error) {
	var clusters []int
	it := b.Iter()
	for it.Next() {
		clusters = append(clusters, it.Cluster())
	}
	return clusters, it.Err()
}

// Contains reports whether cluster is visible in the row.
func (b Bitmap) Contains(cluster int) (bool, error) {
	if cluster < 0 || cluster >= b.numClusters {
		return false, fmt.Errorf("%w: %d of %d", ErrClusterRange, cluster, b.numClusters)
	}
	it := b.Iter()
	for it.Next() {
		if it.Cluster() == cluster {
			return true, nil
		}
		if it.Cluster() > cluster {
			return false, nil
		}
	}
	return false, it.Err()
}

// Iterator walks a compressed row with a bounds-checked cursor.
//
//	it := row.Iter()
//	for it.Next() {
//		draw(it.Cluster())
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	data        []byte
	pos         int
	numClusters int
	cursor      int // next cluster to classify
	mask        byte
	bits        int // unread bits left in mask
	current     int
	err         error
}

// Next advances to the next visible cluster. It returns false at the end of the row or on
// error.
func (it *Iterator) Next() bool {
	if it.err != nil {
		return false
	}
	for it.cursor < it.numClusters {
		if it.bits == 0 {
			b, ok := it.readByte()
			if !ok {
				return false
			}
			if b == 0 {
				count, ok := it.readByte()
				if !ok {
					return false
				}
				it.cursor += 8 * int(count)
				continue
			}
			it.mask = b
			it.bits = 8
		}

		for it.bits > 0 && it.cursor < it.numClusters {
			visible := it.mask&1 != 0
			it.mask >>= 1
			it.bits--
			cluster := it.cursor
			it.cursor++
			if visible {
				it.current = cluster
				return true
			}
		}
	}
	it.bits = 0
	return false
}

func (it *Iterator) readByte() (byte, bool) {
	if it.pos >= len(it.data) {
		it.err = fmt.Errorf("%w: row ends at byte %d with cluster %d of %d undecoded",
			ErrCorrupt, it.pos, it.cursor, it.numClusters)
		return 0, false
	}
	b := it.data[it.pos]
	it.pos++
	return b, true
}

// Cluster returns the cluster found by the last successful Next.
func (it *Iterator) Cluster() int {
	return it.current
}

// Err returns the first error met while decoding.
func (it *Iterator) Err() error {
	return it.err
}

// RowLength returns how many bytes of data the compressed row starting at data[0] occupies.
func RowLength(data []byte, numClusters int) (int, error) {
	pos, cursor := 0, 0
	for cursor < numClusters {
		if pos >= len(data) {
			return 0, fmt.Errorf("%w: row overruns %d bytes at cluster %d of %d",
				ErrCorrupt, len(data), cursor, numClusters)
		}
		b := data[pos]
		pos++
		if b != 0 {
			cursor += 8
			continue
		}
		if pos >= len(data) {
			return 0, fmt.Errorf("%w: skip run without count at byte %d", ErrCorrupt, pos)
		}
		cursor += 8 * int(data[pos])
		pos++
	}
	return pos, nil
}

// EncodeRow compresses one row. visible[i] reports whether cluster i is potentially visible.
func EncodeRow(visible []bool) []byte {
	var out []byte
	run := 0
	flush := func() {
		if run > 0 {
			out = append(out, 0, byte(run))
			run = 0
		}
	}

	for group := 0; group < len(visible); group += 8 {
		var mask byte
		for bit := 0; bit < 8 && group+bit < len(visible); bit++ {
			if visible[group+bit] {
				mask |= 1 << bit
			}
		}
		if mask == 0 {
			run++
			if run == maxSkipRun {
				flush()
			}
			continue
		}
		flush()
		out = append(out, mask)
	}
	flush()

	return out
}

// EncodeSet compresses a row given the visible cluster indices.
func EncodeSet(numClusters int, clusters []int) ([]byte, error) {
	visible := make([]bool, numClusters)
	for _, c := range clusters {
		if c < 0 || c >= numClusters {
			return nil, fmt.Errorf("%w: %d of %d", ErrClusterRange, c, numClusters)
		}
		visible[c] = true
	}
	return EncodeRow(visible), nil
}
