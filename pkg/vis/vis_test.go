package vis

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math/rand"
	"reflect"
	"sort"
	"testing"
)

func decodeSet(t *testing.T, row []byte, n int) []int {
	t.Helper()
	got, err := NewBitmap(row, n).Clusters()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	return got
}

func TestRoundTrip(t *testing.T) {
	all20 := make([]int, 20)
	for i := range all20 {
		all20[i] = i
	}

	tests := []struct {
		name     string
		n        int
		clusters []int
	}{
		{"no clusters", 0, nil},
		{"empty set", 20, nil},
		{"first only", 20, []int{0}},
		{"last only", 20, []int{19}},
		{"scattered", 20, []int{0, 9, 19}},
		{"all visible", 20, all20},
		{"single cluster", 1, []int{0}},
		{"multiple of eight", 16, []int{7, 8, 15}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row, err := EncodeSet(tt.n, tt.clusters)
			if err != nil {
				t.Fatalf("encode failed: %v", err)
			}
			got := decodeSet(t, row, tt.n)
			if len(got) == 0 && len(tt.clusters) == 0 {
				return
			}
			if !reflect.DeepEqual(got, tt.clusters) {
				t.Errorf("decode(encode(%v)) = %v", tt.clusters, got)
			}
		})
	}
}

func TestEncodeScatteredBytes(t *testing.T) {
	row, err := EncodeSet(20, []int{0, 9, 19})
	if err != nil {
		t.Fatal(err)
	}
	// Group 0 holds cluster 0, group 1 holds cluster 9, group 2 holds cluster 19 (bit 3).
	want := []byte{0b00000001, 0b00000010, 0b00001000}
	if !bytes.Equal(row, want) {
		t.Errorf("got % x, want % x", row, want)
	}
}

func TestEncodeAllZeroIsSkipRun(t *testing.T) {
	row := EncodeRow(make([]bool, 20))
	if !bytes.Equal(row, []byte{0, 3}) {
		t.Errorf("got % x, want 00 03", row)
	}
}

func TestEncodeAllOneIsLiterals(t *testing.T) {
	visible := make([]bool, 20)
	for i := range visible {
		visible[i] = true
	}
	row := EncodeRow(visible)
	if !bytes.Equal(row, []byte{0xff, 0xff, 0x0f}) {
		t.Errorf("got % x, want ff ff 0f", row)
	}
}

func TestEncodeLongSkipRunSplits(t *testing.T) {
	n := 8*300 + 1
	row, err := EncodeSet(n, []int{n - 1})
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0, 255, 0, 45, 0x01}
	if !bytes.Equal(row, want) {
		t.Errorf("got % x, want % x", row, want)
	}
	if got := decodeSet(t, row, n); !reflect.DeepEqual(got, []int{n - 1}) {
		t.Errorf("got %v", got)
	}
}

func TestRandomRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(600)
		density := rng.Float64()
		var want []int
		visible := make([]bool, n)
		for i := range visible {
			if rng.Float64() < density*density {
				visible[i] = true
				want = append(want, i)
			}
		}

		got := decodeSet(t, EncodeRow(visible), n)
		if len(want) == 0 && len(got) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("iteration %d (n=%d): got %v, want %v", iter, n, got, want)
		}
	}
}

func TestPartialByteStopsAtClusterCount(t *testing.T) {
	// A literal with every bit set over three clusters must not report clusters 3..7.
	got := decodeSet(t, []byte{0xff}, 3)
	if !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Errorf("got %v, want [0 1 2]", got)
	}
}

func TestSkipPastEndNeverYieldsOutOfRange(t *testing.T) {
	got := decodeSet(t, []byte{0x80, 0, 10, 0xff}, 12)
	if !reflect.DeepEqual(got, []int{7}) {
		t.Errorf("got %v, want [7]", got)
	}
}

func TestTruncatedRowIsCorrupt(t *testing.T) {
	tests := []struct {
		name string
		row  []byte
	}{
		{"empty", nil},
		{"missing groups", []byte{0x01}},
		{"skip without count", []byte{0x01, 0x00}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBitmap(tt.row, 24).Clusters()
			if !errors.Is(err, ErrCorrupt) {
				t.Errorf("expected ErrCorrupt, got %v", err)
			}
			if _, err := RowLength(tt.row, 24); !errors.Is(err, ErrCorrupt) {
				t.Errorf("RowLength: expected ErrCorrupt, got %v", err)
			}
		})
	}
}

func TestContains(t *testing.T) {
	row, _ := EncodeSet(20, []int{3, 17})
	bm := NewBitmap(row, 20)

	for c, want := range map[int]bool{3: true, 4: false, 17: true, 19: false} {
		got, err := bm.Contains(c)
		if err != nil {
			t.Fatalf("Contains(%d): %v", c, err)
		}
		if got != want {
			t.Errorf("Contains(%d) = %v, want %v", c, got, want)
		}
	}
	if _, err := bm.Contains(20); !errors.Is(err, ErrClusterRange) {
		t.Errorf("expected ErrClusterRange, got %v", err)
	}
}

func TestRowLength(t *testing.T) {
	row, _ := EncodeSet(100, []int{50})
	padded := append(append([]byte{}, row...), 0xaa, 0xbb)
	n, err := RowLength(padded, 100)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(row) {
		t.Errorf("RowLength = %d, want %d", n, len(row))
	}
}

func TestTablePackAndVisible(t *testing.T) {
	sets := [][]int{{0}, {0, 1}, {1, 2}}
	rows := make([][]byte, len(sets))
	for i, s := range sets {
		rows[i], _ = EncodeSet(len(sets), s)
	}

	blob := Pack(rows)
	if got := binary.BigEndian.Uint32(blob); got != 3 {
		t.Fatalf("cluster count = %d", got)
	}
	if got := binary.BigEndian.Uint32(blob[4:]); got != 16 {
		t.Errorf("first row offset = %d, want 16", got)
	}

	table, err := ParseTable(blob)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range sets {
		got, err := table.Visible(i)
		if err != nil {
			t.Fatalf("Visible(%d): %v", i, err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("Visible(%d) = %v, want %v", i, got, want)
		}
	}
	if _, err := table.Visible(3); !errors.Is(err, ErrClusterRange) {
		t.Errorf("expected ErrClusterRange, got %v", err)
	}
}

func TestParseTableCorrupt(t *testing.T) {
	tests := []struct {
		name string
		blob []byte
	}{
		{"short header", []byte{0, 0}},
		{"count exceeds blob", []byte{0, 0, 0, 9, 0, 0, 0, 8}},
		{"offset inside header", []byte{0, 0, 0, 1, 0, 0, 0, 2, 0xff}},
		{"offset past end", []byte{0, 0, 0, 1, 0, 0, 0, 99, 0xff}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseTable(tt.blob); !errors.Is(err, ErrCorrupt) {
				t.Errorf("expected ErrCorrupt, got %v", err)
			}
		})
	}
}

// sourceLump builds a little-endian visibility lump with empty PAS rows.
func sourceLump(rows [][]byte) []byte {
	buf := new(bytes.Buffer)
	n := len(rows)
	binary.Write(buf, binary.LittleEndian, int32(n))
	offset := int32(4 + 8*n)
	for _, row := range rows {
		binary.Write(buf, binary.LittleEndian, offset)
		binary.Write(buf, binary.LittleEndian, offset)
		offset += int32(len(row))
	}
	for _, row := range rows {
		buf.Write(row)
	}
	return buf.Bytes()
}

func TestParseSourceLump(t *testing.T) {
	r0, _ := EncodeSet(2, []int{0})
	r1, _ := EncodeSet(2, []int{0, 1})

	rows, err := ParseSourceLump(sourceLump([][]byte{r0, r1}))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || !bytes.Equal(rows[0], r0) || !bytes.Equal(rows[1], r1) {
		t.Errorf("unexpected rows % x", rows)
	}

	rows, err = ParseSourceLump(nil)
	if err != nil || rows != nil {
		t.Errorf("empty lump: rows=%v err=%v", rows, err)
	}

	bad := sourceLump([][]byte{r0})
	binary.LittleEndian.PutUint32(bad[4:], 1000)
	if _, err := ParseSourceLump(bad); !errors.Is(err, ErrCorrupt) {
		t.Errorf("expected ErrCorrupt, got %v", err)
	}
}

func TestIteratorOrderIsAscending(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	visible := make([]bool, 333)
	for i := range visible {
		visible[i] = rng.Intn(3) == 0
	}
	got := decodeSet(t, EncodeRow(visible), len(visible))
	if !sort.IntsAreSorted(got) {
		t.Errorf("clusters not ascending: %v", got)
	}
	for _, c := range got {
		if c >= len(visible) {
			t.Fatalf("cluster %d out of range", c)
		}
	}
}
