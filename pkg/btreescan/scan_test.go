package btreescan

import (
	"testing"

	"github.com/LeMikaelF/wal-analyzer/pkg/btreepage"
	"github.com/LeMikaelF/wal-analyzer/pkg/varint"
)

const usable = 512

func encodeTableLeafCell(rowid int64, payload []byte) []byte {
	buf := make([]byte, varint.MaxLen*2+len(payload))
	n := varint.Encode(buf, uint64(len(payload)))
	n += varint.Encode(buf[n:], uint64(rowid))
	n += copy(buf[n:], payload)
	return buf[:n]
}

// buildTableLeafPage builds a leaf page with its B-tree header at headerBase
// (100 for page 1, 0 otherwise). Cell-pointer values, like real SQLite's,
// are always relative to the start of the full page (offset 0).
func buildTableLeafPage(cells [][]byte, headerBase int) []byte {
	page := make([]byte, usable)
	page[headerBase] = byte(btreepage.TypeTableLeaf)
	contentStart := usable
	offsets := make([]int, len(cells))
	for i, c := range cells {
		contentStart -= len(c)
		copy(page[contentStart:], c)
		offsets[i] = contentStart
	}
	page[headerBase+3] = byte(len(cells) >> 8)
	page[headerBase+4] = byte(len(cells))
	page[headerBase+5] = byte(contentStart >> 8)
	page[headerBase+6] = byte(contentStart)
	ptrBase := headerBase + 8
	for i, off := range offsets {
		page[ptrBase+i*2] = byte(off >> 8)
		page[ptrBase+i*2+1] = byte(off)
	}
	return page
}

func buildTableInteriorPage(children []uint32, rowids []int64, rightmost uint32, headerBase int) []byte {
	page := make([]byte, usable)
	page[headerBase] = byte(btreepage.TypeTableInterior)

	cells := make([][]byte, len(children))
	for i := range children {
		buf := make([]byte, 4+varint.MaxLen)
		buf[0] = byte(children[i] >> 24)
		buf[1] = byte(children[i] >> 16)
		buf[2] = byte(children[i] >> 8)
		buf[3] = byte(children[i])
		n := varint.Encode(buf[4:], uint64(rowids[i]))
		cells[i] = buf[:4+n]
	}
	contentStart := usable
	offsets := make([]int, len(cells))
	for i, c := range cells {
		contentStart -= len(c)
		copy(page[contentStart:], c)
		offsets[i] = contentStart
	}
	page[headerBase+3] = byte(len(cells) >> 8)
	page[headerBase+4] = byte(len(cells))
	page[headerBase+5] = byte(contentStart >> 8)
	page[headerBase+6] = byte(contentStart)
	page[headerBase+8] = byte(rightmost >> 24)
	page[headerBase+9] = byte(rightmost >> 16)
	page[headerBase+10] = byte(rightmost >> 8)
	page[headerBase+11] = byte(rightmost)
	ptrBase := headerBase + 12
	for i, off := range offsets {
		page[ptrBase+i*2] = byte(off >> 8)
		page[ptrBase+i*2+1] = byte(off)
	}
	return page
}

type fakeSource struct {
	pages map[uint32][]byte
}

func (s *fakeSource) Get(pageNo uint32) ([]byte, error) {
	return s.pages[pageNo], nil
}

func TestScanSingleLeafPage(t *testing.T) {
	src := &fakeSource{pages: map[uint32][]byte{
		2: buildTableLeafPage([][]byte{
			encodeTableLeafCell(1, []byte("a")),
			encodeTableLeafCell(2, []byte("b")),
		}, 0),
	}}

	var got []Observation
	err := Scan(src, 2, Table, usable, Options{}, func(o Observation) error {
		got = append(got, o)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d observations, want 2", len(got))
	}
	if got[0].RowID != 1 || got[1].RowID != 2 {
		t.Errorf("rowids = %d, %d; want 1, 2", got[0].RowID, got[1].RowID)
	}
}

func TestScanRecursesThroughInterior(t *testing.T) {
	src := &fakeSource{pages: map[uint32][]byte{
		1: buildTableInteriorPage([]uint32{2}, []int64{10}, 3, 100), // page 1: header starts at offset 100
		2: buildTableLeafPage([][]byte{encodeTableLeafCell(1, []byte("x"))}, 0),
		3: buildTableLeafPage([][]byte{encodeTableLeafCell(2, []byte("y"))}, 0),
	}}

	var got []Observation
	err := Scan(src, 1, Table, usable, Options{}, func(o Observation) error {
		got = append(got, o)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d observations, want 2", len(got))
	}
	if got[0].PageNo != 2 || got[1].PageNo != 3 {
		t.Errorf("expected left-to-right order page 2 then 3, got %d then %d", got[0].PageNo, got[1].PageNo)
	}
}

func TestScanDetectsCycle(t *testing.T) {
	src := &fakeSource{pages: map[uint32][]byte{
		1: buildTableInteriorPage([]uint32{1}, []int64{10}, 1, 100),
	}}
	err := Scan(src, 1, Table, usable, Options{}, func(o Observation) error { return nil })
	if err == nil {
		t.Fatal("expected cycle error")
	}
}

func TestScanRejectsWrongTreeKind(t *testing.T) {
	src := &fakeSource{pages: map[uint32][]byte{
		2: buildTableLeafPage([][]byte{encodeTableLeafCell(1, []byte("a"))}, 0),
	}}
	err := Scan(src, 2, Index, usable, Options{}, func(o Observation) error { return nil })
	if err == nil {
		t.Fatal("expected error scanning a table-leaf page as an index tree")
	}
}
