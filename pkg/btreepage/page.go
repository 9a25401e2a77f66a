// Package btreepage decodes a B-tree page's header and cell pointer array.
// It knows nothing about cell payload contents — that belongs to pkg/cell —
// only the page-level framing SQLite uses for all four page variants.
package btreepage

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Type identifies which of the four SQLite B-tree page variants a page is.
type Type byte

// The four page-type tag bytes SQLite defines. Any other value is malformed.
const (
	TypeTableInterior Type = 0x05
	TypeTableLeaf     Type = 0x0d
	TypeIndexInterior Type = 0x02
	TypeIndexLeaf     Type = 0x0a
)

func (t Type) String() string {
	switch t {
	case TypeTableInterior:
		return "table-interior"
	case TypeTableLeaf:
		return "table-leaf"
	case TypeIndexInterior:
		return "index-interior"
	case TypeIndexLeaf:
		return "index-leaf"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// IsLeaf reports whether the page type carries data cells directly rather
// than child pointers.
func (t Type) IsLeaf() bool {
	return t == TypeTableLeaf || t == TypeIndexLeaf
}

// IsTable reports whether the page belongs to a table B-tree (rowid keyed)
// as opposed to an index B-tree (payload keyed).
func (t Type) IsTable() bool {
	return t == TypeTableInterior || t == TypeTableLeaf
}

// ErrMalformedPage reports a structurally invalid B-tree page: an unknown
// type byte, or cell-pointer/offset bookkeeping that points outside the
// page.
var ErrMalformedPage = errors.New("btreepage: malformed page")

// headerSize is 8 bytes for leaf pages, 12 for interior pages (the extra 4
// being the right-most child pointer).
const (
	leafHeaderSize     = 8
	interiorHeaderSize = 12
)

// Page is a decoded B-tree page header plus its cell pointer array. It
// holds the page's byte slice by reference; callers must not mutate it
// while a Page built over it is in use, and must not hold a Page past the
// lifetime of the snapshot it came from (see pkg/pagecache).
type Page struct {
	Type          Type
	CellCount     int
	FirstFreeblock int
	CellContentStart int
	FragmentedFreeBytes byte
	RightMostChild uint32 // only meaningful for interior pages

	data       []byte // full page bytes, including the file header on page 1
	headerSize int
	cellPtrBase int
}

// Decode parses a B-tree page. data must be the page's full bytes,
// including the 100-byte file-header prefix on page 1 — cell-pointer
// values are always relative to the start of the page (offset 0), even on
// page 1, so the page can never be decoded from a sliced-off view. headerBase
// is where the B-tree page header itself begins: 0 for every page except
// page 1, where it is 100 (see
// _examples/hgye-codecrafters-sqlite-go/app/database_raw.go's page-1
// handling: header offset 100, cell offsets relative to page start).
func Decode(data []byte, headerBase int) (*Page, error) {
	if len(data) < headerBase+leafHeaderSize {
		return nil, fmt.Errorf("%w: page too short (%d bytes)", ErrMalformedPage, len(data))
	}

	typ := Type(data[headerBase])
	var headerSize int
	switch typ {
	case TypeTableLeaf, TypeIndexLeaf:
		headerSize = leafHeaderSize
	case TypeTableInterior, TypeIndexInterior:
		headerSize = interiorHeaderSize
	default:
		return nil, fmt.Errorf("%w: unknown page type byte 0x%02x", ErrMalformedPage, data[headerBase])
	}
	if len(data) < headerBase+headerSize {
		return nil, fmt.Errorf("%w: page too short for %s header", ErrMalformedPage, typ)
	}

	cellCount := int(binary.BigEndian.Uint16(data[headerBase+3 : headerBase+5]))
	contentStart := int(binary.BigEndian.Uint16(data[headerBase+5 : headerBase+7]))
	if contentStart == 0 {
		contentStart = 65536
	}

	p := &Page{
		Type:                typ,
		CellCount:           cellCount,
		FirstFreeblock:      int(binary.BigEndian.Uint16(data[headerBase+1 : headerBase+3])),
		CellContentStart:    contentStart,
		FragmentedFreeBytes: data[headerBase+7],
		data:                data,
		headerSize:          headerSize,
		cellPtrBase:         headerBase + headerSize,
	}
	if headerSize == interiorHeaderSize {
		p.RightMostChild = binary.BigEndian.Uint32(data[headerBase+8 : headerBase+12])
	}

	ptrArrayEnd := p.cellPtrBase + cellCount*2
	if ptrArrayEnd > len(data) {
		return nil, fmt.Errorf("%w: cell pointer array (%d cells) overruns page", ErrMalformedPage, cellCount)
	}

	return p, nil
}

// CellOffset returns the absolute in-page byte offset of cell i, as stored
// in the cell pointer array, in the order the page declares (pointer-array
// order is the canonical iteration order per spec.md §4.6).
func (p *Page) CellOffset(i int) (int, error) {
	if i < 0 || i >= p.CellCount {
		return 0, fmt.Errorf("%w: cell index %d out of range [0, %d)", ErrMalformedPage, i, p.CellCount)
	}
	ptrOff := p.cellPtrBase + i*2
	off := int(binary.BigEndian.Uint16(p.data[ptrOff : ptrOff+2]))
	if off <= 0 || off > len(p.data) {
		return 0, fmt.Errorf("%w: cell %d offset %d out of bounds", ErrMalformedPage, i, off)
	}
	return off, nil
}

// Bytes returns the page's raw bytes, for decoders in pkg/cell that need to
// read cell content directly.
func (p *Page) Bytes() []byte {
	return p.data
}
