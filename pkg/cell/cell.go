// Package cell decodes the four SQLite B-tree cell shapes (table/index
// leaf/interior) and flags cells whose payload spills onto overflow pages.
package cell

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/LeMikaelF/wal-analyzer/pkg/btreepage"
	"github.com/LeMikaelF/wal-analyzer/pkg/varint"
)

// ErrMalformedCell reports a cell whose varints or declared payload size
// don't fit within the page.
var ErrMalformedCell = errors.New("cell: malformed cell")

// Cell is a decoded B-tree cell. Which fields are populated depends on the
// page type it came from: table-interior cells carry ChildPage and RowID;
// table-leaf cells carry RowID and Payload; index-leaf cells carry Payload;
// index-interior cells carry ChildPage and Payload.
type Cell struct {
	ChildPage uint32 // interior cells only
	RowID     int64  // table cells only (leaf and, as the key, interior)
	Payload   []byte // local (on-page) payload bytes, index cells and table leaf cells

	PayloadSize   int64 // full payload length as declared by the cell, before truncation to local bytes
	HasOverflow   bool  // true if PayloadSize exceeds what fits on this page
	OverflowPage  uint32 // first overflow page number, valid iff HasOverflow
}

// localPayloadCapacity computes SQLite's "X" (maxLocal) and "M" (minLocal)
// thresholds: the most payload bytes stored locally before the remainder
// spills to an overflow chain, and the local prefix size used once it
// does. isTableLeaf selects between the table-leaf formula and the index
// formula; minLocal is the same for both, and only table leaf cells use
// the larger maximum.
func localPayloadCapacity(usable int, isTableLeaf bool) (maxLocal, minLocal int) {
	minLocal = (usable-12)*32/255 - 23
	if isTableLeaf {
		maxLocal = usable - 35
	} else {
		// Index cells (leaf and interior) use the smaller index "X"
		// formula from SQLite's btree.c, since their payload shares the
		// page with sibling keys rather than owning a whole row.
		maxLocal = (usable-12)*64/255 - 23
	}
	return maxLocal, minLocal
}

// localPayloadLen returns how many of the payloadSize bytes live on this
// page, applying SQLite's overflow formula (fileformat2.html §1.5):
// if payloadSize fits in maxLocal it is stored whole; otherwise a prefix
// of size K is stored locally and the rest spills to overflow pages.
func localPayloadLen(usable int, payloadSize int64, isTableLeaf bool) int {
	maxLocal, minLocal := localPayloadCapacity(usable, isTableLeaf)
	if payloadSize <= int64(maxLocal) {
		return int(payloadSize)
	}
	k := minLocal + int((payloadSize-int64(minLocal))%int64(usable-4))
	if k > maxLocal {
		k = minLocal
	}
	return k
}

// Decode parses the cell at the given in-page offset. usablePageSize is
// the page size minus reserved bytes (pkg/dbheader Header.UsablePageSize),
// needed to compute the overflow threshold.
func Decode(page *btreepage.Page, offset int, usablePageSize int) (*Cell, error) {
	data := page.Bytes()
	if offset < 0 || offset >= len(data) {
		return nil, fmt.Errorf("%w: offset %d out of bounds", ErrMalformedCell, offset)
	}

	switch page.Type {
	case btreepage.TypeTableInterior:
		return decodeTableInterior(data, offset)
	case btreepage.TypeTableLeaf:
		return decodeTableLeaf(data, offset, usablePageSize)
	case btreepage.TypeIndexInterior:
		return decodeIndexInterior(data, offset, usablePageSize)
	case btreepage.TypeIndexLeaf:
		return decodeIndexLeaf(data, offset, usablePageSize)
	default:
		return nil, fmt.Errorf("%w: unknown page type %s", ErrMalformedCell, page.Type)
	}
}

func decodeTableInterior(data []byte, offset int) (*Cell, error) {
	if offset+4 > len(data) {
		return nil, fmt.Errorf("%w: table-interior cell at %d truncated before child pointer", ErrMalformedCell, offset)
	}
	child := binary.BigEndian.Uint32(data[offset : offset+4])
	rowid, _, err := varint.Decode(data, offset+4)
	if err != nil {
		return nil, fmt.Errorf("%w: table-interior rowid: %v", ErrMalformedCell, err)
	}
	return &Cell{ChildPage: child, RowID: varint.ToInt64(rowid)}, nil
}

func decodeTableLeaf(data []byte, offset, usable int) (*Cell, error) {
	payloadSize, n, err := varint.Decode(data, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: table-leaf payload size: %v", ErrMalformedCell, err)
	}
	offset += n

	rowid, n, err := varint.Decode(data, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: table-leaf rowid: %v", ErrMalformedCell, err)
	}
	offset += n

	c, err := readPayload(data, offset, int64(payloadSize), usable, true)
	if err != nil {
		return nil, err
	}
	c.RowID = varint.ToInt64(rowid)
	return c, nil
}

func decodeIndexLeaf(data []byte, offset, usable int) (*Cell, error) {
	payloadSize, n, err := varint.Decode(data, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: index-leaf payload size: %v", ErrMalformedCell, err)
	}
	offset += n
	return readPayload(data, offset, int64(payloadSize), usable, false)
}

func decodeIndexInterior(data []byte, offset, usable int) (*Cell, error) {
	if offset+4 > len(data) {
		return nil, fmt.Errorf("%w: index-interior cell at %d truncated before child pointer", ErrMalformedCell, offset)
	}
	child := binary.BigEndian.Uint32(data[offset : offset+4])
	offset += 4

	payloadSize, n, err := varint.Decode(data, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: index-interior payload size: %v", ErrMalformedCell, err)
	}
	offset += n

	c, err := readPayload(data, offset, int64(payloadSize), usable, false)
	if err != nil {
		return nil, err
	}
	c.ChildPage = child
	return c, nil
}

// readPayload copies the locally-stored prefix of a cell's payload and, if
// the declared size exceeds what fits locally, records the first overflow
// page number (stored immediately after the local payload bytes) without
// following the overflow chain — spec.md §4.1 treats overflow payloads as
// "skipped, not followed" for duplicate detection purposes.
func readPayload(data []byte, offset int, payloadSize int64, usable int, isTableLeaf bool) (*Cell, error) {
	if payloadSize < 0 {
		return nil, fmt.Errorf("%w: negative payload size", ErrMalformedCell)
	}
	localLen := localPayloadLen(usable, payloadSize, isTableLeaf)

	overflow := localLen < int(payloadSize)
	readLen := localLen
	if overflow {
		readLen += 4 // trailing overflow page pointer
	}
	if offset+readLen > len(data) {
		return nil, fmt.Errorf("%w: payload at %d (local %d bytes) overruns page", ErrMalformedCell, offset, localLen)
	}

	c := &Cell{
		Payload:     append([]byte(nil), data[offset:offset+localLen]...),
		PayloadSize: payloadSize,
		HasOverflow: overflow,
	}
	if overflow {
		c.OverflowPage = binary.BigEndian.Uint32(data[offset+localLen : offset+localLen+4])
	}
	return c, nil
}
