// Package dbheader reads and validates the 100-byte SQLite database file
// header that precedes the B-tree data on page 1.
package dbheader

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Size is the fixed length of the database file header.
const Size = 100

// MagicString is the 16-byte string every valid SQLite database begins with.
const MagicString = "SQLite format 3\x00"

// Header field offsets, all big-endian (SQLite's on-disk byte order).
const (
	offsetMagic           = 0  // 16 bytes
	offsetPageSize        = 16 // 2 bytes; 1 means 65536
	offsetWriteVersion    = 18 // 1 byte
	offsetReadVersion     = 19 // 1 byte
	offsetReservedSpace   = 20 // 1 byte
	offsetMaxPayloadFrac  = 21 // 1 byte (fixed at 64)
	offsetMinPayloadFrac  = 22 // 1 byte (fixed at 32)
	offsetLeafPayloadFrac = 23 // 1 byte (fixed at 32)
	offsetChangeCounter   = 24 // 4 bytes
	offsetPageCount       = 28 // 4 bytes
	offsetFreelistHead    = 32 // 4 bytes
	offsetFreelistCount   = 36 // 4 bytes
	offsetSchemaCookie    = 40 // 4 bytes
	offsetSchemaFormat    = 44 // 4 bytes
	offsetTextEncoding    = 56 // 4 bytes
)

// ErrInvalidHeader reports a malformed or unsupported database header.
var ErrInvalidHeader = errors.New("dbheader: invalid header")

// Header is the decoded form of the 100-byte database preamble.
type Header struct {
	PageSize      int    // in bytes, power of two in [512, 65536]
	WriteVersion  byte   // 1 = legacy rollback journal, 2 = WAL
	ReadVersion   byte   // same encoding as WriteVersion
	ReservedSpace byte   // bytes reserved at the end of every page
	ChangeCounter uint32
	PageCount     uint32 // size of the database in pages, as recorded in-header
	SchemaCookie  uint32
	TextEncoding  uint32
}

// Decode parses the first Size bytes of a database file. data must be at
// least Size bytes long.
func Decode(data []byte) (*Header, error) {
	if len(data) < Size {
		return nil, fmt.Errorf("%w: header is %d bytes, want %d", ErrInvalidHeader, len(data), Size)
	}
	if string(data[offsetMagic:offsetMagic+16]) != MagicString {
		return nil, fmt.Errorf("%w: bad magic string", ErrInvalidHeader)
	}

	rawPageSize := binary.BigEndian.Uint16(data[offsetPageSize:])
	pageSize := int(rawPageSize)
	if rawPageSize == 1 {
		pageSize = 65536
	}
	if err := validatePageSize(pageSize); err != nil {
		return nil, err
	}

	h := &Header{
		PageSize:      pageSize,
		WriteVersion:  data[offsetWriteVersion],
		ReadVersion:   data[offsetReadVersion],
		ReservedSpace: data[offsetReservedSpace],
		ChangeCounter: binary.BigEndian.Uint32(data[offsetChangeCounter:]),
		PageCount:     binary.BigEndian.Uint32(data[offsetPageCount:]),
		SchemaCookie:  binary.BigEndian.Uint32(data[offsetSchemaCookie:]),
		TextEncoding:  binary.BigEndian.Uint32(data[offsetTextEncoding:]),
	}
	return h, nil
}

func validatePageSize(size int) error {
	if size < 512 || size > 65536 {
		return fmt.Errorf("%w: page size %d out of range [512, 65536]", ErrInvalidHeader, size)
	}
	if size&(size-1) != 0 {
		return fmt.Errorf("%w: page size %d is not a power of two", ErrInvalidHeader, size)
	}
	return nil
}

// UsablePageSize returns the portion of each page available to the B-tree
// layer, i.e. PageSize minus the bytes SQLite reserves for extensions
// (encryption, checksums) at the tail of every page.
func (h *Header) UsablePageSize() int {
	return h.PageSize - int(h.ReservedSpace)
}
