// Package record decodes SQLite's record format: a header of serial-type
// varints followed by the values those types describe. It is read-only —
// this tool never constructs records, only reads sqlite_master rows. Index
// keys are compared as raw local payload bytes and are not decoded here.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/LeMikaelF/wal-analyzer/pkg/varint"
)

// Real SQLite serial type codes (fileformat2.html §2.1). Values 10 and 11
// are reserved by SQLite for internal use and never appear on disk.
const (
	SerialNull  = 0
	SerialInt8  = 1
	SerialInt16 = 2
	SerialInt24 = 3
	SerialInt32 = 4
	SerialInt48 = 5
	SerialInt64 = 6
	SerialFloat = 7
	SerialZero  = 8
	SerialOne   = 9
	SerialBlob0 = 12 // even N >= 12: BLOB of (N-12)/2 bytes
	SerialText0 = 13 // odd N >= 13: TEXT of (N-13)/2 bytes
)

// ErrMalformedRecord reports a record whose header or value bytes don't
// fit the declared lengths.
var ErrMalformedRecord = errors.New("record: malformed record")

// Value is one column's decoded content. Null marks a NULL; otherwise
// exactly one of Int/Float/Bytes is meaningful: Float when IsFloat, Bytes
// when IsText or IsBlob, Int when no flag is set. This mirrors
// SQLite's own dynamically-typed storage rather than imposing a schema.
type Value struct {
	Null    bool
	IsFloat bool
	IsText  bool
	IsBlob  bool
	Int     int64
	Float   float64
	Bytes   []byte // populated for IsText and IsBlob
}

// Record is a decoded row or index key: one Value per serial type in the
// header, in header order.
type Record struct {
	Values []Value
}

// Decode parses a full record (header-length varint, serial-type varints,
// then the value bytes) starting at payload[0].
func Decode(payload []byte) (*Record, error) {
	if len(payload) == 0 {
		return &Record{}, nil
	}

	headerLen, n, err := varint.Decode(payload, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: header length varint: %v", ErrMalformedRecord, err)
	}
	if int(headerLen) > len(payload) {
		return nil, fmt.Errorf("%w: header length %d exceeds payload size %d", ErrMalformedRecord, headerLen, len(payload))
	}

	var serialTypes []uint64
	pos := n
	for pos < int(headerLen) {
		st, n, err := varint.Decode(payload, pos)
		if err != nil {
			return nil, fmt.Errorf("%w: serial type varint at %d: %v", ErrMalformedRecord, pos, err)
		}
		serialTypes = append(serialTypes, st)
		pos += n
	}

	values := make([]Value, len(serialTypes))
	bodyPos := int(headerLen)
	for i, st := range serialTypes {
		v, size, err := decodeValue(payload, bodyPos, st)
		if err != nil {
			return nil, fmt.Errorf("%w: column %d: %v", ErrMalformedRecord, i, err)
		}
		values[i] = v
		bodyPos += size
	}

	return &Record{Values: values}, nil
}

// SerialSize returns the number of payload bytes a value of serial type st
// occupies, deriving BLOB/TEXT lengths from st itself, or -1 if st is not
// a recognized type (the reserved types 10 and 11).
func SerialSize(st uint64) int {
	switch st {
	case SerialNull, SerialZero, SerialOne:
		return 0
	case SerialInt8:
		return 1
	case SerialInt16:
		return 2
	case SerialInt24:
		return 3
	case SerialInt32:
		return 4
	case SerialInt48:
		return 6
	case SerialInt64:
		return 8
	case SerialFloat:
		return 8
	default:
		if st >= SerialBlob0 && st%2 == 0 {
			return int((st - SerialBlob0) / 2)
		}
		if st >= SerialText0 && st%2 == 1 {
			return int((st - SerialText0) / 2)
		}
		return -1
	}
}

func decodeValue(payload []byte, offset int, st uint64) (Value, int, error) {
	size := SerialSize(st)
	if size < 0 {
		return Value{}, 0, fmt.Errorf("unrecognized serial type %d", st)
	}
	if offset+size > len(payload) {
		return Value{}, 0, fmt.Errorf("value of serial type %d at offset %d overruns payload", st, offset)
	}
	data := payload[offset : offset+size]

	switch {
	case st == SerialNull:
		return Value{Null: true}, 0, nil
	case st == SerialZero:
		return Value{Int: 0}, 0, nil
	case st == SerialOne:
		return Value{Int: 1}, 0, nil
	case st == SerialInt8:
		return Value{Int: int64(int8(data[0]))}, size, nil
	case st == SerialInt16:
		return Value{Int: int64(int16(binary.BigEndian.Uint16(data)))}, size, nil
	case st == SerialInt24:
		return Value{Int: signExtend(beUint(data, 3), 24)}, size, nil
	case st == SerialInt32:
		return Value{Int: int64(int32(binary.BigEndian.Uint32(data)))}, size, nil
	case st == SerialInt48:
		return Value{Int: signExtend(beUint(data, 6), 48)}, size, nil
	case st == SerialInt64:
		return Value{Int: int64(binary.BigEndian.Uint64(data))}, size, nil
	case st == SerialFloat:
		return Value{IsFloat: true, Float: math.Float64frombits(binary.BigEndian.Uint64(data))}, size, nil
	case st >= SerialBlob0 && st%2 == 0:
		return Value{IsBlob: true, Bytes: append([]byte(nil), data...)}, size, nil
	case st >= SerialText0 && st%2 == 1:
		return Value{IsText: true, Bytes: append([]byte(nil), data...)}, size, nil
	default:
		return Value{}, 0, fmt.Errorf("unrecognized serial type %d", st)
	}
}

// beUint reads an n-byte (n <= 8) big-endian unsigned integer.
func beUint(data []byte, n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v = (v << 8) | uint64(data[i])
	}
	return v
}

// signExtend interprets the low bits bits of v as a two's-complement
// signed integer of that width, sign-extending into a full int64. SQLite
// stores 24- and 48-bit integers without padding, so Go's fixed-width int
// types can't decode them directly.
func signExtend(v uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}
