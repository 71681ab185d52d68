// Package codec implements tiercache's IoCodec: the pure, stateless binary
// framing used by fscache's log files.
//
// Record layout: keyLen(4 BE) | valueLen(4 BE) | keyBytes | valueBytes.
// A record with valueLen == 0 is a tombstone (a deletion marker).
package codec

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	headerLen = 8 // two big-endian uint32 length prefixes

	// MinKeyLen and MaxKeyLen bound a record's key length on decode.
	MinKeyLen = 1
	MaxKeyLen = 1_000_000

	// MaxValueLen bounds a record's value length on decode. Zero is valid
	// (a tombstone).
	MaxValueLen = 10_000_000
)

// TooBigError reports that encoding a record would exceed the caller's
// size limit (fsFileMax). It is a data-plane error: callers should log it
// and drop the task rather than surface it.
type TooBigError struct {
	KeyLen, ValueLen, Limit int
}

func (e *TooBigError) Error() string {
	return fmt.Sprintf("codec: record of %d bytes (key %d + value %d + %d header) exceeds limit %d",
		e.KeyLen+e.ValueLen+headerLen, e.KeyLen, e.ValueLen, headerLen, e.Limit)
}

// CorruptError reports a header whose lengths fall outside the bounds a
// well-formed record can have.
type CorruptError struct {
	KeyLen, ValueLen uint32
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("codec: corrupt header (keyLen=%d, valueLen=%d)", e.KeyLen, e.ValueLen)
}

// Encode serializes key and value into a framed record. A nil value
// encodes a tombstone (valueLen == 0). Returns *TooBigError if the total
// record size (including the 8-byte header) would be >= limit.
func Encode(key string, value []byte, limit int) ([]byte, error) {
	total := headerLen + len(key) + len(value)
	if limit > 0 && total >= limit {
		return nil, &TooBigError{KeyLen: len(key), ValueLen: len(value), Limit: limit}
	}

	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(key)))
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(value)))
	copy(buf[headerLen:headerLen+len(key)], key)
	copy(buf[headerLen+len(key):], value)

	return buf, nil
}

// DecodeHeader reads and validates the 8-byte length prefix from r.
// Returns *CorruptError if either length falls outside its valid range.
func DecodeHeader(r io.Reader) (keyLen, valueLen uint32, err error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, 0, err
	}

	keyLen = binary.BigEndian.Uint32(hdr[0:4])
	valueLen = binary.BigEndian.Uint32(hdr[4:8])

	if keyLen < MinKeyLen || keyLen > MaxKeyLen {
		return 0, 0, &CorruptError{KeyLen: keyLen, ValueLen: valueLen}
	}

	if valueLen > MaxValueLen {
		return 0, 0, &CorruptError{KeyLen: keyLen, ValueLen: valueLen}
	}

	return keyLen, valueLen, nil
}

// DecodeKey interprets raw bytes as a key string.
func DecodeKey(b []byte) string { return string(b) }

// DecodeValue returns raw value bytes, or nil for a tombstone (len(b) == 0).
func DecodeValue(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}

	return b
}

// HeaderLen is exported so fscache can compute byte offsets without
// re-deriving the framing constant.
const HeaderLen = headerLen
