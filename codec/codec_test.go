package codec_test

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvtier/tiercache/codec"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	rec, err := codec.Encode("hello", []byte("world"), 1000)
	require.NoError(t, err)

	keyLen, valueLen, err := codec.DecodeHeader(bytes.NewReader(rec))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), keyLen)
	assert.Equal(t, uint32(5), valueLen)

	body := rec[codec.HeaderLen:]
	assert.Equal(t, "hello", codec.DecodeKey(body[:keyLen]))
	assert.Equal(t, []byte("world"), codec.DecodeValue(body[keyLen:]))
}

func TestEncodeTombstone(t *testing.T) {
	t.Parallel()

	rec, err := codec.Encode("hello", nil, 1000)
	require.NoError(t, err)

	keyLen, valueLen, err := codec.DecodeHeader(bytes.NewReader(rec))
	require.NoError(t, err)
	assert.Equal(t, uint32(5), keyLen)
	assert.Equal(t, uint32(0), valueLen)

	body := rec[codec.HeaderLen+keyLen:]
	assert.Nil(t, codec.DecodeValue(body))
}

func TestEncodeTooBig(t *testing.T) {
	t.Parallel()

	_, err := codec.Encode("key", []byte("a value that is much too long"), 10)

	var tooBig *codec.TooBigError
	require.ErrorAs(t, err, &tooBig)
	assert.Equal(t, 10, tooBig.Limit)
}

func TestEncodeNoLimit(t *testing.T) {
	t.Parallel()

	_, err := codec.Encode("key", []byte("value"), 0)
	require.NoError(t, err)
}

func TestDecodeHeaderCorruptKeyLen(t *testing.T) {
	t.Parallel()

	buf := make([]byte, codec.HeaderLen)
	buf[3] = 0 // keyLen == 0, below MinKeyLen

	_, _, err := codec.DecodeHeader(bytes.NewReader(buf))

	var corrupt *codec.CorruptError
	require.ErrorAs(t, err, &corrupt)
}

func TestDecodeHeaderCorruptValueLen(t *testing.T) {
	t.Parallel()

	rec, err := codec.Encode("k", []byte("v"), 0)
	require.NoError(t, err)

	// Corrupt valueLen to exceed MaxValueLen.
	rec[4] = 0xFF
	rec[5] = 0xFF
	rec[6] = 0xFF
	rec[7] = 0xFF

	_, _, err = codec.DecodeHeader(bytes.NewReader(rec))

	var corrupt *codec.CorruptError
	require.ErrorAs(t, err, &corrupt)
}

func TestDecodeHeaderShortRead(t *testing.T) {
	t.Parallel()

	_, _, err := codec.DecodeHeader(bytes.NewReader([]byte{0, 0, 0, 1}))
	assert.True(t, errors.Is(err, io.ErrUnexpectedEOF))
}

func TestDecodeHeaderEOF(t *testing.T) {
	t.Parallel()

	_, _, err := codec.DecodeHeader(bytes.NewReader(nil))
	assert.True(t, errors.Is(err, io.EOF))
}

func TestDecodeValueEmptyIsNil(t *testing.T) {
	t.Parallel()

	assert.Nil(t, codec.DecodeValue(nil))
	assert.Nil(t, codec.DecodeValue([]byte{}))
}
