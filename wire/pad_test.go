package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPadUnpadRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, 100)

	padded, err := Pad(data, PaddingBuckets)
	require.NoError(t, err)
	assert.Equal(t, 256, len(padded))

	got, err := Unpad(padded)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestPadChoosesSmallestFittingBucket(t *testing.T) {
	// 4-byte length prefix + 1020 bytes = 1024, which fits the 1024 bucket.
	data := bytes.Repeat([]byte{1}, 1020)
	padded, err := Pad(data, PaddingBuckets)
	require.NoError(t, err)
	assert.Equal(t, 1024, len(padded))
}

func TestPadTooLargeFails(t *testing.T) {
	data := bytes.Repeat([]byte{1}, 1048576)
	_, err := Pad(data, PaddingBuckets)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestPadDisabledWithEmptyBuckets(t *testing.T) {
	data := []byte("hi")
	padded, err := Pad(data, nil)
	require.NoError(t, err)
	assert.Equal(t, 4+len(data), len(padded))
}

func TestUnpadRejectsOversizedLengthPrefix(t *testing.T) {
	padded := make([]byte, 16)
	padded[0] = 0xFF
	_, err := Unpad(padded)
	assert.Error(t, err)
}
