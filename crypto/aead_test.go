package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	aad := []byte("space-1\x00record-1")
	plaintext := []byte("hello synchronized world")

	sealed, err := Seal(key, aad, plaintext)
	require.NoError(t, err)

	out, err := Open(key, aad, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestOpenWrongAADFails(t *testing.T) {
	key := make([]byte, 32)
	sealed, err := Seal(key, []byte("aad-a"), []byte("payload"))
	require.NoError(t, err)

	_, err = Open(key, []byte("aad-b"), sealed)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestOpenWrongKeyFails(t *testing.T) {
	key1 := make([]byte, 32)
	key2 := make([]byte, 32)
	key2[0] = 1

	sealed, err := Seal(key1, []byte("aad"), []byte("payload"))
	require.NoError(t, err)

	_, err = Open(key2, []byte("aad"), sealed)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestZeroClearsBuffer(t *testing.T) {
	buf := []byte{1, 2, 3, 4}
	Zero(buf)
	assert.Equal(t, []byte{0, 0, 0, 0}, buf)
}

func TestCloneIsIndependent(t *testing.T) {
	orig := []byte{1, 2, 3}
	clone := Clone(orig)
	Zero(orig)
	assert.Equal(t, []byte{1, 2, 3}, clone)
}
