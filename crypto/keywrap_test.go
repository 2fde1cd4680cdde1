package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapUnwrapKeyRoundTrip(t *testing.T) {
	kek := make([]byte, 32)
	for i := range kek {
		kek[i] = byte(i + 1)
	}
	dek, err := GenerateDEK()
	require.NoError(t, err)

	wrapped, err := WrapKey(kek, dek)
	require.NoError(t, err)
	assert.Len(t, wrapped, len(dek)+8)

	unwrapped, err := UnwrapKey(kek, wrapped)
	require.NoError(t, err)
	assert.Equal(t, dek, unwrapped)
}

func TestUnwrapKeyWrongKEKFails(t *testing.T) {
	kek1 := make([]byte, 32)
	kek2 := make([]byte, 32)
	kek2[0] = 0xFF

	dek, err := GenerateDEK()
	require.NoError(t, err)

	wrapped, err := WrapKey(kek1, dek)
	require.NoError(t, err)

	_, err = UnwrapKey(kek2, wrapped)
	assert.ErrorIs(t, err, ErrUnwrapFailed)
}

func TestWrapDEKEpochPrefix(t *testing.T) {
	kek := make([]byte, 32)
	dek, err := GenerateDEK()
	require.NoError(t, err)

	wrapped, err := WrapDEK(kek, 7, dek)
	require.NoError(t, err)
	assert.Len(t, wrapped, WrappedDEKSize)

	epoch, err := PeekWrappedDEKEpoch(wrapped)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), epoch)

	unwrapped, err := UnwrapDEK(kek, wrapped)
	require.NoError(t, err)
	assert.Equal(t, dek, unwrapped)
}

func TestUnwrapDEKMalformedLength(t *testing.T) {
	_, err := UnwrapDEK(make([]byte, 32), []byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrMalformedWrappedDEK)
}
