package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForwardDeriveChainDeterministic(t *testing.T) {
	base := make([]byte, 32)
	for i := range base {
		base[i] = byte(i)
	}

	k1, err := ForwardDeriveChain(base, "space-a", 1, 5)
	require.NoError(t, err)

	k2, err := ForwardDeriveChain(base, "space-a", 1, 5)
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
}

func TestForwardDeriveChainDiffersByStep(t *testing.T) {
	base := make([]byte, 32)
	k4, err := ForwardDeriveChain(base, "space-a", 1, 4)
	require.NoError(t, err)
	k5, err := ForwardDeriveChain(base, "space-a", 1, 5)
	require.NoError(t, err)
	assert.NotEqual(t, k4, k5)
}

func TestForwardDeriveChainRejectsBackward(t *testing.T) {
	base := make([]byte, 32)
	_, err := ForwardDeriveChain(base, "space-a", 5, 1)
	assert.ErrorIs(t, err, ErrBackwardDerivation)
}

func TestForwardDeriveChainRejectsLargeGap(t *testing.T) {
	base := make([]byte, 32)
	_, err := ForwardDeriveChain(base, "space-a", 1, 1+MaxEpochGap+1)
	assert.ErrorIs(t, err, ErrEpochGapTooLarge)
}

func TestForwardDeriveChainDoesNotMutateBase(t *testing.T) {
	base := make([]byte, 32)
	for i := range base {
		base[i] = byte(i)
	}
	baseCopy := Clone(base)

	_, err := ForwardDeriveChain(base, "space-a", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, baseCopy, base)
}

func TestDeriveChannelKeyDifferentFromEpochKey(t *testing.T) {
	epochKey := make([]byte, 32)
	for i := range epochKey {
		epochKey[i] = byte(i)
	}
	channelKey, err := DeriveChannelKey(epochKey, "space-a")
	require.NoError(t, err)
	assert.NotEqual(t, epochKey, channelKey)
}
