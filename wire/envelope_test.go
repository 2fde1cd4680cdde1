package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordEnvelopeRoundTrip(t *testing.T) {
	env := &RecordEnvelope{
		Collection: "notes",
		Version:    2,
		CRDT:       []byte{1, 2, 3, 4},
	}

	data, err := EncodeRecordEnvelope(env)
	require.NoError(t, err)

	got, err := DecodeRecordEnvelope(data, "notes")
	require.NoError(t, err)
	assert.Equal(t, env.Collection, got.Collection)
	assert.Equal(t, env.Version, got.Version)
	assert.Equal(t, env.CRDT, got.CRDT)
}

func TestRecordEnvelopeRejectsCollectionMismatch(t *testing.T) {
	env := &RecordEnvelope{Collection: "notes", Version: 1, CRDT: []byte{9}}

	data, err := EncodeRecordEnvelope(env)
	require.NoError(t, err)

	_, err = DecodeRecordEnvelope(data, "contacts")
	assert.ErrorIs(t, err, ErrCollectionMismatch)
}

func TestRecordEnvelopeSkipsMismatchCheckWhenExpectedEmpty(t *testing.T) {
	env := &RecordEnvelope{Collection: "notes", Version: 1, CRDT: []byte{9}}

	data, err := EncodeRecordEnvelope(env)
	require.NoError(t, err)

	got, err := DecodeRecordEnvelope(data, "")
	require.NoError(t, err)
	assert.Equal(t, "notes", got.Collection)
}
