package transport

import (
	"context"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncspace/engine/crypto"
	"github.com/syncspace/engine/wire"
)

func randKey(t *testing.T) []byte {
	t.Helper()
	k, err := crypto.GenerateDEK()
	require.NoError(t, err)
	return k
}

// S1: basic push/pull round-trip on a single space.
func TestPushPullRoundTrip(t *testing.T) {
	k1 := randKey(t)
	var captured []wire.WrappedChange

	tr := New(Config{
		SpaceID:        "space-1",
		PaddingBuckets: wire.PaddingBuckets,
		Epoch:          &EpochConfig{EpochKey: k1, BaseEpoch: 1},
		PushFn: func(ctx context.Context, collection string, changes []wire.WrappedChange) ([]PushAck, error) {
			captured = changes
			acks := make([]PushAck, len(changes))
			for i, c := range changes {
				acks[i] = PushAck{ID: c.ID, Cursor: uint64(i + 1)}
			}
			return acks, nil
		},
	})

	acks, failures, err := tr.Push(context.Background(), "users", []OutboundRecord{
		{ID: "u1", Envelope: wire.RecordEnvelope{CRDT: []byte{1, 2, 3, 4}}},
	})
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, acks, 1)
	require.Len(t, captured, 1)
	assert.NotNil(t, captured[0].WrappedDEK)

	tr.SetPrepulledChanges("users", captured, 1)
	records, pullFailures, err := tr.Pull("users")
	require.NoError(t, err)
	assert.Empty(t, pullFailures)
	require.Len(t, records, 1)
	assert.Equal(t, "u1", records[0].ID)
	assert.Equal(t, []byte{1, 2, 3, 4}, records[0].CRDT)
	assert.False(t, records[0].Deleted)
}

// S2: a record wrapped under a newer epoch decrypts via forward derivation.
func TestPullDecryptsViaForwardDerivation(t *testing.T) {
	k1 := randKey(t)
	k2, err := crypto.DeriveEpochKey(k1, "space-1", 2)
	require.NoError(t, err)

	dek, err := crypto.GenerateDEK()
	require.NoError(t, err)
	aad := recordAAD("space-1", "u1")

	env := &wire.RecordEnvelope{Collection: "users", CRDT: []byte{9, 9}}
	body, err := wire.EncodeRecordEnvelope(env)
	require.NoError(t, err)
	padded, err := wire.Pad(body, wire.PaddingBuckets)
	require.NoError(t, err)
	blob, err := crypto.Seal(dek, aad, padded)
	require.NoError(t, err)
	wrappedDEK, err := crypto.WrapDEK(k2, 2, dek)
	require.NoError(t, err)

	tr := New(Config{
		SpaceID:        "space-1",
		PaddingBuckets: wire.PaddingBuckets,
		Epoch:          &EpochConfig{EpochKey: k1, BaseEpoch: 1},
	})

	tr.SetPrepulledChanges("users", []wire.WrappedChange{
		{ID: "u1", Blob: blob, WrappedDEK: wrappedDEK},
	}, 1)

	records, failures, err := tr.Pull("users")
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, records, 1)
	assert.Equal(t, []byte{9, 9}, records[0].CRDT)
}

// S3: zeroing the original key buffer after construction does not affect
// subsequent encrypt/decrypt, because the transport defensive-copies it.
func TestDefensiveCopySurvivesZeroingOriginal(t *testing.T) {
	k1 := randKey(t)
	original := crypto.Clone(k1)

	tr := New(Config{
		SpaceID:        "space-1",
		PaddingBuckets: wire.PaddingBuckets,
		Epoch:          &EpochConfig{EpochKey: k1, BaseEpoch: 1},
		PushFn: func(ctx context.Context, collection string, changes []wire.WrappedChange) ([]PushAck, error) {
			return nil, nil
		},
	})

	crypto.Zero(k1)
	assert.NotEqual(t, original, k1)

	_, failures, err := tr.Push(context.Background(), "users", []OutboundRecord{
		{ID: "u1", Envelope: wire.RecordEnvelope{CRDT: []byte{5}}},
	})
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestGetKEKForEpochRejectsBackward(t *testing.T) {
	tr := New(Config{SpaceID: "space-1", Epoch: &EpochConfig{EpochKey: randKey(t), BaseEpoch: 5}})
	_, err := tr.GetKEKForEpoch(2)
	assert.ErrorIs(t, err, crypto.ErrBackwardDerivation)
}

func TestGetKEKForEpochRejectsLargeGap(t *testing.T) {
	tr := New(Config{SpaceID: "space-1", Epoch: &EpochConfig{EpochKey: randKey(t), BaseEpoch: 1}})
	_, err := tr.GetKEKForEpoch(1 + crypto.MaxEpochGap + 1)
	assert.ErrorIs(t, err, crypto.ErrEpochGapTooLarge)
}

func TestPushIsolatesPerRecordFailuresWithoutAbortingBatch(t *testing.T) {
	tr := New(Config{
		SpaceID: "space-1",
		// no Epoch configured: the KEK is empty, so wrapping the DEK fails for every non-deleted record
		PushFn: func(ctx context.Context, collection string, changes []wire.WrappedChange) ([]PushAck, error) {
			return []PushAck{{ID: changes[0].ID, Cursor: 1}}, nil
		},
	})

	acks, failures, err := tr.Push(context.Background(), "users", []OutboundRecord{
		{ID: "u1", Envelope: wire.RecordEnvelope{CRDT: []byte{1}}},
		{ID: "u2", Deleted: true},
	})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "u1", failures[0].ID)
	require.Len(t, acks, 1)
	assert.Equal(t, "u2", acks[0].ID)
}

// S7: pushing into a collection configured for edit-chains signs an entry
// and sets h; pulling it back with a resolver that knows the signer's key
// validates the chain.
func TestPushSignsEditChainAndPullValidatesIt(t *testing.T) {
	k1 := randKey(t)
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	identity := &Identity{
		DID:    "did:writer",
		Signer: priv,
		Resolve: func(did string) (ed25519.PublicKey, bool) {
			if did == "did:writer" {
				return pub, true
			}
			return nil, false
		},
	}

	var captured []wire.WrappedChange
	tr := New(Config{
		SpaceID:              "space-1",
		PaddingBuckets:       wire.PaddingBuckets,
		Epoch:                &EpochConfig{EpochKey: k1, BaseEpoch: 1},
		Identity:              identity,
		EditChainCollections: map[string]bool{"docs": true},
		PushFn: func(ctx context.Context, collection string, changes []wire.WrappedChange) ([]PushAck, error) {
			captured = changes
			return []PushAck{{ID: changes[0].ID, Cursor: 1}}, nil
		},
	})

	_, failures, err := tr.Push(context.Background(), "docs", []OutboundRecord{
		{ID: "d1", Envelope: wire.RecordEnvelope{CRDT: []byte("hello")}},
	})
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, captured, 1)

	tr.SetPrepulledChanges("docs", captured, 1)
	records, pullFailures, err := tr.Pull("docs")
	require.NoError(t, err)
	assert.Empty(t, pullFailures)
	require.Len(t, records, 1)
	assert.True(t, records[0].EditChainValid)
}

// S8: a chain whose resolver can't find the claimed signer is rejected
// rather than trusted on shape.
func TestPullRejectsEditChainWithUnresolvableSigner(t *testing.T) {
	k1 := randKey(t)
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)

	pushIdentity := &Identity{DID: "did:writer", Signer: priv}
	var captured []wire.WrappedChange
	pushTr := New(Config{
		SpaceID:              "space-1",
		PaddingBuckets:       wire.PaddingBuckets,
		Epoch:                &EpochConfig{EpochKey: k1, BaseEpoch: 1},
		Identity:             pushIdentity,
		EditChainCollections: map[string]bool{"docs": true},
		PushFn: func(ctx context.Context, collection string, changes []wire.WrappedChange) ([]PushAck, error) {
			captured = changes
			return []PushAck{{ID: changes[0].ID, Cursor: 1}}, nil
		},
	})
	_, _, err = pushTr.Push(context.Background(), "docs", []OutboundRecord{
		{ID: "d1", Envelope: wire.RecordEnvelope{CRDT: []byte("hello")}},
	})
	require.NoError(t, err)

	// A transport pulling the same space with no resolver configured
	// (e.g. it doesn't know this peer) must not trust the chain.
	pullTr := New(Config{SpaceID: "space-1", PaddingBuckets: wire.PaddingBuckets, Epoch: &EpochConfig{EpochKey: k1, BaseEpoch: 1}})
	pullTr.SetPrepulledChanges("docs", captured, 1)
	records, failures, err := pullTr.Pull("docs")
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, records, 1)
	assert.False(t, records[0].EditChainValid)
}

func TestPullDeletedChangeProducesTombstone(t *testing.T) {
	tr := New(Config{SpaceID: "space-1", Epoch: &EpochConfig{EpochKey: randKey(t), BaseEpoch: 1}})
	tr.SetPrepulledChanges("users", []wire.WrappedChange{{ID: "u1", Deleted: true}}, 1)

	records, failures, err := tr.Pull("users")
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, records, 1)
	assert.True(t, records[0].Deleted)
}
