package wire

import (
	"errors"

	"github.com/fxamacker/cbor/v2"
)

// ErrCollectionMismatch is returned when a decrypted record envelope's
// collection field does not match what the caller expected.
var ErrCollectionMismatch = errors.New("wire: envelope collection mismatch")

// RecordEnvelope is the plaintext shape CBOR-encoded, padded, and then
// AEAD-encrypted for a single record's wire transfer.
type RecordEnvelope struct {
	Collection string          `cbor:"c"`
	Version    int             `cbor:"v"`
	CRDT       []byte          `cbor:"crdt"`
	EditChain  cbor.RawMessage `cbor:"h,omitempty"`
}

// EncodeRecordEnvelope CBOR-encodes a RecordEnvelope.
func EncodeRecordEnvelope(env *RecordEnvelope) ([]byte, error) {
	return cbor.Marshal(env)
}

// DecodeRecordEnvelope decodes a RecordEnvelope, rejecting a collection
// mismatch against the expected one.
func DecodeRecordEnvelope(data []byte, expectCollection string) (*RecordEnvelope, error) {
	var env RecordEnvelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	if expectCollection != "" && env.Collection != expectCollection {
		return nil, ErrCollectionMismatch
	}
	return &env, nil
}

// WrappedChange is one wire-level change entry as exchanged in push/pull
// RPC payloads, before DEK unwrap/AEAD decrypt.
type WrappedChange struct {
	ID             string `cbor:"id"`
	Blob           []byte `cbor:"blob,omitempty"`
	Sequence       uint64 `cbor:"sequence"`
	Deleted        bool   `cbor:"deleted"`
	WrappedDEK     []byte `cbor:"dek,omitempty"`
	ExpectedCursor uint64 `cbor:"expected_cursor,omitempty"`
}
