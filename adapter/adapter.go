// Package adapter defines the interfaces this engine expects from its
// external collaborators: the application's local document database and
// the crypto/encode middleware that sits between plaintext records and
// the wire. Neither has an implementation here — the document database
// (CRDT merge, indexing, query, tombstones) and the UI/framework bindings
// that drive it live entirely outside this module. These interfaces are
// the seam a host application implements to plug its own store in.
package adapter

import (
	"context"

	"github.com/syncspace/engine/transport"
)

// SyncAdapter is the contract the host application's local document
// database satisfies so the sync engine can drive it without knowing
// anything about its internal storage, indexing, or query layer.
//
// GetDirty returns every locally-modified record in collection that
// hasn't yet been pushed. ApplyRemoteRecords writes decrypted remote
// records into local storage, resolving CRDT merge internally.
// MarkSynced commits the outcome of a push so GetDirty stops returning
// those records. GetLastSequence/Observe back the router's cursor and
// dirty-change-notification needs.
type SyncAdapter interface {
	GetDirty(ctx context.Context, collection string) ([]transport.OutboundRecord, error)
	ApplyRemoteRecords(ctx context.Context, collection string, records []transport.RemoteRecord) error
	MarkSynced(ctx context.Context, collection string, acks []transport.PushAck) error
	GetLastSequence(ctx context.Context, collection, spaceID string) (uint64, error)

	// Observe registers fn to be called whenever a local write makes a
	// record in collection dirty, so a caller can wire it to
	// syncmanager.Manager.SchedulePush. The returned func unregisters it.
	Observe(collection string, fn func(spaceID string)) (unregister func())
}

// Middleware is the pluggable crypto/encode boundary between plaintext
// application records and the wire envelope: everything SyncTransport
// needs to turn a record into ciphertext and back, modeled as a single
// dynamic-dispatch seam rather than separate closures captured per call
// site.
type Middleware interface {
	Encrypt(ctx context.Context, spaceID string, plaintext []byte) (ciphertext []byte, err error)
	Decrypt(ctx context.Context, spaceID string, ciphertext []byte) (plaintext []byte, err error)
	Encode(v interface{}) ([]byte, error)
	Decode(data []byte, v interface{}) error

	// ChannelKey returns the current ephemeral channel key for spaceID,
	// for presence/event sealing. Satisfies presence.ChannelKeySource
	// and event.ChannelKeySource.
	ChannelKey(spaceID string) ([]byte, error)
}
