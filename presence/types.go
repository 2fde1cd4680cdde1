// Package presence implements encrypted ephemeral presence pub/sub keyed
// off a per-space channel key: peer heartbeats, explicit leave notices,
// and heartbeat-interval-driven stale eviction. Presence state lives only
// in memory for the life of the connection; nothing here is persisted.
package presence

import "time"

// ChannelKeySource resolves the current ephemeral channel key for a
// space, derived by crypto.DeriveChannelKey from that space's current
// epoch key.
type ChannelKeySource interface {
	ChannelKey(spaceID string) ([]byte, error)
}

// Peer is a remote device observed present in a space.
type Peer struct {
	DeviceID string
	LastSeen time.Time
}

// PeerEvent fires when a peer's presence state changes: aged out past
// StaleAfter without a heartbeat, or removed by an explicit leave notice.
type PeerEvent func(spaceID, deviceID string)

// heartbeat is the plaintext CBOR payload sealed under the channel key
// for both presence and presence.leave notifications.
type heartbeat struct {
	DeviceID string `cbor:"device_id"`
	SentAt   int64  `cbor:"sent_at"`
}

// Config constructs a Manager.
type Config struct {
	Keys ChannelKeySource

	// StaleAfter is how long a peer may go without a heartbeat before
	// being evicted. Defaults to 45s.
	StaleAfter time.Duration
	// GCInterval is how often the eviction sweep runs. Defaults to 15s.
	GCInterval time.Duration

	// OnStale fires once per peer evicted by the stale sweep.
	OnStale PeerEvent
	// OnLeave fires once a presence.leave notice has been decoded and
	// applied, after the peer has been removed from the snapshot.
	OnLeave PeerEvent
}
