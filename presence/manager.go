package presence

import (
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/syncspace/engine/crypto"
	"github.com/syncspace/engine/metrics"
)

const (
	defaultStaleAfter = 45 * time.Second
	defaultGCInterval = 15 * time.Second
)

func channelAAD(spaceID, channel string) []byte {
	aad := make([]byte, 0, len(spaceID)+1+len(channel))
	aad = append(aad, spaceID...)
	aad = append(aad, 0x00)
	aad = append(aad, channel...)
	return aad
}

func presenceAAD(spaceID string) []byte {
	return channelAAD(spaceID, "presence")
}

// Manager tracks which peers are present in each active space, learned
// from encrypted heartbeat and leave notifications, and evicts peers
// that stop heartbeating.
type Manager struct {
	cfg        Config
	staleAfter time.Duration

	mu    sync.Mutex
	peers map[string]map[string]time.Time // spaceID -> deviceID -> lastSeen

	stop     chan struct{}
	stopOnce sync.Once
}

// New constructs a Manager and starts its background stale-eviction sweep.
func New(cfg Config) *Manager {
	staleAfter := cfg.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	gcInterval := cfg.GCInterval
	if gcInterval <= 0 {
		gcInterval = defaultGCInterval
	}

	m := &Manager{
		cfg:        cfg,
		staleAfter: staleAfter,
		peers:      make(map[string]map[string]time.Time),
		stop:       make(chan struct{}),
	}
	go m.gcLoop(gcInterval)
	return m
}

// Close stops the background eviction sweep. Idempotent.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// EncodeHeartbeat seals a heartbeat for deviceID under spaceID's current
// channel key, for the caller to broadcast as a presence notification.
func (m *Manager) EncodeHeartbeat(spaceID, deviceID string, now time.Time) ([]byte, error) {
	key, err := m.cfg.Keys.ChannelKey(spaceID)
	if err != nil {
		return nil, fmt.Errorf("presence: channel key: %w", err)
	}
	plaintext, err := cbor.Marshal(heartbeat{DeviceID: deviceID, SentAt: now.Unix()})
	if err != nil {
		return nil, fmt.Errorf("presence: encode heartbeat: %w", err)
	}
	return crypto.Seal(key, presenceAAD(spaceID), plaintext)
}

// HandlePresence decrypts an incoming presence notification and records
// (or refreshes) the sending peer's last-seen time.
func (m *Manager) HandlePresence(spaceID string, sealed []byte, now time.Time) (Peer, error) {
	hb, err := m.decode(spaceID, sealed)
	if err != nil {
		return Peer{}, err
	}

	m.mu.Lock()
	space, ok := m.peers[spaceID]
	if !ok {
		space = make(map[string]time.Time)
		m.peers[spaceID] = space
	}
	_, seenBefore := space[hb.DeviceID]
	space[hb.DeviceID] = now
	m.mu.Unlock()

	if !seenBefore {
		metrics.PresenceChurn.WithLabelValues("join").Inc()
	}

	return Peer{DeviceID: hb.DeviceID, LastSeen: now}, nil
}

// HandleLeave removes a peer immediately on an explicit presence.leave
// notification, without waiting for the stale sweep.
func (m *Manager) HandleLeave(spaceID string, sealed []byte) (string, error) {
	hb, err := m.decode(spaceID, sealed)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if space, ok := m.peers[spaceID]; ok {
		delete(space, hb.DeviceID)
		if len(space) == 0 {
			delete(m.peers, spaceID)
		}
	}
	m.mu.Unlock()

	metrics.PresenceChurn.WithLabelValues("leave").Inc()
	if m.cfg.OnLeave != nil {
		m.cfg.OnLeave(spaceID, hb.DeviceID)
	}
	return hb.DeviceID, nil
}

func (m *Manager) decode(spaceID string, sealed []byte) (heartbeat, error) {
	key, err := m.cfg.Keys.ChannelKey(spaceID)
	if err != nil {
		return heartbeat{}, fmt.Errorf("presence: channel key: %w", err)
	}
	plaintext, err := crypto.Open(key, presenceAAD(spaceID), sealed)
	if err != nil {
		return heartbeat{}, fmt.Errorf("presence: decrypt: %w", err)
	}
	var hb heartbeat
	if err := cbor.Unmarshal(plaintext, &hb); err != nil {
		return heartbeat{}, fmt.Errorf("presence: decode: %w", err)
	}
	return hb, nil
}

// Peers returns a snapshot of peers currently known present in spaceID.
func (m *Manager) Peers(spaceID string) []Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	space := m.peers[spaceID]
	out := make([]Peer, 0, len(space))
	for id, seen := range space {
		out = append(out, Peer{DeviceID: id, LastSeen: seen})
	}
	return out
}

func (m *Manager) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.evictStale(time.Now())
		case <-m.stop:
			return
		}
	}
}

type staleEntry struct {
	spaceID, deviceID string
}

func (m *Manager) evictStale(now time.Time) {
	var stale []staleEntry

	m.mu.Lock()
	for spaceID, space := range m.peers {
		for deviceID, lastSeen := range space {
			if now.Sub(lastSeen) >= m.staleAfter {
				stale = append(stale, staleEntry{spaceID, deviceID})
			}
		}
	}
	for _, s := range stale {
		delete(m.peers[s.spaceID], s.deviceID)
		if len(m.peers[s.spaceID]) == 0 {
			delete(m.peers, s.spaceID)
		}
	}
	m.mu.Unlock()

	for range stale {
		metrics.PresenceChurn.WithLabelValues("stale").Inc()
	}

	if m.cfg.OnStale == nil {
		return
	}
	for _, s := range stale {
		m.cfg.OnStale(s.spaceID, s.deviceID)
	}
}
