package event

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/syncspace/engine/crypto"
)

const defaultReplayWindow = 5 * time.Minute

func eventAAD(spaceID string) []byte {
	const channel = "event"
	aad := make([]byte, 0, len(spaceID)+1+len(channel))
	aad = append(aad, spaceID...)
	aad = append(aad, 0x00)
	aad = append(aad, channel...)
	return aad
}

// Manager encrypts outbound events under a space's channel key and
// decrypts/dedups inbound ones. Its replay cache mirrors
// session.NonceCache: seen (space,nonce) pairs are remembered for
// ReplayWindow and garbage-collected on a ticker.
type Manager struct {
	cfg          Config
	replayWindow time.Duration

	mu   sync.Mutex
	seen map[string]map[string]time.Time // spaceID -> nonce -> expiry

	stop     chan struct{}
	stopOnce sync.Once
}

// New constructs a Manager and starts its background replay-cache sweep.
func New(cfg Config) *Manager {
	window := cfg.ReplayWindow
	if window <= 0 {
		window = defaultReplayWindow
	}
	m := &Manager{
		cfg:          cfg,
		replayWindow: window,
		seen:         make(map[string]map[string]time.Time),
		stop:         make(chan struct{}),
	}
	go m.gcLoop()
	return m
}

// Close stops the background replay-cache sweep. Idempotent.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// Publish seals name/data under spaceID's current channel key, for the
// caller to broadcast as an event notification.
func (m *Manager) Publish(spaceID, name string, data []byte) ([]byte, error) {
	key, err := m.cfg.Keys.ChannelKey(spaceID)
	if err != nil {
		return nil, fmt.Errorf("event: channel key: %w", err)
	}
	nonce, err := randomNonce()
	if err != nil {
		return nil, err
	}
	plaintext, err := cbor.Marshal(envelope{Nonce: nonce, Name: name, Data: data})
	if err != nil {
		return nil, fmt.Errorf("event: encode: %w", err)
	}
	return crypto.Seal(key, eventAAD(spaceID), plaintext)
}

// Deliver decrypts an incoming event notification and rejects it as a
// replay if its nonce was already seen within ReplayWindow for this
// space; otherwise it records the nonce and invokes OnEvent.
func (m *Manager) Deliver(spaceID string, sealed []byte, now time.Time) (Event, error) {
	key, err := m.cfg.Keys.ChannelKey(spaceID)
	if err != nil {
		return Event{}, fmt.Errorf("event: channel key: %w", err)
	}
	plaintext, err := crypto.Open(key, eventAAD(spaceID), sealed)
	if err != nil {
		return Event{}, fmt.Errorf("event: decrypt: %w", err)
	}
	var env envelope
	if err := cbor.Unmarshal(plaintext, &env); err != nil {
		return Event{}, fmt.Errorf("event: decode: %w", err)
	}

	if m.seenBefore(spaceID, env.Nonce, now) {
		return Event{}, ErrReplayed
	}

	ev := Event{SpaceID: spaceID, Name: env.Name, Data: env.Data}
	if m.cfg.OnEvent != nil {
		m.cfg.OnEvent(ev)
	}
	return ev, nil
}

func (m *Manager) seenBefore(spaceID, nonce string, now time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	space, ok := m.seen[spaceID]
	if !ok {
		space = make(map[string]time.Time)
		m.seen[spaceID] = space
	}
	if exp, ok := space[nonce]; ok && exp.After(now) {
		return true
	}
	space[nonce] = now.Add(m.replayWindow)
	return false
}

func (m *Manager) gcLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.gc(time.Now())
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) gc(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for spaceID, space := range m.seen {
		for nonce, exp := range space {
			if exp.Before(now) {
				delete(space, nonce)
			}
		}
		if len(space) == 0 {
			delete(m.seen, spaceID)
		}
	}
}

func randomNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("event: generate nonce: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
