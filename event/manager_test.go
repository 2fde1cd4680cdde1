package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannelKeys struct {
	key []byte
}

func (f *fakeChannelKeys) ChannelKey(spaceID string) ([]byte, error) {
	return f.key, nil
}

func testKey() []byte {
	k := make([]byte, 32)
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestPublishThenDeliverRoundTrips(t *testing.T) {
	keys := &fakeChannelKeys{key: testKey()}
	m := New(Config{Keys: keys, ReplayWindow: time.Hour})
	defer m.Close()

	sealed, err := m.Publish("space-1", "cursor.moved", []byte("payload"))
	require.NoError(t, err)

	ev, err := m.Deliver("space-1", sealed, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "space-1", ev.SpaceID)
	assert.Equal(t, "cursor.moved", ev.Name)
	assert.Equal(t, []byte("payload"), ev.Data)
}

func TestDeliverFiresOnEventHandler(t *testing.T) {
	keys := &fakeChannelKeys{key: testKey()}
	var received []Event
	m := New(Config{
		Keys:         keys,
		ReplayWindow: time.Hour,
		OnEvent:      func(ev Event) { received = append(received, ev) },
	})
	defer m.Close()

	sealed, err := m.Publish("space-1", "typing", nil)
	require.NoError(t, err)

	_, err = m.Deliver("space-1", sealed, time.Now())
	require.NoError(t, err)
	require.Len(t, received, 1)
	assert.Equal(t, "typing", received[0].Name)
}

func TestDeliverRejectsReplayedNonceWithinWindow(t *testing.T) {
	keys := &fakeChannelKeys{key: testKey()}
	m := New(Config{Keys: keys, ReplayWindow: time.Hour})
	defer m.Close()

	sealed, err := m.Publish("space-1", "typing", nil)
	require.NoError(t, err)

	now := time.Now()
	_, err = m.Deliver("space-1", sealed, now)
	require.NoError(t, err)

	_, err = m.Deliver("space-1", sealed, now.Add(time.Second))
	assert.ErrorIs(t, err, ErrReplayed)
}

func TestDeliverAllowsSameNonceAfterWindowExpires(t *testing.T) {
	keys := &fakeChannelKeys{key: testKey()}
	m := New(Config{Keys: keys, ReplayWindow: time.Second})
	defer m.Close()

	sealed, err := m.Publish("space-1", "typing", nil)
	require.NoError(t, err)

	now := time.Now()
	_, err = m.Deliver("space-1", sealed, now)
	require.NoError(t, err)

	_, err = m.Deliver("space-1", sealed, now.Add(2*time.Second))
	require.NoError(t, err)
}

func TestDeliverIsolatesReplayWindowPerSpace(t *testing.T) {
	keys := &fakeChannelKeys{key: testKey()}
	m := New(Config{Keys: keys, ReplayWindow: time.Hour})
	defer m.Close()

	sealed, err := m.Publish("space-1", "typing", nil)
	require.NoError(t, err)

	now := time.Now()
	_, err = m.Deliver("space-1", sealed, now)
	require.NoError(t, err)

	// Same ciphertext replayed under a different space id isn't dedup'd
	// against space-1's replay cache (though it will fail to decrypt
	// here since the AAD is bound to the space id).
	_, err = m.Deliver("space-2", sealed, now)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrReplayed)
}
