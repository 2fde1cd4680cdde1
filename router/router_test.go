package router

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncspace/engine/transport"
	"github.com/syncspace/engine/wire"
)

// fakeRPC is a scripted RPC: each test preloads the states it wants
// returned from the next Subscribe/Pull call.
type fakeRPC struct {
	mu          sync.Mutex
	pullStates  []SpaceCursorState
	subscribeErr error
	pullErr      error
	lastPullSubs []SpaceSubscription
}

func (f *fakeRPC) Subscribe(ctx context.Context, subs []SpaceSubscription) ([]SpaceCursorState, error) {
	return nil, f.subscribeErr
}

func (f *fakeRPC) Pull(ctx context.Context, collection string, subs []SpaceSubscription) ([]SpaceCursorState, error) {
	f.mu.Lock()
	f.lastPullSubs = subs
	f.mu.Unlock()
	return f.pullStates, f.pullErr
}

type fakeController struct {
	mu      sync.Mutex
	applied map[string][]transport.RemoteRecord
}

func newFakeController() *fakeController {
	return &fakeController{applied: make(map[string][]transport.RemoteRecord)}
}

func (c *fakeController) ApplyRemoteRecords(collection string, records []transport.RemoteRecord, seq uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applied[collection] = append(c.applied[collection], records...)
	return nil
}

func newTestTransport(t *testing.T, spaceID string, pushFn transport.PushFunc) *transport.SyncTransport {
	t.Helper()
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return transport.New(transport.Config{
		SpaceID: spaceID,
		Epoch:   &transport.EpochConfig{EpochKey: key, BaseEpoch: 1},
		PushFn:  pushFn,
	})
}

func TestPullAdvancesCursorMonotonically(t *testing.T) {
	tr := newTestTransport(t, "space-1", nil)
	rpc := &fakeRPC{pullStates: []SpaceCursorState{
		{ID: "space-1", Cursor: 5, Changes: map[string][]wire.WrappedChange{"notes": nil}},
	}}

	r := New(Config{PersonalSpaceID: "space-1", RPC: rpc})
	r.RegisterSpace("space-1", tr, "notes")

	_, err := r.Pull(context.Background(), "notes")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), r.GetCursor("notes", "space-1"))

	rpc.pullStates = []SpaceCursorState{{ID: "space-1", Cursor: 3}}
	_, err = r.Pull(context.Background(), "notes")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), r.GetCursor("notes", "space-1"), "cursor must never move backward")
}

func TestApplySyncEventDropsStaleEvent(t *testing.T) {
	tr := newTestTransport(t, "space-1", nil)
	r := New(Config{PersonalSpaceID: "space-1", RPC: &fakeRPC{}})
	r.RegisterSpace("space-1", tr, "notes")
	r.setCursor("notes", "space-1", 10)

	ctrl := newFakeController()
	event := &transport.SyncEvent{SpaceID: "space-1", Prev: 9, Seq: 10}
	err := r.ApplySyncEvent(context.Background(), event, ctrl)
	require.NoError(t, err)
	assert.Empty(t, ctrl.applied, "stale event must not be applied")
}

func TestApplySyncEventGapTriggersFullPull(t *testing.T) {
	tr := newTestTransport(t, "space-1", nil)
	rpc := &fakeRPC{pullStates: []SpaceCursorState{
		{ID: "space-1", Cursor: 20, Changes: map[string][]wire.WrappedChange{"notes": nil}},
	}}
	r := New(Config{PersonalSpaceID: "space-1", RPC: rpc})
	r.RegisterSpace("space-1", tr, "notes")
	r.setCursor("notes", "space-1", 10)

	ctrl := newFakeController()
	event := &transport.SyncEvent{SpaceID: "space-1", Prev: 15, Seq: 16} // gap: prev != known cursor
	err := r.ApplySyncEvent(context.Background(), event, ctrl)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), r.GetCursor("notes", "space-1"), "gap should fall back to a full pull")
}

func TestPushGroupsBySpaceDefaultingToPersonal(t *testing.T) {
	var pushedCollection string
	tr := newTestTransport(t, "space-1", func(ctx context.Context, collection string, changes []wire.WrappedChange) ([]transport.PushAck, error) {
		pushedCollection = collection
		acks := make([]transport.PushAck, len(changes))
		for i, c := range changes {
			acks[i] = transport.PushAck{ID: c.ID, Cursor: uint64(i + 1)}
		}
		return acks, nil
	})

	r := New(Config{PersonalSpaceID: "space-1", RPC: &fakeRPC{}})
	r.RegisterSpace("space-1", tr, "notes")

	acks, err := r.Push(context.Background(), "notes", map[string][]transport.OutboundRecord{
		"": {{ID: "rec-1", Envelope: wire.RecordEnvelope{Collection: "notes", Version: 1, CRDT: []byte("hello")}}},
	})
	require.NoError(t, err)
	require.Len(t, acks, 1)
	assert.Equal(t, "notes", pushedCollection)
}

func TestUnregisterSpaceStopsFurtherDispatch(t *testing.T) {
	tr := newTestTransport(t, "space-1", nil)
	r := New(Config{PersonalSpaceID: "space-1", RPC: &fakeRPC{}})
	r.RegisterSpace("space-1", tr, "notes")
	r.UnregisterSpace("space-1")

	acks, err := r.Push(context.Background(), "notes", map[string][]transport.OutboundRecord{
		"space-1": {{ID: "rec-1", Envelope: wire.RecordEnvelope{Collection: "notes"}}},
	})
	require.NoError(t, err)
	assert.Empty(t, acks)
}
