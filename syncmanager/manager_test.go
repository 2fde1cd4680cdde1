package syncmanager

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syncspace/engine/transport"
	"github.com/syncspace/engine/wire"
)

type fakeRouter struct {
	mu        sync.Mutex
	pushCalls []string
	pullCalls []string
	pushErr   map[string]error
	pullErr   map[string]error
	pullRecs  map[string][]transport.RemoteRecord
}

func newFakeRouter() *fakeRouter {
	return &fakeRouter{
		pushErr:  make(map[string]error),
		pullErr:  make(map[string]error),
		pullRecs: make(map[string][]transport.RemoteRecord),
	}
}

func (r *fakeRouter) Push(ctx context.Context, collection string, bySpace map[string][]transport.OutboundRecord) ([]transport.PushAck, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushCalls = append(r.pushCalls, collection)
	if err, ok := r.pushErr[collection]; ok {
		return nil, err
	}
	return nil, nil
}

func (r *fakeRouter) Pull(ctx context.Context, collection string) ([]transport.RemoteRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pullCalls = append(r.pullCalls, collection)
	if err, ok := r.pullErr[collection]; ok {
		return nil, err
	}
	return r.pullRecs[collection], nil
}

type fakeAdapter struct {
	mu       sync.Mutex
	outbound map[string]map[string][]transport.OutboundRecord
	applied  map[string][]transport.RemoteRecord
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		outbound: make(map[string]map[string][]transport.OutboundRecord),
		applied:  make(map[string][]transport.RemoteRecord),
	}
}

func (a *fakeAdapter) PendingOutbound(collection string) (map[string][]transport.OutboundRecord, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.outbound[collection], nil
}

func (a *fakeAdapter) ApplyRemoteRecords(collection string, records []transport.RemoteRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied[collection] = append(a.applied[collection], records...)
	return nil
}

func TestSchedulePushCoalescesMultipleCallsIntoOneFlush(t *testing.T) {
	router := newFakeRouter()
	adapter := newFakeAdapter()
	adapter.outbound["notes"] = map[string][]transport.OutboundRecord{
		"space-1": {{ID: "r1"}},
	}
	m := New(Config{Router: router, Adapter: adapter, CoalesceWindow: 20 * time.Millisecond})

	m.SchedulePush("notes")
	m.SchedulePush("notes")
	m.SchedulePush("notes")

	require.Eventually(t, func() bool {
		router.mu.Lock()
		defer router.mu.Unlock()
		return len(router.pushCalls) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSchedulePushAcrossCollectionsFlushesAllTouched(t *testing.T) {
	router := newFakeRouter()
	adapter := newFakeAdapter()
	adapter.outbound["notes"] = map[string][]transport.OutboundRecord{"space-1": {{ID: "r1"}}}
	adapter.outbound["photos"] = map[string][]transport.OutboundRecord{"space-1": {{ID: "r2"}}}
	m := New(Config{Router: router, Adapter: adapter, CoalesceWindow: 10 * time.Millisecond})

	m.SchedulePush("notes")
	m.SchedulePush("photos")

	require.Eventually(t, func() bool {
		router.mu.Lock()
		defer router.mu.Unlock()
		return len(router.pushCalls) == 2
	}, time.Second, 5*time.Millisecond)
}

func TestFlushAllPushesThenPullsAndAppliesRemoteRecords(t *testing.T) {
	router := newFakeRouter()
	router.pullRecs["notes"] = []transport.RemoteRecord{{ID: "remote-1"}}
	adapter := newFakeAdapter()
	adapter.outbound["notes"] = map[string][]transport.OutboundRecord{"space-1": {{ID: "r1"}}}

	var remoteFired []string
	m := New(Config{
		Router:  router,
		Adapter: adapter,
		OnRemoteChange: func(collection string) {
			remoteFired = append(remoteFired, collection)
		},
	})

	err := m.FlushAll(context.Background(), []string{"notes"})
	require.NoError(t, err)

	assert.Equal(t, []string{"notes"}, router.pushCalls)
	assert.Equal(t, []string{"notes"}, router.pullCalls)
	assert.Equal(t, []transport.RemoteRecord{{ID: "remote-1"}}, adapter.applied["notes"])
	assert.Equal(t, []string{"notes"}, remoteFired)
}

func TestPermanentFailuresQuarantineAfterThreshold(t *testing.T) {
	router := newFakeRouter()
	router.pullErr["notes"] = wire.ErrPayloadTooLarge
	adapter := newFakeAdapter()

	var quarantined []string
	m := New(Config{
		Router:          router,
		Adapter:         adapter,
		QuarantineAfter: 3,
		OnQuarantine: func(collection string, err error) {
			quarantined = append(quarantined, collection)
		},
	})

	for i := 0; i < 3; i++ {
		require.NoError(t, m.FlushAll(context.Background(), []string{"notes"}))
	}

	assert.True(t, m.IsQuarantined("notes"))
	assert.Equal(t, []string{"notes"}, quarantined)

	// Once quarantined, further flushes skip the collection entirely.
	callsBefore := len(router.pullCalls)
	require.NoError(t, m.FlushAll(context.Background(), []string{"notes"}))
	assert.Equal(t, callsBefore, len(router.pullCalls))
}

func TestTransientFailuresDoNotQuarantine(t *testing.T) {
	router := newFakeRouter()
	router.pullErr["notes"] = errors.New("network: connection reset")
	adapter := newFakeAdapter()
	m := New(Config{Router: router, Adapter: adapter, QuarantineAfter: 2})

	for i := 0; i < 10; i++ {
		require.NoError(t, m.FlushAll(context.Background(), []string{"notes"}))
	}

	assert.False(t, m.IsQuarantined("notes"))
}

func TestAuthErrorFiresHandlerWithoutQuarantine(t *testing.T) {
	router := newFakeRouter()
	router.pullErr["notes"] = &wire.RPCError{Code: "forbidden", Message: "space revoked"}
	adapter := newFakeAdapter()

	var authFired []string
	m := New(Config{
		Router:  router,
		Adapter: adapter,
		OnAuthError: func(collection string, err error) {
			authFired = append(authFired, collection)
		},
	})

	for i := 0; i < 10; i++ {
		require.NoError(t, m.FlushAll(context.Background(), []string{"notes"}))
	}

	assert.False(t, m.IsQuarantined("notes"))
	assert.Len(t, authFired, 10)
}

func TestClearQuarantineResetsState(t *testing.T) {
	router := newFakeRouter()
	router.pullErr["notes"] = wire.ErrPayloadTooLarge
	adapter := newFakeAdapter()
	m := New(Config{Router: router, Adapter: adapter, QuarantineAfter: 1})

	require.NoError(t, m.FlushAll(context.Background(), []string{"notes"}))
	require.True(t, m.IsQuarantined("notes"))

	m.ClearQuarantine("notes")
	assert.False(t, m.IsQuarantined("notes"))
}
