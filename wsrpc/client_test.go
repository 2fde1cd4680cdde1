package wsrpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/syncspace/engine/wire"
)

// fakeRelay echoes one canned result for every request it receives, keyed
// by method name, and can push a single notification on demand.
type fakeRelay struct {
	upgrader gorilla.Upgrader
	results  map[string]any
	fail     map[string]*wire.RPCError
	notify   chan *wire.Notification
}

func newFakeRelay() *fakeRelay {
	return &fakeRelay{
		upgrader: gorilla.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		results:  make(map[string]any),
		fail:     make(map[string]*wire.RPCError),
		notify:   make(chan *wire.Notification, 1),
	}
}

func (f *fakeRelay) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := f.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for n := range f.notify {
				frame, err := wire.EncodeFrame(wire.FrameNotification, n)
				if err != nil {
					continue
				}
				_ = conn.WriteMessage(gorilla.BinaryMessage, frame)
			}
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frameType, body, err := wire.DecodeFrame(data)
			if err != nil || frameType != wire.FrameRequest {
				continue
			}
			req, err := wire.DecodeRequest(body)
			if err != nil {
				continue
			}

			resp := wire.Response{ID: req.ID}
			if rpcErr, ok := f.fail[req.Method]; ok {
				resp.Error = rpcErr
			} else {
				resp.Result = f.results[req.Method]
			}
			frame, err := wire.EncodeFrame(wire.FrameResponse, resp)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(gorilla.BinaryMessage, frame); err != nil {
				return
			}
		}
	})
}

func startFakeRelay(t *testing.T) (*fakeRelay, *Client) {
	t.Helper()
	relay := newFakeRelay()
	server := httptest.NewServer(relay.Handler())
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client := New(url, WithReadTimeout(2*time.Second))
	t.Cleanup(func() { client.Close() })
	return relay, client
}

func TestClientCallRoundTrips(t *testing.T) {
	relay, client := startFakeRelay(t)
	relay.results["epoch.complete"] = nil

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.Call(ctx, "epoch.complete", struct {
		SpaceID string `cbor:"space_id"`
	}{SpaceID: "space-1"}, nil)
	require.NoError(t, err)
}

func TestClientCallDecodesResult(t *testing.T) {
	relay, client := startFakeRelay(t)
	relay.results["accounts.lookup"] = map[string]any{
		"DID":       "did:syncspace:abc",
		"PublicKey": []byte{1, 2, 3},
		"MailboxID": "mbx-1",
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var result struct {
		DID       string
		PublicKey []byte
		MailboxID string
	}
	err := client.Call(ctx, "accounts.lookup", struct {
		Handle string `cbor:"handle"`
	}{Handle: "alice"}, &result)
	require.NoError(t, err)
	require.Equal(t, "did:syncspace:abc", result.DID)
	require.Equal(t, "mbx-1", result.MailboxID)
}

func TestClientCallPropagatesRPCError(t *testing.T) {
	relay, client := startFakeRelay(t)
	relay.fail["membership.revoke"] = &wire.RPCError{Code: "forbidden", Message: "not an admin"}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.Call(ctx, "membership.revoke", struct{}{}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not an admin")
}

func TestClientCallTimesOutWhenContextCancelled(t *testing.T) {
	_, client := startFakeRelay(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Call(ctx, "subscribe", struct{}{}, nil)
	require.Error(t, err)
}

func TestClientDeliversNotifications(t *testing.T) {
	relay, client := startFakeRelay(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Connect(ctx))

	relay.notify <- &wire.Notification{Method: "sync.event", Params: map[string]any{"space_id": "space-1"}}

	select {
	case n := <-client.Notifications():
		require.Equal(t, "sync.event", n.Method)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}
