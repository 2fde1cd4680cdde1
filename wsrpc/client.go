// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

// Package wsrpc is the one WebSocket connection every relay-facing
// collaborator in this module multiplexes its RPC calls across: router.RPC,
// epoch.Transport, membership.Transport, the space manager's
// AccountsService/InvitationTransport, and each space transport's push_fn.
// It owns a single gorilla/websocket connection, frames every call with the
// wire package's CBOR envelope, and matches responses back to callers by
// request id the same way the handshake transport matches Send to its
// response channel.
package wsrpc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/syncspace/engine/wire"
)

// Client is a multiplexed RPC connection to the relay. One Client backs
// every space's RPC needs; there is exactly one WebSocket per process.
type Client struct {
	url          string
	dialTimeout  time.Duration
	readTimeout  time.Duration
	writeTimeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan *wire.Response

	notifications chan *wire.Notification

	connMu    sync.RWMutex
	connected bool

	closeOnce sync.Once
	closed    chan struct{}
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithDialTimeout overrides the default 10s WebSocket handshake timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Client) { c.dialTimeout = d }
}

// WithReadTimeout overrides the default 60s per-call response wait.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Client) { c.readTimeout = d }
}

// WithWriteTimeout overrides the default 10s frame write deadline.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Client) { c.writeTimeout = d }
}

// New creates a Client for url. Call Connect before issuing any RPCs.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:           url,
		dialTimeout:   10 * time.Second,
		readTimeout:   60 * time.Second,
		writeTimeout:  10 * time.Second,
		pending:       make(map[string]chan *wire.Response),
		notifications: make(chan *wire.Notification, 64),
		closed:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the relay and starts the background read loop. Connect is
// idempotent: a second call on an already-connected Client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return nil
	}

	dialer := &websocket.Dialer{HandshakeTimeout: c.dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("wsrpc: dial failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("wsrpc: dial failed: %w", err)
	}

	c.conn = conn
	c.setConnected(true)
	go c.readLoop()

	return nil
}

// Notifications returns the channel relay-initiated notifications (e.g.
// sync.event) arrive on. The caller is expected to drain it continuously;
// while the buffer is full, each incoming notification is dropped rather
// than blocking the read loop.
func (c *Client) Notifications() <-chan *wire.Notification {
	return c.notifications
}

// Call issues one request/response RPC. params is CBOR-marshaled as the
// request body; on success, result (a pointer, or nil to discard the
// response) is CBOR-unmarshaled from the response's Result field.
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	if err := c.ensureConnected(ctx); err != nil {
		return fmt.Errorf("wsrpc: %w", err)
	}

	id := uuid.NewString()
	req := wire.Request{Method: method, ID: id, Params: params}

	frame, err := wire.EncodeFrame(wire.FrameRequest, req)
	if err != nil {
		return fmt.Errorf("wsrpc: encode request: %w", err)
	}

	respCh := make(chan *wire.Response, 1)
	c.pendingMu.Lock()
	c.pending[id] = respCh
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.writeFrame(frame); err != nil {
		return fmt.Errorf("wsrpc: send %s: %w", method, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case resp := <-respCh:
		if resp.Error != nil {
			return resp.Error
		}
		if result == nil || resp.Result == nil {
			return nil
		}
		raw, err := cbor.Marshal(resp.Result)
		if err != nil {
			return fmt.Errorf("wsrpc: re-encode result for %s: %w", method, err)
		}
		if err := cbor.Unmarshal(raw, result); err != nil {
			return fmt.Errorf("wsrpc: decode result for %s: %w", method, err)
		}
		return nil
	case <-time.After(c.readTimeout):
		return fmt.Errorf("wsrpc: %s: response timeout", method)
	case <-c.closed:
		return fmt.Errorf("wsrpc: connection closed")
	}
}

func (c *Client) ensureConnected(ctx context.Context) error {
	if c.isConnected() {
		return nil
	}
	return c.Connect(ctx)
}

func (c *Client) writeFrame(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		c.setConnected(false)
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// readLoop dispatches every inbound frame by type: responses are routed to
// the waiting Call, notifications are pushed onto the Notifications channel,
// chunks are dropped (no caller in this module issues chunked requests yet).
func (c *Client) readLoop() {
	defer c.setConnected(false)
	defer close(c.notifications)

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		frameType, body, err := wire.DecodeFrame(data)
		if err != nil {
			continue
		}

		switch frameType {
		case wire.FrameResponse:
			resp, err := wire.DecodeResponse(body)
			if err != nil {
				continue
			}
			c.pendingMu.Lock()
			ch, ok := c.pending[resp.ID]
			c.pendingMu.Unlock()
			if ok {
				select {
				case ch <- resp:
				default:
				}
			}
		case wire.FrameNotification:
			n, err := wire.DecodeNotification(body)
			if err != nil {
				continue
			}
			select {
			case c.notifications <- n:
			default:
			}
		case wire.FrameChunk, wire.FrameRequest:
			// the relay never issues us a request or a chunked response.
		}
	}
}

// Close sends a normal-closure control frame and tears down the connection.
func (c *Client) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.conn == nil {
			return
		}
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		closeErr = c.conn.Close()
		c.conn = nil
		c.setConnected(false)
	})
	return closeErr
}

func (c *Client) isConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) setConnected(v bool) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	c.connected = v
}
