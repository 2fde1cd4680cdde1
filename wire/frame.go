// Package wire implements the CBOR-framed bidirectional RPC envelope used
// by the multiplexed sync connection: requests, responses, notifications,
// and chunked multi-message responses, all on one WebSocket.
package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// FrameType identifies the envelope kind carried by a CBOR-encoded frame.
type FrameType int

const (
	FrameRequest      FrameType = 0
	FrameResponse     FrameType = 1
	FrameNotification FrameType = 2
	FrameChunk        FrameType = 3
)

// CloseCode enumerates the connection close codes the relay may send.
type CloseCode int

const (
	CloseAuthFailed         CloseCode = 4000
	CloseTokenExpired       CloseCode = 4001
	CloseForbidden          CloseCode = 4002
	CloseTooManyConnections CloseCode = 4003
	ClosePowRequired        CloseCode = 4004
	CloseProtocolError      CloseCode = 4005
	CloseSlowConsumer       CloseCode = 4006
	CloseRateLimited        CloseCode = 4007
)

// RPCError is the error shape carried inside a Response frame.
type RPCError struct {
	Code    string `cbor:"code"`
	Message string `cbor:"message"`
	Data    any    `cbor:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Request is a type=0 frame.
type Request struct {
	Method string `cbor:"method"`
	ID     string `cbor:"id"`
	Params any    `cbor:"params"`
}

// Response is a type=1 frame.
type Response struct {
	ID     string    `cbor:"id"`
	Result any       `cbor:"result,omitempty"`
	Error  *RPCError `cbor:"error,omitempty"`
}

// Notification is a type=2 frame.
type Notification struct {
	Method string `cbor:"method"`
	Params any    `cbor:"params"`
}

// Chunk is a type=3 frame: one piece of a multi-message response keyed by
// request id.
type Chunk struct {
	ID   string `cbor:"id"`
	Name string `cbor:"name"`
	Data any    `cbor:"data"`
}

// envelope is the wire shape: a CBOR map holding the integer frame "type"
// and the frame's own CBOR-encoded fields nested under "body"; the fields
// are not flattened into the outer map. EncodeFrame marshals the inner
// frame first, then wraps it together with its type.
type envelope struct {
	Type FrameType `cbor:"type"`
	Body cbor.RawMessage `cbor:"body"`
}

// EncodeFrame wraps a typed frame body into a CBOR-encoded envelope.
func EncodeFrame(t FrameType, body any) ([]byte, error) {
	bodyBytes, err := cbor.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("wire: encode body: %w", err)
	}
	return cbor.Marshal(envelope{Type: t, Body: bodyBytes})
}

// DecodeFrame reads the envelope's type without decoding the body, so the
// caller can dispatch to the right concrete type next.
func DecodeFrame(data []byte) (FrameType, cbor.RawMessage, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return 0, nil, fmt.Errorf("wire: decode envelope: %w", err)
	}
	return env.Type, env.Body, nil
}

// DecodeRequest decodes a Request body previously split out by DecodeFrame.
func DecodeRequest(body cbor.RawMessage) (*Request, error) {
	var req Request
	if err := cbor.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("wire: decode request: %w", err)
	}
	return &req, nil
}

// DecodeResponse decodes a Response body previously split out by DecodeFrame.
func DecodeResponse(body cbor.RawMessage) (*Response, error) {
	var resp Response
	if err := cbor.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("wire: decode response: %w", err)
	}
	return &resp, nil
}

// DecodeNotification decodes a Notification body.
func DecodeNotification(body cbor.RawMessage) (*Notification, error) {
	var n Notification
	if err := cbor.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("wire: decode notification: %w", err)
	}
	return &n, nil
}

// DecodeChunk decodes a Chunk body.
func DecodeChunk(body cbor.RawMessage) (*Chunk, error) {
	var c Chunk
	if err := cbor.Unmarshal(body, &c); err != nil {
		return nil, fmt.Errorf("wire: decode chunk: %w", err)
	}
	return &c, nil
}
