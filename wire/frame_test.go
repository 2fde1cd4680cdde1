package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRequestRoundTrip(t *testing.T) {
	req := &Request{Method: "push", ID: "req-1", Params: map[string]any{"collection": "notes"}}

	data, err := EncodeFrame(FrameRequest, req)
	require.NoError(t, err)

	typ, body, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, FrameRequest, typ)

	got, err := DecodeRequest(body)
	require.NoError(t, err)
	assert.Equal(t, req.Method, got.Method)
	assert.Equal(t, req.ID, got.ID)
}

func TestEncodeDecodeResponseWithError(t *testing.T) {
	resp := &Response{ID: "req-1", Error: &RPCError{Code: "forbidden", Message: "space revoked"}}

	data, err := EncodeFrame(FrameResponse, resp)
	require.NoError(t, err)

	typ, body, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, FrameResponse, typ)

	got, err := DecodeResponse(body)
	require.NoError(t, err)
	require.NotNil(t, got.Error)
	assert.Equal(t, "forbidden", got.Error.Code)
	assert.Equal(t, "forbidden: space revoked", got.Error.Error())
}

func TestEncodeDecodeNotification(t *testing.T) {
	n := &Notification{Method: "epoch.rotated", Params: map[string]any{"epoch": 3}}

	data, err := EncodeFrame(FrameNotification, n)
	require.NoError(t, err)

	typ, body, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, FrameNotification, typ)

	got, err := DecodeNotification(body)
	require.NoError(t, err)
	assert.Equal(t, n.Method, got.Method)
}

func TestEncodeDecodeChunk(t *testing.T) {
	c := &Chunk{ID: "req-7", Name: "part", Data: []byte("hello")}

	data, err := EncodeFrame(FrameChunk, c)
	require.NoError(t, err)

	typ, body, err := DecodeFrame(data)
	require.NoError(t, err)
	assert.Equal(t, FrameChunk, typ)

	got, err := DecodeChunk(body)
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, c.Name, got.Name)
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, _, err := DecodeFrame([]byte{0xff, 0x00})
	assert.Error(t, err)
}
