// Package epoch implements the three-phase server-authoritative epoch
// advance (begin -> rewrap -> complete), with help-complete and adopt
// recovery for the case where a concurrent admin started but did not
// finish a rotation.
package epoch

import (
	"context"
	"errors"
)

// ErrAlreadyRotating is returned when RotateSpaceKey is called for a space
// that already has a rotation in flight on this instance.
var ErrAlreadyRotating = errors.New("epoch: rotation already in progress for this space")

// WrappedDEKEntry is one lightweight DEK record as returned by GetDEKs:
// just the wrapped bytes, no blob.
type WrappedDEKEntry struct {
	ID      string
	Wrapped []byte
}

// BeginResult is the server's response to epoch.begin.
type BeginResult struct {
	Epoch        uint64
	Conflict     bool
	CurrentEpoch uint64
	RewrapEpoch  *uint64
}

// Transport is the RPC surface this package drives: epoch.begin,
// epoch.complete, deks.get, deks.rewrap (the same shape mirrors file DEKs
// via a second Transport instance keyed to the file-DEK RPC methods).
type Transport interface {
	Begin(ctx context.Context, spaceID string, epoch uint64, setMinKeyGeneration bool) (BeginResult, error)
	Complete(ctx context.Context, spaceID string, epoch uint64) error
	GetDEKs(ctx context.Context, spaceID string, since uint64) ([]WrappedDEKEntry, error)
	RewrapDEKs(ctx context.Context, spaceID string, batch []WrappedDEKEntry) (int, error)
}

// RotationEvent records one completed rotation for a space.
type RotationEvent struct {
	FromEpoch uint64
	ToEpoch   uint64
	Rewrapped int
	Reason    string
}
