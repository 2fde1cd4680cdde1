// Package router implements the multi-space router: one WebSocket
// connection multiplexed across the personal space and every active
// shared space, cursor bookkeeping, gap/stale detection on realtime
// events, and bounded automatic rotation scheduling.
package router

import (
	"context"

	"github.com/syncspace/engine/epoch"
	"github.com/syncspace/engine/transport"
	"github.com/syncspace/engine/wire"
)

// SpaceSubscription is one entry of the subscribe request vector.
type SpaceSubscription struct {
	ID       string
	Since    uint64
	UCAN     string
	Presence bool
}

// SpaceCursorState is one space's bundle in a subscribe/pull response.
type SpaceCursorState struct {
	ID            string
	Cursor        uint64
	KeyGeneration uint64
	RewrapEpoch   *uint64
	Peers         []string
	Error         string
	Changes       map[string][]wire.WrappedChange // collection -> changes
}

// PullRequest describes one collection's pull across personal + shared
// spaces.
type PullRequest struct {
	Collection string
}

// RPC is the wire-level surface this package drives: subscribe and pull
// issue single multiplexed calls across every active space; push targets
// exactly one space transport via its own push_fn, configured when the
// transport was constructed.
type RPC interface {
	Subscribe(ctx context.Context, subs []SpaceSubscription) ([]SpaceCursorState, error)
	Pull(ctx context.Context, collection string, subs []SpaceSubscription) ([]SpaceCursorState, error)
}

// CursorStore is the optional persistent backing for per-(collection,
// space) cursors.
type CursorStore interface {
	Get(collection, spaceID string) (uint64, bool)
	Set(collection, spaceID string, cursor uint64)
}

// SpaceRegistry is the subset of the space manager the router consults:
// whether a space is currently active, its role, and its current epoch.
type SpaceRegistry interface {
	HasSpace(spaceID string) bool
	IsAdmin(spaceID string) bool
	SpaceEpoch(spaceID string) uint64
	ShouldRotate(spaceID string) bool
}

// EpochAdvancedHandler is invoked when the personal space's key generation
// advances past what the router already knows.
type EpochAdvancedHandler func(newEpoch uint64, newKey []byte)

// RevocationHandler is invoked for a per-space subscribe/pull error that
// looks like a revocation (e.g. forbidden).
type RevocationHandler func(spaceID string)

// Config constructs a Router.
type Config struct {
	PersonalSpaceID string
	RPC             RPC
	Registry        SpaceRegistry
	Cursors         CursorStore
	Protocol        *epoch.Protocol
	OnEpochAdvanced EpochAdvancedHandler
	OnRevocation    RevocationHandler
}
