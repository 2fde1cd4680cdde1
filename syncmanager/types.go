// Package syncmanager implements the framework-agnostic wrapper over
// router.Router: a coalescing push scheduler, a full push+pull flush,
// remote-change delivery back into the application adapter, and an
// error-taxonomy-driven quarantine for collections that keep failing the
// same way.
package syncmanager

import (
	"context"
	"time"

	"github.com/syncspace/engine/transport"
)

// ErrorClass is the taxonomy a push/pull failure is sorted into.
type ErrorClass string

const (
	// ErrorTransient covers network-shaped failures: retry later, no
	// state changes needed.
	ErrorTransient ErrorClass = "transient"
	// ErrorPermanent covers failures that will never succeed on retry as-is
	// (decryption failure, malformed shape, broken hash chain).
	ErrorPermanent ErrorClass = "permanent"
	// ErrorAuth covers UCAN/authorization failures (401/403-equivalent).
	ErrorAuth ErrorClass = "auth"
	// ErrorCapacity covers quota/rate-limit failures.
	ErrorCapacity ErrorClass = "capacity"
)

// Classifier sorts a push/pull error into its taxonomy class.
type Classifier func(err error) ErrorClass

// Adapter is the application-side collaborator SyncManager drives: it
// owns collection state, offers locally-dirty outbound records keyed by
// space, and applies decrypted remote records back into application
// state.
type Adapter interface {
	PendingOutbound(collection string) (map[string][]transport.OutboundRecord, error)
	ApplyRemoteRecords(collection string, records []transport.RemoteRecord) error
}

// RemoteChangeHandler fires once per collection that received applied
// remote records during a flush or pull pass.
type RemoteChangeHandler func(collection string)

// AuthErrorHandler fires when a push or pull failure classifies as
// ErrorAuth, so a caller can surface a re-authentication prompt.
type AuthErrorHandler func(collection string, err error)

// QuarantineHandler fires the moment a collection is quarantined.
type QuarantineHandler func(collection string, err error)

// pusher and puller narrow router.Router to what Manager needs, so tests
// can substitute a fake without a real wire RPC client.
type pusher interface {
	Push(ctx context.Context, collection string, bySpace map[string][]transport.OutboundRecord) ([]transport.PushAck, error)
}

type puller interface {
	Pull(ctx context.Context, collection string) ([]transport.RemoteRecord, error)
}

// Config constructs a Manager.
type Config struct {
	Router  interface {
		pusher
		puller
	}
	Adapter Adapter

	// Classify defaults to DefaultClassify if nil.
	Classify Classifier
	// CoalesceWindow is how long SchedulePush waits for more calls before
	// flushing; defaults to 50ms if zero.
	CoalesceWindow time.Duration
	// QuarantineAfter is the number of consecutive permanent failures on
	// the same collection before it's quarantined; defaults to 5 if zero.
	QuarantineAfter int

	OnRemoteChange RemoteChangeHandler
	OnAuthError    AuthErrorHandler
	OnQuarantine   QuarantineHandler
}
