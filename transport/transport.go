// Package transport implements the per-space sync transport: envelope and
// DEK lifecycle for push/pull/realtime record exchange over one space. It
// owns no network connection of its own — the multi-space router feeds it
// wire changes and consumes the records it produces.
package transport

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/syncspace/engine/crypto"
	"github.com/syncspace/engine/wire"
)

// ErrPayloadTooLarge is the error Push records in a record's PushFailure
// when its envelope exceeds the largest configured padding bucket; that
// record is skipped and the rest of the batch is still sent.
var ErrPayloadTooLarge = wire.ErrPayloadTooLarge

// OutboundRecord is one locally-dirty record offered to Push.
type OutboundRecord struct {
	ID             string
	Deleted        bool
	Envelope       wire.RecordEnvelope
	ExpectedCursor uint64

	// LastServerView is the CRDT view last seen from the server for this
	// record (RemoteRecord.LastServerView from the prior pull), used as
	// the diff baseline for edit-chain collections. Leave nil for a
	// record the caller has never pulled before.
	LastServerView []byte
}

// PushAck is returned by the push_fn for a record that was accepted.
type PushAck struct {
	ID     string
	Cursor uint64
}

// PushFailure records a per-record encryption failure that did not abort
// the batch.
type PushFailure struct {
	ID  string
	Err error
}

// RemoteRecord is a decrypted record produced by Pull or DecryptAndApply.
type RemoteRecord struct {
	ID              string
	Collection      string
	Version         int
	CRDT            []byte
	Deleted         bool
	EditChainValid  bool
	LastServerView  []byte
}

// PullFailure records a per-record decryption failure that did not abort
// the batch.
type PullFailure struct {
	ID  string
	Err error
}

// PushFunc delivers an already-encrypted batch for one collection to the
// wire layer and returns the acks the relay assigned.
type PushFunc func(ctx context.Context, collection string, changes []wire.WrappedChange) ([]PushAck, error)

// EpochConfig seeds the forward KEK derivation cache.
type EpochConfig struct {
	EpochKey  []byte
	BaseEpoch uint64
}

// SyncEvent is a realtime notification for one space.
type SyncEvent struct {
	SpaceID string
	Prev    uint64
	Seq     uint64
	Changes []wire.WrappedChange
}

// Controller is the adapter-side callback surface invoked by DecryptAndApply.
type Controller interface {
	ApplyRemoteRecords(collection string, records []RemoteRecord, seq uint64) error
}

// Config constructs a SyncTransport.
type Config struct {
	SpaceID              string
	PaddingBuckets       []int
	Epoch                *EpochConfig
	PushFn               PushFunc
	Identity             *Identity
	EditChainCollections map[string]bool
}

// SyncTransport handles one space's envelope + DEK lifecycle. It is built
// with a push_fn closure rather than a direct network handle so the
// router/transport dependency is one-directional.
type SyncTransport struct {
	spaceID              string
	paddingBuckets       []int
	pushFn               PushFunc
	identity             *Identity
	editChainCollections map[string]bool

	mu           sync.Mutex
	baseEpoch    uint64
	baseKEK      []byte
	currentEpoch uint64
	derived      map[uint64][]byte

	prepulledMu  sync.Mutex
	prepulled    map[string][]wire.WrappedChange // keyed by collection
	serverCursor uint64
}

// New constructs a SyncTransport for one space. If cfg.Epoch is set, the
// epoch key bytes are defensive-copied into a privately owned buffer —
// the caller's buffer may be zeroed immediately after this call returns.
func New(cfg Config) *SyncTransport {
	t := &SyncTransport{
		spaceID:              cfg.SpaceID,
		paddingBuckets:       cfg.PaddingBuckets,
		pushFn:               cfg.PushFn,
		identity:             cfg.Identity,
		editChainCollections: cfg.EditChainCollections,
		derived:              make(map[uint64][]byte),
		prepulled:            make(map[string][]wire.WrappedChange),
	}
	if cfg.Epoch != nil {
		t.baseEpoch = cfg.Epoch.BaseEpoch
		t.baseKEK = crypto.Clone(cfg.Epoch.EpochKey)
		t.currentEpoch = cfg.Epoch.BaseEpoch
		t.derived[t.baseEpoch] = crypto.Clone(t.baseKEK)
	}
	return t
}

// UpdateEncryptionEpoch advances the epoch used for new encryptions,
// independent of the base epoch the forward cache anchors from. It only
// moves forward.
func (t *SyncTransport) UpdateEncryptionEpoch(e uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e > t.currentEpoch {
		t.currentEpoch = e
	}
}

// CurrentEpoch returns the epoch new pushes are encrypted under.
func (t *SyncTransport) CurrentEpoch() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentEpoch
}

// getKEKForEpoch returns the KEK at epoch e, deriving forward from the
// nearest cached ancestor and caching each intermediate step. Must be
// called with t.mu held.
func (t *SyncTransport) getKEKForEpoch(e uint64) ([]byte, error) {
	if e < t.baseEpoch {
		return nil, crypto.ErrBackwardDerivation
	}
	if e-t.baseEpoch > crypto.MaxEpochGap {
		return nil, crypto.ErrEpochGapTooLarge
	}
	if k, ok := t.derived[e]; ok {
		return k, nil
	}

	// Find the highest cached ancestor <= e.
	var ancestor uint64
	var ancestorKey []byte
	for k, v := range t.derived {
		if k <= e && k >= ancestor {
			ancestor = k
			ancestorKey = v
		}
	}
	if ancestorKey == nil {
		ancestor = t.baseEpoch
		ancestorKey = t.baseKEK
	}

	cur := crypto.Clone(ancestorKey)
	for step := ancestor + 1; step <= e; step++ {
		next, err := crypto.DeriveEpochKey(cur, t.spaceID, step)
		if err != nil {
			return nil, err
		}
		cur = next
		t.derived[step] = crypto.Clone(cur)
	}
	return cur, nil
}

// GetKEKForEpoch is the exported, locked form of getKEKForEpoch.
func (t *SyncTransport) GetKEKForEpoch(e uint64) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getKEKForEpoch(e)
}

func recordAAD(spaceID, recordID string) []byte {
	aad := make([]byte, 0, len(spaceID)+1+len(recordID))
	aad = append(aad, spaceID...)
	aad = append(aad, 0x00)
	aad = append(aad, recordID...)
	return aad
}

// Push encrypts and forwards a batch of outbound records for one
// collection. Per-record encryption failures are isolated and do not abort
// the batch; the returned failures report which ids were dropped.
func (t *SyncTransport) Push(ctx context.Context, collection string, outbound []OutboundRecord) ([]PushAck, []PushFailure, error) {
	var changes []wire.WrappedChange
	var failures []PushFailure

	t.mu.Lock()
	epoch := t.currentEpoch
	kek, kekErr := t.getKEKForEpoch(epoch)
	t.mu.Unlock()

	for _, rec := range outbound {
		if rec.Deleted {
			changes = append(changes, wire.WrappedChange{
				ID:             rec.ID,
				Deleted:        true,
				ExpectedCursor: rec.ExpectedCursor,
			})
			continue
		}

		if kekErr != nil {
			failures = append(failures, PushFailure{ID: rec.ID, Err: kekErr})
			continue
		}

		change, err := t.encryptRecord(collection, &rec, epoch, kek)
		if err != nil {
			failures = append(failures, PushFailure{ID: rec.ID, Err: err})
			continue
		}
		changes = append(changes, *change)
	}

	if len(changes) == 0 {
		return nil, failures, nil
	}
	if t.pushFn == nil {
		return nil, failures, errors.New("transport: no push function configured")
	}
	acks, err := t.pushFn(ctx, collection, changes)
	if err != nil {
		return nil, failures, err
	}
	return acks, failures, nil
}

func (t *SyncTransport) encryptRecord(collection string, rec *OutboundRecord, epoch uint64, kek []byte) (*wire.WrappedChange, error) {
	rec.Envelope.Collection = collection

	if t.identity != nil && t.editChainCollections[collection] {
		chain, err := appendEditChainEntry([]byte(rec.Envelope.EditChain), t.spaceID, rec.ID, t.identity, rec.LastServerView, rec.Envelope.CRDT)
		if err != nil {
			return nil, fmt.Errorf("transport: sign edit chain: %w", err)
		}
		rec.Envelope.EditChain = cbor.RawMessage(chain)
	}

	body, err := wire.EncodeRecordEnvelope(&rec.Envelope)
	if err != nil {
		return nil, fmt.Errorf("transport: encode envelope: %w", err)
	}

	padded, err := wire.Pad(body, t.paddingBuckets)
	if err != nil {
		return nil, err
	}

	dek, err := crypto.GenerateDEK()
	if err != nil {
		return nil, fmt.Errorf("transport: generate dek: %w", err)
	}
	defer crypto.Zero(dek)

	aad := recordAAD(t.spaceID, rec.ID)
	blob, err := crypto.Seal(dek, aad, padded)
	if err != nil {
		return nil, fmt.Errorf("transport: seal: %w", err)
	}

	wrappedDEK, err := crypto.WrapDEK(kek, uint32(epoch), dek)
	if err != nil {
		return nil, fmt.Errorf("transport: wrap dek: %w", err)
	}

	return &wire.WrappedChange{
		ID:             rec.ID,
		Blob:           blob,
		WrappedDEK:     wrappedDEK,
		ExpectedCursor: rec.ExpectedCursor,
	}, nil
}

// SetPrepulledChanges deposits the wire changes the router already fetched
// for a collection, to be consumed by the next Pull call. This is the only
// way changes reach Pull — the transport never calls the network itself.
func (t *SyncTransport) SetPrepulledChanges(collection string, changes []wire.WrappedChange, serverCursor uint64) {
	t.prepulledMu.Lock()
	defer t.prepulledMu.Unlock()
	t.prepulled[collection] = changes
	t.serverCursor = serverCursor
}

// Pull consumes the changes previously deposited by SetPrepulledChanges for
// collection, decrypting each into a RemoteRecord. Decryption failures are
// isolated per record.
func (t *SyncTransport) Pull(collection string) ([]RemoteRecord, []PullFailure, error) {
	t.prepulledMu.Lock()
	changes := t.prepulled[collection]
	delete(t.prepulled, collection)
	t.prepulledMu.Unlock()

	var records []RemoteRecord
	var failures []PullFailure

	for _, ch := range changes {
		rec, err := t.decryptChange(collection, ch)
		if err != nil {
			failures = append(failures, PullFailure{ID: ch.ID, Err: err})
			continue
		}
		records = append(records, *rec)
	}
	return records, failures, nil
}

func (t *SyncTransport) decryptChange(collection string, ch wire.WrappedChange) (*RemoteRecord, error) {
	if ch.Deleted || ch.Blob == nil {
		return &RemoteRecord{ID: ch.ID, Collection: collection, Deleted: true}, nil
	}

	epoch, err := crypto.PeekWrappedDEKEpoch(ch.WrappedDEK)
	if err != nil {
		return nil, err
	}

	kek, err := t.GetKEKForEpoch(uint64(epoch))
	if err != nil {
		return nil, err
	}

	dek, err := crypto.UnwrapDEK(kek, ch.WrappedDEK)
	if err != nil {
		return nil, fmt.Errorf("transport: unwrap dek: %w", err)
	}
	defer crypto.Zero(dek)

	aad := recordAAD(t.spaceID, ch.ID)
	padded, err := crypto.Open(dek, aad, ch.Blob)
	if err != nil {
		return nil, err
	}

	body, err := wire.Unpad(padded)
	if err != nil {
		return nil, err
	}

	env, err := wire.DecodeRecordEnvelope(body, collection)
	if err != nil {
		return nil, err
	}

	editChainValid := false
	if len(env.EditChain) > 0 {
		editChainValid = validateEditChain(env.EditChain, t.spaceID, ch.ID, t.resolveSigner)
	}

	return &RemoteRecord{
		ID:             ch.ID,
		Collection:     env.Collection,
		Version:        env.Version,
		CRDT:           env.CRDT,
		Deleted:        false,
		EditChainValid: editChainValid,
		LastServerView: env.CRDT,
	}, nil
}

// DecryptAndApply decrypts every record in a realtime event and hands them
// to the controller grouped by collection membership inferred from each
// decrypted envelope. On any per-record decryption failure it aborts and
// returns false, signaling the router should fall back to a full pull; it
// does not itself reason about gap/stale sequence numbers.
func (t *SyncTransport) DecryptAndApply(event *SyncEvent, knownCollections []string, controller Controller) (bool, error) {
	byCollection := make(map[string][]RemoteRecord)

	for _, ch := range event.Changes {
		rec, err := t.decryptAnyCollection(ch)
		if err != nil {
			return false, nil
		}
		byCollection[rec.Collection] = append(byCollection[rec.Collection], *rec)
	}

	known := make(map[string]bool, len(knownCollections))
	for _, c := range knownCollections {
		known[c] = true
	}

	for collection, records := range byCollection {
		if !known[collection] {
			continue
		}
		if err := controller.ApplyRemoteRecords(collection, records, event.Seq); err != nil {
			return false, err
		}
	}
	return true, nil
}

// decryptAnyCollection decrypts a change without asserting an expected
// collection, used by realtime application where the collection is
// discovered from the envelope itself.
func (t *SyncTransport) decryptAnyCollection(ch wire.WrappedChange) (*RemoteRecord, error) {
	if ch.Deleted || ch.Blob == nil {
		return &RemoteRecord{ID: ch.ID, Deleted: true}, nil
	}

	epoch, err := crypto.PeekWrappedDEKEpoch(ch.WrappedDEK)
	if err != nil {
		return nil, err
	}
	kek, err := t.GetKEKForEpoch(uint64(epoch))
	if err != nil {
		return nil, err
	}
	dek, err := crypto.UnwrapDEK(kek, ch.WrappedDEK)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(dek)

	aad := recordAAD(t.spaceID, ch.ID)
	padded, err := crypto.Open(dek, aad, ch.Blob)
	if err != nil {
		return nil, err
	}
	body, err := wire.Unpad(padded)
	if err != nil {
		return nil, err
	}
	env, err := wire.DecodeRecordEnvelope(body, "")
	if err != nil {
		return nil, err
	}

	editChainValid := false
	if len(env.EditChain) > 0 {
		editChainValid = validateEditChain(env.EditChain, t.spaceID, ch.ID, t.resolveSigner)
	}

	return &RemoteRecord{
		ID:             ch.ID,
		Collection:     env.Collection,
		Version:        env.Version,
		CRDT:           env.CRDT,
		EditChainValid: editChainValid,
		LastServerView: env.CRDT,
	}, nil
}

// resolveSigner is the edit-chain signer resolver bound to this
// transport's configured identity, nil-safe when none is configured.
func (t *SyncTransport) resolveSigner(did string) (ed25519.PublicKey, bool) {
	if t.identity == nil || t.identity.Resolve == nil {
		return nil, false
	}
	return t.identity.Resolve(did)
}
