package router

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/syncspace/engine/epoch"
	"github.com/syncspace/engine/transport"
)

// maxRotationsPerPull bounds how many spaces get an automatic rotation
// pass triggered from a single pull, so one call can't block on an
// unbounded number of epoch advances.
const maxRotationsPerPull = 3

type spaceEntry struct {
	transport   *transport.SyncTransport
	collections []string
}

// Router is one client's multiplexed view over its personal space and
// every active shared space. It holds no network connection itself — RPC
// is injected via Config.RPC — so it can be driven by any wire transport.
type Router struct {
	personalSpaceID string
	rpc             RPC
	registry        SpaceRegistry
	cursors         CursorStore
	protocol        *epoch.Protocol
	onEpochAdvanced EpochAdvancedHandler
	onRevocation    RevocationHandler

	mu           sync.Mutex
	spaces       map[string]*spaceEntry
	inMemCursors map[string]uint64
}

// New constructs a Router. The personal space transport is registered
// separately via RegisterSpace, mirroring how shared spaces are added
// lazily.
func New(cfg Config) *Router {
	return &Router{
		personalSpaceID: cfg.PersonalSpaceID,
		rpc:             cfg.RPC,
		registry:        cfg.Registry,
		cursors:         cfg.Cursors,
		protocol:        cfg.Protocol,
		onEpochAdvanced: cfg.OnEpochAdvanced,
		onRevocation:    cfg.OnRevocation,
		spaces:          make(map[string]*spaceEntry),
		inMemCursors:    make(map[string]uint64),
	}
}

// RegisterSpace attaches a per-space transport for spaceID, tracking
// collection to route through it. Safe to call again for the same space
// to add more collections.
func (r *Router) RegisterSpace(spaceID string, tr *transport.SyncTransport, collections ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.spaces[spaceID]
	if !ok {
		entry = &spaceEntry{transport: tr}
		r.spaces[spaceID] = entry
	}
	entry.collections = append(entry.collections, collections...)
}

// UnregisterSpace drops a space's transport entirely, e.g. after a
// revocation destroys its sync stack.
func (r *Router) UnregisterSpace(spaceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.spaces, spaceID)
}

func cursorKey(collection, spaceID string) string {
	return collection + "\x00" + spaceID
}

// GetCursor returns the last known cursor for (collection, space).
func (r *Router) GetCursor(collection, spaceID string) uint64 {
	if r.cursors != nil {
		if v, ok := r.cursors.Get(collection, spaceID); ok {
			return v
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inMemCursors[cursorKey(collection, spaceID)]
}

// setCursor advances the cursor for (collection, space), never backward.
func (r *Router) setCursor(collection, spaceID string, cursor uint64) {
	r.mu.Lock()
	if cursor > r.inMemCursors[cursorKey(collection, spaceID)] {
		r.inMemCursors[cursorKey(collection, spaceID)] = cursor
	}
	r.mu.Unlock()
	if r.cursors != nil {
		r.cursors.Set(collection, spaceID, cursor)
	}
}

// getAnyCursor returns the maximum cursor across every collection known
// for spaceID, used to evaluate realtime gap/stale checks where the event
// doesn't name a collection.
func (r *Router) getAnyCursor(spaceID string) uint64 {
	r.mu.Lock()
	entry, ok := r.spaces[spaceID]
	r.mu.Unlock()
	if !ok {
		return 0
	}

	var max uint64
	for _, c := range entry.collections {
		if v := r.GetCursor(c, spaceID); v > max {
			max = v
		}
	}
	return max
}

// activeSpaceIDs returns the personal space followed by every registered
// shared space, in a stable order.
func (r *Router) activeSpaceIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.spaces))
	for id := range r.spaces {
		if id == r.personalSpaceID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return append([]string{r.personalSpaceID}, ids...)
}

// Subscribe builds the subscription vector across every active space and
// dispatches per-space errors to the revocation handler.
func (r *Router) Subscribe(ctx context.Context) ([]SpaceCursorState, error) {
	var subs []SpaceSubscription
	for _, spaceID := range r.activeSpaceIDs() {
		subs = append(subs, SpaceSubscription{ID: spaceID, Since: r.getAnyCursor(spaceID)})
	}

	states, err := r.rpc.Subscribe(ctx, subs)
	if err != nil {
		return nil, fmt.Errorf("router: subscribe: %w", err)
	}

	for _, s := range states {
		if s.Error != "" && r.onRevocation != nil {
			r.onRevocation(s.ID)
		}
	}
	return states, nil
}

// Push groups outbound records by space (default: personal) and dispatches
// each group through its transport, concatenating acks.
func (r *Router) Push(ctx context.Context, collection string, bySpace map[string][]transport.OutboundRecord) ([]transport.PushAck, error) {
	var acks []transport.PushAck

	for spaceID, records := range bySpace {
		if spaceID == "" {
			spaceID = r.personalSpaceID
		}
		r.mu.Lock()
		entry, ok := r.spaces[spaceID]
		r.mu.Unlock()
		if !ok {
			continue
		}

		spaceAcks, _, err := entry.transport.Push(ctx, collection, records)
		if err != nil {
			return acks, err
		}
		acks = append(acks, spaceAcks...)
	}
	return acks, nil
}

// Pull issues a single pull RPC across every active space for collection,
// feeds each space's changes into its transport, advances cursors, and
// runs an automatic rotation pass bounded to maxRotationsPerPull spaces.
func (r *Router) Pull(ctx context.Context, collection string) ([]transport.RemoteRecord, error) {
	var subs []SpaceSubscription
	for _, spaceID := range r.activeSpaceIDs() {
		subs = append(subs, SpaceSubscription{ID: spaceID, Since: r.GetCursor(collection, spaceID)})
	}

	states, err := r.rpc.Pull(ctx, collection, subs)
	if err != nil {
		return nil, fmt.Errorf("router: pull: %w", err)
	}

	var out []transport.RemoteRecord
	rotations := 0

	for _, state := range states {
		r.mu.Lock()
		entry, ok := r.spaces[state.ID]
		r.mu.Unlock()
		if !ok {
			continue
		}

		if state.ID == r.personalSpaceID && state.KeyGeneration > entry.transport.CurrentEpoch() && r.onEpochAdvanced != nil {
			newKey, derr := entry.transport.GetKEKForEpoch(state.KeyGeneration)
			if derr == nil {
				r.onEpochAdvanced(state.KeyGeneration, newKey)
			}
		}

		entry.transport.SetPrepulledChanges(collection, state.Changes[collection], state.Cursor)
		records, _, perr := entry.transport.Pull(collection)
		if perr != nil {
			continue
		}
		out = append(out, records...)
		r.setCursor(collection, state.ID, state.Cursor)

		if state.ID != r.personalSpaceID && r.registry != nil {
			if state.RewrapEpoch != nil && r.registry.IsAdmin(state.ID) && r.protocol != nil {
				// The server is still waiting on this admin to finish a
				// rotation it was interrupted partway through. Drive the
				// same derive/rewrap/epoch.complete sequence the scheduled
				// rotation below uses, not just a local epoch bump, or the
				// server's rewrap_epoch never clears.
				curEpoch := entry.transport.CurrentEpoch()
				curKey, kerr := entry.transport.GetKEKForEpoch(curEpoch)
				if kerr == nil {
					if newEpoch, _, rerr := r.protocol.RotateSpaceKey(ctx, state.ID, curEpoch, curKey, false); rerr == nil {
						entry.transport.UpdateEncryptionEpoch(newEpoch)
					}
				}
			} else if state.KeyGeneration > r.registry.SpaceEpoch(state.ID) {
				entry.transport.UpdateEncryptionEpoch(state.KeyGeneration)
			}
		}
	}

	if r.registry != nil && r.protocol != nil {
		for _, spaceID := range r.activeSpaceIDs() {
			if rotations >= maxRotationsPerPull {
				break
			}
			if spaceID == r.personalSpaceID || !r.registry.IsAdmin(spaceID) || !r.registry.ShouldRotate(spaceID) {
				continue
			}

			r.mu.Lock()
			entry, ok := r.spaces[spaceID]
			r.mu.Unlock()
			if !ok {
				continue
			}

			curEpoch := entry.transport.CurrentEpoch()
			curKey, err := entry.transport.GetKEKForEpoch(curEpoch)
			if err != nil {
				continue
			}
			newEpoch, _, err := r.protocol.RotateSpaceKey(ctx, spaceID, curEpoch, curKey, false)
			if err != nil {
				continue
			}
			entry.transport.UpdateEncryptionEpoch(newEpoch)
			rotations++
		}
	}

	return out, nil
}

// ApplySyncEvent handles one realtime notification: stale events are
// dropped, gapped events fall back to a full pull for every known
// collection, and clean events are decrypted and applied with the cursor
// advanced across all of the space's collections.
func (r *Router) ApplySyncEvent(ctx context.Context, event *transport.SyncEvent, controller transport.Controller) error {
	r.mu.Lock()
	entry, ok := r.spaces[event.SpaceID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	cursor := r.getAnyCursor(event.SpaceID)

	if event.Seq <= cursor {
		return nil // stale
	}
	if event.Prev != cursor {
		for _, c := range entry.collections {
			if _, err := r.Pull(ctx, c); err != nil {
				return err
			}
		}
		return nil
	}

	ok2, err := entry.transport.DecryptAndApply(event, entry.collections, controller)
	if err != nil {
		return err
	}
	if !ok2 {
		for _, c := range entry.collections {
			if _, err := r.Pull(ctx, c); err != nil {
				return err
			}
		}
		return nil
	}

	for _, c := range entry.collections {
		r.setCursor(c, event.SpaceID, event.Seq)
	}
	return nil
}
