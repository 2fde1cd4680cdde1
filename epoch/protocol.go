package epoch

import (
	"context"
	"fmt"
	"sync"

	"github.com/syncspace/engine/crypto"
	"github.com/syncspace/engine/metrics"
)

// Protocol drives the begin/rewrap/complete sequence against a Transport,
// guarding against concurrent in-flight rotations for the same space on
// this instance and keeping a rotation history for diagnostics.
type Protocol struct {
	transport Transport

	mu       sync.Mutex
	rotating map[string]bool
	history  map[string][]RotationEvent
}

// New constructs a Protocol bound to transport.
func New(transport Transport) *Protocol {
	return &Protocol{
		transport: transport,
		rotating:  make(map[string]bool),
		history:   make(map[string][]RotationEvent),
	}
}

func (p *Protocol) enter(spaceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rotating[spaceID] {
		return ErrAlreadyRotating
	}
	p.rotating[spaceID] = true
	return nil
}

func (p *Protocol) exit(spaceID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rotating, spaceID)
}

func (p *Protocol) recordHistory(spaceID string, ev RotationEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history[spaceID] = append(p.history[spaceID], ev)
}

// History returns the completed rotation events for a space, oldest first.
func (p *Protocol) History(spaceID string) []RotationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RotationEvent, len(p.history[spaceID]))
	copy(out, p.history[spaceID])
	return out
}

// RotateSpaceKey advances spaceID's epoch by one from oldEpoch, starting
// from the key at oldEpoch. On an epoch_conflict from begin, it either
// help-completes an interrupted admin's rewrap or adopts the server's
// already-completed epoch, then retries its own begin on top when
// setMinKeyGeneration requires it (a revocation must always land its own
// begin, even after adopting). Returns the new epoch and its key; the
// caller commits local state (see CommitLocalState in local_state.go).
func (p *Protocol) RotateSpaceKey(ctx context.Context, spaceID string, oldEpoch uint64, oldKey []byte, setMinKeyGeneration bool) (uint64, []byte, error) {
	if err := p.enter(spaceID); err != nil {
		return 0, nil, err
	}
	defer p.exit(spaceID)

	curEpoch := oldEpoch
	curKey := oldKey
	targetEpoch := curEpoch + 1

	for {
		result, err := p.transport.Begin(ctx, spaceID, targetEpoch, setMinKeyGeneration)
		if err != nil {
			metrics.EpochRotations.WithLabelValues("error").Inc()
			return 0, nil, fmt.Errorf("epoch: begin: %w", err)
		}
		if !result.Conflict {
			break
		}
		metrics.EpochRotations.WithLabelValues("conflict").Inc()

		if result.RewrapEpoch != nil {
			helperKey, _, err := p.rewrapAndComplete(ctx, spaceID, curEpoch, curKey, *result.RewrapEpoch)
			if err != nil {
				metrics.EpochRotations.WithLabelValues("error").Inc()
				return 0, nil, fmt.Errorf("epoch: help complete: %w", err)
			}
			curEpoch = *result.RewrapEpoch
			curKey = helperKey
			targetEpoch = curEpoch + 1
			continue
		}

		// Server already completed the rotation with no rewrap pending:
		// adopt it. If our trigger mandates its own begin (a revocation),
		// retry begin one step past the adopted epoch.
		adopted, err := crypto.ForwardDeriveChain(curKey, spaceID, curEpoch, result.CurrentEpoch)
		if err != nil {
			metrics.EpochRotations.WithLabelValues("error").Inc()
			return 0, nil, err
		}
		curEpoch = result.CurrentEpoch
		curKey = adopted
		if !setMinKeyGeneration {
			metrics.EpochRotations.WithLabelValues("completed").Inc()
			return curEpoch, curKey, nil
		}
		targetEpoch = curEpoch + 1
	}

	newKey, rewrapped, err := p.rewrapAndComplete(ctx, spaceID, curEpoch, curKey, targetEpoch)
	if err != nil {
		metrics.EpochRotations.WithLabelValues("error").Inc()
		return 0, nil, err
	}

	p.recordHistory(spaceID, RotationEvent{FromEpoch: curEpoch, ToEpoch: targetEpoch, Rewrapped: rewrapped})
	metrics.EpochRotations.WithLabelValues("completed").Inc()
	return targetEpoch, newKey, nil
}

// rewrapAndComplete is phases 2 and 3: derive the target key, rewrap every
// wrapped DEK not already at the target epoch, then call complete.
func (p *Protocol) rewrapAndComplete(ctx context.Context, spaceID string, fromEpoch uint64, fromKey []byte, toEpoch uint64) ([]byte, int, error) {
	newKey, err := crypto.ForwardDeriveChain(fromKey, spaceID, fromEpoch, toEpoch)
	if err != nil {
		return nil, 0, err
	}

	deks, err := p.transport.GetDEKs(ctx, spaceID, 0)
	if err != nil {
		return nil, 0, fmt.Errorf("epoch: get deks: %w", err)
	}

	rewrapped := rewrapBatch(spaceID, deks, fromEpoch, fromKey, newKey, toEpoch)

	count := 0
	if len(rewrapped) > 0 {
		n, err := p.transport.RewrapDEKs(ctx, spaceID, rewrapped)
		if err != nil {
			return nil, 0, fmt.Errorf("epoch: rewrap deks: %w", err)
		}
		count = n
	}

	if err := p.transport.Complete(ctx, spaceID, toEpoch); err != nil {
		return nil, 0, fmt.Errorf("epoch: complete: %w", err)
	}

	return newKey, count, nil
}

// rewrapBatch re-wraps every DEK not already at toEpoch. Each DEK's
// current-epoch KEK is forward-derived from the (fromEpoch, fromKey)
// anchor, which covers every prefix a DEK can legitimately carry within one
// rotation step. It is idempotent: re-running against a batch that was
// already fully rewrapped (every prefix == toEpoch) produces an empty
// output batch.
func rewrapBatch(spaceID string, deks []WrappedDEKEntry, fromEpoch uint64, fromKey, toKey []byte, toEpoch uint64) []WrappedDEKEntry {
	var out []WrappedDEKEntry

	for _, d := range deks {
		prefix, err := crypto.PeekWrappedDEKEpoch(d.Wrapped)
		if err != nil {
			continue
		}
		if uint64(prefix) == toEpoch {
			continue
		}

		kek, err := crypto.ForwardDeriveChain(fromKey, spaceID, fromEpoch, uint64(prefix))
		if err != nil {
			continue
		}

		dek, err := crypto.UnwrapDEK(kek, d.Wrapped)
		crypto.Zero(kek)
		if err != nil {
			continue
		}

		newWrapped, err := crypto.WrapDEK(toKey, uint32(toEpoch), dek)
		crypto.Zero(dek)
		if err != nil {
			continue
		}

		out = append(out, WrappedDEKEntry{ID: d.ID, Wrapped: newWrapped})
	}

	return out
}
