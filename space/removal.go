package space

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/syncspace/engine/crypto"
	"github.com/syncspace/engine/membership"
	"github.com/syncspace/engine/ucan"
)

var errMemberNotFound = fmt.Errorf("space: member not found")

// RemoveMember implements the admin removal flow: revoke the target's
// UCAN(s), advance the space epoch with set_min_key_generation so the
// server cannot race a concurrent begin under the old epoch, rewrap every
// existing DEK (handled inside RotateSpaceKey), re-append every remaining
// member's entry re-encrypted under the new epoch key, append a signed
// type-r entry, and dispatch a revocation notice sealed with sealEnvelope
// (not a JWE) to the removed member's mailbox.
//
// activeRemovalSpaces is entered before the first server call that could
// trigger a broadcast revocation echoing back to this same caller, and is
// always exited on return — a revocation notice arriving for spaceID while
// this is in flight is recognized as this call's own echo and dropped by
// verifyRevocation.
func (m *Manager) RemoveMember(ctx context.Context, spaceID, targetDID string) error {
	m.removalMu.Lock()
	if m.activeRemovalSpaces[spaceID] {
		m.removalMu.Unlock()
		return fmt.Errorf("space: removal already in progress for %s", spaceID)
	}
	m.activeRemovalSpaces[spaceID] = true
	m.removalMu.Unlock()
	defer func() {
		m.removalMu.Lock()
		delete(m.activeRemovalSpaces, spaceID)
		m.removalMu.Unlock()
	}()

	view, err := m.refreshMembers(ctx, spaceID)
	if err != nil {
		return err
	}
	target, ok := view[targetDID]
	if !ok {
		return errMemberNotFound
	}

	m.mu.RLock()
	oldEpoch := m.spaceEpochs[spaceID]
	oldKey := m.spaceKeys[spaceID]
	m.mu.RUnlock()

	client := m.cfg.MembershipFactory(spaceID)

	// view only keeps the latest UCAN per DID: a member who survived
	// earlier removals has older, still-unexpired UCANs outstanding from
	// before their last re-delegation. Walk the raw log so every one of
	// them gets revoked, not just the newest.
	full, err := client.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("space: list membership for revoke: %w", err)
	}
	cids := membership.CollectUnexpiredUCANCIDs(spaceID, full.Entries, oldKey, targetDID, time.Now(), func(did string) (ed25519.PublicKey, bool) {
		return m.resolveSignerDID(ctx, did)
	})
	for _, cid := range cids {
		if err := client.RevokeUCAN(ctx, cid); err != nil {
			return fmt.Errorf("space: revoke ucan: %w", err)
		}
	}

	newEpoch, newKey, err := m.cfg.Protocol.RotateSpaceKey(ctx, spaceID, oldEpoch, oldKey, true)
	if err != nil {
		return fmt.Errorf("space: rotate after removal: %w", err)
	}

	revokePayload, err := m.signDelegateEntry(spaceID, target.UCAN, ucan.EntryRevoke, target.Handle)
	if err != nil {
		return err
	}
	if err := client.Append(ctx, newKey, revokePayload); err != nil {
		return fmt.Errorf("space: append revoke entry: %w", err)
	}

	for did, member := range view {
		if did == targetDID || member.Status != membership.StatusJoined {
			continue
		}
		reDelegate, err := m.signDelegateEntry(spaceID, member.UCAN, ucan.EntryDelegate, member.Handle)
		if err != nil {
			continue
		}
		if err := client.Append(ctx, newKey, reDelegate); err != nil {
			continue // best-effort: a missed re-delegation just means a slower subsequent refresh
		}
	}

	m.mu.Lock()
	m.spaceKeys[spaceID] = crypto.Clone(newKey)
	m.spaceEpochs[spaceID] = newEpoch
	m.spaceEpochAdvancedAt[spaceID] = time.Now()
	m.mu.Unlock()
	if oldKey != nil {
		crypto.Zero(oldKey)
	}

	if target.Mailbox != "" && len(target.PublicKey) > 0 {
		notice := RevocationNotice{Type: "revocation", SpaceID: spaceID, Epoch: &newEpoch}
		body, err := json.Marshal(notice)
		if err == nil {
			if jwe, err := m.sealEnvelope(target.PublicKey, body); err == nil {
				_, _ = m.cfg.Invitations.CreateInvitation(ctx, target.Mailbox, jwe)
			}
		}
	}

	return nil
}
