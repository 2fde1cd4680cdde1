package space

import (
	"context"
	"crypto/ecdh"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/syncspace/engine/crypto"
	"github.com/syncspace/engine/crypto/formats"
	"github.com/syncspace/engine/crypto/keys"
	"github.com/syncspace/engine/membership"
	"github.com/syncspace/engine/ucan"
)

var (
	errDomainMismatch   = errors.New("space: recipient domain does not match handle")
	errSpaceKeyWrongLen = errors.New("space: invitation key must be 32 bytes")
	errUnknownSpace     = errors.New("space: no local record for space")
)

// Manager owns the registry of activated spaces, the in-memory key/UCAN/
// epoch state for each, and the create/invite/accept/decline/removeMember
// lifecycle. All destroy operations are idempotent.
type Manager struct {
	cfg        Config
	accounts   *cachedAccounts
	signer     ed25519.PrivateKey
	signerJWK  []byte
	encKeyPair *keys.X25519KeyPair
	encPub     []byte

	mu                   sync.RWMutex
	spaceKeys            map[string][]byte
	spaceUCANs           map[string]string
	spaceEpochs          map[string]uint64
	spaceEpochAdvancedAt map[string]time.Time
	spaceRoles           map[string]ucan.Role

	checkInvitationsFlight singleflight.Group
	refreshMembersFlight   singleflight.Group

	removalMu           sync.Mutex
	activeRemovalSpaces map[string]bool
}

// New constructs a Manager. signer is this identity's Ed25519 private key,
// used to sign membership log entries and delegate UCANs; its public half
// is embedded (as a JWK) in every entry this manager signs, so a replaying
// peer can recover the verification key without a separate DID resolution
// step. encKey is this identity's X25519 private key, used to open
// invitation and revocation envelopes addressed to this identity's public
// key (the PublicKey an AccountsService.Lookup resolves for this DID's
// handle); invitations can't be sealed under the space key they carry, nor
// revocation notices under a key the removed member no longer holds, so
// both are sealed to the recipient's own identity key instead.
func New(cfg Config, signer ed25519.PrivateKey, encKey *ecdh.PrivateKey) (*Manager, error) {
	kp, err := keys.NewEd25519KeyPair(signer, "")
	if err != nil {
		return nil, fmt.Errorf("space: wrap signer key: %w", err)
	}
	jwk, err := formats.NewJWKExporter().ExportPublic(kp, crypto.KeyFormatJWK)
	if err != nil {
		return nil, fmt.Errorf("space: export signer jwk: %w", err)
	}

	encKP, encPub, err := newEncryptionIdentity(encKey)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:                  cfg,
		accounts:             newCachedAccounts(cfg.Accounts),
		signer:               signer,
		signerJWK:            jwk,
		encKeyPair:           encKP,
		encPub:               encPub,
		spaceKeys:            make(map[string][]byte),
		spaceUCANs:           make(map[string]string),
		spaceEpochs:          make(map[string]uint64),
		spaceEpochAdvancedAt: make(map[string]time.Time),
		spaceRoles:           make(map[string]ucan.Role),
		activeRemovalSpaces:  make(map[string]bool),
	}, nil
}

// EncryptionPublicKey returns this identity's X25519 public key, the value
// an AccountsService directory entry should publish as RecipientInfo's
// PublicKey so other identities can seal invitations and revocation
// notices addressed to this one.
func (m *Manager) EncryptionPublicKey() []byte {
	return m.encPub
}

// SigningPublicKey returns this identity's Ed25519 public key, the value
// an AccountsService directory entry should publish as RecipientInfo's
// SigningPublicKey so replaying peers can verify entries this identity
// signs without trusting the JWK an entry embeds for itself.
func (m *Manager) SigningPublicKey() ed25519.PublicKey {
	return m.signer.Public().(ed25519.PublicKey)
}

// ResolveSigningKey is the exported form of resolveSignerDID, wired into
// a space's SyncTransport as its edit-chain Identity.Resolve so pull-side
// chain validation can verify a peer's signature the same way membership
// replay does.
func (m *Manager) ResolveSigningKey(ctx context.Context, did string) (ed25519.PublicKey, bool) {
	return m.resolveSignerDID(ctx, did)
}

// resolveSignerDID binds a DID claimed by a membership-log entry to the
// real public key it should have signed with: this identity's own key for
// its own DID, or a directory lookup otherwise. membership.Replay uses
// this instead of trusting a payload's self-embedded signer JWK.
func (m *Manager) resolveSignerDID(ctx context.Context, did string) (ed25519.PublicKey, bool) {
	if did == m.cfg.SelfDID {
		return m.SigningPublicKey(), true
	}
	info, err := m.accounts.LookupDID(ctx, did)
	if err != nil || len(info.SigningPublicKey) != ed25519.PublicKeySize {
		return nil, false
	}
	return ed25519.PublicKey(info.SigningPublicKey), true
}

// PersonalSpaceID returns the space id this identity's own personal space
// was created under, for wiring into router.Config.PersonalSpaceID.
func (m *Manager) PersonalSpaceID() string {
	return m.cfg.PersonalSpaceID
}

// activateSpace registers the space's key material into the in-memory
// tables and wires its transport into the router. The key bytes are
// defensive-copied; the caller's buffer may be reused or zeroed afterward.
func (m *Manager) activateSpace(rec *Record) {
	m.mu.Lock()
	m.spaceKeys[rec.SpaceID] = crypto.Clone(rec.SpaceKey)
	m.spaceUCANs[rec.SpaceID] = rec.UCANChain
	m.spaceEpochs[rec.SpaceID] = rec.Epoch
	m.spaceEpochAdvancedAt[rec.SpaceID] = rec.EpochAdvancedAt
	m.spaceRoles[rec.SpaceID] = rec.Role
	m.mu.Unlock()

	if m.cfg.TransportFactory != nil && m.cfg.Router != nil {
		tr := m.cfg.TransportFactory(rec)
		m.cfg.Router.RegisterSpace(rec.SpaceID, tr)
	}
}

// deactivateSpace reverses activateSpace, zeroing the retained key copy.
func (m *Manager) deactivateSpace(spaceID string) {
	m.mu.Lock()
	if k, ok := m.spaceKeys[spaceID]; ok {
		crypto.Zero(k)
		delete(m.spaceKeys, spaceID)
	}
	delete(m.spaceUCANs, spaceID)
	delete(m.spaceEpochs, spaceID)
	delete(m.spaceEpochAdvancedAt, spaceID)
	delete(m.spaceRoles, spaceID)
	m.mu.Unlock()

	if m.cfg.Router != nil {
		m.cfg.Router.UnregisterSpace(spaceID)
	}
}

// CreateSpace creates a brand-new space: asks the server to mint a space
// id for rootPublicKey, persists an active admin record, activates its
// sync stack, and appends the creator's own type-d membership entry at
// sequence 1.
func (m *Manager) CreateSpace(ctx context.Context, name string, rootPublicKey ed25519.PublicKey, recipientHandle string) (*Record, error) {
	spaceID, err := m.cfg.Invitations.SpaceCreate(ctx, rootPublicKey)
	if err != nil {
		return nil, fmt.Errorf("space: create: %w", err)
	}

	spaceKey, err := crypto.GenerateDEK()
	if err != nil {
		return nil, fmt.Errorf("space: generate space key: %w", err)
	}

	rec := &Record{
		ID:              spaceID,
		SpaceID:         spaceID,
		Name:            name,
		Status:          StatusActive,
		Role:            ucan.RoleAdmin,
		SpaceKey:        spaceKey,
		Epoch:           1,
		EpochAdvancedAt: time.Now(),
	}
	if err := m.cfg.Store.Put(rec); err != nil {
		return nil, err
	}
	m.activateSpace(rec)

	token, err := ucan.Build(m.signer, m.cfg.SelfDID, m.cfg.SelfDID, spaceID, ucan.RoleAdmin, time.Time{})
	if err != nil {
		return nil, fmt.Errorf("space: self-delegate admin ucan: %w", err)
	}

	payload, err := m.signDelegateEntry(spaceID, token, ucan.EntryDelegate, recipientHandle)
	if err != nil {
		return nil, err
	}

	client := m.cfg.MembershipFactory(spaceID)
	if err := client.Append(ctx, spaceKey, payload); err != nil {
		return nil, fmt.Errorf("space: append creator entry: %w", err)
	}

	return rec, nil
}

// signDelegateEntry signs the canonical membership message for a log entry
// and wraps it into a Payload ready for Client.Append. The canonical
// message's DID field is always the token's issuer, not the caller's own
// DID: for delegate/revoke the caller is the issuer, but for accept/decline
// the caller is the audience signing over a token someone else issued, and
// replay recomputes the same message from the token's issuer claim.
func (m *Manager) signDelegateEntry(spaceID, token string, entryType ucan.EntryType, recipientHandle string) (*membership.Payload, error) {
	claims, err := ucan.Parse(token)
	if err != nil {
		return nil, fmt.Errorf("space: parse token for signing: %w", err)
	}

	msg := ucan.CanonicalMembershipMessage(entryType, spaceID, claims.Issuer, token, "", recipientHandle)
	sig := ed25519.Sign(m.signer, msg)

	return &membership.Payload{
		UCAN:            token,
		Type:            entryType,
		Sig:             encodeSig(sig),
		SignerJWK:       json.RawMessage(m.signerJWK),
		SignerHandle:    "",
		RecipientHandle: recipientHandle,
	}, nil
}

func encodeSig(sig []byte) string {
	return base64.RawURLEncoding.EncodeToString(sig)
}

// Invite delegates a UCAN to handle's recipient and sends the invitation
// to their mailbox sealed with sealEnvelope (X25519 ECDH + AES-256-GCM,
// not a JWE). role defaults to "write".
func (m *Manager) Invite(ctx context.Context, spaceID, handle string, role ucan.Role) error {
	if role == "" {
		role = ucan.RoleWrite
	}

	recipient, err := m.accounts.Lookup(ctx, handle)
	if err != nil {
		return fmt.Errorf("space: resolve recipient: %w", err)
	}

	m.mu.RLock()
	spaceKey := m.spaceKeys[spaceID]
	m.mu.RUnlock()
	if spaceKey == nil {
		return errUnknownSpace
	}

	token, err := ucan.Build(m.signer, m.cfg.SelfDID, recipient.DID, spaceID, role, time.Now().Add(365*24*time.Hour))
	if err != nil {
		return fmt.Errorf("space: delegate ucan: %w", err)
	}

	payload, err := m.signDelegateEntry(spaceID, token, ucan.EntryDelegate, handle)
	if err != nil {
		return err
	}
	payload.RecipientPubKey = recipient.PublicKey
	payload.Mailbox = recipient.MailboxID

	client := m.cfg.MembershipFactory(spaceID)
	if err := client.Append(ctx, spaceKey, payload); err != nil {
		return fmt.Errorf("space: append invite entry: %w", err)
	}

	invitation := InvitationPayload{SpaceID: spaceID, SpaceKey: spaceKey, UCANChain: token, Name: ""}
	body, err := json.Marshal(invitation)
	if err != nil {
		return err
	}

	jwe, err := m.sealEnvelope(recipient.PublicKey, body)
	if err != nil {
		return fmt.Errorf("space: seal invitation: %w", err)
	}
	if _, err := m.cfg.Invitations.CreateInvitation(ctx, recipient.MailboxID, jwe); err != nil {
		return fmt.Errorf("space: send invitation: %w", err)
	}
	return nil
}

// Accept activates an invited space record after verifying its key length,
// appending a signed type-a entry, and best-effort deleting the server
// invitation.
func (m *Manager) Accept(ctx context.Context, rec *Record) error {
	if len(rec.SpaceKey) != 32 {
		return errSpaceKeyWrongLen
	}

	token := rec.UCANChain
	payload, err := m.signDelegateEntry(rec.SpaceID, token, ucan.EntryAccept, "")
	if err != nil {
		return err
	}

	client := m.cfg.MembershipFactory(rec.SpaceID)
	if err := client.Append(ctx, rec.SpaceKey, payload); err != nil {
		return fmt.Errorf("space: append accept entry: %w", err)
	}

	rec.Status = StatusActive
	if err := m.cfg.Store.Put(rec); err != nil {
		return err
	}
	m.activateSpace(rec)

	if rec.ServerInvitationID != "" {
		_ = m.cfg.Invitations.DeleteInvitation(ctx, rec.ServerInvitationID)
	}
	return nil
}

// Decline appends a type-x entry, deletes the local record, and best-effort
// deletes the server invitation.
func (m *Manager) Decline(ctx context.Context, rec *Record) error {
	payload, err := m.signDelegateEntry(rec.SpaceID, rec.UCANChain, ucan.EntryDecline, "")
	if err != nil {
		return err
	}

	client := m.cfg.MembershipFactory(rec.SpaceID)
	if err := client.Append(ctx, rec.SpaceKey, payload); err != nil {
		return fmt.Errorf("space: append decline entry: %w", err)
	}

	if err := m.cfg.Store.Delete(rec.SpaceID); err != nil {
		return err
	}
	if rec.ServerInvitationID != "" {
		_ = m.cfg.Invitations.DeleteInvitation(ctx, rec.ServerInvitationID)
	}
	return nil
}

// CheckInvitations is single-flight across concurrent callers: a second
// call while one is pending awaits the same result. For each server
// invitation it distinguishes a revocation notice from an invitation
// payload and applies the appropriate side effect.
func (m *Manager) CheckInvitations(ctx context.Context) error {
	_, err, _ := m.checkInvitationsFlight.Do("check", func() (any, error) {
		return nil, m.checkInvitationsOnce(ctx)
	})
	return err
}

func (m *Manager) checkInvitationsOnce(ctx context.Context) error {
	invitations, err := m.cfg.Invitations.ListInvitations(ctx)
	if err != nil {
		return fmt.Errorf("space: list invitations: %w", err)
	}

	for _, inv := range invitations {
		plain, err := m.openEnvelope(inv.JWE)
		if err != nil {
			continue // undecryptable notice, skip
		}

		var notice RevocationNotice
		if json.Unmarshal(plain, &notice) == nil && notice.Type == "revocation" {
			m.verifyRevocation(notice.SpaceID, notice.Epoch)
			_ = m.cfg.Invitations.DeleteInvitation(ctx, inv.ID)
			continue
		}

		var payload InvitationPayload
		if err := json.Unmarshal(plain, &payload); err != nil {
			continue
		}

		existing, ok := m.cfg.Store.Get(payload.SpaceID)
		if ok && (existing.Status == StatusActive || existing.Status == StatusInvited) {
			continue // already known, not removed: skip
		}

		rec := &Record{
			ID:                 payload.SpaceID,
			SpaceID:            payload.SpaceID,
			Name:               payload.Name,
			Status:             StatusInvited,
			Role:               ucan.RoleWrite,
			SpaceKey:           payload.SpaceKey,
			UCANChain:          payload.UCANChain,
			ServerInvitationID: inv.ID,
		}
		if err := m.cfg.Store.Put(rec); err != nil {
			return err
		}
	}
	return nil
}

// verifyRevocation deactivates local state for a server-broadcast
// revocation, unless the space is currently in the middle of this caller's
// own removeMember call (activeRemovalSpaces), in which case it's a
// false-positive echo and is dropped.
func (m *Manager) verifyRevocation(spaceID string, epoch *uint64) {
	m.removalMu.Lock()
	ownRemoval := m.activeRemovalSpaces[spaceID]
	m.removalMu.Unlock()
	if ownRemoval {
		return
	}

	rec, ok := m.cfg.Store.Get(spaceID)
	if !ok {
		return
	}
	rec.Status = StatusRemoved
	_ = m.cfg.Store.Put(rec)
	m.deactivateSpace(spaceID)
}

// GetMembers returns the cached member view for a space, refreshing it
// single-flight per space if the cache looks stale.
func (m *Manager) GetMembers(ctx context.Context, spaceID string) (membership.MemberView, error) {
	return m.refreshMembers(ctx, spaceID)
}

func (m *Manager) refreshMembers(ctx context.Context, spaceID string) (membership.MemberView, error) {
	v, err, _ := m.refreshMembersFlight.Do(spaceID, func() (any, error) {
		rec, ok := m.cfg.Store.Get(spaceID)
		if !ok {
			return nil, errUnknownSpace
		}

		client := m.cfg.MembershipFactory(spaceID)
		result, err := client.List(ctx, rec.MembershipLogSeq)
		if err != nil {
			return nil, fmt.Errorf("space: list membership: %w", err)
		}
		if len(result.Entries) == 0 && rec.Members != nil {
			return rec.Members, nil
		}

		full, err := client.List(ctx, 0)
		if err != nil {
			return nil, fmt.Errorf("space: list full membership: %w", err)
		}

		m.mu.RLock()
		key := m.spaceKeys[spaceID]
		m.mu.RUnlock()

		view := membership.Replay(spaceID, full.Entries, key, time.Now(), func(did string) (ed25519.PublicKey, bool) {
			return m.resolveSignerDID(ctx, did)
		})
		rec.Members = view
		rec.MembershipLogSeq = uint64(len(full.Entries))
		rec.MetadataVersion = full.MetadataVersion
		_ = m.cfg.Store.Put(rec)
		return view, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(membership.MemberView), nil
}

// InitializeFromSpaces reads every active local record on startup,
// activates its sync stack, and backfills epochAdvancedAt with the current
// time where missing.
func (m *Manager) InitializeFromSpaces() error {
	records, err := m.cfg.Store.List()
	if err != nil {
		return err
	}

	for _, rec := range records {
		if rec.Status != StatusActive {
			continue
		}
		if rec.EpochAdvancedAt.IsZero() {
			rec.EpochAdvancedAt = time.Now()
			_ = m.cfg.Store.Put(rec)
		}
		m.activateSpace(rec)
	}
	return nil
}

// RotateSpaceKey forces a routine key rotation for a space this identity
// administers, independent of a member removal. It shares the advance/
// update-state sequence RemoveMember performs as a side effect of removal,
// without the revoke/re-delegate steps that only apply there.
func (m *Manager) RotateSpaceKey(ctx context.Context, spaceID string) (uint64, error) {
	m.mu.RLock()
	role := m.spaceRoles[spaceID]
	oldEpoch := m.spaceEpochs[spaceID]
	oldKey := m.spaceKeys[spaceID]
	m.mu.RUnlock()

	if role != ucan.RoleAdmin {
		return 0, fmt.Errorf("space: not an admin of %s", spaceID)
	}

	newEpoch, newKey, err := m.cfg.Protocol.RotateSpaceKey(ctx, spaceID, oldEpoch, oldKey, true)
	if err != nil {
		return 0, fmt.Errorf("space: rotate: %w", err)
	}

	m.mu.Lock()
	m.spaceKeys[spaceID] = crypto.Clone(newKey)
	m.spaceEpochs[spaceID] = newEpoch
	m.spaceEpochAdvancedAt[spaceID] = time.Now()
	m.mu.Unlock()
	if oldKey != nil {
		crypto.Zero(oldKey)
	}
	return newEpoch, nil
}

// ShouldRotateSpace reports whether spaceID's admin-held key is due for
// rotation: role==admin and the configured interval has elapsed since the
// last advance.
func (m *Manager) ShouldRotateSpace(spaceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.spaceRoles[spaceID] != ucan.RoleAdmin {
		return false
	}
	advancedAt, ok := m.spaceEpochAdvancedAt[spaceID]
	if !ok {
		return false
	}
	interval := m.cfg.RotationInterval
	if interval <= 0 {
		interval = 30 * 24 * time.Hour
	}
	return time.Since(advancedAt) >= interval
}

// HasSpace reports whether spaceID has an activated in-memory entry,
// satisfying router.SpaceRegistry.
func (m *Manager) HasSpace(spaceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.spaceKeys[spaceID]
	return ok
}

// IsAdmin satisfies router.SpaceRegistry.
func (m *Manager) IsAdmin(spaceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spaceRoles[spaceID] == ucan.RoleAdmin
}

// SpaceEpoch satisfies router.SpaceRegistry.
func (m *Manager) SpaceEpoch(spaceID string) uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.spaceEpochs[spaceID]
}

// ShouldRotate satisfies router.SpaceRegistry.
func (m *Manager) ShouldRotate(spaceID string) bool {
	return m.ShouldRotateSpace(spaceID)
}
