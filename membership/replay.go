package membership

import (
	"crypto/ed25519"
	"encoding/base64"
	"time"

	"github.com/syncspace/engine/ucan"
)

// DIDResolver maps a DID to the real ed25519 public key that DID signs
// with. Replay and CollectUnexpiredUCANCIDs use it to verify that a
// membership-log entry was actually signed by the DID it claims to be
// signed by, rather than trusting the signer key an entry embeds for
// itself.
type DIDResolver func(did string) (ed25519.PublicKey, bool)

// Replay decrypts and validates every entry in order, building a
// MemberView. Entries that fail to decrypt or parse (because they were
// encrypted under an epoch key the caller no longer holds) are skipped
// silently — this is expected after a rotation, by design of forward
// secrecy. Entries whose signature does not match the role required for
// their entry type are also skipped, and resolve must actually produce
// the required signer's key: an entry is never trusted on the strength
// of a key it embeds for itself.
//
// Replaying the same log twice, regardless of any reordering of entries
// that raced at append time but share no causal dependency, produces the
// same MemberView: the computation is a pure fold over chain_seq order.
func Replay(spaceID string, entries []Entry, epochKey []byte, now time.Time, resolve DIDResolver) MemberView {
	view := make(MemberView)

	for _, entry := range entries {
		payload, err := DecryptPayload(spaceID, entry, epochKey)
		if err != nil {
			continue
		}

		claims, err := ucan.Parse(payload.UCAN)
		if err != nil {
			continue
		}
		if ucan.IsExpired(claims, now) {
			continue
		}

		requiredDID := claims.Issuer
		if ucan.RequiredSigner(payload.Type) == ucan.SignedByAudience {
			requiredDID = audienceDID(claims)
		}
		if resolve == nil {
			continue
		}
		signerPub, ok := resolve(requiredDID)
		if !ok {
			continue
		}

		msg := ucan.CanonicalMembershipMessage(payload.Type, spaceID, claims.Issuer, payload.UCAN, payload.SignerHandle, payload.RecipientHandle)
		sig, err := base64.RawURLEncoding.DecodeString(payload.Sig)
		if err != nil {
			continue
		}
		if !ed25519.Verify(signerPub, msg, sig) {
			continue
		}

		if claims.Issuer == audienceDID(claims) {
			// Self-issued: requiredDID above already resolved to the
			// issuer's key in this case, so reuse it to verify the
			// UCAN JWT's own signature too.
			if _, err := ucan.Verify(payload.UCAN, signerPub); err != nil {
				continue
			}
		}

		applyEntry(view, claims, payload)
	}

	return view
}

func audienceDID(claims *ucan.Claims) string {
	if len(claims.Audience) == 0 {
		return ""
	}
	return claims.Audience[0]
}

// applyEntry folds one valid entry into view, honoring the status
// precedence revoked > declined > joined > pending.
func applyEntry(view MemberView, claims *ucan.Claims, payload *Payload) {
	aud := audienceDID(claims)

	switch payload.Type {
	case ucan.EntryDelegate:
		m := view[aud]
		if m.Status == StatusRevoked || m.Status == StatusDeclined {
			return
		}
		m.DID = aud
		m.Role = claims.Role
		m.UCAN = payload.UCAN
		m.Handle = payload.RecipientHandle
		if payload.Mailbox != "" {
			m.Mailbox = payload.Mailbox
		}
		if len(payload.RecipientPubKey) > 0 {
			m.PublicKey = payload.RecipientPubKey
		}
		if m.Status == "" {
			m.Status = StatusPending
		}
		if claims.Issuer == aud {
			m.Status = StatusJoined
		}
		view[aud] = m

	case ucan.EntryAccept:
		m := view[aud]
		if m.Status == StatusRevoked || m.Status == StatusDeclined {
			return
		}
		m.Status = StatusJoined
		view[aud] = m

	case ucan.EntryDecline:
		m := view[aud]
		if m.Status == StatusRevoked {
			return
		}
		m.Status = StatusDeclined
		view[aud] = m

	case ucan.EntryRevoke:
		m := view[aud]
		m.Status = StatusRevoked
		view[aud] = m
	}
}

// CollectUnexpiredUCANCIDs walks the raw log (not a folded MemberView,
// which only keeps the latest UCAN per DID) and returns the CID of every
// still-unexpired delegate entry issued to targetDID. A member who has
// survived N prior removals has N UCANs outstanding across the log, not
// just the newest one, and every one of them needs revoking.
func CollectUnexpiredUCANCIDs(spaceID string, entries []Entry, epochKey []byte, targetDID string, now time.Time, resolve DIDResolver) []string {
	var cids []string

	for _, entry := range entries {
		payload, err := DecryptPayload(spaceID, entry, epochKey)
		if err != nil {
			continue
		}
		if payload.Type != ucan.EntryDelegate {
			continue
		}

		claims, err := ucan.Parse(payload.UCAN)
		if err != nil {
			continue
		}
		if audienceDID(claims) != targetDID {
			continue
		}
		if ucan.IsExpired(claims, now) {
			continue
		}

		if resolve != nil {
			issuerPub, ok := resolve(claims.Issuer)
			if !ok {
				continue
			}
			msg := ucan.CanonicalMembershipMessage(payload.Type, spaceID, claims.Issuer, payload.UCAN, payload.SignerHandle, payload.RecipientHandle)
			sig, err := base64.RawURLEncoding.DecodeString(payload.Sig)
			if err != nil || !ed25519.Verify(issuerPub, msg, sig) {
				continue
			}
		}

		cids = append(cids, ucan.CID(payload.UCAN))
	}

	return cids
}
