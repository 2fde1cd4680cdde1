package transport

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Identity is the signing key a SyncTransport uses to produce and verify
// edit-chain entries for collections listed in EditChainCollections.
// Signer/DID are only required to push into such a collection; Resolve is
// only required to validate incoming chains on pull, and may be left nil
// if the caller doesn't need pull-side verification (validation then
// fails closed rather than trusting an unsigned chain).
type Identity struct {
	DID    string
	Signer ed25519.PrivateKey

	// Resolve maps a peer DID to the public key that should have signed
	// its edit-chain entries. Absent a resolver, incoming chains cannot
	// be verified and are treated as invalid.
	Resolve func(did string) (ed25519.PublicKey, bool)
}

// EditChainEntry is one signed link attesting that SignerDID's identity
// produced the transition from the view hashed at PrevViewHash to the one
// hashed at ViewHash. PrevHash chains each entry to the one before it, the
// same way membership log entries chain via prev_hash/entry_hash.
type EditChainEntry struct {
	Seq          uint64 `cbor:"seq"`
	PrevHash     []byte `cbor:"prev,omitempty"`
	PrevViewHash []byte `cbor:"pv,omitempty"`
	ViewHash     []byte `cbor:"view"`
	SignerDID    string `cbor:"did"`
	Sig          []byte `cbor:"sig"`
}

func decodeEditChain(raw []byte) ([]EditChainEntry, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var chain []EditChainEntry
	if err := cbor.Unmarshal(raw, &chain); err != nil {
		return nil, fmt.Errorf("transport: decode edit chain: %w", err)
	}
	return chain, nil
}

// editChainLinkHash is the hash of an already-signed entry used as the
// next entry's PrevHash, binding the signature itself into the chain.
func editChainLinkHash(e EditChainEntry) []byte {
	h := sha256.New()
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], e.Seq)
	h.Write(seqBuf[:])
	h.Write(e.PrevHash)
	h.Write(e.PrevViewHash)
	h.Write(e.ViewHash)
	h.Write([]byte(e.SignerDID))
	h.Write(e.Sig)
	return h.Sum(nil)
}

// editChainSigningMessage is the byte string an identity signs to attest
// one entry, covering everything except the signature that will be
// appended to it.
func editChainSigningMessage(spaceID, recordID string, e EditChainEntry) []byte {
	var seqBuf [8]byte
	binary.BigEndian.PutUint64(seqBuf[:], e.Seq)

	msg := make([]byte, 0, len(spaceID)+len(recordID)+len(seqBuf)+len(e.PrevHash)+len(e.PrevViewHash)+len(e.ViewHash)+len(e.SignerDID)+4)
	msg = append(msg, spaceID...)
	msg = append(msg, 0x00)
	msg = append(msg, recordID...)
	msg = append(msg, 0x00)
	msg = append(msg, seqBuf[:]...)
	msg = append(msg, e.PrevHash...)
	msg = append(msg, e.PrevViewHash...)
	msg = append(msg, e.ViewHash...)
	msg = append(msg, e.SignerDID...)
	return msg
}

// appendEditChainEntry diffs prevView (the last-known server view carried
// in the record's meta) against curView (the CRDT view about to be
// pushed), signs a new entry describing that transition, and appends it
// to the chain already CBOR-encoded in existing. It always appends on a
// dirty push rather than skipping unchanged views: a caller only reaches
// here for records Push was actually asked to send.
func appendEditChainEntry(existing []byte, spaceID, recordID string, identity *Identity, prevView, curView []byte) ([]byte, error) {
	chain, err := decodeEditChain(existing)
	if err != nil {
		return nil, err
	}

	var prevLink []byte
	if n := len(chain); n > 0 {
		prevLink = editChainLinkHash(chain[n-1])
	}
	prevViewHash := sha256.Sum256(prevView)
	viewHash := sha256.Sum256(curView)

	entry := EditChainEntry{
		Seq:          uint64(len(chain)) + 1,
		PrevHash:     prevLink,
		PrevViewHash: prevViewHash[:],
		ViewHash:     viewHash[:],
		SignerDID:    identity.DID,
	}
	entry.Sig = ed25519.Sign(identity.Signer, editChainSigningMessage(spaceID, recordID, entry))

	chain = append(chain, entry)
	out, err := cbor.Marshal(chain)
	if err != nil {
		return nil, fmt.Errorf("transport: encode edit chain: %w", err)
	}
	return out, nil
}

// validateEditChain checks both the structural continuity of an embedded
// edit-chain (sequence numbers, link hashes) and, when resolve is
// non-nil, that every entry's signature verifies against the real public
// key for its claimed signer DID. Without a resolver the chain's
// signatures can't be checked, so it is treated as invalid rather than
// trusted on shape alone.
func validateEditChain(raw []byte, spaceID, recordID string, resolve func(did string) (ed25519.PublicKey, bool)) bool {
	chain, err := decodeEditChain(raw)
	if err != nil || len(chain) == 0 {
		return false
	}
	if resolve == nil {
		return false
	}

	var prevLink []byte
	for i, entry := range chain {
		if entry.Seq != uint64(i)+1 {
			return false
		}
		if !bytes.Equal(entry.PrevHash, prevLink) {
			return false
		}

		pub, ok := resolve(entry.SignerDID)
		if !ok || len(pub) != ed25519.PublicKeySize {
			return false
		}
		if !ed25519.Verify(pub, editChainSigningMessage(spaceID, recordID, entry), entry.Sig) {
			return false
		}

		prevLink = editChainLinkHash(entry)
	}
	return true
}
