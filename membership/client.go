package membership

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/syncspace/engine/crypto"
)

// membershipAAD returns the AAD binding a membership payload ciphertext to
// its space and chain position: spaceId || 0x00 || str(chainSeq).
func membershipAAD(spaceID string, chainSeq uint64) []byte {
	return []byte(fmt.Sprintf("%s\x00%d", spaceID, chainSeq))
}

// Client drives CAS append and incremental list over a space's membership
// log for one space, encrypting/decrypting payloads under the space's
// current epoch key.
type Client struct {
	spaceID   string
	transport Transport
}

// New constructs a membership Client bound to one space.
func New(spaceID string, transport Transport) *Client {
	return &Client{spaceID: spaceID, transport: transport}
}

// Append encrypts payload under epochKey and appends it to the log with
// CAS, retrying once on a plain version conflict. Hash-chain violations
// are permanent and returned as ErrHashChainBroken.
func (c *Client) Append(ctx context.Context, epochKey []byte, payload *Payload) error {
	err := c.appendOnce(ctx, epochKey, payload)
	if err == ErrVersionConflict {
		err = c.appendOnce(ctx, epochKey, payload)
	}
	return err
}

func (c *Client) appendOnce(ctx context.Context, epochKey []byte, payload *Payload) error {
	existing, err := c.transport.List(ctx, c.spaceID, 0)
	if err != nil {
		return fmt.Errorf("membership: list before append: %w", err)
	}

	var prevHash []byte
	nextSeq := uint64(1)
	if n := len(existing.Entries); n > 0 {
		last := existing.Entries[n-1]
		prevHash = last.EntryHash
		nextSeq = last.ChainSeq + 1
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("membership: marshal payload: %w", err)
	}

	aad := membershipAAD(c.spaceID, nextSeq)
	ciphertext, err := crypto.Seal(epochKey, aad, body)
	if err != nil {
		return fmt.Errorf("membership: encrypt payload: %w", err)
	}

	hash := sha256.Sum256(ciphertext)

	req := AppendRequest{
		ExpectedVersion: nextSeq - 1,
		PrevHash:        prevHash,
		EntryHash:       hash[:],
		Payload:         ciphertext,
	}
	if err := c.transport.Append(ctx, c.spaceID, req); err != nil {
		return err
	}
	return nil
}

// List fetches entries since sinceSeq without decrypting them.
func (c *Client) List(ctx context.Context, sinceSeq uint64) (ListResult, error) {
	return c.transport.List(ctx, c.spaceID, sinceSeq)
}

// RevokeUCAN calls through to the server revocation endpoint for one CID.
func (c *Client) RevokeUCAN(ctx context.Context, ucanCID string) error {
	return c.transport.RevokeUCAN(ctx, c.spaceID, ucanCID)
}

// DecryptPayload decrypts one log entry's ciphertext under epochKey, the
// epoch it was originally encrypted under. Entries encrypted under a
// superseded epoch after a rotation are unreadable by design and should be
// skipped by the caller (see Replay).
func DecryptPayload(spaceID string, entry Entry, epochKey []byte) (*Payload, error) {
	aad := membershipAAD(spaceID, entry.ChainSeq)
	plain, err := crypto.Open(epochKey, aad, entry.Payload)
	if err != nil {
		return nil, err
	}
	var p Payload
	if err := json.Unmarshal(plain, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
