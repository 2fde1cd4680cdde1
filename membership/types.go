// Package membership implements the client-side access library over a
// space's hash-chained membership log: CAS append, incremental list, and
// replay into a member view. Authorization lives in UCAN capability
// tokens and signatures carried inside each entry's plaintext payload —
// the chain itself is only an integrity structure.
package membership

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/syncspace/engine/ucan"
)

var (
	// ErrVersionConflict is a retryable CAS failure on append (someone
	// else appended first, but the hash chain is still intact).
	ErrVersionConflict = errors.New("membership: version conflict")
	// ErrHashChainBroken is a permanent CAS failure: the server's view of
	// prev_hash/entry_hash does not form a valid chain.
	ErrHashChainBroken = errors.New("membership: hash chain broken")
	// ErrSignerMismatch reports an entry whose signature does not match the
	// DID required for its entry type. Replay does not return it: it skips
	// such entries.
	ErrSignerMismatch = errors.New("membership: signer mismatch")
)

// Entry is one hash-chained log record as stored and listed by the server.
// Payload is AEAD ciphertext; Plaintext fields only exist after decrypt.
type Entry struct {
	ChainSeq  uint64
	PrevHash  []byte
	EntryHash []byte
	Payload   []byte
}

// Payload is the decrypted plaintext body of a membership log entry.
type Payload struct {
	UCAN            string          `json:"u"`
	Type            ucan.EntryType  `json:"t"`
	Sig             string          `json:"s"`
	SignerJWK       json.RawMessage `json:"p"`
	Epoch           *uint64         `json:"e,omitempty"`
	Mailbox         string          `json:"m,omitempty"`
	RecipientPubKey []byte          `json:"k,omitempty"`
	SignerHandle    string          `json:"n,omitempty"`
	RecipientHandle string          `json:"rn,omitempty"`
}

// AppendRequest is the CAS append call sent to the server.
type AppendRequest struct {
	ExpectedVersion uint64
	PrevHash        []byte
	EntryHash       []byte
	Payload         []byte
}

// ListResult is the server's response to a list call.
type ListResult struct {
	Entries        []Entry
	MetadataVersion uint64
}

// Transport is the server-side access surface a Client drives. An
// implementation typically sits on top of the wire RPC methods
// `membership.append`, `membership.list`, `membership.revoke`.
type Transport interface {
	Append(ctx context.Context, spaceID string, req AppendRequest) error
	List(ctx context.Context, spaceID string, sinceSeq uint64) (ListResult, error)
	RevokeUCAN(ctx context.Context, spaceID, ucanCID string) error
}

// MemberStatus is the computed status of one audience DID in a space.
type MemberStatus string

const (
	StatusPending MemberStatus = "pending"
	StatusJoined  MemberStatus = "joined"
	StatusDeclined MemberStatus = "declined"
	StatusRevoked MemberStatus = "revoked"
)

// Member is one row of a computed MemberView.
type Member struct {
	DID       string
	Role      ucan.Role
	UCAN      string
	Handle    string
	Mailbox   string
	PublicKey []byte
	Status    MemberStatus
}

// MemberView is the result of replaying a membership log.
type MemberView map[string]Member
