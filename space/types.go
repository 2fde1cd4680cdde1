// Package space implements the space manager: the registry of activated
// spaces, their in-memory key/role/epoch state, and the create / invite /
// accept / decline / removeMember lifecycle described for a multi-tenant
// sync engine. It orchestrates the membership, epoch, and transport
// packages the way a top-level manager coordinates sub-registries owning
// one concern each.
package space

import (
	"context"
	"time"

	"github.com/syncspace/engine/epoch"
	"github.com/syncspace/engine/membership"
	"github.com/syncspace/engine/router"
	"github.com/syncspace/engine/transport"
	"github.com/syncspace/engine/ucan"
)

// Status is the lifecycle state of a local space record.
type Status string

const (
	StatusActive  Status = "active"
	StatusInvited Status = "invited"
	StatusRemoved Status = "removed"
)

// Record is the persisted shape of one space, mirroring the `spaces` table.
type Record struct {
	ID                string
	SpaceID           string
	Name              string
	Status            Status
	Role              ucan.Role
	SpaceKey          []byte
	UCANChain         string
	RootPublicKey     []byte
	Epoch             uint64
	EpochAdvancedAt   time.Time
	Members           membership.MemberView
	MembershipLogSeq  uint64
	MetadataVersion   uint64
	RewrapEpoch       *uint64
	ServerInvitationID string
}

// Store is the persistence boundary the manager reads/writes space records
// through. Implementations range from an in-memory map (tests) to a
// pgx-backed table (production).
type Store interface {
	Get(spaceID string) (*Record, bool)
	Put(rec *Record) error
	List() ([]*Record, error)
	Delete(spaceID string) error
}

// RecipientInfo is what the accounts service returns for a handle.
type RecipientInfo struct {
	DID              string
	PublicKey        []byte
	SigningPublicKey []byte
	MailboxID        string
}

// AccountsService resolves a handle to a recipient's public key and mailbox,
// with a caller-side cache around it (cachedAccounts in accounts.go) that
// keeps each resolved entry for 5 minutes; that cache has no size cap and
// does not evict by recency. LookupDID is the reverse direction,
// used to bind a DID found in a membership-log entry to the real signing
// key that DID should have used, rather than trusting whatever key the
// entry embeds for itself.
type AccountsService interface {
	Lookup(ctx context.Context, handle string) (*RecipientInfo, error)
	LookupDID(ctx context.Context, did string) (*RecipientInfo, error)
}

// InvitationTransport is the subset of the wire RPC surface create/accept/
// decline/checkInvitations drive.
type InvitationTransport interface {
	CreateInvitation(ctx context.Context, mailbox string, jwePayload []byte) (invitationID string, err error)
	ListInvitations(ctx context.Context) ([]ServerInvitation, error)
	DeleteInvitation(ctx context.Context, invitationID string) error
	SpaceCreate(ctx context.Context, rootPublicKey []byte) (spaceID string, err error)
}

// ServerInvitation is one entry returned by ListInvitations: an opaque
// envelope sealed by sealEnvelope (X25519 ECDH + AES-256-GCM, not a JWE)
// that the caller opens with its own private key.
type ServerInvitation struct {
	ID      string
	JWE     []byte
	Mailbox string
}

// RevocationNotice is the decrypted shape of a server-delivered revocation,
// distinguished from an invitation payload by its "type" discriminator.
type RevocationNotice struct {
	Type    string
	SpaceID string
	Epoch   *uint64
}

// InvitationPayload is the decrypted shape of a space invitation.
type InvitationPayload struct {
	SpaceID   string
	SpaceKey  []byte
	UCANChain string
	Name      string
}

// TransportFactory builds (or looks up) the per-space SyncTransport backing
// a space record, wired with the router so Push/Pull can reach the wire.
type TransportFactory func(rec *Record) *transport.SyncTransport

// Config constructs a Manager.
type Config struct {
	SelfDID           string
	PersonalSpaceID   string
	Store             Store
	Router            *router.Router
	Protocol          *epoch.Protocol
	MembershipFactory func(spaceID string) *membership.Client
	Accounts          AccountsService
	Invitations       InvitationTransport
	TransportFactory  TransportFactory
	RotationInterval  time.Duration
}
