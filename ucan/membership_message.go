package ucan

// EntryType is the membership log entry kind, matching the single-byte
// `t` field of a membership payload.
type EntryType string

const (
	EntryDelegate EntryType = "d"
	EntryAccept   EntryType = "a"
	EntryDecline  EntryType = "x"
	EntryRevoke   EntryType = "r"
)

// CanonicalMembershipMessage builds the exact byte sequence signed over a
// membership log entry:
//
//	"betterbase:membership:v1\0" || type || \0 || spaceId || \0 ||
//	signerDID || \0 || ucan || \0 || signerHandle || \0 || recipientHandle
//
// Every field is fixed, in order; callers must not reorder or omit a
// trailing empty field.
func CanonicalMembershipMessage(entryType EntryType, spaceID, signerDID, ucanToken, signerHandle, recipientHandle string) []byte {
	const prefix = "betterbase:membership:v1"

	parts := []string{prefix, string(entryType), spaceID, signerDID, ucanToken, signerHandle, recipientHandle}

	var out []byte
	for i, p := range parts {
		if i > 0 {
			out = append(out, 0x00)
		}
		out = append(out, p...)
	}
	return out
}

// SigningRole reports which side of a delegation (issuer or audience) must
// have produced the signature for a given entry type.
type SigningRole int

const (
	SignedByIssuer SigningRole = iota
	SignedByAudience
)

// RequiredSigner returns which DID role must match the signer for entryType,
// per spec: delegate/revoke are signed by the UCAN issuer; accept/decline
// by the UCAN audience.
func RequiredSigner(entryType EntryType) SigningRole {
	switch entryType {
	case EntryDelegate, EntryRevoke:
		return SignedByIssuer
	default:
		return SignedByAudience
	}
}
