package syncmanager

import (
	"errors"

	"github.com/syncspace/engine/crypto"
	"github.com/syncspace/engine/membership"
	"github.com/syncspace/engine/wire"
)

// DefaultClassify sorts an error from a push or pull call using the
// sentinels already defined by the packages under it: an *wire.RPCError
// classifies by its relay-assigned code (mirroring the close codes in
// wire.CloseCode), known permanent/transient sentinels classify
// directly, and anything unrecognized defaults to transient — an
// unclassified failure is assumed to be a network blip, not treated as
// permanent and quarantined on a guess.
func DefaultClassify(err error) ErrorClass {
	var rpcErr *wire.RPCError
	if errors.As(err, &rpcErr) {
		switch rpcErr.Code {
		case "auth_failed", "token_expired", "forbidden":
			return ErrorAuth
		case "too_many_connections", "rate_limited", "pow_required":
			return ErrorCapacity
		case "protocol_error":
			return ErrorPermanent
		}
	}

	switch {
	case errors.Is(err, membership.ErrHashChainBroken),
		errors.Is(err, membership.ErrSignerMismatch),
		errors.Is(err, crypto.ErrDecryptFailed),
		errors.Is(err, crypto.ErrMalformedWrappedDEK),
		errors.Is(err, wire.ErrPayloadTooLarge),
		errors.Is(err, wire.ErrCollectionMismatch):
		return ErrorPermanent
	case errors.Is(err, membership.ErrVersionConflict):
		return ErrorTransient
	}
	return ErrorTransient
}
