// Package ucan builds, parses, and verifies the capability tokens that
// authorize membership-log operations on a space: a delegation from an
// issuer DID to an audience DID for a role on a specific space resource.
package ucan

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the capability granted by a UCAN over a space resource.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleWrite Role = "write"
	RoleRead  Role = "read"
)

var (
	// ErrInvalidCapability is returned when a UCAN's resource/action shape
	// doesn't match the expected "/space/<role>" capability.
	ErrInvalidCapability = errors.New("ucan: invalid capability")
	// ErrUnknownSigningMethod is returned when a token's alg header isn't
	// the EdDSA method this package signs with.
	ErrUnknownSigningMethod = errors.New("ucan: unexpected signing method")
)

// Claims is the JWT claim set of a UCAN delegating a role over a space
// from Issuer to Audience.
type Claims struct {
	jwt.RegisteredClaims
	SpaceID string `json:"space_id"`
	Role    Role   `json:"role"`
}

// capabilityResource returns the "/space/<role>" resource string embedded
// as the JWT subject, mirroring how a real UCAN attenuates a capability.
func capabilityResource(role Role) string {
	return fmt.Sprintf("/space/%s", role)
}

// Build signs a UCAN JWT delegating role over spaceID from issuerDID to
// audienceDID, expiring at exp (zero means no expiry). signer must hold an
// Ed25519 private key.
func Build(signer ed25519.PrivateKey, issuerDID, audienceDID, spaceID string, role Role, exp time.Time) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuerDID,
			Subject:   capabilityResource(role),
			Audience:  jwt.ClaimStrings{audienceDID},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
		SpaceID: spaceID,
		Role:    role,
	}
	if !exp.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(exp)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(signer)
}

// Parse decodes a UCAN's claims without verifying its signature. Use
// Verify when the issuer's public key is available.
func Parse(tokenString string) (*Claims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	var claims Claims
	_, _, err := parser.ParseUnverified(tokenString, &claims)
	if err != nil {
		return nil, fmt.Errorf("ucan: parse: %w", err)
	}
	return &claims, nil
}

// Verify parses and verifies a UCAN's signature against the issuer's
// Ed25519 public key, returning its claims on success. It does not check
// expiry — callers that need a liveness check use IsExpired separately, to
// match the membership-replay semantics of dropping expired entries from
// the view rather than failing verification outright.
func Verify(tokenString string, issuerPubKey ed25519.PublicKey) (*Claims, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, ErrUnknownSigningMethod
		}
		return issuerPubKey, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, fmt.Errorf("ucan: verify: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("ucan: token invalid")
	}
	return &claims, nil
}

// IsExpired reports whether claims carries a non-zero expiry that has
// passed. A zero expiry (exp == 0) never expires, per spec's
// "exp < now and exp > 0" rule.
func IsExpired(claims *Claims, now time.Time) bool {
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Before(now)
}

// CID returns a content identifier for a UCAN token: the base64url-encoded
// SHA-256 digest of its serialized form, used to reference the token in
// revocation calls without re-transmitting it.
func CID(tokenString string) string {
	sum := sha256.Sum256([]byte(tokenString))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
