package main

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// identity is this CLI invocation's local signing/encryption key material:
// the Ed25519 key that signs membership log entries and delegates UCANs,
// and the X25519 key invitations and revocation notices are sealed to.
type identity struct {
	DID    string
	Signer ed25519.PrivateKey
	EncKey *ecdh.PrivateKey
}

// identityFile is the on-disk encoding of an identity, base64 of the raw
// key material. It carries no passphrase protection; operators running
// this against production should keep it on an encrypted volume.
type identityFile struct {
	DID        string `json:"did"`
	SignerSeed string `json:"signer_seed"`
	EncKeyBits string `json:"enc_key"`
}

// loadOrCreateIdentity reads path, or generates and persists a fresh
// identity there if it doesn't exist yet.
func loadOrCreateIdentity(path string) (*identity, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return createIdentity(path)
	}
	if err != nil {
		return nil, fmt.Errorf("syncctl: read identity file: %w", err)
	}

	var f identityFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("syncctl: parse identity file: %w", err)
	}

	seed, err := base64.StdEncoding.DecodeString(f.SignerSeed)
	if err != nil {
		return nil, fmt.Errorf("syncctl: decode signer seed: %w", err)
	}
	encBits, err := base64.StdEncoding.DecodeString(f.EncKeyBits)
	if err != nil {
		return nil, fmt.Errorf("syncctl: decode encryption key: %w", err)
	}
	encKey, err := ecdh.X25519().NewPrivateKey(encBits)
	if err != nil {
		return nil, fmt.Errorf("syncctl: reconstruct encryption key: %w", err)
	}

	return &identity{
		DID:    f.DID,
		Signer: ed25519.NewKeyFromSeed(seed),
		EncKey: encKey,
	}, nil
}

func createIdentity(path string) (*identity, error) {
	pub, signer, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("syncctl: generate signer key: %w", err)
	}
	encKey, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("syncctl: generate encryption key: %w", err)
	}

	did := "did:syncspace:" + base64.RawURLEncoding.EncodeToString(pub)

	f := identityFile{
		DID:        did,
		SignerSeed: base64.StdEncoding.EncodeToString(signer.Seed()),
		EncKeyBits: base64.StdEncoding.EncodeToString(encKey.Bytes()),
	}
	out, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("syncctl: encode identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("syncctl: create identity dir: %w", err)
	}
	if err := os.WriteFile(path, out, 0600); err != nil {
		return nil, fmt.Errorf("syncctl: write identity file: %w", err)
	}

	return &identity{DID: did, Signer: signer, EncKey: encKey}, nil
}
