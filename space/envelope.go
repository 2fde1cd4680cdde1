package space

import (
	"crypto/ecdh"
	"fmt"

	"github.com/syncspace/engine/crypto/keys"
)

// sealEnvelope encrypts plaintext to recipientPub (an X25519 public key)
// using static-static ECDH (RFC 7748) plus AES-256-GCM, and prefixes the
// result with this manager's own X25519 public key so the recipient can
// derive the same shared secret without an out-of-band exchange:
// senderPub(32) || nonce || ciphertext.
func (m *Manager) sealEnvelope(recipientPub, plaintext []byte) ([]byte, error) {
	nonce, ciphertext, err := m.encKeyPair.Encrypt(recipientPub, plaintext)
	if err != nil {
		return nil, fmt.Errorf("space: seal envelope: %w", err)
	}
	out := make([]byte, 0, len(m.encPub)+len(nonce)+len(ciphertext))
	out = append(out, m.encPub...)
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// openEnvelope reverses sealEnvelope using this manager's own X25519 private
// key and the sender's public key prefix embedded in the envelope.
func (m *Manager) openEnvelope(envelope []byte) ([]byte, error) {
	const pubLen = 32
	const nonceLen = 12
	if len(envelope) < pubLen+nonceLen {
		return nil, fmt.Errorf("space: envelope too short")
	}
	senderPub := envelope[:pubLen]
	nonce := envelope[pubLen : pubLen+nonceLen]
	ciphertext := envelope[pubLen+nonceLen:]
	return m.encKeyPair.DecryptWithX25519(senderPub, nonce, ciphertext)
}

func newEncryptionIdentity(priv *ecdh.PrivateKey) (*keys.X25519KeyPair, []byte, error) {
	kp, err := keys.NewX25519KeyPair(priv, "")
	if err != nil {
		return nil, nil, fmt.Errorf("space: wrap encryption key: %w", err)
	}
	x, ok := kp.(*keys.X25519KeyPair)
	if !ok {
		return nil, nil, fmt.Errorf("space: unexpected key pair type")
	}
	return x, x.PublicBytesKey(), nil
}
