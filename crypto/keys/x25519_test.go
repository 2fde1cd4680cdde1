package keys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestX25519KeyPair(t *testing.T) {
	t.Run("GenerateKeyPair", func(t *testing.T) {
		keyPair, err := GenerateX25519KeyPair()
		require.NoError(t, err)
		assert.NotNil(t, keyPair)
		assert.NotNil(t, keyPair.PublicKey())
		assert.NotNil(t, keyPair.PrivateKey())
	})

	t.Run("DeriveSharedSecret", func(t *testing.T) {
		a, err := GenerateX25519KeyPair()
		require.NoError(t, err)
		b, err := GenerateX25519KeyPair()
		require.NoError(t, err)

		aKey, ok := a.(*X25519KeyPair)
		require.True(t, ok)
		bKey, ok := b.(*X25519KeyPair)
		require.True(t, ok)

		s1, err := aKey.DeriveSharedSecret(bKey.PublicBytesKey())
		require.NoError(t, err)
		s2, err := bKey.DeriveSharedSecret(aKey.PublicBytesKey())
		require.NoError(t, err)

		assert.Equal(t, s1, s2)
	})

	t.Run("EphemeralEncryptAndDecrypt", func(t *testing.T) {
		sender, err := GenerateX25519KeyPair()
		require.NoError(t, err)
		receiver, err := GenerateX25519KeyPair()
		require.NoError(t, err)

		senderKey, ok := sender.(*X25519KeyPair)
		require.True(t, ok)
		receiverKey, ok := receiver.(*X25519KeyPair)
		require.True(t, ok)

		plaintext := []byte("hello X25519 world")
		nonce, ct, err := senderKey.Encrypt(receiverKey.PublicBytesKey(), plaintext)
		require.NoError(t, err)
		require.NotEmpty(t, nonce)
		require.NotEmpty(t, ct)

		pt, err := receiverKey.DecryptWithX25519(senderKey.PublicBytesKey(), nonce, ct)
		require.NoError(t, err)
		assert.Equal(t, plaintext, pt)

		wrong, err := GenerateX25519KeyPair()
		wrongKey, ok := wrong.(*X25519KeyPair)
		require.True(t, ok)
		require.NoError(t, err)
		_, err = wrongKey.DecryptWithX25519(receiverKey.PublicBytesKey(), nonce, ct)
		assert.Error(t, err)
	})
}
