package identity

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	msg := map[string]interface{}{"challenge": "abc", "n": 42}

	sig, err := id.Sign(msg)
	require.NoError(t, err)
	require.True(t, Verify(id.SignPublicKeyB64(), msg, sig))

	t.Run("modified message fails", func(t *testing.T) {
		tampered := map[string]interface{}{"challenge": "abd", "n": 42}
		require.False(t, Verify(id.SignPublicKeyB64(), tampered, sig))
	})

	t.Run("flipped signature byte fails", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(sig)
		require.NoError(t, err)
		raw[0] ^= 0xFF
		require.False(t, Verify(id.SignPublicKeyB64(), msg, base64.StdEncoding.EncodeToString(raw)))
	})

	t.Run("key order does not matter", func(t *testing.T) {
		same := map[string]interface{}{"n": 42, "challenge": "abc"}
		require.True(t, Verify(id.SignPublicKeyB64(), same, sig))
	})

	t.Run("garbage inputs never panic", func(t *testing.T) {
		require.False(t, Verify("not base64!!", msg, sig))
		require.False(t, Verify(id.SignPublicKeyB64(), msg, "not base64!!"))
		require.False(t, Verify("", msg, ""))
	})
}

func TestUserID(t *testing.T) {
	id, err := Generate()
	require.NoError(t, err)

	derived, err := UserIDOf(id.SignPublicKeyB64())
	require.NoError(t, err)
	require.Equal(t, id.UserID(), derived)
	require.Len(t, derived, 16)

	other, err := Generate()
	require.NoError(t, err)
	require.NotEqual(t, id.UserID(), other.UserID())

	_, err = UserIDOf("bogus")
	require.Error(t, err)
}

func TestDeriveSharedKeySymmetric(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	keyAB, err := a.DeriveSharedKey(b.AgreePublicKeyB64())
	require.NoError(t, err)
	keyBA, err := b.DeriveSharedKey(a.AgreePublicKeyB64())
	require.NoError(t, err)

	require.Equal(t, keyAB, keyBA)
	require.Len(t, keyAB, 32)

	c, err := Generate()
	require.NoError(t, err)
	keyAC, err := a.DeriveSharedKey(c.AgreePublicKeyB64())
	require.NoError(t, err)
	require.NotEqual(t, keyAB, keyAC)
}

func TestEncryptDecrypt(t *testing.T) {
	a, err := Generate()
	require.NoError(t, err)
	b, err := Generate()
	require.NoError(t, err)

	key, err := a.DeriveSharedKey(b.AgreePublicKeyB64())
	require.NoError(t, err)

	plaintext := []byte(`{"hashes":["aabb","ccdd"]}`)

	env, err := Encrypt(plaintext, key)
	require.NoError(t, err)
	require.NotEmpty(t, env.Nonce)
	require.NotEmpty(t, env.Ciphertext)

	back, err := Decrypt(env, key)
	require.NoError(t, err)
	require.Equal(t, plaintext, back)

	t.Run("fresh nonce per encryption", func(t *testing.T) {
		again, err := Encrypt(plaintext, key)
		require.NoError(t, err)
		require.NotEqual(t, env.Nonce, again.Nonce)
	})

	t.Run("wrong key fails with ErrDecryptionFailed", func(t *testing.T) {
		c, err := Generate()
		require.NoError(t, err)
		wrongKey, err := a.DeriveSharedKey(c.AgreePublicKeyB64())
		require.NoError(t, err)

		_, err = Decrypt(env, wrongKey)
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("tampered ciphertext fails", func(t *testing.T) {
		raw, err := base64.StdEncoding.DecodeString(env.Ciphertext)
		require.NoError(t, err)
		raw[len(raw)/2] ^= 0xFF
		tampered := &Envelope{Nonce: env.Nonce, Ciphertext: base64.StdEncoding.EncodeToString(raw)}

		_, err = Decrypt(tampered, key)
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})

	t.Run("malformed envelope fails", func(t *testing.T) {
		_, err := Decrypt(&Envelope{Nonce: "x", Ciphertext: "y"}, key)
		require.ErrorIs(t, err, ErrDecryptionFailed)
		_, err = Decrypt(nil, key)
		require.ErrorIs(t, err, ErrDecryptionFailed)
	})
}

func TestCreateOrLoad(t *testing.T) {
	t.Run("round trips through the key file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "device.key")

		first, err := CreateOrLoad(path)
		require.NoError(t, err)

		second, err := CreateOrLoad(path)
		require.NoError(t, err)

		require.Equal(t, first.UserID(), second.UserID())
		require.Equal(t, first.SignPublicKeyB64(), second.SignPublicKeyB64())
		require.Equal(t, first.AgreePublicKeyB64(), second.AgreePublicKeyB64())
	})

	t.Run("key file is owner-only", func(t *testing.T) {
		if runtime.GOOS == "windows" {
			t.Skip("file mode semantics differ on windows")
		}
		path := filepath.Join(t.TempDir(), "device.key")
		_, err := CreateOrLoad(path)
		require.NoError(t, err)

		info, err := os.Stat(path)
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	})

	t.Run("corrupt key file is an error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "device.key")
		require.NoError(t, os.WriteFile(path, []byte("not json"), 0o600))

		_, err := CreateOrLoad(path)
		require.Error(t, err)
	})

	t.Run("restored identity interoperates", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "device.key")
		first, err := CreateOrLoad(path)
		require.NoError(t, err)
		second, err := CreateOrLoad(path)
		require.NoError(t, err)

		msg := map[string]interface{}{"challenge": "xyz"}
		sig, err := first.Sign(msg)
		require.NoError(t, err)
		require.True(t, Verify(second.SignPublicKeyB64(), msg, sig))
	})
}
