// Copyright (C) 2025 lifelog
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package identity

import (
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/elibdev/lifelog/internal/metrics"
)

// hkdfInfo is the HKDF info string fixed by the wire protocol.
// Both peers must derive session keys with this exact label.
const hkdfInfo = "sync-protocol-v1"

var (
	// ErrDecryptionFailed is returned when an AEAD open fails (wrong key
	// or tampered ciphertext).
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrInvalidKey is returned for malformed key material.
	ErrInvalidKey = errors.New("invalid key material")
)

// Identity holds the device's long-lived signing and key-agreement
// keypairs. Private key bytes never leave the Identity; all cryptographic
// operations for the sync protocol go through it.
type Identity struct {
	signPriv  ed25519.PrivateKey
	signPub   ed25519.PublicKey
	agreePriv *ecdh.PrivateKey
	agreePub  *ecdh.PublicKey
}

// Generate creates a fresh identity with new Ed25519 and X25519 keypairs.
func Generate() (*Identity, error) {
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	agreePriv, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate agreement key: %w", err)
	}
	return &Identity{
		signPriv:  signPriv,
		signPub:   signPub,
		agreePriv: agreePriv,
		agreePub:  agreePriv.PublicKey(),
	}, nil
}

// fromSeeds rebuilds an identity from the two persisted private scalars.
func fromSeeds(signSeed, agreeSeed []byte) (*Identity, error) {
	if len(signSeed) != ed25519.SeedSize {
		return nil, fmt.Errorf("%w: signing seed must be %d bytes", ErrInvalidKey, ed25519.SeedSize)
	}
	signPriv := ed25519.NewKeyFromSeed(signSeed)
	agreePriv, err := ecdh.X25519().NewPrivateKey(agreeSeed)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &Identity{
		signPriv:  signPriv,
		signPub:   signPriv.Public().(ed25519.PublicKey),
		agreePriv: agreePriv,
		agreePub:  agreePriv.PublicKey(),
	}, nil
}

// SignPublicKeyB64 returns the base64 Ed25519 public key.
func (id *Identity) SignPublicKeyB64() string {
	return base64.StdEncoding.EncodeToString(id.signPub)
}

// AgreePublicKeyB64 returns the base64 X25519 public key.
func (id *Identity) AgreePublicKeyB64() string {
	return base64.StdEncoding.EncodeToString(id.agreePub.Bytes())
}

// UserID returns the identifier of the user owning this identity.
func (id *Identity) UserID() string {
	return userIDFromKey(id.signPub)
}

// UserIDOf derives the user identifier from a base64 signing public key.
func UserIDOf(signPublicKeyB64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(signPublicKeyB64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return "", fmt.Errorf("%w: expected %d byte key", ErrInvalidKey, ed25519.PublicKeySize)
	}
	return userIDFromKey(raw), nil
}

// userIDFromKey is the 16-hex-character SHA-256 prefix of the raw key.
func userIDFromKey(pub []byte) string {
	sum := sha256.Sum256(pub)
	return hex.EncodeToString(sum[:8])
}

// Sign canonicalizes message as sorted-key JSON, signs it with the
// Ed25519 key, and returns the base64 signature.
func (id *Identity) Sign(message interface{}) (string, error) {
	canonical, err := CanonicalJSON(message)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("sign").Inc()
		return "", err
	}
	sig := ed25519.Sign(id.signPriv, canonical)
	metrics.CryptoOperations.WithLabelValues("sign", "ed25519").Inc()
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify reproduces the canonical encoding of message and checks the
// signature against the given base64 public key. Any decoding or parse
// failure yields false; Verify never panics or returns an error.
func Verify(signerPublicKeyB64 string, message interface{}, signatureB64 string) bool {
	pub, err := base64.StdEncoding.DecodeString(signerPublicKeyB64)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil || len(sig) != ed25519.SignatureSize {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return false
	}
	canonical, err := CanonicalJSON(message)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
		return false
	}
	ok := ed25519.Verify(ed25519.PublicKey(pub), canonical, sig)
	metrics.CryptoOperations.WithLabelValues("verify", "ed25519").Inc()
	if !ok {
		metrics.CryptoErrors.WithLabelValues("verify").Inc()
	}
	return ok
}

// DeriveSharedKey performs X25519 ECDH against the peer's base64
// agreement public key and expands the raw shared secret through
// HKDF-SHA256 (empty salt, protocol info string) into a 32-byte key.
// Both sides of an exchange derive the identical key.
func (id *Identity) DeriveSharedKey(peerAgreePublicKeyB64 string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(peerAgreePublicKeyB64)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("derive").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	peerPub, err := ecdh.X25519().NewPublicKey(raw)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("derive").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	shared, err := id.agreePriv.ECDH(peerPub)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("derive").Inc()
		return nil, fmt.Errorf("failed to compute shared secret: %w", err)
	}

	kdf := hkdf.New(sha256.New, shared, nil, []byte(hkdfInfo))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(kdf, key); err != nil {
		metrics.CryptoErrors.WithLabelValues("derive").Inc()
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	metrics.CryptoOperations.WithLabelValues("derive", "x25519").Inc()
	return key, nil
}

// Envelope is the encrypted wire body: a fresh random nonce and the
// ChaCha20-Poly1305 ciphertext, both base64.
type Envelope struct {
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// Encrypt seals plaintext with ChaCha20-Poly1305 under key, using a
// fresh 12-byte random nonce and no associated data.
func Encrypt(plaintext, key []byte) (*Envelope, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		metrics.CryptoErrors.WithLabelValues("encrypt").Inc()
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)
	metrics.CryptoOperations.WithLabelValues("encrypt", "chacha20").Inc()
	return &Envelope{
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(ciphertext),
	}, nil
}

// Decrypt opens an envelope produced by Encrypt. Tag mismatch, a wrong
// key, or malformed base64 all yield ErrDecryptionFailed.
func Decrypt(env *Envelope, key []byte) ([]byte, error) {
	if env == nil {
		return nil, ErrDecryptionFailed
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != chacha20poly1305.NonceSize {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, ErrDecryptionFailed
	}
	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, ErrDecryptionFailed
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		metrics.CryptoErrors.WithLabelValues("decrypt").Inc()
		return nil, ErrDecryptionFailed
	}
	metrics.CryptoOperations.WithLabelValues("decrypt", "chacha20").Inc()
	return plaintext, nil
}

// Close zeroes the Ed25519 private key and drops the X25519 private key
// (which cannot be zeroed in place). The identity must not be used after.
func (id *Identity) Close() {
	for i := range id.signPriv {
		id.signPriv[i] = 0
	}
	// ecdh.PrivateKey offers no mutable access to its scalar; drop the
	// reference and let the runtime reclaim it.
	id.agreePriv = nil
}
