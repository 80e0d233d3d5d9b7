package cryptoutil

import (
	"crypto/ed25519"
	cryptorand "crypto/rand"
	"encoding/hex"
	"fmt"
)

// Signer signs canonical hashes with an Ed25519 key. It is used by the
// Bubble Builder to countersign a finished manifest and by the
// Snapshot engine to countersign a snapshot descriptor, when a trust
// anchor is configured (spec_full.md Section 3 addendum).
type Signer struct {
	priv  ed25519.PrivateKey
	keyID string
}

// NewSigner generates a fresh Ed25519 keypair under the given key ID.
// Intended for local/dev trust anchors; production deployments load a
// key via NewSignerFromSeed instead.
func NewSigner(keyID string) (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(cryptorand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &Signer{priv: priv, keyID: keyID}, nil
}

// NewSignerFromSeed reconstructs a signer from a 32-byte seed, e.g. one
// read from a configured key file.
func NewSignerFromSeed(seed []byte, keyID string) (*Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return &Signer{priv: ed25519.NewKeyFromSeed(seed), keyID: keyID}, nil
}

// KeyID identifies which trust anchor produced a signature; carried
// alongside the signature value so verifiers can select the matching
// public key.
func (s *Signer) KeyID() string { return s.keyID }

// PublicKeyHex returns the signer's public key, hex-encoded.
func (s *Signer) PublicKeyHex() string {
	pub := s.priv.Public().(ed25519.PublicKey)
	return hex.EncodeToString(pub)
}

// Sign returns a hex-encoded detached signature over digest (itself
// normally a CanonicalHash output, so the signed payload is always a
// fixed-length hex string rather than arbitrary-sized JSON).
func (s *Signer) Sign(digest string) string {
	sig := ed25519.Sign(s.priv, []byte(digest))
	return hex.EncodeToString(sig)
}

// VerifyDetached checks a hex-encoded signature against a hex-encoded
// public key and the signed digest.
func VerifyDetached(pubKeyHex, sigHex, digest string) (bool, error) {
	pubKey, err := hex.DecodeString(pubKeyHex)
	if err != nil {
		return false, fmt.Errorf("invalid public key hex: %w", err)
	}
	if len(pubKey) != ed25519.PublicKeySize {
		return false, fmt.Errorf("invalid public key size: want %d, got %d", ed25519.PublicKeySize, len(pubKey))
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("invalid signature hex: %w", err)
	}
	return ed25519.Verify(ed25519.PublicKey(pubKey), []byte(digest), sig), nil
}
