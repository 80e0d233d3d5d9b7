package cryptoutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndVerifyRoundTrip(t *testing.T) {
	signer, err := NewSigner("test-anchor")
	require.NoError(t, err)

	digest := HashBytes([]byte("manifest content"))
	sig := signer.Sign(digest)

	ok, err := VerifyDetached(signer.PublicKeyHex(), sig, digest)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyDetached_RejectsTamperedDigest(t *testing.T) {
	signer, err := NewSigner("test-anchor")
	require.NoError(t, err)

	digest := HashBytes([]byte("manifest content"))
	sig := signer.Sign(digest)

	ok, err := VerifyDetached(signer.PublicKeyHex(), sig, HashBytes([]byte("tampered content")))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNewSignerFromSeed_Deterministic(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}

	s1, err := NewSignerFromSeed(seed, "anchor-a")
	require.NoError(t, err)
	s2, err := NewSignerFromSeed(seed, "anchor-a")
	require.NoError(t, err)

	assert.Equal(t, s1.PublicKeyHex(), s2.PublicKeyHex())
}

func TestNewSignerFromSeed_RejectsWrongLength(t *testing.T) {
	_, err := NewSignerFromSeed([]byte("too short"), "anchor-a")
	assert.Error(t, err)
}
