// Package cryptoutil provides the canonical-hashing and Ed25519 signing
// primitives shared by the manifest, snapshot, and knowledge-base
// packages. Every hash taken anywhere in the engine goes through
// CanonicalHash so two processes that build the same logical value
// always agree on its digest, independent of map iteration order or
// struct field order.
package cryptoutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/gowebpki/jcs"
)

// CanonicalJSON serializes v to RFC 8785 JSON Canonicalization Scheme
// bytes: json.Marshal first (which already sorts map keys and is the
// only part of JCS that struct-tagged Go values need), then jcs.Transform
// to normalize number formatting and escaping the same way every other
// JCS-conformant implementation would.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := marshalJSON(v)
	if err != nil {
		return nil, fmt.Errorf("canonical marshal: %w", err)
	}
	transformed, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("jcs transform: %w", err)
	}
	return transformed, nil
}

// CanonicalHash returns the lowercase hex SHA-256 digest of v's
// canonical JSON form. Used for manifest content hashes, snapshot
// descriptor hashes, and healing-plan identity.
func CanonicalHash(v any) (string, error) {
	canon, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// HashBytes returns the lowercase hex SHA-256 digest of raw file
// contents, used for per-entry manifest hashes where there is no JSON
// structure to canonicalize.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
