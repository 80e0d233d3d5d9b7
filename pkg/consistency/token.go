// Package consistency implements the KB conflict-token and build-lock
// coalescing machinery the Bubble Builder needs (spec Section 4.3
// Concurrency rule): a single bubble name+version has at-most-one
// concurrent builder. Within one process, a second concurrent request
// for the same bubble waits on the in-flight build and shares its
// result (BuildCoalescer); across processes, the Bubble Builder's KB
// build-lock key admits one builder and a second one gets Conflict
// instead of waiting.
package consistency

import (
	"crypto/sha256"
	"encoding/hex"
)

// Token is an opaque optimistic-concurrency stamp over a KB value: two
// reads of the same logical state produce equal tokens, and any
// intervening write changes it. The Bubble Builder does not use it:
// its build lock is a KB transaction over the build-lock key
// (pkg/bubble.Builder.claimBuildLock).
type Token string

// Stamp derives a Token from a KB value's raw bytes. A nil value (key
// absent) and an empty value both stamp to the same "absent" token so
// a CAS against "nothing was here" works whether the backend reported
// *bpkgerrors.NotFoundErr or returned an explicitly empty value.
func Stamp(value []byte) Token {
	sum := sha256.Sum256(value)
	return Token(hex.EncodeToString(sum[:]))
}

// Unchanged reports whether observed still matches current — i.e.
// nothing committed to this key between the caller's read and now.
func Unchanged(observed, current Token) bool {
	return observed == current
}
