// Package retry implements the deterministic jittered backoff for
// transient, classified-retryable failures around Installer Driver
// work (spec_full.md Section 4.2 addendum); the Installer Driver itself
// never retries, and cmd/bub's auto-heal path wraps Builder.Build with
// Do. Jitter is seeded from the
// request and attempt index rather than a random source, so a retried
// test run schedules the same delays every time.
package retry

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/bubblepkg/bubblepkg/pkg/bpkgerrors"
)

// Params identifies one attempt of one retryable operation, and seeds
// its deterministic jitter.
type Params struct {
	RequestID    string
	AttemptIndex int
}

// Policy bounds a retryable operation's backoff schedule.
type Policy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// ComputeBackoff returns the delay before attempt params.AttemptIndex,
// combining exponential backoff (base * 2^attempt, capped at MaxMs)
// with jitter deterministically derived from RequestID and
// AttemptIndex.
func ComputeBackoff(params Params, policy Policy) time.Duration {
	factor := int64(1)
	if params.AttemptIndex > 0 {
		if params.AttemptIndex > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << params.AttemptIndex
		}
	}

	baseDelay := policy.BaseMs * factor
	if baseDelay > policy.MaxMs {
		baseDelay = policy.MaxMs
	}

	return time.Duration(baseDelay+deterministicJitterMs(params, policy)) * time.Millisecond
}

func deterministicJitterMs(params Params, policy Policy) int64 {
	if policy.MaxJitterMs == 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%d", params.RequestID, params.AttemptIndex)
	hash := sha256.Sum256([]byte(seed))
	jitterBasis := binary.BigEndian.Uint64(hash[:8])
	return int64(jitterBasis % uint64(policy.MaxJitterMs)) //nolint:gosec // MaxJitterMs is always positive
}

// Classifier decides whether an error returned by a retryable
// operation should be retried at all.
type Classifier func(err error) bool

// DefaultClassifier retries only what spec_full.md Section 4.2 calls
// "transient, classified-retryable failures" — it never retries a
// UserErr (a bad spec is still bad on attempt two).
func DefaultClassifier(err error) bool {
	var userErr *bpkgerrors.UserErr
	return !errors.As(err, &userErr)
}

// Do runs fn, retrying per policy while classify(err) is true, up to
// policy.MaxAttempts attempts. It sleeps the deterministic backoff
// between attempts, honoring ctx cancellation during the sleep. The
// error from the final attempt is returned unwrapped so callers can
// still bpkgerrors.As onto it.
func Do(ctx context.Context, params Params, policy Policy, classify Classifier, fn func(attempt int) error) error {
	if classify == nil {
		classify = DefaultClassifier
	}

	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		attemptParams := params
		attemptParams.AttemptIndex = attempt

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !classify(lastErr) {
			return lastErr
		}
		if attempt == policy.MaxAttempts-1 {
			break
		}

		delay := ComputeBackoff(attemptParams, policy)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return bpkgerrors.NewCancelled("retry wait interrupted: " + ctx.Err().Error())
		case <-timer.C:
		}
	}
	return lastErr
}
