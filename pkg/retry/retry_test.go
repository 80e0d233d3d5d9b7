package retry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubblepkg/bubblepkg/pkg/bpkgerrors"
)

func TestComputeBackoff_DeterministicForSameInputs(t *testing.T) {
	params := Params{RequestID: "req-1", AttemptIndex: 2}
	policy := Policy{BaseMs: 100, MaxMs: 10_000, MaxJitterMs: 50, MaxAttempts: 5}

	a := ComputeBackoff(params, policy)
	b := ComputeBackoff(params, policy)
	assert.Equal(t, a, b)
}

func TestComputeBackoff_DiffersByRequestID(t *testing.T) {
	policy := Policy{BaseMs: 100, MaxMs: 10_000, MaxJitterMs: 50, MaxAttempts: 5}

	a := ComputeBackoff(Params{RequestID: "req-1", AttemptIndex: 1}, policy)
	b := ComputeBackoff(Params{RequestID: "req-2", AttemptIndex: 1}, policy)
	assert.NotEqual(t, a, b)
}

func TestComputeBackoff_CapsAtMaxMs(t *testing.T) {
	policy := Policy{BaseMs: 1000, MaxMs: 2000, MaxJitterMs: 0, MaxAttempts: 10}
	delay := ComputeBackoff(Params{RequestID: "req-1", AttemptIndex: 10}, policy)
	assert.LessOrEqual(t, delay.Milliseconds(), int64(2000))
}

func TestDo_SucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Params{RequestID: "req-1"}, Policy{MaxAttempts: 3, BaseMs: 1, MaxMs: 1}, nil, func(attempt int) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientFailureUntilSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Params{RequestID: "req-1"}, Policy{MaxAttempts: 3, BaseMs: 1, MaxMs: 1}, nil, func(attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("transient fetch error")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_NeverRetriesUserError(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Params{RequestID: "req-1"}, Policy{MaxAttempts: 3, BaseMs: 1, MaxMs: 1}, nil, func(attempt int) error {
		calls++
		return bpkgerrors.NewUserError("unknown package")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_ReturnsLastErrorAfterExhaustingAttempts(t *testing.T) {
	err := Do(context.Background(), Params{RequestID: "req-1"}, Policy{MaxAttempts: 2, BaseMs: 1, MaxMs: 1}, nil, func(attempt int) error {
		return errors.New("still failing")
	})
	assert.EqualError(t, err, "still failing")
}

func TestDo_CancellationDuringWaitReturnsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Do(ctx, Params{RequestID: "req-1"}, Policy{MaxAttempts: 2, BaseMs: 10_000, MaxMs: 10_000}, nil, func(attempt int) error {
		return errors.New("transient")
	})

	var cancelled *bpkgerrors.CancelledErr
	assert.ErrorAs(t, err, &cancelled)
}
