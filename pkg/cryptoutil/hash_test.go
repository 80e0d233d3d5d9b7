package cryptoutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalHash_StableAcrossFieldOrder(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2, "c": 3}
	b := map[string]any{"c": 3, "a": 2, "b": 1}

	hashA, err := CanonicalHash(a)
	require.NoError(t, err)
	hashB, err := CanonicalHash(b)
	require.NoError(t, err)

	assert.Equal(t, hashA, hashB)
}

func TestCanonicalHash_DifferentValuesDifferentHash(t *testing.T) {
	hashA, err := CanonicalHash(map[string]any{"x": 1})
	require.NoError(t, err)
	hashB, err := CanonicalHash(map[string]any{"x": 2})
	require.NoError(t, err)

	assert.NotEqual(t, hashA, hashB)
}

func TestCanonicalHash_RejectsNaNAndInf(t *testing.T) {
	_, err := CanonicalHash(map[string]any{"x": math.NaN()})
	assert.Error(t, err)

	_, err = CanonicalHash(map[string]any{"x": math.Inf(1)})
	assert.Error(t, err)
}

func TestHashBytes_Deterministic(t *testing.T) {
	data := []byte("bubble contents")
	assert.Equal(t, HashBytes(data), HashBytes(data))
	assert.NotEqual(t, HashBytes(data), HashBytes([]byte("other contents")))
}
