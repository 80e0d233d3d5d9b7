package consistency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStamp_SameBytesProduceSameToken(t *testing.T) {
	a := Stamp([]byte("manifest-v1"))
	b := Stamp([]byte("manifest-v1"))
	assert.Equal(t, a, b)
}

func TestStamp_DifferentBytesProduceDifferentToken(t *testing.T) {
	a := Stamp([]byte("manifest-v1"))
	b := Stamp([]byte("manifest-v2"))
	assert.NotEqual(t, a, b)
}

func TestStamp_NilAndEmptyAgree(t *testing.T) {
	assert.Equal(t, Stamp(nil), Stamp([]byte{}))
}

func TestUnchanged(t *testing.T) {
	tok := Stamp([]byte("x"))
	assert.True(t, Unchanged(tok, Stamp([]byte("x"))))
	assert.False(t, Unchanged(tok, Stamp([]byte("y"))))
}

func TestBuildCoalescer_ConcurrentRequestsShareOneBuild(t *testing.T) {
	c := NewBuildCoalescer()
	var builds int32

	var wg sync.WaitGroup
	results := make([]any, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			res, _, err := c.Do(context.Background(), "requests-1.0.0", func(ctx context.Context) (any, error) {
				atomic.AddInt32(&builds, 1)
				return "bubble-built", nil
			})
			require.NoError(t, err)
			results[idx] = res
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&builds))
	for _, r := range results {
		assert.Equal(t, "bubble-built", r)
	}
}

func TestBuildCoalescer_ForgetAllowsRebuild(t *testing.T) {
	c := NewBuildCoalescer()
	var builds int32

	_, _, err := c.Do(context.Background(), "requests-1.0.0", func(ctx context.Context) (any, error) {
		atomic.AddInt32(&builds, 1)
		return nil, nil
	})
	require.NoError(t, err)
	c.Forget("requests-1.0.0")

	_, _, err = c.Do(context.Background(), "requests-1.0.0", func(ctx context.Context) (any, error) {
		atomic.AddInt32(&builds, 1)
		return nil, nil
	})
	require.NoError(t, err)

	assert.Equal(t, int32(2), atomic.LoadInt32(&builds))
}
