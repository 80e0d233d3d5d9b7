package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoDaemonScript replies to every request line with a generic
// successful result carrying the request's own id, standing in for a
// real interpreter daemon speaking the line-delimited JSON-RPC wire
// protocol.
const echoDaemonScript = `while IFS= read -r line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  printf '{"id":%s,"result":{"Output":"ok","ExitCode":0}}\n' "$id"
done
`

func echoBinaryFor(string) (string, []string) {
	return "/bin/sh", []string{"-c", echoDaemonScript}
}

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	if cfg.BinaryFor == nil {
		cfg.BinaryFor = echoBinaryFor
	}
	p := New(cfg)
	t.Cleanup(p.Shutdown)
	return p
}

func TestPool_Execute_RunsOnNewlyStartedDaemon(t *testing.T) {
	p := newTestPool(t, Config{})

	result, err := p.Execute(context.Background(), "3.11.4", "requests==2.31.0", "print(1)")
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Output)
	assert.Equal(t, 1, p.Size())
}

func TestPool_Execute_ReusesDaemonForSameInterpreter(t *testing.T) {
	p := newTestPool(t, Config{})

	_, err := p.Execute(context.Background(), "3.11.4", "requests==2.31.0", "print(1)")
	require.NoError(t, err)
	_, err = p.Execute(context.Background(), "3.11.4", "requests==2.31.0", "print(2)")
	require.NoError(t, err)

	assert.Equal(t, 1, p.Size())
}

func TestPool_Execute_EvictsLRUWhenAtCapacity(t *testing.T) {
	p := newTestPool(t, Config{MaxDaemons: 1})

	_, err := p.Execute(context.Background(), "3.11.4", "requests==2.31.0", "print(1)")
	require.NoError(t, err)
	_, err = p.Execute(context.Background(), "3.9.0", "flask==3.0.0", "print(2)")
	require.NoError(t, err)

	assert.Equal(t, 1, p.Size(), "pool configured for 1 daemon must evict before starting a second")
}

func TestPool_ExecuteAsync_AwaitReturnsResult(t *testing.T) {
	p := newTestPool(t, Config{})

	handle, err := p.ExecuteAsync(context.Background(), "3.11.4", "requests==2.31.0", "print(1)")
	require.NoError(t, err)

	result, err := p.Await(context.Background(), handle)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Output)
}

func TestPool_Cancel_AcknowledgedByDaemon(t *testing.T) {
	p := newTestPool(t, Config{CancelGrace: time.Second})

	handle, err := p.ExecuteAsync(context.Background(), "3.11.4", "requests==2.31.0", "print(1)")
	require.NoError(t, err)

	_, err = p.Await(context.Background(), handle)
	require.NoError(t, err)

	assert.NoError(t, p.Cancel(handle))
}

func TestPool_ReapIdle_StopsDaemonsPastTimeout(t *testing.T) {
	p := newTestPool(t, Config{IdleTimeout: time.Minute})

	_, err := p.Execute(context.Background(), "3.11.4", "requests==2.31.0", "print(1)")
	require.NoError(t, err)
	require.Equal(t, 1, p.Size())

	p.ReapIdle(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, p.Size())
}

func TestPool_ReapIdle_KeepsDaemonsWithinTimeout(t *testing.T) {
	p := newTestPool(t, Config{IdleTimeout: time.Hour})

	_, err := p.Execute(context.Background(), "3.11.4", "requests==2.31.0", "print(1)")
	require.NoError(t, err)

	p.ReapIdle(time.Now().Add(time.Minute))
	assert.Equal(t, 1, p.Size())
}

func TestScrubEnv_RemovesNamedVariables(t *testing.T) {
	env := []string{"PATH=/usr/bin", "LD_LIBRARY_PATH=/bubble/lib", "HOME=/root"}
	out := scrubEnv(env, []string{"LD_LIBRARY_PATH"})

	assert.Contains(t, out, "PATH=/usr/bin")
	assert.Contains(t, out, "HOME=/root")
	assert.NotContains(t, out, "LD_LIBRARY_PATH=/bubble/lib")
}
