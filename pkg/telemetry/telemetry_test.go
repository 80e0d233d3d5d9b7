package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestDefaultConfig_TelemetryOffByDefault(t *testing.T) {
	cfg := DefaultConfig()
	require.False(t, cfg.Enabled, "local single-user installs should not export telemetry unless opted in")
	require.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	require.Equal(t, 1.0, cfg.SampleRate)
}

func TestNew_DisabledProviderIsSafeToUse(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, p)

	require.NotNil(t, p.Tracer())

	ctx, done := p.TrackOperation(context.Background(), "bubble.build")
	require.NotNil(t, ctx)
	done(nil)
	done2 := func() { done(errors.New("boom")) }
	require.NotPanics(t, done2)
}

func TestNew_NilConfigFallsBackToDefault(t *testing.T) {
	p, err := New(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestShutdown_NoopOnDisabledProvider(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestTrackOperation_RecordsAttributesWithoutPanicking(t *testing.T) {
	p, err := New(context.Background(), &Config{Enabled: false})
	require.NoError(t, err)

	_, done := p.TrackOperation(context.Background(), "worker.execute",
		attribute.String("interpreter_version", "3.11.4"))
	done(nil)
}
