package kb

import (
	"context"
	"fmt"
	"time"

	"github.com/bubblepkg/bubblepkg/pkg/bpkgerrors"
	"github.com/bubblepkg/bubblepkg/pkg/kb/backend"
)

// BackendKind selects which concrete backend Open should use.
type BackendKind string

const (
	// BackendAuto pings the fast endpoint with a short timeout and
	// falls back to embedded if it doesn't answer.
	BackendAuto BackendKind = "auto"
	// BackendFast forces the Redis-backed store.
	BackendFast BackendKind = "fast"
	// BackendEmbedded forces the SQLite-backed store.
	BackendEmbedded BackendKind = "embedded"
)

// Config configures Open.
type Config struct {
	Backend BackendKind

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string

	SQLitePath string

	// PingTimeout bounds how long BackendAuto waits for the fast
	// endpoint before falling back. Defaults to 500ms.
	PingTimeout time.Duration
}

// Open selects and opens a backend per cfg (it does not log which one
// it picked), then checks its schema version against CurrentSchemaVersion
// and returns SchemaMismatch if they differ (triggering the
// rebuild-kb health operation upstream).
func Open(ctx context.Context, cfg Config) (KB, error) {
	store, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	version, err := store.SchemaVersion(ctx)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if version != 0 && version != CurrentSchemaVersion {
		_ = store.Close()
		return nil, bpkgerrors.NewSchemaMismatch(CurrentSchemaVersion, version)
	}
	if version == 0 {
		if err := store.Set(ctx, SchemaVersionKey, []byte(fmt.Sprintf("%d", CurrentSchemaVersion))); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("initialize schema version: %w", err)
		}
	}
	return store, nil
}

func openBackend(ctx context.Context, cfg Config) (KB, error) {
	switch cfg.Backend {
	case BackendFast:
		return backend.NewRedisBackend(ctx, redisOptions(cfg))
	case BackendEmbedded:
		return backend.NewSQLiteBackend(ctx, cfg.SQLitePath)
	case BackendAuto, "":
		timeout := cfg.PingTimeout
		if timeout <= 0 {
			timeout = 500 * time.Millisecond
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		fast, err := backend.NewRedisBackend(pingCtx, redisOptions(cfg))
		if err == nil {
			return fast, nil
		}
		return backend.NewSQLiteBackend(ctx, cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown kb backend kind %q", cfg.Backend)
	}
}

func redisOptions(cfg Config) backend.RedisOptions {
	return backend.RedisOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Prefix:   cfg.RedisPrefix,
	}
}
