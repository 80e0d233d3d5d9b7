// Package worker implements the Worker Daemon pool (spec Section 4.6):
// a pool of persistent child processes, one per distinct interpreter
// version, each pre-warmed and holding a specified set of activations.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bubblepkg/bubblepkg/pkg/loader"
	"github.com/bubblepkg/bubblepkg/pkg/manifest"
)

// Result is what execute/await return on success.
type Result struct {
	Output   string
	ExitCode int
}

// Handle identifies one in-flight execute_async call.
type Handle struct {
	ID         string
	daemon     *daemon
	requestID  int
	resultCh   chan asyncResult
	cancelOnce sync.Once
}

type asyncResult struct {
	result Result
	err    error
}

// Config configures a Pool.
type Config struct {
	// BinaryFor returns the executable and arguments that launch the
	// daemon for an interpreter version, so one binary can serve every
	// version (e.g. a generic shim) or each version can get its own.
	BinaryFor func(interpreterVersion string) (string, []string)
	// MaxDaemons bounds how many daemons run concurrently; the pool
	// evicts the least-recently-used idle daemon to make room.
	MaxDaemons int
	// IdleTimeout is how long an unused daemon is kept warm before the
	// reaper stops it.
	IdleTimeout time.Duration
	// CancelGrace bounds how long Cancel waits for a daemon to
	// acknowledge a cancellation before the pool kills and restarts it.
	CancelGrace time.Duration
	// SigningKey, if set, makes every dispatched request carry a
	// short-lived HS256 JWT binding it to this pool instance and the
	// target bubble spec (spec Section 4.6: "[ADDED] Request
	// authentication"). Nil disables it — the default for local
	// single-user installs.
	SigningKey []byte
	// PoolInstanceID identifies this pool in minted tokens.
	PoolInstanceID string
	// EnvScrubKeys are environment variable names stripped from the
	// daemon's inherited environment before it activates its bubble
	// (spec Section 4.6: "Isolation").
	EnvScrubKeys []string

	// ManifestLookup resolves a bubble's manifest for each daemon's own
	// Runtime Loader Protocol instance (spec Section 4.6 is built on
	// Section 4.5's protocol, spec.md:42) — nil defaults to a
	// lookup that accepts any (name, version) with an empty manifest,
	// for callers that don't wire a Knowledge Base.
	ManifestLookup loader.ManifestLookup
	// BubbleRootFor resolves a bubble's on-disk install root; must agree
	// with whatever pkg/bubble.Builder and pkg/health.Doctor use, since
	// the daemon's Loader prepends exactly the path this returns.
	BubbleRootFor loader.BubbleRootFor
	// MainEnvRoot is the root each daemon's Loader treats as "the main
	// environment" for step 5's compatible-dependency linking.
	MainEnvRoot string
	// MainEnvSearchPath seeds each daemon's Loader before any
	// activation, typically the interpreter's own site-packages.
	MainEnvSearchPath []string

	// AdmissionLimiter throttles how often ExecuteAsync may dispatch
	// work, the same token-bucket shape the teacher uses to guard
	// bounded, expensive backend resources (core/pkg/api/middleware.go,
	// core/pkg/arc/connector.go) — here, the small fixed set of daemon
	// processes. Nil disables throttling, the default for local
	// single-user installs.
	AdmissionLimiter *rate.Limiter
}

// Pool manages daemons keyed by interpreter version.
type Pool struct {
	cfg     Config
	mu      sync.Mutex
	daemons map[string]*daemon // keyed by interpreter version
	lru     []string           // interpreter versions, most-recently-used last
}

// New creates a Pool. No daemons are started until first use.
func New(cfg Config) *Pool {
	if cfg.MaxDaemons <= 0 {
		cfg.MaxDaemons = 4
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Minute
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 2 * time.Second
	}
	if cfg.ManifestLookup == nil {
		cfg.ManifestLookup = func(ctx context.Context, name, version string) (*manifest.Manifest, error) {
			return manifest.New(name, version), nil
		}
	}
	if cfg.BubbleRootFor == nil {
		cfg.BubbleRootFor = func(name, version string) string {
			return name + "-" + version
		}
	}
	return &Pool{cfg: cfg, daemons: map[string]*daemon{}}
}

// Execute runs code on the daemon for targetInterpreter with bubbleSpec
// active, blocking until the result arrives or ctx is done.
func (p *Pool) Execute(ctx context.Context, targetInterpreter, bubbleSpec, code string) (Result, error) {
	handle, err := p.ExecuteAsync(ctx, targetInterpreter, bubbleSpec, code)
	if err != nil {
		return Result{}, err
	}
	return p.Await(ctx, handle)
}

// ExecuteAsync dispatches code without blocking for the result.
func (p *Pool) ExecuteAsync(ctx context.Context, targetInterpreter, bubbleSpec, code string) (*Handle, error) {
	if p.cfg.AdmissionLimiter != nil {
		if err := p.cfg.AdmissionLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("admission wait: %w", err)
		}
	}

	d, err := p.acquire(ctx, targetInterpreter, bubbleSpec)
	if err != nil {
		return nil, err
	}

	token := ""
	if p.cfg.SigningKey != nil {
		token, err = signRequest(p.cfg.SigningKey, p.cfg.PoolInstanceID, bubbleSpec)
		if err != nil {
			return nil, fmt.Errorf("sign daemon request: %w", err)
		}
	}

	return d.dispatch(bubbleSpec, code, token)
}

// Await blocks for handle's result.
func (p *Pool) Await(ctx context.Context, handle *Handle) (Result, error) {
	select {
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case res := <-handle.resultCh:
		return res.result, res.err
	}
}

// Cancel sends a cancellation control message for handle's request. If
// the daemon doesn't acknowledge within cfg.CancelGrace, the pool kills
// and restarts it — transparently to any other in-flight caller, which
// is why restart happens on the daemon, not the whole pool.
func (p *Pool) Cancel(handle *Handle) error {
	var err error
	handle.cancelOnce.Do(func() {
		err = handle.daemon.cancel(handle.requestID, p.cfg.CancelGrace)
	})
	return err
}

// acquire returns a running, bubble-activated daemon for
// interpreterVersion, starting one (possibly evicting another to make
// room) if none exists yet.
func (p *Pool) acquire(ctx context.Context, interpreterVersion, bubbleSpec string) (*daemon, error) {
	p.mu.Lock()
	if d, ok := p.daemons[interpreterVersion]; ok {
		p.touch(interpreterVersion)
		p.mu.Unlock()
		if err := d.ensureBubble(ctx, bubbleSpec); err != nil {
			return nil, err
		}
		return d, nil
	}

	if len(p.daemons) >= p.cfg.MaxDaemons {
		p.evictLRULocked()
	}

	binary, args := p.cfg.BinaryFor(interpreterVersion)
	d, err := startDaemon(binary, args, p.cfg.EnvScrubKeys, p.newLoader)
	if err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("start daemon for %s: %w", interpreterVersion, err)
	}
	p.daemons[interpreterVersion] = d
	p.lru = append(p.lru, interpreterVersion)
	p.mu.Unlock()

	if err := d.ensureBubble(ctx, bubbleSpec); err != nil {
		return nil, err
	}
	return d, nil
}

// newLoader builds the per-daemon Runtime Loader Protocol instance
// (spec Section 4.5) each daemon uses to compute its own search-path
// overlay before an activation is dispatched over the wire (spec
// Section 4.6's dependency on 4.5, spec.md:42). Each daemon is a
// separate OS process with its own module cache, so it gets its own
// Loader rather than sharing the pool's.
func (p *Pool) newLoader() *loader.Loader {
	return loader.New(p.cfg.ManifestLookup, noopModuleCache{}, p.cfg.MainEnvRoot, p.cfg.BubbleRootFor, p.cfg.MainEnvSearchPath, nil)
}

// touch moves interpreterVersion to the most-recently-used end of the
// LRU list. Caller must hold p.mu.
func (p *Pool) touch(interpreterVersion string) {
	for i, v := range p.lru {
		if v == interpreterVersion {
			p.lru = append(p.lru[:i], p.lru[i+1:]...)
			break
		}
	}
	p.lru = append(p.lru, interpreterVersion)
}

// evictLRULocked stops the least-recently-used daemon. Caller must
// hold p.mu.
func (p *Pool) evictLRULocked() {
	if len(p.lru) == 0 {
		return
	}
	victim := p.lru[0]
	p.lru = p.lru[1:]
	if d, ok := p.daemons[victim]; ok {
		_ = d.stop()
		delete(p.daemons, victim)
	}
}

// ReapIdle stops every daemon that has been idle longer than
// cfg.IdleTimeout. Callers run this periodically (e.g. from a ticker);
// it is not self-scheduling so tests can call it deterministically.
func (p *Pool) ReapIdle(now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var kept []string
	for _, version := range p.lru {
		d, ok := p.daemons[version]
		if !ok {
			continue
		}
		if now.Sub(d.lastUsed()) > p.cfg.IdleTimeout {
			_ = d.stop()
			delete(p.daemons, version)
			continue
		}
		kept = append(kept, version)
	}
	p.lru = kept
}

// Shutdown stops every daemon in the pool.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for version, d := range p.daemons {
		_ = d.stop()
		delete(p.daemons, version)
	}
	p.lru = nil
}

// Size returns how many daemons are currently running.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.daemons)
}
