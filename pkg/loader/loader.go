// Package loader implements the Runtime Loader Protocol (spec Section
// 4.5): switching the effective set of packages visible to the current
// process to a specified (name, version), with strict LIFO nesting and
// guaranteed restoration on scope exit, including abnormal exit.
package loader

import (
	"context"
	"sync"

	"github.com/bubblepkg/bubblepkg/pkg/bpkgerrors"
	"github.com/bubblepkg/bubblepkg/pkg/manifest"
	"github.com/bubblepkg/bubblepkg/pkg/semver"
)

// ManifestLookup resolves a bubble's manifest, returning
// bpkgerrors.BubbleNotFoundErr when absent.
type ManifestLookup func(ctx context.Context, name, version string) (*manifest.Manifest, error)

// BubbleRootFor resolves a bubble's on-disk install root, the same
// function cmd/bub wires into pkg/bubble.Builder and pkg/health.Doctor
// (cmd/bub/app.go's bubbleRootFor: InstallRoot/bubbles/name-version) —
// injected here rather than derived from MainEnvRoot so all three
// consumers necessarily agree on where the Bubble Builder actually
// materializes a bubble.
type BubbleRootFor func(name, version string) string

// ModuleCache abstracts the host language's loaded-module cache. A real
// embedding interpreter purges and reloads modules through this
// interface; tests use an in-memory stand-in.
type ModuleCache interface {
	// Loaded returns the top-level module names currently cached.
	Loaded() []string
	// Purge evicts names from the cache so the next access reimports
	// them.
	Purge(names []string)
}

// frame captures everything one activation needs to restore on
// deactivation.
type frame struct {
	searchPath    []string
	env           map[string]string
	purgedModules []string
	// loadedAtPush is the full set of cached modules at the moment this
	// frame became active, used on deactivation to identify modules
	// loaded during the frame's lifetime (step 1: "purge modules loaded
	// while the frame was active") without requiring the cache to track
	// load timestamps itself.
	loadedAtPush map[string]bool
}

// Loader holds the process-wide activation stack. All of its exported
// methods are safe for concurrent use; a single mutex serializes
// activations within one process per spec Section 4.5's cancellation
// rule ("state accessible to other threads must not see a
// half-restored view").
type Loader struct {
	mu          sync.Mutex
	stack       []frame
	searchPath  []string
	env         map[string]string
	cache         ModuleCache
	lookup        ManifestLookup
	mainEnvRoot   string
	bubbleRootFor BubbleRootFor
	// ActiveVersions is the name -> version map the main environment
	// currently has active, consulted by step 5 to decide which
	// dependencies can be search-path-linked instead of duplicated.
	ActiveVersions map[string]string
}

// New builds a Loader with an initial search path and environment
// (typically the main environment's own, before any activation).
// bubbleRootFor must agree with whatever resolves bubble install roots
// elsewhere in the process (cmd/bub wires the same function into both
// pkg/bubble.Builder and pkg/health.Doctor) — Activate prepends exactly
// the path it returns.
func New(lookup ManifestLookup, cache ModuleCache, mainEnvRoot string, bubbleRootFor BubbleRootFor, initialSearchPath []string, initialEnv map[string]string) *Loader {
	return &Loader{
		searchPath:     append([]string(nil), initialSearchPath...),
		env:            copyEnv(initialEnv),
		cache:          cache,
		lookup:         lookup,
		mainEnvRoot:    mainEnvRoot,
		bubbleRootFor:  bubbleRootFor,
		ActiveVersions: map[string]string{},
	}
}

// Deactivate restores the state captured by the matching Activate
// call. Callers must invoke it via defer immediately after a
// successful Activate so it runs on every exit path, including panics
// and context cancellation (spec Section 4.5's scoped-resource
// discipline).
type Deactivate func()

// Activate runs the five activation steps for (name, version) and
// returns a Deactivate that reverses them. Each of Activate and
// Deactivate takes the Loader's mutex only for the duration of its own
// stack mutation, so nested or sequential activations on the same
// goroutine never deadlock; what the mutex guarantees is that no other
// goroutine ever observes the stack mid-mutation (spec Section 4.5:
// "state accessible to other threads must not see a half-restored
// view").
func (l *Loader) Activate(ctx context.Context, name, version string) (Deactivate, error) {
	// Step 1: lookup bubble manifest (outside the lock: it may block on
	// I/O and doesn't touch loader state).
	m, err := l.lookup(ctx, name, version)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, bpkgerrors.NewBubbleNotFound(name, version)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Step 2: push a frame capturing current state.
	f := frame{
		searchPath: append([]string(nil), l.searchPath...),
		env:        copyEnv(l.env),
	}

	// Step 3: purge the loaded-module cache of every module under the
	// bubble's provided-modules namespaces.
	loadedBefore := l.cache.Loaded()
	f.loadedAtPush = toSet(loadedBefore)
	purged := modulesUnderNamespaces(loadedBefore, m.ProvidedModules)
	l.cache.Purge(purged)
	f.purgedModules = purged
	l.stack = append(l.stack, f)

	// Step 4: prepend the bubble root to the search path.
	bubbleRoot := l.bubbleRootFor(name, version)
	l.searchPath = append([]string{bubbleRoot}, l.searchPath...)

	// Step 2 cont'd: apply the bubble's environment overrides.
	for k, v := range m.EnvOverrides {
		l.env[k] = v
	}

	// Step 5: link compatible dependencies from the main environment.
	for depName, depVersion := range m.DependencySnapshot {
		active, ok := l.ActiveVersions[depName]
		if ok && semver.Compatible(active, depVersion) {
			l.searchPath = append(l.searchPath, mainEnvPackagePath(l.mainEnvRoot, depName))
		}
	}

	deactivated := false
	return func() {
		if deactivated {
			return
		}
		deactivated = true
		l.deactivate()
	}, nil
}

// deactivate runs the three deactivation steps for the top frame.
func (l *Loader) deactivate() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.stack) == 0 {
		return
	}
	top := l.stack[len(l.stack)-1]
	l.stack = l.stack[:len(l.stack)-1]

	// Step 1: purge modules loaded while this frame was active, i.e.
	// anything in the cache now that wasn't there when the frame
	// pushed.
	var loadedDuringFrame []string
	for _, mod := range l.cache.Loaded() {
		if !top.loadedAtPush[mod] {
			loadedDuringFrame = append(loadedDuringFrame, mod)
		}
	}
	l.cache.Purge(loadedDuringFrame)

	// Step 2: restore the captured search path and environment.
	l.searchPath = top.searchPath
	l.env = top.env

	// Step 3: previously-purged modules are restored lazily — nothing
	// to do here; the next access reimports them through the restored
	// search path.
}

// SearchPath returns the current effective search path, most-specific
// entry first.
func (l *Loader) SearchPath() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.searchPath...)
}

// Depth returns how many activations are currently nested.
func (l *Loader) Depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.stack)
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, i := range items {
		set[i] = true
	}
	return set
}

func copyEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

// modulesUnderNamespaces returns the subset of loaded that has a
// top-level name in namespaces.
func modulesUnderNamespaces(loaded []string, namespaces []string) []string {
	ns := make(map[string]bool, len(namespaces))
	for _, n := range namespaces {
		ns[n] = true
	}
	var out []string
	for _, mod := range loaded {
		if ns[topLevelName(mod)] {
			out = append(out, mod)
		}
	}
	return out
}

// topLevelName returns the top-level package name of a dotted module
// path, e.g. "requests.adapters" -> "requests".
func topLevelName(module string) string {
	for i, r := range module {
		if r == '.' {
			return module[:i]
		}
	}
	return module
}

func mainEnvPackagePath(mainEnvRoot, name string) string {
	return mainEnvRoot + "/" + name
}
