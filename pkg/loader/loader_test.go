package loader

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubblepkg/bubblepkg/pkg/bpkgerrors"
	"github.com/bubblepkg/bubblepkg/pkg/manifest"
)

// fakeCache is a minimal in-memory stand-in for a host interpreter's
// loaded-module cache.
type fakeCache struct {
	loaded map[string]bool
}

func newFakeCache(modules ...string) *fakeCache {
	c := &fakeCache{loaded: map[string]bool{}}
	for _, m := range modules {
		c.loaded[m] = true
	}
	return c
}

func (c *fakeCache) Loaded() []string {
	out := make([]string, 0, len(c.loaded))
	for m := range c.loaded {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (c *fakeCache) Purge(names []string) {
	for _, n := range names {
		delete(c.loaded, n)
	}
}

func manifestLookup(manifests map[string]*manifest.Manifest) ManifestLookup {
	return func(ctx context.Context, name, version string) (*manifest.Manifest, error) {
		m, ok := manifests[name+"=="+version]
		if !ok {
			return nil, bpkgerrors.NewBubbleNotFound(name, version)
		}
		return m, nil
	}
}

// testBubbleRootFor stands in for the cmd/bub closure that Activate
// relies on to agree with wherever the Bubble Builder actually
// materializes a bubble.
func testBubbleRootFor(name, version string) string {
	return "/main/.bubbles/" + name + "-" + version
}

func TestActivate_UnknownBubbleReturnsBubbleNotFound(t *testing.T) {
	l := New(manifestLookup(nil), newFakeCache(), "/main", testBubbleRootFor, nil, nil)

	_, err := l.Activate(context.Background(), "requests", "2.31.0")
	assert.Error(t, err)
}

func TestActivate_PrependsBubbleRootToSearchPath(t *testing.T) {
	m := manifest.New("requests", "2.31.0")
	l := New(manifestLookup(map[string]*manifest.Manifest{"requests==2.31.0": m}), newFakeCache(), "/main", testBubbleRootFor, []string{"/main/site-packages"}, nil)

	deactivate, err := l.Activate(context.Background(), "requests", "2.31.0")
	require.NoError(t, err)
	defer deactivate()

	path := l.SearchPath()
	require.NotEmpty(t, path)
	assert.Equal(t, "/main/.bubbles/requests-2.31.0", path[0])
	assert.Contains(t, path, "/main/site-packages")
}

func TestActivate_PurgesProvidedModulesFromCache(t *testing.T) {
	m := manifest.New("requests", "2.31.0")
	m.ProvidedModules = []string{"requests"}
	cache := newFakeCache("requests", "requests.adapters", "flask")

	l := New(manifestLookup(map[string]*manifest.Manifest{"requests==2.31.0": m}), cache, "/main", testBubbleRootFor, nil, nil)

	deactivate, err := l.Activate(context.Background(), "requests", "2.31.0")
	require.NoError(t, err)
	defer deactivate()

	assert.NotContains(t, cache.Loaded(), "requests")
	assert.NotContains(t, cache.Loaded(), "requests.adapters")
	assert.Contains(t, cache.Loaded(), "flask", "modules outside the bubble's namespace must survive")
}

func TestDeactivate_RestoresSearchPathAndEnv(t *testing.T) {
	m := manifest.New("requests", "2.31.0")
	m.EnvOverrides = map[string]string{"LD_LIBRARY_PATH": "/bubble/lib"}

	l := New(manifestLookup(map[string]*manifest.Manifest{"requests==2.31.0": m}), newFakeCache(), "/main", testBubbleRootFor, []string{"/main/site-packages"}, map[string]string{"LD_LIBRARY_PATH": "/main/lib"})

	deactivate, err := l.Activate(context.Background(), "requests", "2.31.0")
	require.NoError(t, err)

	assert.Equal(t, "/bubble/lib", l.env["LD_LIBRARY_PATH"])

	deactivate()

	assert.Equal(t, []string{"/main/site-packages"}, l.SearchPath())
	assert.Equal(t, "/main/lib", l.env["LD_LIBRARY_PATH"])
	assert.Equal(t, 0, l.Depth())
}

func TestActivate_NestingIsStrictLIFO(t *testing.T) {
	outer := manifest.New("requests", "2.31.0")
	inner := manifest.New("flask", "3.0.0")
	lookup := manifestLookup(map[string]*manifest.Manifest{
		"requests==2.31.0": outer,
		"flask==3.0.0":      inner,
	})
	l := New(lookup, newFakeCache(), "/main", testBubbleRootFor, []string{"/main/site-packages"}, nil)

	deactivateOuter, err := l.Activate(context.Background(), "requests", "2.31.0")
	require.NoError(t, err)
	assert.Equal(t, 1, l.Depth())

	deactivateInner, err := l.Activate(context.Background(), "flask", "3.0.0")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Depth())

	path := l.SearchPath()
	assert.Equal(t, "/main/.bubbles/flask-3.0.0", path[0])
	assert.Contains(t, path, "/main/.bubbles/requests-2.31.0")

	deactivateInner()
	assert.Equal(t, 1, l.Depth())
	assert.Equal(t, "/main/.bubbles/requests-2.31.0", l.SearchPath()[0])

	deactivateOuter()
	assert.Equal(t, 0, l.Depth())
	assert.Equal(t, []string{"/main/site-packages"}, l.SearchPath())
}

func TestDeactivate_IsIdempotent(t *testing.T) {
	m := manifest.New("requests", "2.31.0")
	l := New(manifestLookup(map[string]*manifest.Manifest{"requests==2.31.0": m}), newFakeCache(), "/main", testBubbleRootFor, nil, nil)

	deactivate, err := l.Activate(context.Background(), "requests", "2.31.0")
	require.NoError(t, err)

	deactivate()
	assert.NotPanics(t, func() { deactivate() })
	assert.Equal(t, 0, l.Depth())
}

func TestDeactivate_PurgesModulesLoadedDuringFrame(t *testing.T) {
	m := manifest.New("requests", "2.31.0")
	cache := newFakeCache("flask")
	l := New(manifestLookup(map[string]*manifest.Manifest{"requests==2.31.0": m}), cache, "/main", testBubbleRootFor, nil, nil)

	deactivate, err := l.Activate(context.Background(), "requests", "2.31.0")
	require.NoError(t, err)

	// Simulate the interpreter loading a module while the bubble is
	// active.
	cache.loaded["requests"] = true

	deactivate()

	assert.NotContains(t, cache.Loaded(), "requests", "module loaded during the frame's lifetime must be purged on exit")
	assert.Contains(t, cache.Loaded(), "flask", "modules present before the frame activated must survive")
}

func TestActivate_LinksCompatibleDependencyFromMainEnv(t *testing.T) {
	m := manifest.New("requests", "2.31.0")
	m.DependencySnapshot = map[string]string{"urllib3": "2.0.0"}
	l := New(manifestLookup(map[string]*manifest.Manifest{"requests==2.31.0": m}), newFakeCache(), "/main", testBubbleRootFor, nil, nil)
	l.ActiveVersions["urllib3"] = "2.1.0"

	deactivate, err := l.Activate(context.Background(), "requests", "2.31.0")
	require.NoError(t, err)
	defer deactivate()

	assert.Contains(t, l.SearchPath(), "/main/urllib3")
}

func TestActivate_DoesNotLinkIncompatibleDependency(t *testing.T) {
	m := manifest.New("requests", "2.31.0")
	m.DependencySnapshot = map[string]string{"urllib3": "2.0.0"}
	l := New(manifestLookup(map[string]*manifest.Manifest{"requests==2.31.0": m}), newFakeCache(), "/main", testBubbleRootFor, nil, nil)
	l.ActiveVersions["urllib3"] = "1.26.0"

	deactivate, err := l.Activate(context.Background(), "requests", "2.31.0")
	require.NoError(t, err)
	defer deactivate()

	assert.NotContains(t, l.SearchPath(), "/main/urllib3")
}
