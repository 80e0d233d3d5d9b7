package consistency

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// BuildCoalescer deduplicates concurrent build requests for the same
// bubble within one process: if two goroutines ask to build the same
// key while a build for it is already in flight, both receive the
// first build's result instead of starting a second build. Combined
// with the KB's build-lock key transaction (pkg/kb, key from
// kb.BubbleBuildLockKey), this gives the spec's single-builder
// guarantee both within a process and across processes.
type BuildCoalescer struct {
	group singleflight.Group
}

// NewBuildCoalescer returns a ready-to-use coalescer.
func NewBuildCoalescer() *BuildCoalescer {
	return &BuildCoalescer{}
}

// Do runs fn for key if no build for key is currently in flight in
// this process, or waits for and returns the in-flight build's result
// otherwise. shared reports whether the result was produced by this
// call or borrowed from a concurrent one.
func (c *BuildCoalescer) Do(ctx context.Context, key string, fn func(ctx context.Context) (any, error)) (result any, shared bool, err error) {
	result, err, shared = c.group.Do(key, func() (any, error) {
		return fn(ctx)
	})
	return result, shared, err
}

// Forget makes the next Do call for key start a new call of fn instead
// of joining one still in flight for key. Results of calls that have
// already returned are never kept, so a Do after such a call runs fn
// again whether or not Forget was called.
func (c *BuildCoalescer) Forget(key string) {
	c.group.Forget(key)
}
