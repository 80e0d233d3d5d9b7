package bubble

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bubblepkg/bubblepkg/pkg/bpkgerrors"
	"github.com/bubblepkg/bubblepkg/pkg/consistency"
	"github.com/bubblepkg/bubblepkg/pkg/installer"
	"github.com/bubblepkg/bubblepkg/pkg/kb"
	"github.com/bubblepkg/bubblepkg/pkg/manifest"
)

// Request describes one bubble to build.
type Request struct {
	Name          string
	Version       string
	TargetModules []string
	// CurrentActive is the name -> version map of what's installed in
	// the main environment right now, for every name the stage step
	// might transiently modify, captured before staging (spec Section
	// 4.3 step 1: "Snapshot current package states for affected
	// names").
	CurrentActive map[string]string
}

// Builder implements the 7-step Bubble Builder protocol (spec Section
// 4.3).
type Builder struct {
	KB          kb.KB
	Installer   *installer.Driver
	Coalescer   *consistency.BuildCoalescer
	Dedup       DedupPolicy
	RefKind     manifest.EntryKind
	Verifier    *ImportVerifier // nil disables step 5 (e.g. in tests)
	MainEnvRoot string
	// WorkDir is where temporary staging/bubble roots are created.
	WorkDir string
	// BubbleRootFor returns the final on-disk location for a built
	// bubble.
	BubbleRootFor func(name, version string) string
}

// Build runs the full protocol for req, returning the committed
// manifest. Concurrent Build calls for the same name+version within
// this process share one build (pkg/consistency.BuildCoalescer). A
// second process racing the same build that finds the KB build-lock
// key held, with the bubble not yet committed, gets a
// *bpkgerrors.ConflictErr at once; it does not wait for the first
// build to finish (see claimBuildLock).
func (b *Builder) Build(ctx context.Context, req Request) (*manifest.Manifest, error) {
	key := req.Name + "-" + req.Version
	result, _, err := b.Coalescer.Do(ctx, key, func(ctx context.Context) (any, error) {
		return b.buildWithLock(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	return result.(*manifest.Manifest), nil
}

func (b *Builder) buildWithLock(ctx context.Context, req Request) (*manifest.Manifest, error) {
	buildLockKey := kb.BubbleBuildLockKey(req.Name, req.Version)
	bubbleKey := kb.BubbleKey(req.Name, req.Version)

	// Fast path: a concurrent builder (in another process) already
	// committed while we were waiting on the in-process coalescer.
	if existing, err := b.KB.Get(ctx, bubbleKey); err == nil {
		var m manifest.Manifest
		if err := json.Unmarshal(existing, &m); err == nil {
			return &m, nil
		}
	}

	claimed, err := b.claimBuildLock(ctx, buildLockKey, bubbleKey)
	if err != nil {
		return nil, err
	}
	if !claimed.shouldBuild {
		return claimed.existing, nil
	}

	m, err := b.runProtocol(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := b.commit(ctx, req, m); err != nil {
		return nil, err
	}
	return m, nil
}

type lockClaim struct {
	shouldBuild bool
	existing    *manifest.Manifest
}

// claimBuildLock implements the KB side of spec Section 4.3's
// Concurrency rule: bubble:<name>:<version>:build is the build lock.
// A request that finds the bubble already committed returns the
// existing bubble instead of rebuilding; one that finds the lock held
// while the bubble is not yet committed returns *bpkgerrors.ConflictErr
// without waiting.
func (b *Builder) claimBuildLock(ctx context.Context, buildLockKey, bubbleKey string) (lockClaim, error) {
	var claim lockClaim

	err := b.KB.Transaction(ctx, []string{buildLockKey, bubbleKey}, func(view kb.TxnView) (kb.TxnWrites, error) {
		if view[bubbleKey] != nil {
			var m manifest.Manifest
			if err := json.Unmarshal(view[bubbleKey], &m); err != nil {
				return nil, fmt.Errorf("unmarshal committed bubble: %w", err)
			}
			claim = lockClaim{shouldBuild: false, existing: &m}
			return kb.TxnWrites{}, nil
		}
		if view[buildLockKey] != nil {
			return nil, bpkgerrors.NewConflict(buildLockKey)
		}
		claim = lockClaim{shouldBuild: true}
		return kb.TxnWrites{buildLockKey: []byte("held")}, nil
	})
	if err != nil {
		var conflict *bpkgerrors.ConflictErr
		if errors.As(err, &conflict) {
			return lockClaim{}, conflict
		}
		return lockClaim{}, err
	}
	return claim, nil
}

func (b *Builder) runProtocol(ctx context.Context, req Request) (*manifest.Manifest, error) {
	stagedRoot := filepath.Join(b.WorkDir, req.Name+"-"+req.Version+"-stage")
	bubbleRoot := b.BubbleRootFor(req.Name, req.Version)

	if err := os.MkdirAll(stagedRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create staging root: %w", err)
	}
	defer os.RemoveAll(stagedRoot)

	// Step 2: stage.
	reqFile := filepath.Join(b.WorkDir, req.Name+"-"+req.Version+".reqs")
	reportFile := filepath.Join(b.WorkDir, req.Name+"-"+req.Version+".report.json")
	_, err := b.Installer.Stage(ctx, []installer.Requirement{{Name: req.Name, Version: req.Version}}, stagedRoot, reqFile, reportFile)
	if err != nil {
		return nil, err
	}

	// Step 3: diff.
	diffEntries, err := Diff(stagedRoot, b.MainEnvRoot)
	if err != nil {
		return nil, fmt.Errorf("diff staged root: %w", err)
	}

	// Step 4: materialize.
	dedupEligible := b.Dedup.Eligible(req.Name, diffEntries)
	entries := ToManifestEntries(diffEntries, dedupEligible, b.RefKind, b.MainEnvRoot)
	if err := os.MkdirAll(bubbleRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create bubble root: %w", err)
	}
	if err := Materialize(stagedRoot, bubbleRoot, entries); err != nil {
		return nil, err
	}

	// Step 5: verify imports.
	if b.Verifier != nil && len(req.TargetModules) > 0 {
		results, err := b.Verifier.VerifyImports(ctx, bubbleRoot, b.MainEnvRoot, req.TargetModules)
		if err != nil {
			return nil, bpkgerrors.NewVerificationFailed(err.Error(), 1)
		}
		for _, r := range results {
			if !r.OK {
				return nil, bpkgerrors.NewVerificationFailed(
					fmt.Sprintf("module %s: %s: %s", r.Module, r.Class, r.Message), 1)
			}
		}
	}

	// Step 6: restore main. The installer only ever staged into
	// stagedRoot (isolated from the main environment), so there is
	// nothing transient to reverse here; no code runs for this step and
	// req.CurrentActive is not read.

	m := manifest.New(req.Name, req.Version)
	for _, e := range entries {
		m.AddEntry(e)
	}
	m.ProvidedModules = req.TargetModules
	if err := m.ComputeHash(); err != nil {
		return nil, fmt.Errorf("compute manifest hash: %w", err)
	}
	return m, nil
}

// commit implements step 7: in a single KB transaction, write the
// bubble manifest and add the version to pkg:<name>:versions. No
// dependency snapshot is recorded: the manifest's DependencySnapshot
// is left empty.
func (b *Builder) commit(ctx context.Context, req Request, m *manifest.Manifest) error {
	versionsKey := kb.PackageVersionsKey(req.Name)
	bubbleKey := kb.BubbleKey(req.Name, req.Version)
	buildLockKey := kb.BubbleBuildLockKey(req.Name, req.Version)

	manifestJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	err = b.KB.Transaction(ctx, []string{versionsKey, bubbleKey, buildLockKey}, func(view kb.TxnView) (kb.TxnWrites, error) {
		versions := map[string]bool{}
		if view[versionsKey] != nil {
			_ = json.Unmarshal(view[versionsKey], &versions)
		}
		versions[req.Version] = true

		versionsJSON, err := json.Marshal(versions)
		if err != nil {
			return nil, err
		}

		// buildLockKey is left as-is: claimBuildLock's check for an
		// already-committed bubble (via bubbleKey) always short-circuits
		// before it would ever re-inspect buildLockKey, so there is
		// nothing to release here.
		return kb.TxnWrites{
			versionsKey: versionsJSON,
			bubbleKey:   manifestJSON,
		}, nil
	})
	if err != nil {
		return fmt.Errorf("commit bubble: %w", err)
	}
	return nil
}
