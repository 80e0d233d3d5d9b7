// Package health implements the Health / Reconciliation operations
// (spec Section 4.7): scan_bubbles, verify_bubble, rebuild_kb, and
// rescan_interpreters, plus an audit-log hook every mutating check may
// append a record to.
//
// A bubble's manifest lives only in the Knowledge Base (the Bubble
// Builder's commit step writes it under kb.BubbleKey, never to an
// on-disk manifest.json — see pkg/bubble.Builder.commit), so the KB is
// this package's source of truth for what a bubble's recorded entries
// are. The bubble's install root is consulted only to confirm those
// recorded entries are actually present on disk.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bubblepkg/bubblepkg/pkg/kb"
	"github.com/bubblepkg/bubblepkg/pkg/manifest"
)

// CheckStatus is one of ok/warn/fail, the same three-state contract
// the teacher's `helm doctor` command reports per check.
type CheckStatus string

const (
	StatusOK   CheckStatus = "ok"
	StatusWarn CheckStatus = "warn"
	StatusFail CheckStatus = "fail"
)

// CheckResult is one named finding from a reconciliation pass.
type CheckResult struct {
	Name   string      `json:"name"`
	Status CheckStatus `json:"status"`
	Detail string      `json:"detail,omitempty"`
}

// Report is the full outcome of a doctor run: every check performed,
// in the order they ran.
type Report struct {
	Checks []CheckResult `json:"checks"`
}

// AllOK reports whether every check in the report passed.
func (r Report) AllOK() bool {
	for _, c := range r.Checks {
		if c.Status == StatusFail {
			return false
		}
	}
	return true
}

// AuditRecorder receives one record per mutating reconciliation
// operation (spec Section 4.7, "[ADDED] Audit log"). Implementations
// live in pkg/auditlog; the interface is declared here to avoid a
// dependency cycle, following the same narrow-consumer-side-interface
// idiom the teacher uses for its store abstractions.
type AuditRecorder interface {
	Record(ctx context.Context, operation, actor, beforeHash, afterHash string, at time.Time) error
}

// BubbleRootFor resolves a bubble's on-disk install directory, the
// same function the Bubble Builder is configured with
// (pkg/bubble.Builder.BubbleRootFor).
type BubbleRootFor func(name, version string) string

// Doctor bundles everything a reconciliation pass needs: the
// Knowledge Base, a way to find a bubble's on-disk root, and an
// optional audit recorder (nil disables auditing).
type Doctor struct {
	KB            kb.KB
	BubbleRootFor BubbleRootFor
	Audit         AuditRecorder
	Now           func() time.Time
	actorTag      string
}

const bubbleKeyPrefix = "bubble:"

// New builds a Doctor. actor identifies the caller in audit records
// (e.g. "cli", "daemon").
func New(store kb.KB, bubbleRootFor BubbleRootFor, audit AuditRecorder, actor string) *Doctor {
	return &Doctor{KB: store, BubbleRootFor: bubbleRootFor, Audit: audit, Now: time.Now, actorTag: actor}
}

func (d *Doctor) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Doctor) recordAudit(ctx context.Context, operation, beforeHash, afterHash string) {
	if d.Audit == nil {
		return
	}
	_ = d.Audit.Record(ctx, operation, d.actorTag, beforeHash, afterHash, d.now())
}

// bubbleManifests scans every bubble:<name>:<version> entry in the KB
// (skipping the bubble:<name>:<version>:build lock keys
// kb.BubbleBuildLockKey writes) and returns each one's decoded
// manifest.
func (d *Doctor) bubbleManifests(ctx context.Context) ([]*manifest.Manifest, error) {
	it, err := d.KB.Scan(ctx, bubbleKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan %s*: %w", bubbleKeyPrefix, err)
	}
	defer func() { _ = it.Close() }()

	var out []*manifest.Manifest
	for it.Next(ctx) {
		if strings.HasSuffix(it.Key(), ":build") {
			continue
		}
		var m manifest.Manifest
		if err := json.Unmarshal(it.Value(), &m); err != nil {
			return nil, fmt.Errorf("decode manifest at %s: %w", it.Key(), err)
		}
		out = append(out, &m)
	}
	if err := it.Err(); err != nil {
		return nil, err
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].PackageName != out[j].PackageName {
			return out[i].PackageName < out[j].PackageName
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// ScanBubbles reads every bubble manifest recorded in the Knowledge
// Base and confirms its entries are actually present under its
// on-disk install root, without mutating anything.
func (d *Doctor) ScanBubbles(ctx context.Context) (Report, error) {
	var report Report

	manifests, err := d.bubbleManifests(ctx)
	if err != nil {
		return report, err
	}

	for _, m := range manifests {
		name := bubbleDirName(m.PackageName, m.Version)
		dir := d.BubbleRootFor(m.PackageName, m.Version)

		missing := missingEntries(dir, m.Entries)
		if len(missing) > 0 {
			report.Checks = append(report.Checks, CheckResult{
				Name: name, Status: StatusFail,
				Detail: fmt.Sprintf("%d file(s) missing from disk", len(missing)),
			})
			continue
		}

		report.Checks = append(report.Checks, CheckResult{Name: name, Status: StatusOK})
	}

	return report, nil
}

// VerifyBubble re-derives a single bubble's manifest content hash from
// its KB-recorded entries and compares it to the recorded hash,
// catching a manifest tampered with in the Knowledge Base, then
// confirms those entries are present on disk.
func (d *Doctor) VerifyBubble(ctx context.Context, name, version string) (CheckResult, error) {
	checkName := bubbleDirName(name, version)

	raw, err := d.KB.Get(ctx, kb.BubbleKey(name, version))
	if err != nil {
		return CheckResult{}, fmt.Errorf("load manifest for %s@%s: %w", name, version, err)
	}
	var m manifest.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return CheckResult{}, fmt.Errorf("decode manifest for %s@%s: %w", name, version, err)
	}

	recorded := m.ContentHash
	if err := m.ComputeHash(); err != nil {
		return CheckResult{}, fmt.Errorf("recompute hash for %s@%s: %w", name, version, err)
	}

	if m.ContentHash != recorded {
		return CheckResult{
			Name: checkName, Status: StatusFail,
			Detail: fmt.Sprintf("content hash mismatch: recorded %s, computed %s", recorded, m.ContentHash),
		}, nil
	}

	dir := d.BubbleRootFor(name, version)
	if missing := missingEntries(dir, m.Entries); len(missing) > 0 {
		return CheckResult{
			Name: checkName, Status: StatusFail,
			Detail: fmt.Sprintf("%d file(s) missing from disk", len(missing)),
		}, nil
	}

	return CheckResult{Name: checkName, Status: StatusOK}, nil
}

// RebuildKB rebuilds each package's pkg:<name>:versions index from the
// bubble:<name>:<version> manifests actually present in the Knowledge
// Base. The versions index is a derived cache over the bubble
// manifests, which are themselves the only record of a built bubble
// (spec Section 3); a lost or corrupted index is recovered by
// recomputing it from that primary data, not from disk, since nothing
// on disk duplicates it.
func (d *Doctor) RebuildKB(ctx context.Context) (Report, error) {
	var report Report

	manifests, err := d.bubbleManifests(ctx)
	if err != nil {
		return report, err
	}

	versionsByPackage := make(map[string]map[string]bool)
	for _, m := range manifests {
		if versionsByPackage[m.PackageName] == nil {
			versionsByPackage[m.PackageName] = map[string]bool{}
		}
		versionsByPackage[m.PackageName][m.Version] = true
	}

	names := make([]string, 0, len(versionsByPackage))
	for name := range versionsByPackage {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		// kb.PackageVersionsKey is encoded as a JSON object
		// (map[string]bool), the same shape pkg/bubble.Builder.commit
		// writes, not an array — json.Marshal of a map is key-sorted,
		// so this is stable across rebuilds with no version churn.
		key := kb.PackageVersionsKey(name)
		value, err := json.Marshal(versionsByPackage[name])
		if err != nil {
			return report, fmt.Errorf("encode versions for %s: %w", name, err)
		}

		before, _ := d.KB.Get(ctx, key)
		if string(before) == string(value) {
			report.Checks = append(report.Checks, CheckResult{Name: key, Status: StatusOK, Detail: "already up to date"})
			continue
		}

		if err := d.KB.Set(ctx, key, value); err != nil {
			return report, fmt.Errorf("write %s: %w", key, err)
		}
		d.recordAudit(ctx, "rebuild_kb:"+key, hashOf(before), hashOf(value))

		report.Checks = append(report.Checks, CheckResult{Name: key, Status: StatusOK, Detail: "rebuilt"})
	}

	return report, nil
}

// InterpreterProbe resolves the version string an interpreter binary
// reports, for RescanInterpreters to compare against what's registered.
type InterpreterProbe func(ctx context.Context, binary string) (version string, err error)

// RescanInterpreters probes each candidate binary path and reports
// which ones are usable, flagging any whose reported version doesn't
// match the version the caller expected it to be registered under.
func (d *Doctor) RescanInterpreters(ctx context.Context, expected map[string]string, probe InterpreterProbe) Report {
	var report Report

	paths := make([]string, 0, len(expected))
	for binary := range expected {
		paths = append(paths, binary)
	}
	sort.Strings(paths)

	for _, binary := range paths {
		wantVersion := expected[binary]
		got, err := probe(ctx, binary)
		if err != nil {
			report.Checks = append(report.Checks, CheckResult{
				Name: binary, Status: StatusFail,
				Detail: fmt.Sprintf("probe failed: %v", err),
			})
			continue
		}
		if got != wantVersion {
			report.Checks = append(report.Checks, CheckResult{
				Name: binary, Status: StatusWarn,
				Detail: fmt.Sprintf("registered as %s, reports %s", wantVersion, got),
			})
			continue
		}
		report.Checks = append(report.Checks, CheckResult{Name: binary, Status: StatusOK, Detail: got})
	}

	return report
}

func missingEntries(bubbleDir string, entries []manifest.Entry) []string {
	var missing []string
	for _, e := range entries {
		if _, err := os.Stat(filepath.Join(bubbleDir, e.RelativePath)); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				missing = append(missing, e.RelativePath)
				continue
			}
		}
	}
	return missing
}

func bubbleDirName(name, version string) string {
	return name + "@" + version
}
