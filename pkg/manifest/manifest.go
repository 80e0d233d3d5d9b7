// Package manifest defines the per-bubble manifest format (spec Section
// 3: Manifest) and the canonical content-hashing used throughout the
// Bubble Builder, Snapshot engine, and Knowledge Base.
package manifest

import (
	"fmt"
	"time"

	"github.com/bubblepkg/bubblepkg/pkg/cryptoutil"
)

// EntryKind classifies how a manifest entry's bytes are provided.
type EntryKind string

const (
	// KindFile means the bubble carries its own copy of the bytes.
	KindFile EntryKind = "file"
	// KindSymlink means the bubble links to the main environment's copy.
	KindSymlink EntryKind = "symlink"
	// KindHardlink means the bubble hardlinks the main environment's copy.
	KindHardlink EntryKind = "hardlink"
	// KindDedupRef means the manifest records the main-environment path
	// and hash only; nothing is copied or linked into the bubble root,
	// and pkg/loader does not read manifest entries to resolve it.
	KindDedupRef EntryKind = "dedup-ref"
)

// Entry is one file recorded in a bubble's manifest.
type Entry struct {
	RelativePath string    `json:"relative_path"`
	Kind         EntryKind `json:"kind"`
	SHA256       string    `json:"sha256"`
	Size         int64     `json:"size"`
	// MainEnvPath is set for KindSymlink/KindHardlink/KindDedupRef
	// entries: the path in the main environment the bytes are shared
	// with. Empty for KindFile.
	MainEnvPath string `json:"main_env_path,omitempty"`
}

// Manifest is the per-bubble file list plus metadata (spec Section 6:
// bubble on-disk layout item (b)).
type Manifest struct {
	SchemaVersion      int              `json:"schema_version"`
	PackageName        string           `json:"package_name"`
	Version            string           `json:"version"`
	Entries            []Entry          `json:"entries"`
	ProvidedModules    []string         `json:"provided_modules"`
	DependencySnapshot map[string]string `json:"dependency_snapshot,omitempty"`
	// EnvOverrides are environment variables the bubble needs set while
	// active (e.g. a dynamic-library search path), consumed by the
	// Runtime Loader Protocol's activation step 2/deactivation step 2.
	EnvOverrides map[string]string `json:"env_overrides,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	SizeBytes    int64             `json:"size_bytes"`
	ContentHash  string            `json:"content_hash"`
	Signature    *Signature        `json:"signature,omitempty"`
}

// Signature is a detached Ed25519 signature over a manifest's
// ContentHash, from a configured trust anchor (spec_full.md Section 3
// addition).
type Signature struct {
	SignerID  string    `json:"signer_id"`
	Algorithm string    `json:"algorithm"` // always "ed25519" today
	Value     string    `json:"value"`     // hex-encoded
	SignedAt  time.Time `json:"signed_at"`
}

// CurrentSchemaVersion is bumped whenever the manifest's on-disk shape
// changes incompatibly.
const CurrentSchemaVersion = 1

// New creates an empty manifest ready to accumulate entries.
func New(packageName, version string) *Manifest {
	return &Manifest{
		SchemaVersion: CurrentSchemaVersion,
		PackageName:   packageName,
		Version:       version,
		CreatedAt:     time.Now().UTC(),
	}
}

// AddEntry appends an entry and keeps SizeBytes in sync.
func (m *Manifest) AddEntry(e Entry) {
	m.Entries = append(m.Entries, e)
	m.SizeBytes += e.Size
}

// DedupSavings returns the number of bytes not duplicated on disk
// because they were recorded as a symlink, hardlink, or dedup-ref
// instead of a full file copy (spec Section 4.3: "space savings are
// reported; absence of savings is not an error").
func (m *Manifest) DedupSavings() int64 {
	var saved int64
	for _, e := range m.Entries {
		if e.Kind != KindFile {
			saved += e.Size
		}
	}
	return saved
}

// Validate enforces the Manifest invariant from spec Section 3: every
// entry is either self-contained bytes (KindFile) or a reference that
// names the main-environment path it resolves to — no dangling
// references.
func (m *Manifest) Validate() error {
	for _, e := range m.Entries {
		if e.Kind != KindFile && e.MainEnvPath == "" {
			return &danglingReferenceError{path: e.RelativePath}
		}
	}
	return nil
}

// hashableView is the subset of Manifest that participates in
// ContentHash. ContentHash and Signature themselves are excluded so
// computing and verifying the hash doesn't chase its own tail.
type hashableView struct {
	SchemaVersion      int               `json:"schema_version"`
	PackageName        string            `json:"package_name"`
	Version            string            `json:"version"`
	Entries            []Entry           `json:"entries"`
	ProvidedModules    []string          `json:"provided_modules"`
	DependencySnapshot map[string]string `json:"dependency_snapshot,omitempty"`
	EnvOverrides       map[string]string `json:"env_overrides,omitempty"`
	SizeBytes          int64             `json:"size_bytes"`
}

func (m *Manifest) view() hashableView {
	return hashableView{
		SchemaVersion:      m.SchemaVersion,
		PackageName:        m.PackageName,
		Version:            m.Version,
		Entries:            m.Entries,
		ProvidedModules:    m.ProvidedModules,
		DependencySnapshot: m.DependencySnapshot,
		EnvOverrides:       m.EnvOverrides,
		SizeBytes:          m.SizeBytes,
	}
}

// ComputeHash sets ContentHash to the canonical SHA-256 digest of the
// manifest's entries and metadata, excluding ContentHash/Signature
// themselves. Callers must call this after the last AddEntry and
// before Sign or persisting the manifest.
func (m *Manifest) ComputeHash() error {
	hash, err := cryptoutil.CanonicalHash(m.view())
	if err != nil {
		return err
	}
	m.ContentHash = hash
	return nil
}

// Sign attaches a detached Ed25519 signature over the manifest's
// ContentHash. ComputeHash must have been called first.
func (m *Manifest) Sign(signer *cryptoutil.Signer) error {
	if m.ContentHash == "" {
		return fmt.Errorf("manifest content hash not computed")
	}
	m.Signature = &Signature{
		SignerID:  signer.KeyID(),
		Algorithm: "ed25519",
		Value:     signer.Sign(m.ContentHash),
		SignedAt:  time.Now().UTC(),
	}
	return nil
}

// VerifySignature checks the manifest's attached signature against the
// given hex-encoded public key. Returns an error if there is no
// signature to verify.
func (m *Manifest) VerifySignature(pubKeyHex string) (bool, error) {
	if m.Signature == nil {
		return false, fmt.Errorf("manifest carries no signature")
	}
	return cryptoutil.VerifyDetached(pubKeyHex, m.Signature.Value, m.ContentHash)
}

type danglingReferenceError struct{ path string }

func (e *danglingReferenceError) Error() string {
	return "manifest entry " + e.path + " is a reference with no main-environment path"
}
