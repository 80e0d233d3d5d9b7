// Package bubble implements the Bubble Builder: given a package
// version that would be a downgrade, it produces a self-contained
// bubble without perturbing the main environment (spec Section 4.3).
package bubble

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/bubblepkg/bubblepkg/pkg/manifest"
)

// DiffClass classifies a staged file relative to the main environment.
type DiffClass int

const (
	// ClassIdentical means the staged file's hash matches the file at
	// the same relative path in the main environment.
	ClassIdentical DiffClass = iota
	// ClassAdded means no file exists at that relative path in the
	// main environment.
	ClassAdded
	// ClassDiffers means a file exists at that relative path but its
	// hash differs.
	ClassDiffers
)

// DiffEntry is one file found while walking a staged root.
type DiffEntry struct {
	RelativePath string
	Class        DiffClass
	SHA256       string
	Size         int64
}

// Diff walks stagedRoot and classifies every regular file against the
// equivalent relative path under mainRoot (spec Section 4.3 step 3).
func Diff(stagedRoot, mainRoot string) ([]DiffEntry, error) {
	var entries []DiffEntry

	err := filepath.Walk(stagedRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(stagedRoot, path)
		if err != nil {
			return err
		}

		hash, size, err := hashFile(path)
		if err != nil {
			return err
		}

		entry := DiffEntry{RelativePath: rel, SHA256: hash, Size: size}

		mainPath := filepath.Join(mainRoot, rel)
		mainHash, _, err := hashFile(mainPath)
		switch {
		case os.IsNotExist(err):
			entry.Class = ClassAdded
		case err != nil:
			return err
		case mainHash == hash:
			entry.Class = ClassIdentical
		default:
			entry.Class = ClassDiffers
		}

		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func hashFile(path string) (sha256Hex string, size int64, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// DedupPolicy decides whether a package is eligible for dedup
// references at all, per spec Section 4.3's dedup policy: native-code
// packages (platform-specific compiled objects) are never deduped,
// regardless of hash match.
type DedupPolicy struct {
	// NativeExtensions are file extensions that mark a package as
	// native (e.g. ".so", ".pyd", ".dll") — presence of any such file
	// anywhere in the staged package disables dedup for the whole
	// package.
	NativeExtensions []string
	// NoDedupNames are package names explicitly excluded from dedup
	// regardless of content (an operator-configured override).
	NoDedupNames map[string]bool
}

// IsNative reports whether any diff entry looks like a native/compiled
// artifact.
func (p DedupPolicy) IsNative(entries []DiffEntry) bool {
	for _, e := range entries {
		ext := filepath.Ext(e.RelativePath)
		for _, native := range p.NativeExtensions {
			if ext == native {
				return true
			}
		}
	}
	return false
}

// Eligible reports whether packageName's staged entries may use dedup
// references at all.
func (p DedupPolicy) Eligible(packageName string, entries []DiffEntry) bool {
	if p.NoDedupNames[packageName] {
		return false
	}
	return !p.IsNative(entries)
}

// ToManifestEntries converts diff results into manifest entries, given
// whether this package is dedup-eligible and which reference kind to
// use for dedup-eligible identical files.
func ToManifestEntries(entries []DiffEntry, dedupEligible bool, refKind manifest.EntryKind, mainRoot string) []manifest.Entry {
	out := make([]manifest.Entry, 0, len(entries))
	for _, e := range entries {
		if dedupEligible && e.Class == ClassIdentical {
			out = append(out, manifest.Entry{
				RelativePath: e.RelativePath,
				Kind:         refKind,
				SHA256:       e.SHA256,
				Size:         e.Size,
				MainEnvPath:  filepath.Join(mainRoot, e.RelativePath),
			})
			continue
		}
		out = append(out, manifest.Entry{
			RelativePath: e.RelativePath,
			Kind:         manifest.KindFile,
			SHA256:       e.SHA256,
			Size:         e.Size,
		})
	}
	return out
}
