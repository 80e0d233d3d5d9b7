package kb

import (
	"fmt"

	"github.com/bubblepkg/bubblepkg/pkg/kb/backend"
)

// Key helpers for the hierarchical key space described in spec
// Section 3: "pkg:<name>:versions", "pkg:<name>:<version>:meta",
// "bubble:<name>:<version>", "snapshot:<id>".

// PackageVersionsKey is the key holding the set of versions known for
// a package, both active and bubbled.
func PackageVersionsKey(name string) string {
	return fmt.Sprintf("pkg:%s:versions", name)
}

// PackageActiveKey is the key holding the currently active version of
// a package in the main environment.
func PackageActiveKey(name string) string {
	return fmt.Sprintf("pkg:%s:active", name)
}

// PackageVersionMetaKey is the key holding a single version's metadata
// record (install time, dependency snapshot, source).
func PackageVersionMetaKey(name, version string) string {
	return fmt.Sprintf("pkg:%s:%s:meta", name, version)
}

// BubbleKey is the key holding a bubble's manifest.
func BubbleKey(name, version string) string {
	return fmt.Sprintf("bubble:%s:%s", name, version)
}

// BubbleBuildLockKey is the transaction key group used to serialize
// concurrent builders of the same bubble (spec Section 4.3
// Concurrency rule).
func BubbleBuildLockKey(name, version string) string {
	return fmt.Sprintf("bubble:%s:%s:build", name, version)
}

// SnapshotKey is the key holding a single snapshot's descriptor.
func SnapshotKey(id string) string {
	return fmt.Sprintf("snapshot:%s", id)
}

// SchemaVersionKey is the top-level key holding the backend's schema
// version.
const SchemaVersionKey = backend.SchemaVersionKey
