// Package semver wraps Masterminds/semver with the version ordering and
// Reorder-and-Diff algorithm the Installer Driver needs (spec Section
// 4.2). It never builds its own ordering rules — it leans entirely on
// the ecosystem-standard comparator so pre-release ordering matches what
// the installer itself would report.
package semver

import (
	"sort"

	"github.com/Masterminds/semver/v3"
)

// Spec is a single requested (name, version) pair from an install
// request, e.g. "X==2.0.0".
type Spec struct {
	Name    string
	Version string
}

// Parse returns the parsed semantic version for a spec's version string,
// or an error if it isn't valid semver. It takes only the version; no
// package name is normalized here.
func Parse(version string) (*semver.Version, error) {
	return semver.NewVersion(version)
}

// Less reports whether a < b using semver precedence (including
// pre-release ordering). Invalid versions sort after valid ones,
// lexicographically among themselves, so a malformed input never panics
// a sort.
func Less(a, b string) bool {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA == nil && errB == nil:
		return va.LessThan(vb)
	case errA == nil:
		return true
	case errB == nil:
		return false
	default:
		return a < b
	}
}

// ReorderAndDiff implements the Reorder-and-Diff algorithm: group specs
// by name, sort each group newest-first, then concatenate the groups,
// each kept contiguous, in the order in which each name first appeared.
//
// Given [A==1.0, A==2.0, B==3.0] this returns [A==2.0, A==1.0, B==3.0]:
// every subsequent install of an older version of a name already staged
// newest-first is unambiguously a downgrade, which is the bubble-creation
// trigger condition the Bubble Builder relies on.
func ReorderAndDiff(specs []Spec) []Spec {
	groups := make(map[string][]Spec)
	var order []string

	for _, s := range specs {
		if _, seen := groups[s.Name]; !seen {
			order = append(order, s.Name)
		}
		groups[s.Name] = append(groups[s.Name], s)
	}

	for name := range groups {
		g := groups[name]
		sort.SliceStable(g, func(i, j int) bool {
			return Less(g[j].Version, g[i].Version) // descending
		})
		groups[name] = g
	}

	// Concatenate groups in original order: each name's full
	// newest-first run is emitted contiguously, in the order that name
	// first appeared in the request. [A==1.0, A==2.0, B==3.0] becomes
	// [A==2.0, A==1.0, B==3.0], not a round-robin merge.
	result := make([]Spec, 0, len(specs))
	for _, name := range order {
		result = append(result, groups[name]...)
	}
	return result
}

// IsDowngradeFrom reports whether candidate is older than active per
// semver precedence; used by the Bubble Builder to decide whether an
// install needs a bubble at all (installing an already-active or newer
// version never does).
func IsDowngradeFrom(candidate, active string) bool {
	return Less(candidate, active)
}

// Compatible reports whether candidate satisfies a caret constraint
// anchored at required (same major version, and same minor when major
// is 0), the same rule `github.com/Masterminds/semver/v3` applies for
// "^required". Used by the Runtime Loader Protocol (spec Section 4.5
// step 5) to decide whether a bubble's dependency can link to the
// main environment's copy instead of needing its own. Unparseable
// inputs are never compatible.
func Compatible(candidate, required string) bool {
	constraint, err := semver.NewConstraint("^" + required)
	if err != nil {
		return false
	}
	v, err := semver.NewVersion(candidate)
	if err != nil {
		return false
	}
	return constraint.Check(v)
}

// SortVersionsAscending sorts a slice of version strings in-place,
// oldest first, using semver precedence with lexicographic fallback for
// unparseable entries (the same ordering as Less).
func SortVersionsAscending(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return Less(versions[i], versions[j])
	})
}
