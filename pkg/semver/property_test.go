//go:build property
// +build property

package semver_test

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/bubblepkg/bubblepkg/pkg/semver"
)

// TestReorderAndDiff_EveryNameGroupIsContiguousAndDescending verifies
// the two invariants the Bubble Builder relies on regardless of input
// shape: every occurrence of a name stays together (no interleaving
// across groups), and within a group, versions never increase.
func TestReorderAndDiff_EveryNameGroupIsContiguousAndDescending(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("reordered specs keep each name's group contiguous and newest-first", prop.ForAll(
		func(nameIdx []int, majors []int) bool {
			count := len(nameIdx)
			if len(majors) < count {
				count = len(majors)
			}
			specs := make([]semver.Spec, 0, count)
			for i := 0; i < count; i++ {
				specs = append(specs, semver.Spec{
					Name:    fmt.Sprintf("pkg-%d", nameIdx[i]%3),
					Version: fmt.Sprintf("%d.0.0", majors[i]%10),
				})
			}

			got := semver.ReorderAndDiff(specs)
			if len(got) != len(specs) {
				return false
			}

			// closedGroups records names whose contiguous run has already
			// ended; seeing one again afterward means the groups split.
			closedGroups := map[string]bool{}
			var currentName string
			var lastVersion string
			for i, s := range got {
				if i == 0 || s.Name != currentName {
					if closedGroups[s.Name] {
						return false // this name's group was already closed
					}
					if currentName != "" {
						closedGroups[currentName] = true
					}
					currentName = s.Name
					lastVersion = s.Version
					continue
				}
				if semver.Less(lastVersion, s.Version) {
					return false // group isn't sorted newest-first
				}
				lastVersion = s.Version
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, 2)),
		gen.SliceOf(gen.IntRange(0, 9)),
	))

	properties.TestingRun(t)
}
