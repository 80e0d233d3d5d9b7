package semver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReorderAndDiff_GroupsNewestFirstInFirstSeenOrder(t *testing.T) {
	in := []Spec{
		{Name: "A", Version: "1.0.0"},
		{Name: "A", Version: "2.0.0"},
		{Name: "B", Version: "3.0.0"},
	}

	got := ReorderAndDiff(in)

	want := []Spec{
		{Name: "A", Version: "2.0.0"},
		{Name: "A", Version: "1.0.0"},
		{Name: "B", Version: "3.0.0"},
	}
	assert.Equal(t, want, got)
}

func TestReorderAndDiff_PreservesFirstSeenNameOrder(t *testing.T) {
	in := []Spec{
		{Name: "B", Version: "1.0.0"},
		{Name: "A", Version: "1.0.0"},
		{Name: "B", Version: "2.0.0"},
	}

	got := ReorderAndDiff(in)

	want := []Spec{
		{Name: "B", Version: "2.0.0"},
		{Name: "B", Version: "1.0.0"},
		{Name: "A", Version: "1.0.0"},
	}
	assert.Equal(t, want, got)
}

func TestLess_OrdersBySemverPrecedence(t *testing.T) {
	assert.True(t, Less("1.0.0", "2.0.0"))
	assert.False(t, Less("2.0.0", "1.0.0"))
	assert.True(t, Less("1.0.0-alpha", "1.0.0"))
}

func TestLess_InvalidVersionsSortAfterValid(t *testing.T) {
	assert.True(t, Less("1.0.0", "not-a-version"))
	assert.False(t, Less("not-a-version", "1.0.0"))
}

func TestIsDowngradeFrom(t *testing.T) {
	assert.True(t, IsDowngradeFrom("1.0.0", "2.0.0"))
	assert.False(t, IsDowngradeFrom("2.0.0", "1.0.0"))
	assert.False(t, IsDowngradeFrom("2.0.0", "2.0.0"))
}

func TestSortVersionsAscending(t *testing.T) {
	versions := []string{"2.0.0", "1.0.0", "1.5.0"}
	SortVersionsAscending(versions)
	assert.Equal(t, []string{"1.0.0", "1.5.0", "2.0.0"}, versions)
}

func TestCompatible_SameMajorIsCompatible(t *testing.T) {
	assert.True(t, Compatible("1.4.0", "1.2.0"))
	assert.True(t, Compatible("1.2.0", "1.2.0"))
}

func TestCompatible_OlderOrDifferentMajorIsNotCompatible(t *testing.T) {
	assert.False(t, Compatible("1.1.0", "1.2.0"))
	assert.False(t, Compatible("2.0.0", "1.2.0"))
}

func TestCompatible_ZeroMajorRequiresSameMinor(t *testing.T) {
	assert.True(t, Compatible("0.3.4", "0.3.0"))
	assert.False(t, Compatible("0.4.0", "0.3.0"))
}

func TestCompatible_UnparseableIsNeverCompatible(t *testing.T) {
	assert.False(t, Compatible("not-a-version", "1.2.0"))
	assert.False(t, Compatible("1.2.0", "not-a-version"))
}
