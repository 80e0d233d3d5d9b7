package bubble

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bubblepkg/bubblepkg/pkg/manifest"
)

func TestMaterialize_CopiesFileEntries(t *testing.T) {
	staged := t.TempDir()
	bubbleRoot := t.TempDir()
	writeFile(t, staged, "pkg/a.py", "contents")

	err := Materialize(staged, bubbleRoot, []manifest.Entry{
		{RelativePath: "pkg/a.py", Kind: manifest.KindFile},
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(bubbleRoot, "pkg/a.py"))
	require.NoError(t, err)
	assert.Equal(t, "contents", string(data))
}

func TestMaterialize_CreatesSymlinkForReferenceEntries(t *testing.T) {
	staged := t.TempDir()
	bubbleRoot := t.TempDir()
	mainFile := filepath.Join(t.TempDir(), "shared.py")
	require.NoError(t, os.WriteFile(mainFile, []byte("shared"), 0o644))

	err := Materialize(staged, bubbleRoot, []manifest.Entry{
		{RelativePath: "pkg/shared.py", Kind: manifest.KindSymlink, MainEnvPath: mainFile},
	})
	require.NoError(t, err)

	target, err := os.Readlink(filepath.Join(bubbleRoot, "pkg/shared.py"))
	require.NoError(t, err)
	assert.Equal(t, mainFile, target)
}

func TestMaterialize_DedupRefWritesNothingToDisk(t *testing.T) {
	staged := t.TempDir()
	bubbleRoot := t.TempDir()

	err := Materialize(staged, bubbleRoot, []manifest.Entry{
		{RelativePath: "pkg/lazy.py", Kind: manifest.KindDedupRef, MainEnvPath: "/main/pkg/lazy.py"},
	})
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(bubbleRoot, "pkg/lazy.py"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestMaterialize_RejectsUnknownKind(t *testing.T) {
	staged := t.TempDir()
	bubbleRoot := t.TempDir()

	err := Materialize(staged, bubbleRoot, []manifest.Entry{
		{RelativePath: "pkg/x.py", Kind: "bogus"},
	})
	assert.Error(t, err)
}
