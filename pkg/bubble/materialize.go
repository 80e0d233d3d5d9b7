package bubble

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bubblepkg/bubblepkg/pkg/manifest"
)

// Materialize creates bubbleRoot's directory tree from stagedRoot
// according to entries, copying bytes for KindFile entries and
// linking symlink and hardlink entries, and writing nothing for
// dedup-ref entries (spec Section 4.3 step 4).
func Materialize(stagedRoot, bubbleRoot string, entries []manifest.Entry) error {
	for _, e := range entries {
		dst := filepath.Join(bubbleRoot, e.RelativePath)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return fmt.Errorf("materialize %s: %w", e.RelativePath, err)
		}

		switch e.Kind {
		case manifest.KindFile:
			if err := copyFile(filepath.Join(stagedRoot, e.RelativePath), dst); err != nil {
				return fmt.Errorf("materialize %s: %w", e.RelativePath, err)
			}
		case manifest.KindSymlink:
			if err := os.Symlink(e.MainEnvPath, dst); err != nil {
				return fmt.Errorf("materialize %s: symlink to %s: %w", e.RelativePath, e.MainEnvPath, err)
			}
		case manifest.KindHardlink:
			if err := os.Link(e.MainEnvPath, dst); err != nil {
				return fmt.Errorf("materialize %s: hardlink to %s: %w", e.RelativePath, e.MainEnvPath, err)
			}
		case manifest.KindDedupRef:
			// Nothing is written to disk beyond the manifest entry
			// itself; pkg/loader does not read manifest entries, so no
			// later step resolves it either.
		default:
			return fmt.Errorf("materialize %s: unknown entry kind %q", e.RelativePath, e.Kind)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode())
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
