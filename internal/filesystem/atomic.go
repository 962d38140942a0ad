package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces target with data so that readers see either the
// old file or the new one, never a partial write.
//
// The data goes to a temp file in the target's directory, is synced, and is
// then renamed over the target. The previous version is kept as <target>.bak
// until the rename succeeds and is restored if it fails.
func WriteFileAtomic(target string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: application data directory
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(target)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		cleanup()
		return fmt.Errorf("setting permissions: %w", err)
	}

	bakPath := target + ".bak"
	hadTarget := false
	if _, err := os.Stat(target); err == nil {
		if err := os.Rename(target, bakPath); err != nil {
			cleanup()
			return fmt.Errorf("backing up existing file: %w", err)
		}
		hadTarget = true
	}

	if err := os.Rename(tmpPath, target); err != nil {
		if hadTarget {
			_ = os.Rename(bakPath, target)
		}
		cleanup()
		return fmt.Errorf("renaming temp to target: %w", err)
	}

	_ = os.Remove(bakPath)
	return nil
}
