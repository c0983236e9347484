package arena

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

const (
	promoteRetries    = 10
	promoteRetryDelay = 500 * time.Millisecond
)

// Promote snapshots the current production model into
// pastDir/prod_<timestamp> and replaces it with the candidate. Transient
// rename failures (open handles) are retried with bounded backoff; a failed
// promotion leaves the prior production model intact.
func Promote(prodDir, candidateDir, pastDir string) error {
	if _, err := os.Stat(candidateDir); err != nil {
		return fmt.Errorf("candidate model: %w", err)
	}

	snapshot := ""
	if _, err := os.Stat(prodDir); err == nil {
		if err := os.MkdirAll(pastDir, 0o755); err != nil {
			return fmt.Errorf("create past models dir: %w", err)
		}
		snapshot = filepath.Join(pastDir, fmt.Sprintf("prod_%d", time.Now().UnixMilli()))
		if err := renameOrCopyDir(prodDir, snapshot); err != nil {
			return fmt.Errorf("snapshot prod: %w", err)
		}
	}

	if err := renameOrCopyDir(candidateDir, prodDir); err != nil {
		if snapshot != "" {
			_ = renameOrCopyDir(snapshot, prodDir)
		}
		return fmt.Errorf("install candidate: %w", err)
	}
	return nil
}

// renameOrCopyDir renames with retries, falling back to a recursive copy
// for cross-device moves.
func renameOrCopyDir(src, dst string) error {
	var lastErr error
	for attempt := 0; attempt < promoteRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(promoteRetryDelay)
		}
		if err := os.Rename(src, dst); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if err := copyDir(src, dst); err == nil {
			return os.RemoveAll(src)
		} else {
			lastErr = err
			_ = os.RemoveAll(dst)
		}
	}
	return lastErr
}

func copyDir(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		return copyFile(path, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
