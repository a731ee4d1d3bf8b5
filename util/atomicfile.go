// Package util holds small filesystem helpers shared by the components
// that persist state: the ballast inventory, the daemon state snapshot,
// and the policy transition log. Grounded on the teacher's
// engine/daemon.go writeSummaryLine/os.WriteFile persistence style,
// generalized into a true write-temp/fsync/rename primitive (the
// teacher's own os.WriteFile calls are not crash-atomic).
package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// WriteFileAtomic writes data to path by first writing to a sibling
// temp file, fsyncing it, then renaming it over path. A rename within
// the same directory is atomic on the filesystems this daemon targets,
// so a crash mid-write never leaves a torn file at path.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file into place: %w", err)
	}
	return nil
}

// AppendLine appends a single line (with a trailing newline added if
// missing) to path, rotating path to path+".old" first once it exceeds
// maxBytes. Used by the decision-record and transition-log writers,
// which are append-only and not helped by the atomic-replace pattern
// above.
func AppendLine(path string, line []byte, maxBytes int64) error {
	if info, err := os.Stat(path); err == nil && maxBytes > 0 && info.Size() > maxBytes {
		if err := os.Rename(path, path+".old"); err != nil {
			return fmt.Errorf("rotate %s: %w", path, err)
		}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", path, err)
	}
	defer f.Close()

	if len(line) == 0 || line[len(line)-1] != '\n' {
		line = append(line, '\n')
	}
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return nil
}
