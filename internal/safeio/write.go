package safeio

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// WriteFileAtomic replaces targetPath with data. The content goes to a
// temporary sibling first and is renamed into place after it is synced, so
// readers never observe a partially written file.
func WriteFileAtomic(targetPath string, data []byte, perm os.FileMode) (err error) {
	targetAbs, err := filepath.Abs(targetPath)
	if err != nil {
		return fmt.Errorf("resolve target path: %w", err)
	}
	dir := filepath.Dir(targetAbs)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(targetAbs)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Chmod(perm); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmpName, targetAbs); err != nil {
		return fmt.Errorf("replace %s: %w", targetPath, err)
	}
	return nil
}

// RemoveFile deletes targetPath. A missing file is not an error.
func RemoveFile(targetPath string) (bool, error) {
	err := os.Remove(targetPath)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}
