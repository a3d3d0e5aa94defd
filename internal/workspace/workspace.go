package workspace

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

func NormalizeProjectPath(path string) (string, error) {
	if path == "" {
		path = "."
	}
	return filepath.Abs(path)
}

// FindProjectRoot walks up from start to the first directory holding one of
// markers. When none is found the normalized start is returned with false.
func FindProjectRoot(start string, markers []string) (string, bool, error) {
	normalized, err := NormalizeProjectPath(start)
	if err != nil {
		return "", false, err
	}
	dir := normalized
	for {
		for _, marker := range markers {
			info, err := os.Stat(filepath.Join(dir, marker))
			if err == nil && !info.IsDir() {
				return dir, true, nil
			}
			if err != nil && !errors.Is(err, fs.ErrNotExist) {
				return "", false, err
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return normalized, false, nil
		}
		dir = parent
	}
}
