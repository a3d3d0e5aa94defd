package safeio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrOutsideRoot is returned when a path resolves outside the directory it
// must stay under.
var ErrOutsideRoot = errors.New("path outside root")

// ReadFileUnder reads targetPath, which must resolve under rootDir. The
// file is opened through an os.Root, so symlinks inside the tree cannot
// redirect the read elsewhere either.
func ReadFileUnder(rootDir, targetPath string) ([]byte, error) {
	rootAbs, err := filepath.Abs(rootDir)
	if err != nil {
		return nil, fmt.Errorf("resolve root %s: %w", rootDir, err)
	}
	targetAbs, err := filepath.Abs(targetPath)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", targetPath, err)
	}
	rel, err := filepath.Rel(rootAbs, targetAbs)
	if err != nil || !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("%w: %s is not under %s", ErrOutsideRoot, targetPath, rootDir)
	}
	return readFromRoot(rootAbs, rel)
}

// ReadFile reads targetPath by opening its parent directory as the root,
// so the final path element cannot be a link out of that directory.
func ReadFile(targetPath string) ([]byte, error) {
	targetAbs, err := filepath.Abs(targetPath)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", targetPath, err)
	}
	return readFromRoot(filepath.Dir(targetAbs), filepath.Base(targetAbs))
}

func readFromRoot(dir, name string) ([]byte, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dir, err)
	}
	defer root.Close()

	file, err := root.Open(name)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return io.ReadAll(file)
}
