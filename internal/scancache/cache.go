// Package scancache stores source scan results keyed by a digest of the
// scanned inputs, so an unchanged project is checked without reparsing.
// Results live as content-addressed objects with one pointer file per key.
package scancache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ben-ranford/stdmod/internal/lang/js"
	"github.com/ben-ranford/stdmod/internal/report"
	"github.com/ben-ranford/stdmod/internal/safeio"
)

const (
	schemaVersion = "v1"
	// DefaultDir is the cache location relative to the project root.
	DefaultDir = ".stdmod/cache"
)

type Options struct {
	Enabled  bool
	Path     string
	ReadOnly bool
}

// Entry identifies one cached scan. KeyDigest covers the scan parameters,
// InputDigest the content of every file the scan would read.
type Entry struct {
	KeyLabel    string
	KeyDigest   string
	InputDigest string
}

type pointer struct {
	InputDigest  string `json:"inputDigest"`
	ObjectDigest string `json:"objectDigest"`
}

type payload struct {
	Scan js.ScanResult `json:"scan"`
}

type Cache struct {
	options   Options
	metadata  report.CacheMetadata
	warnings  []string
	cacheable bool
}

// New prepares the cache directories. A cache that cannot be created is
// disabled with a warning rather than failing the check.
func New(opts Options) *Cache {
	c := &Cache{
		options: opts,
		metadata: report.CacheMetadata{
			Enabled:  opts.Enabled,
			Path:     opts.Path,
			ReadOnly: opts.ReadOnly,
		},
	}
	if !opts.Enabled {
		return c
	}
	for _, dir := range []string{"keys", "objects"} {
		if err := os.MkdirAll(filepath.Join(opts.Path, dir), 0o750); err != nil {
			c.warn("scan cache unavailable: " + err.Error())
			return c
		}
	}
	c.cacheable = true
	return c
}

func (c *Cache) warn(message string) {
	if strings.TrimSpace(message) != "" {
		c.warnings = append(c.warnings, message)
	}
}

// TakeWarnings returns and clears the warnings collected so far.
func (c *Cache) TakeWarnings() []string {
	if len(c.warnings) == 0 {
		return nil
	}
	out := append([]string(nil), c.warnings...)
	c.warnings = c.warnings[:0]
	return out
}

func (c *Cache) Metadata() *report.CacheMetadata {
	snapshot := c.metadata
	if len(c.metadata.Invalidations) > 0 {
		snapshot.Invalidations = append([]report.CacheInvalidation(nil), c.metadata.Invalidations...)
	}
	return &snapshot
}

func (c *Cache) usable() bool {
	return c != nil && c.options.Enabled && c.cacheable
}

// Prepare computes the entry for scanning root with the given config file
// and excluded directories.
func (c *Cache) Prepare(root, configPath string, exclude []string) (Entry, error) {
	if !c.usable() {
		return Entry{}, nil
	}
	root = filepath.Clean(root)
	excluded := make([]string, 0, len(exclude))
	for _, dir := range exclude {
		excluded = append(excluded, filepath.Clean(dir))
	}
	sort.Strings(excluded)

	keyDigest, err := hashJSON(map[string]any{
		"schema":  schemaVersion,
		"root":    root,
		"config":  strings.TrimSpace(configPath),
		"exclude": excluded,
	})
	if err != nil {
		return Entry{}, err
	}
	inputDigest, err := computeInputDigest(root, configPath, excluded)
	if err != nil {
		return Entry{}, err
	}
	return Entry{KeyLabel: root, KeyDigest: keyDigest, InputDigest: inputDigest}, nil
}

func (c *Cache) Lookup(entry Entry) (js.ScanResult, bool, error) {
	if !c.usable() {
		return js.ScanResult{}, false, nil
	}
	pointerPath := filepath.Join(c.options.Path, "keys", entry.KeyDigest+".json")
	pointerData, err := safeio.ReadFileUnder(c.options.Path, pointerPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.metadata.Misses++
			return js.ScanResult{}, false, nil
		}
		return js.ScanResult{}, false, err
	}
	var ptr pointer
	if err := json.Unmarshal(pointerData, &ptr); err != nil {
		return c.invalidate(entry, "pointer-corrupt")
	}
	if ptr.InputDigest != entry.InputDigest {
		return c.invalidate(entry, "input-changed")
	}

	objectPath := filepath.Join(c.options.Path, "objects", ptr.ObjectDigest+".json")
	objectData, err := safeio.ReadFileUnder(c.options.Path, objectPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return c.invalidate(entry, "object-missing")
		}
		return c.invalidate(entry, "object-read-error")
	}
	var cached payload
	if err := json.Unmarshal(objectData, &cached); err != nil {
		return c.invalidate(entry, "object-corrupt")
	}
	c.metadata.Hits++
	return cached.Scan, true, nil
}

func (c *Cache) invalidate(entry Entry, reason string) (js.ScanResult, bool, error) {
	c.metadata.Misses++
	c.metadata.Invalidations = append(c.metadata.Invalidations, report.CacheInvalidation{Key: entry.KeyLabel, Reason: reason})
	return js.ScanResult{}, false, nil
}

// Store writes scan under entry. Read-only caches never write.
func (c *Cache) Store(entry Entry, scan js.ScanResult) error {
	if !c.usable() || c.options.ReadOnly {
		return nil
	}
	serialized, err := json.Marshal(payload{Scan: scan})
	if err != nil {
		return err
	}
	objectDigest := sha256Hex(serialized)
	objectPath := filepath.Join(c.options.Path, "objects", objectDigest+".json")
	if _, err := os.Stat(objectPath); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := safeio.WriteFileAtomic(objectPath, serialized, 0o600); err != nil {
			return err
		}
	}

	serializedPointer, err := json.Marshal(pointer{InputDigest: entry.InputDigest, ObjectDigest: objectDigest})
	if err != nil {
		return err
	}
	pointerPath := filepath.Join(c.options.Path, "keys", entry.KeyDigest+".json")
	if err := safeio.WriteFileAtomic(pointerPath, serializedPointer, 0o600); err != nil {
		return err
	}
	c.metadata.Writes++
	return nil
}

// Remove deletes the cache directory at path.
func Remove(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := os.RemoveAll(path); err != nil {
		return false, fmt.Errorf("remove scan cache %s: %w", path, err)
	}
	return true, nil
}

func computeInputDigest(root, configPath string, excluded []string) (string, error) {
	skip := make(map[string]bool, len(excluded))
	for _, dir := range excluded {
		skip[dir] = true
	}
	records := make([]string, 0, 64)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}
		if d.IsDir() {
			if js.SkipsDir(d.Name()) || skip[path] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !js.IsSourceFile(path) {
			return nil
		}
		record, err := fileRecord(root, path)
		if err != nil {
			return err
		}
		records = append(records, record)
		return nil
	})
	if err != nil {
		return "", err
	}

	if configPath = strings.TrimSpace(configPath); configPath != "" {
		digest, err := hashFileOrMissing(configPath)
		if err != nil {
			return "", err
		}
		records = append(records, "config\x00"+filepath.Clean(configPath)+"\x00"+digest)
	}

	sort.Strings(records)
	hasher := sha256.New()
	for _, record := range records {
		_, _ = io.WriteString(hasher, record)
		_, _ = io.WriteString(hasher, "\n")
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func fileRecord(root, path string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", err
	}
	digest, err := hashFile(path)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel) + "\x00" + digest, nil
}

func hashFile(path string) (string, error) {
	data, err := safeio.ReadFile(path)
	if err != nil {
		return "", err
	}
	return sha256Hex(data), nil
}

func hashFileOrMissing(path string) (string, error) {
	digest, err := hashFile(path)
	if err == nil {
		return digest, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return "missing", nil
	}
	return "", err
}

func hashJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}
	return sha256Hex(data), nil
}

func sha256Hex(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}
