// Package manifest persists the mapping from entry names to the URLs they
// are served from after hashing. Writes merge into whatever the file holds so
// independent build passes can share one manifest.
package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/ben-ranford/stdmod/internal/safeio"
)

const DefaultFilename = "asset-manifest.json"

var ErrManifestCorrupt = errors.New("manifest is corrupt")

type Manifest map[string]string

// Change records a name whose URL was replaced by a merge.
type Change struct {
	Name     string `json:"name"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// Merge returns existing overlaid with incoming. Neither input is modified.
// Last write wins for names present in both; such names are reported as
// changes when the URL differs.
func Merge(existing, incoming Manifest) (Manifest, []Change) {
	merged := make(Manifest, len(existing)+len(incoming))
	for name, url := range existing {
		merged[name] = url
	}

	var changes []Change
	for _, name := range incoming.Names() {
		url := incoming[name]
		if previous, ok := merged[name]; ok && previous != url {
			changes = append(changes, Change{Name: name, Previous: previous, Current: url})
		}
		merged[name] = url
	}
	return merged, changes
}

func (m Manifest) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Marshal encodes m as a flat JSON object with sorted keys.
func (m Manifest) Marshal() ([]byte, error) {
	if m == nil {
		m = Manifest{}
	}
	var buffer bytes.Buffer
	encoder := json.NewEncoder(&buffer)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(map[string]string(m)); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func Parse(data []byte) (Manifest, error) {
	decoder := json.NewDecoder(bytes.NewReader(data))
	var raw map[string]string
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestCorrupt, err)
	}
	if decoder.More() {
		return nil, fmt.Errorf("%w: multiple JSON values", ErrManifestCorrupt)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: expected a JSON object", ErrManifestCorrupt)
	}
	for name := range raw {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: empty entry name", ErrManifestCorrupt)
		}
	}
	return Manifest(raw), nil
}

// Load reads the manifest at path. A missing file yields an empty manifest.
func Load(path string) (Manifest, error) {
	data, err := safeio.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Manifest{}, nil
		}
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return m, nil
}

func Save(path string, m Manifest) error {
	data, err := m.Marshal()
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := safeio.WriteFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write manifest %s: %w", path, err)
	}
	return nil
}

// Write merges incoming into the manifest stored at path and writes the
// result back. It is a read-modify-write without locking; concurrent writers
// to one path lose updates.
func Write(path string, incoming Manifest) (Manifest, []Change, error) {
	existing, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	merged, changes := Merge(existing, incoming)
	if err := Save(path, merged); err != nil {
		return nil, nil, err
	}
	return merged, changes, nil
}

// Remove deletes the manifest at path. Stale entries are never pruned by
// Write, so this is the only way to start from an empty manifest.
func Remove(path string) (bool, error) {
	removed, err := safeio.RemoveFile(path)
	if err != nil {
		return false, fmt.Errorf("remove manifest %s: %w", path, err)
	}
	return removed, nil
}
