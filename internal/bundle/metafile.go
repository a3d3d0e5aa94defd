package bundle

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ben-ranford/stdmod/internal/builtin"
	"github.com/ben-ranford/stdmod/internal/manifest"
)

type metafile struct {
	Outputs map[string]metafileOutput `json:"outputs"`
}

type metafileOutput struct {
	Bytes      int    `json:"bytes"`
	EntryPoint string `json:"entryPoint,omitempty"`
}

// entriesFromMetafile maps every output produced for a registered entry to
// its served URL, once per name registered for that input. Outputs without
// a registered entry (shared chunks, source maps) are skipped.
func entriesFromMetafile(raw string, byPath map[string][]string, workDir, outDir string) (manifest.Manifest, error) {
	var meta metafile
	if err := json.Unmarshal([]byte(raw), &meta); err != nil {
		return nil, fmt.Errorf("decode metafile: %w", err)
	}

	entries := make(manifest.Manifest)
	for outputPath, output := range meta.Outputs {
		if output.EntryPoint == "" {
			continue
		}
		names, ok := byPath[output.EntryPoint]
		if !ok {
			continue
		}
		url, err := servedURL(workDir, outDir, outputPath)
		if err != nil {
			return nil, err
		}
		for _, encoded := range names {
			entries[builtin.DecodeEntryName(encoded)] = url
		}
	}
	return entries, nil
}

// servedURL is the output's path relative to outDir, rooted at "/".
func servedURL(workDir, outDir, outputPath string) (string, error) {
	abs := filepath.FromSlash(outputPath)
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(workDir, abs)
	}
	rel, err := filepath.Rel(outDir, abs)
	if err != nil {
		return "", fmt.Errorf("output %s: %w", outputPath, err)
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("output %s is outside %s", outputPath, outDir)
	}
	return "/" + rel, nil
}
