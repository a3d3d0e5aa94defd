package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ben-ranford/stdmod/internal/builtin"
	"github.com/ben-ranford/stdmod/internal/manifest"
)

type Format string

const (
	FormatESM  Format = "esm"
	FormatIIFE Format = "iife"
)

const (
	DefaultOutDir     = "public"
	DefaultEntryNames = "[name]-[hash]"
	PassModern        = "modern"
	PassLegacy        = "legacy"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	// Root is the absolute project root every other path is relative to.
	Root string
	// Path is the config file that was loaded; empty when defaults apply.
	Path     string
	OutDir   string
	Manifest string
	Modules  builtin.ModuleMap
	Passes   []Pass
}

type Pass struct {
	Name       string
	Format     Format
	Entries    map[string]string
	EntryNames string
	Extension  string
	CodeSplit  bool
	Minify     bool
	Target     string
	// Manifest overrides the shared manifest filename for this pass.
	Manifest string
}

func DefaultModules() builtin.ModuleMap {
	return builtin.ModuleMap{
		"std:kv-storage": "src/kv-storage/index.js",
	}
}

func DefaultPasses() []Pass {
	return []Pass{
		{
			Name:       PassModern,
			Format:     FormatESM,
			Entries:    map[string]string{"main": "src/main.js"},
			EntryNames: DefaultEntryNames,
			Extension:  ".mjs",
			CodeSplit:  true,
			Minify:     true,
			Target:     "es2017",
		},
		{
			Name:       PassLegacy,
			Format:     FormatIIFE,
			Entries:    map[string]string{"nomodule": "src/main.js"},
			EntryNames: DefaultEntryNames,
			Extension:  ".js",
			Target:     "es2015",
		},
	}
}

func Defaults(root string) Config {
	return Config{
		Root:     root,
		OutDir:   DefaultOutDir,
		Manifest: manifest.DefaultFilename,
		Modules:  DefaultModules(),
		Passes:   DefaultPasses(),
	}
}

// Abs resolves path against the project root.
func (c Config) Abs(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(c.Root, filepath.FromSlash(path))
}

func (c Config) OutDirPath() string {
	return c.Abs(c.OutDir)
}

// ManifestPath is the manifest file for pass; relative names live in the
// output directory.
func (c Config) ManifestPath(pass Pass) string {
	name := c.Manifest
	if strings.TrimSpace(pass.Manifest) != "" {
		name = pass.Manifest
	}
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(c.OutDirPath(), filepath.FromSlash(name))
}

// SharedManifestPath is the manifest used when no pass override applies.
func (c Config) SharedManifestPath() string {
	return c.ManifestPath(Pass{})
}

func (c Config) SelectPasses(names []string) ([]Pass, error) {
	if len(names) == 0 {
		return append([]Pass(nil), c.Passes...), nil
	}
	byName := make(map[string]Pass, len(c.Passes))
	for _, pass := range c.Passes {
		byName[pass.Name] = pass
	}
	selected := make([]Pass, 0, len(names))
	for _, name := range names {
		pass, ok := byName[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unknown pass: %s", name)
		}
		selected = append(selected, pass)
	}
	return selected, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.OutDir) == "" {
		return fmt.Errorf("%w: outdir is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Manifest) == "" {
		return fmt.Errorf("%w: manifest is required", ErrInvalidConfig)
	}
	if err := c.Modules.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if len(c.Passes) == 0 {
		return fmt.Errorf("%w: at least one pass is required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Passes))
	for _, pass := range c.Passes {
		if err := pass.validate(c.Modules); err != nil {
			return fmt.Errorf("%w: pass %q: %w", ErrInvalidConfig, pass.Name, err)
		}
		if seen[pass.Name] {
			return fmt.Errorf("%w: pass %q is defined more than once", ErrInvalidConfig, pass.Name)
		}
		seen[pass.Name] = true
	}
	return nil
}

func (p Pass) validate(modules builtin.ModuleMap) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	switch p.Format {
	case FormatESM:
	case FormatIIFE:
		if p.CodeSplit {
			return fmt.Errorf("code_split requires format esm")
		}
	default:
		return fmt.Errorf("unknown format %q", p.Format)
	}
	if len(p.Entries) == 0 {
		return fmt.Errorf("at least one entry is required")
	}
	for _, name := range p.EntryNamesSorted() {
		if strings.TrimSpace(p.Entries[name]) == "" {
			return fmt.Errorf("entry %q has no source", name)
		}
		if strings.HasPrefix(name, builtin.EncodedMarker) {
			return fmt.Errorf("entry %q uses the reserved prefix %s", name, builtin.EncodedMarker)
		}
		if builtin.IsVirtual(name) {
			if _, err := modules.Lookup(name); err != nil {
				return err
			}
		}
	}
	if !strings.Contains(p.EntryNames, "[name]") {
		return fmt.Errorf("entry_names must contain [name]")
	}
	if !strings.HasPrefix(p.Extension, ".") {
		return fmt.Errorf("extension must start with '.'")
	}
	return nil
}

func (p Pass) EntryNamesSorted() []string {
	names := make([]string, 0, len(p.Entries))
	for name := range p.Entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
