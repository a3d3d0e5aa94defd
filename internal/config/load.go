package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/ben-ranford/stdmod/internal/builtin"
	"github.com/ben-ranford/stdmod/internal/safeio"
)

const (
	readConfigFileErrFmt = "read config file %s: %w"
	parseConfigErrFmt    = "parse config file %s: %w"
)

var configCandidates = []string{".stdmod.yml", ".stdmod.yaml", "stdmod.toml", "stdmod.json"}

type rawConfig struct {
	OutDir   string            `yaml:"outdir" json:"outdir" toml:"outdir"`
	Manifest string            `yaml:"manifest" json:"manifest" toml:"manifest"`
	Modules  map[string]string `yaml:"modules" json:"modules" toml:"modules"`
	Passes   []rawPass         `yaml:"passes" json:"passes" toml:"passes"`
}

type rawPass struct {
	Name       string            `yaml:"name" json:"name" toml:"name"`
	Format     string            `yaml:"format" json:"format" toml:"format"`
	Entries    map[string]string `yaml:"entries" json:"entries" toml:"entries"`
	EntryNames string            `yaml:"entry_names" json:"entry_names" toml:"entry_names"`
	Extension  string            `yaml:"extension" json:"extension" toml:"extension"`
	CodeSplit  *bool             `yaml:"code_split" json:"code_split" toml:"code_split"`
	Minify     *bool             `yaml:"minify" json:"minify" toml:"minify"`
	Target     string            `yaml:"target" json:"target" toml:"target"`
	Manifest   string            `yaml:"manifest" json:"manifest" toml:"manifest"`
}

// Load resolves the project root and reads the config file found there (or
// explicitPath). Without a file the defaults apply.
func Load(rootPath, explicitPath string) (Config, error) {
	if strings.TrimSpace(rootPath) == "" {
		rootPath = "."
	}
	rootAbs, err := filepath.Abs(rootPath)
	if err != nil {
		return Config{}, fmt.Errorf("resolve project root: %w", err)
	}
	explicitProvided := strings.TrimSpace(explicitPath) != ""

	configPath, found, err := resolveConfigPath(rootAbs, strings.TrimSpace(explicitPath))
	if err != nil {
		return Config{}, err
	}
	if !found {
		cfg := Defaults(rootAbs)
		return cfg, cfg.Validate()
	}

	data, err := readConfigFile(rootAbs, configPath, explicitProvided)
	if err != nil {
		return Config{}, fmt.Errorf(readConfigFileErrFmt, configPath, err)
	}
	raw, err := parseConfig(configPath, data)
	if err != nil {
		return Config{}, fmt.Errorf(parseConfigErrFmt, configPath, err)
	}

	cfg := raw.toConfig(rootAbs)
	cfg.Path = configPath
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf(parseConfigErrFmt, configPath, err)
	}
	return cfg, nil
}

func resolveConfigPath(rootPath, explicitPath string) (string, bool, error) {
	if explicitPath != "" {
		candidate := explicitPath
		if !filepath.IsAbs(candidate) {
			candidate = filepath.Join(rootPath, candidate)
		}
		candidate = filepath.Clean(candidate)
		if _, err := os.Stat(candidate); err != nil {
			if os.IsNotExist(err) {
				return "", false, fmt.Errorf("config file not found: %s", candidate)
			}
			return "", false, fmt.Errorf(readConfigFileErrFmt, candidate, err)
		}
		return candidate, true, nil
	}

	for _, name := range configCandidates {
		candidate := filepath.Join(rootPath, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !os.IsNotExist(err) {
			return "", false, fmt.Errorf(readConfigFileErrFmt, candidate, err)
		}
	}

	return "", false, nil
}

func readConfigFile(rootPath, path string, explicitProvided bool) ([]byte, error) {
	if !explicitProvided || isPathUnderRoot(rootPath, path) {
		return safeio.ReadFileUnder(rootPath, path)
	}
	return safeio.ReadFile(path)
}

func isPathUnderRoot(rootPath, path string) bool {
	rel, err := filepath.Rel(rootPath, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(os.PathSeparator))
}

func parseConfig(path string, data []byte) (rawConfig, error) {
	var cfg rawConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return rawConfig{}, fmt.Errorf("invalid JSON config: %w", err)
		}
		if decoder.More() {
			return rawConfig{}, fmt.Errorf("invalid JSON config: multiple JSON values")
		}
	case ".toml":
		decoder := toml.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return rawConfig{}, fmt.Errorf("invalid TOML config: %w", err)
		}
	default:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return rawConfig{}, fmt.Errorf("invalid YAML config: %w", err)
		}
	}
	return cfg, nil
}

func (r rawConfig) toConfig(root string) Config {
	cfg := Defaults(root)
	if strings.TrimSpace(r.OutDir) != "" {
		cfg.OutDir = strings.TrimSpace(r.OutDir)
	}
	if strings.TrimSpace(r.Manifest) != "" {
		cfg.Manifest = strings.TrimSpace(r.Manifest)
	}
	if r.Modules != nil {
		cfg.Modules = builtin.ModuleMap(r.Modules).Clone()
	}
	if len(r.Passes) > 0 {
		cfg.Passes = make([]Pass, 0, len(r.Passes))
		for _, raw := range r.Passes {
			cfg.Passes = append(cfg.Passes, raw.toPass())
		}
	}
	return cfg
}

func (r rawPass) toPass() Pass {
	format := Format(strings.ToLower(strings.TrimSpace(r.Format)))
	if format == "" {
		format = FormatESM
	}
	pass := Pass{
		Name:       strings.TrimSpace(r.Name),
		Format:     format,
		Entries:    r.Entries,
		EntryNames: strings.TrimSpace(r.EntryNames),
		Extension:  strings.TrimSpace(r.Extension),
		Target:     strings.ToLower(strings.TrimSpace(r.Target)),
		Manifest:   strings.TrimSpace(r.Manifest),
		CodeSplit:  format == FormatESM,
		Minify:     format == FormatESM,
	}
	if pass.EntryNames == "" {
		pass.EntryNames = DefaultEntryNames
	}
	if pass.Extension == "" {
		pass.Extension = ".js"
		if format == FormatESM {
			pass.Extension = ".mjs"
		}
	}
	if pass.Target == "" {
		pass.Target = "es2015"
		if format == FormatESM {
			pass.Target = "es2017"
		}
	}
	if r.CodeSplit != nil {
		pass.CodeSplit = *r.CodeSplit
	}
	if r.Minify != nil {
		pass.Minify = *r.Minify
	}
	return pass
}

// CandidateNames lists the config filenames looked up in a project root, in
// lookup order.
func CandidateNames() []string {
	return append([]string(nil), configCandidates...)
}
