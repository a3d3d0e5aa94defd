package report

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatSARIF Format = "sarif"
)

const SchemaVersion = "0.1.0"

var ErrUnknownFormat = errors.New("unknown format")

func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatSARIF):
		return FormatSARIF, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnknownFormat, value)
	}
}

// Document is implemented by every report the CLI prints.
type Document interface {
	writeTable(buffer *bytes.Buffer)
}

type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

type BuildReport struct {
	SchemaVersion string          `json:"schemaVersion"`
	GeneratedAt   time.Time       `json:"generatedAt"`
	Root          string          `json:"root"`
	Commit        string          `json:"commit,omitempty"`
	Passes        []PassSummary   `json:"passes"`
	Manifest      []ManifestEntry `json:"manifest"`
	Warnings      []string        `json:"warnings,omitempty"`
}

type PassSummary struct {
	Name         string          `json:"name"`
	Format       string          `json:"format"`
	ManifestPath string          `json:"manifestPath"`
	Entries      []ManifestEntry `json:"entries"`
	Changes      []EntryChange   `json:"changes,omitempty"`
}

type ManifestEntry struct {
	Name    string `json:"name"`
	URL     string `json:"url"`
	Builtin bool   `json:"builtin"`
}

type EntryChange struct {
	Name     string `json:"name"`
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

type CheckReport struct {
	SchemaVersion string         `json:"schemaVersion"`
	GeneratedAt   time.Time      `json:"generatedAt"`
	Root          string         `json:"root"`
	FilesScanned  int            `json:"filesScanned"`
	Modules       []ModuleUsage  `json:"modules"`
	Unknown       []Finding      `json:"unknown,omitempty"`
	NodeBuiltins  []Finding      `json:"nodeBuiltins,omitempty"`
	Cache         *CacheMetadata `json:"cache,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
}

// CacheMetadata describes how the scan cache served a check.
type CacheMetadata struct {
	Enabled       bool                `json:"enabled"`
	Path          string              `json:"path"`
	ReadOnly      bool                `json:"readOnly"`
	Hits          int                 `json:"hits"`
	Misses        int                 `json:"misses"`
	Writes        int                 `json:"writes"`
	Invalidations []CacheInvalidation `json:"invalidations,omitempty"`
}

type CacheInvalidation struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

type ModuleUsage struct {
	Name       string     `json:"name"`
	Source     string     `json:"source"`
	Used       bool       `json:"used"`
	References []Location `json:"references,omitempty"`
}

type Finding struct {
	Specifier string   `json:"specifier"`
	Kind      string   `json:"kind"`
	Location  Location `json:"location"`
}

type KVReport struct {
	Variant   string   `json:"variant"`
	Status    string   `json:"status"`
	Operation string   `json:"operation"`
	Key       string   `json:"key,omitempty"`
	Found     bool     `json:"found"`
	Value     any      `json:"value,omitempty"`
	Keys      []string `json:"keys,omitempty"`
}

func NewBuildReport(root string, now time.Time) BuildReport {
	return BuildReport{SchemaVersion: SchemaVersion, GeneratedAt: now.UTC(), Root: root}
}

func NewCheckReport(root string, now time.Time) CheckReport {
	return CheckReport{SchemaVersion: SchemaVersion, GeneratedAt: now.UTC(), Root: root}
}
