package app

import (
	"github.com/ben-ranford/stdmod/internal/report"
)

type Mode string

const (
	ModeBuild     Mode = "build"
	ModeImportMap Mode = "importmap"
	ModeCheck     Mode = "check"
	ModeClean     Mode = "clean"
	ModeServe     Mode = "serve"
	ModeKV        Mode = "kv"
)

type KVOperation string

const (
	KVGet    KVOperation = "get"
	KVSet    KVOperation = "set"
	KVDelete KVOperation = "delete"
	KVKeys   KVOperation = "keys"
	KVClear  KVOperation = "clear"
)

type Request struct {
	Mode Mode
	// Root is the project root; empty means discover it from the working
	// directory.
	Root       string
	ConfigPath string
	Format     report.Format
	Build      BuildRequest
	Check      CheckRequest
	ImportMap  ImportMapRequest
	KV         KVRequest
}

type BuildRequest struct {
	Passes []string
}

type CheckRequest struct {
	NoCache bool
}

type ImportMapRequest struct {
	OutPath string
}

type KVRequest struct {
	Operation   KVOperation
	Key         string
	Value       string
	StorePath   string
	PolyfillDir string
	Area        string
	Polyfill    bool
	ReadOnly    bool
}

func DefaultRequest() Request {
	return Request{
		Mode:   ModeBuild,
		Format: report.FormatTable,
	}
}
