package cli

const usage = `Usage:
  stdmod build [--pass NAME]... [--format table|json]
  stdmod importmap [--out PATH]
  stdmod check [--format table|json|sarif] [--no-cache]
  stdmod clean
  stdmod serve
  stdmod kv get KEY | set KEY VALUE | delete KEY | keys | clear [--store PATH] [--polyfill] [--polyfill-dir DIR] [--area NAME] [--readonly]

Running stdmod without a command builds every pass.

Options:
  --root PATH             Project root (default: nearest directory with a config file)
  --config PATH           Config file (default: .stdmod.yml, .stdmod.yaml, stdmod.toml or stdmod.json)
  --pass NAME             Build only the named pass; repeat or comma separate
  --format FORMAT         Output format (default: table)
  --no-cache              Scan every source instead of reusing .stdmod/cache
  --out PATH              Write the import map to PATH instead of stdout
  --store PATH            Native SQLite backing store for kv
  --polyfill              Use the polyfill even when --store is set
  --polyfill-dir DIR      Polyfill storage directory (default: .stdmod/kv)
  --area NAME             Storage area (default: default)
  --readonly              Open storage read-only; writes fail with access denied
  --verbose               Debug logging on stderr (or set STDMOD_LOG_LEVEL)
  -h, --help              Show this help text

serve reads STDMOD_ADDR, STDMOD_PUBLIC_DIR, STDMOD_MANIFEST, STDMOD_TITLE and
STDMOD_SHUTDOWN_TIMEOUT from the environment.

Exit codes:
  0 success, 1 error, 2 usage, 3 unknown std: module, 4 storage access denied
`

func Usage() string {
	return usage
}
