package js

import "strings"

// nodeBuiltinModules are the top-level Node.js core modules. Browser code
// importing one of them will not bundle for the browser platform, so the
// checker reports them.
var nodeBuiltinModules = map[string]bool{
	"assert":              true,
	"async_hooks":         true,
	"buffer":              true,
	"child_process":       true,
	"cluster":             true,
	"console":             true,
	"constants":           true,
	"crypto":              true,
	"dgram":               true,
	"diagnostics_channel": true,
	"dns":                 true,
	"domain":              true,
	"events":              true,
	"fs":                  true,
	"http":                true,
	"http2":               true,
	"https":               true,
	"inspector":           true,
	"module":              true,
	"net":                 true,
	"os":                  true,
	"path":                true,
	"perf_hooks":          true,
	"process":             true,
	"punycode":            true,
	"querystring":         true,
	"readline":            true,
	"repl":                true,
	"stream":              true,
	"string_decoder":      true,
	"sys":                 true,
	"timers":              true,
	"tls":                 true,
	"trace_events":        true,
	"tty":                 true,
	"url":                 true,
	"util":                true,
	"v8":                  true,
	"vm":                  true,
	"wasi":                true,
	"worker_threads":      true,
	"zlib":                true,
}

// isNodeBuiltin accepts bare names ("fs"), prefixed names ("node:fs") and
// subpaths ("fs/promises").
func isNodeBuiltin(specifier string) bool {
	if rest, ok := strings.CutPrefix(specifier, "node:"); ok {
		return rest != ""
	}
	name, _, _ := strings.Cut(specifier, "/")
	return nodeBuiltinModules[name]
}
