package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/ben-ranford/stdmod/internal/app"
	"github.com/ben-ranford/stdmod/internal/report"
)

var (
	ErrHelpRequested = errors.New("help requested")
	ErrUsage         = errors.New("usage error")
)

// Invocation is a parsed command line.
type Invocation struct {
	Request app.Request
	Verbose bool
}

// listFlag collects a repeatable flag; each value may also be a comma
// separated list.
type listFlag struct {
	values []string
}

func (l *listFlag) String() string {
	return strings.Join(l.values, ",")
}

func (l *listFlag) Set(value string) error {
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			l.values = append(l.values, item)
		}
	}
	return nil
}

// commonFlags are accepted by every command.
type commonFlags struct {
	root    *string
	config  *string
	verbose *bool
}

func newFlagSet(name string, req app.Request) (*flag.FlagSet, commonFlags) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs, commonFlags{
		root:    fs.String("root", req.Root, "project root"),
		config:  fs.String("config", req.ConfigPath, "config file path"),
		verbose: fs.Bool("verbose", false, "debug logging"),
	}
}

func (c commonFlags) apply(inv *Invocation) {
	inv.Request.Root = strings.TrimSpace(*c.root)
	inv.Request.ConfigPath = strings.TrimSpace(*c.config)
	inv.Verbose = *c.verbose
}

func ParseArgs(args []string) (Invocation, error) {
	inv := Invocation{Request: app.DefaultRequest()}
	if len(args) == 0 {
		return inv, nil
	}
	if isHelpArg(args[0]) {
		return inv, ErrHelpRequested
	}

	command, rest := args[0], args[1:]
	if strings.HasPrefix(command, "-") {
		command, rest = string(app.ModeBuild), args
	}
	switch app.Mode(command) {
	case app.ModeBuild:
		return parseBuild(rest, inv)
	case app.ModeImportMap:
		return parseImportMap(rest, inv)
	case app.ModeCheck:
		return parseCheck(rest, inv)
	case app.ModeClean, app.ModeServe:
		return parseSimple(app.Mode(command), rest, inv)
	case app.ModeKV:
		return parseKV(rest, inv)
	default:
		return inv, usageErrorf("unknown command: %s", command)
	}
}

func parseBuild(args []string, inv Invocation) (Invocation, error) {
	fs, common := newFlagSet("build", inv.Request)
	var passes listFlag
	fs.Var(&passes, "pass", "build pass to run")
	formatFlag := fs.String("format", string(inv.Request.Format), "output format")

	if err := parseFlags(fs, args); err != nil {
		return inv, err
	}
	if fs.NArg() > 0 {
		return inv, usageErrorf("unexpected arguments for build: %s", strings.Join(fs.Args(), " "))
	}
	format, err := parseFormat(*formatFlag, false)
	if err != nil {
		return inv, err
	}

	common.apply(&inv)
	inv.Request.Mode = app.ModeBuild
	inv.Request.Format = format
	inv.Request.Build = app.BuildRequest{Passes: passes.values}
	return inv, nil
}

func parseImportMap(args []string, inv Invocation) (Invocation, error) {
	fs, common := newFlagSet("importmap", inv.Request)
	out := fs.String("out", "", "write the import map to PATH")

	if err := parseFlags(fs, args); err != nil {
		return inv, err
	}
	if fs.NArg() > 0 {
		return inv, usageErrorf("unexpected arguments for importmap: %s", strings.Join(fs.Args(), " "))
	}

	common.apply(&inv)
	inv.Request.Mode = app.ModeImportMap
	inv.Request.ImportMap = app.ImportMapRequest{OutPath: strings.TrimSpace(*out)}
	return inv, nil
}

func parseCheck(args []string, inv Invocation) (Invocation, error) {
	fs, common := newFlagSet("check", inv.Request)
	formatFlag := fs.String("format", string(inv.Request.Format), "output format")
	noCache := fs.Bool("no-cache", false, "scan without the scan cache")

	if err := parseFlags(fs, args); err != nil {
		return inv, err
	}
	if fs.NArg() > 0 {
		return inv, usageErrorf("unexpected arguments for check: %s", strings.Join(fs.Args(), " "))
	}
	format, err := parseFormat(*formatFlag, true)
	if err != nil {
		return inv, err
	}

	common.apply(&inv)
	inv.Request.Mode = app.ModeCheck
	inv.Request.Format = format
	inv.Request.Check = app.CheckRequest{NoCache: *noCache}
	return inv, nil
}

func parseSimple(mode app.Mode, args []string, inv Invocation) (Invocation, error) {
	fs, common := newFlagSet(string(mode), inv.Request)
	if err := parseFlags(fs, args); err != nil {
		return inv, err
	}
	if fs.NArg() > 0 {
		return inv, usageErrorf("unexpected arguments for %s: %s", mode, strings.Join(fs.Args(), " "))
	}
	common.apply(&inv)
	inv.Request.Mode = mode
	return inv, nil
}

func parseKV(args []string, inv Invocation) (Invocation, error) {
	fs, common := newFlagSet("kv", inv.Request)
	store := fs.String("store", "", "native backing store database")
	polyfillDir := fs.String("polyfill-dir", "", "polyfill storage directory")
	area := fs.String("area", "", "storage area")
	polyfill := fs.Bool("polyfill", false, "force the polyfill")
	readOnly := fs.Bool("readonly", false, "deny mutations")
	formatFlag := fs.String("format", string(inv.Request.Format), "output format")

	if err := parseFlags(fs, args); err != nil {
		return inv, err
	}
	format, err := parseFormat(*formatFlag, false)
	if err != nil {
		return inv, err
	}

	positionals := fs.Args()
	if len(positionals) == 0 {
		return inv, usageErrorf("missing kv operation")
	}
	kv := app.KVRequest{
		Operation:   app.KVOperation(strings.ToLower(positionals[0])),
		StorePath:   strings.TrimSpace(*store),
		PolyfillDir: strings.TrimSpace(*polyfillDir),
		Area:        strings.TrimSpace(*area),
		Polyfill:    *polyfill,
		ReadOnly:    *readOnly,
	}
	operands := positionals[1:]
	switch kv.Operation {
	case app.KVGet, app.KVDelete:
		if len(operands) != 1 {
			return inv, usageErrorf("kv %s takes exactly one key", kv.Operation)
		}
		kv.Key = operands[0]
	case app.KVSet:
		if len(operands) != 2 {
			return inv, usageErrorf("kv set takes a key and a value")
		}
		kv.Key, kv.Value = operands[0], operands[1]
	case app.KVKeys, app.KVClear:
		if len(operands) != 0 {
			return inv, usageErrorf("kv %s takes no arguments", kv.Operation)
		}
	default:
		return inv, usageErrorf("unknown kv operation: %s", positionals[0])
	}

	common.apply(&inv)
	inv.Request.Mode = app.ModeKV
	inv.Request.Format = format
	inv.Request.KV = kv
	return inv, nil
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(normalizeArgs(args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ErrHelpRequested
		}
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}
	return nil
}

func parseFormat(value string, allowSARIF bool) (report.Format, error) {
	format, err := report.ParseFormat(value)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUsage, err)
	}
	if format == report.FormatSARIF && !allowSARIF {
		return "", usageErrorf("--format sarif is only supported by check")
	}
	return format, nil
}

func usageErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrUsage, fmt.Sprintf(format, args...))
}

func isHelpArg(arg string) bool {
	switch arg {
	case "-h", "--help", "help":
		return true
	default:
		return false
	}
}

// normalizeArgs moves flags ahead of positionals so flags may follow
// operands, e.g. "kv get theme --store app.db".
func normalizeArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	flags := make([]string, 0, len(args))
	positionals := make([]string, 0, 2)

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			positionals = append(positionals, args[i+1:]...)
			break
		}
		if strings.HasPrefix(arg, "-") && arg != "-" {
			flags = append(flags, arg)
			if flagNeedsValue(arg) && i+1 < len(args) {
				flags = append(flags, args[i+1])
				i++
			}
			continue
		}
		positionals = append(positionals, arg)
	}

	flags = append(flags, "--")
	return append(flags, positionals...)
}

func flagNeedsValue(arg string) bool {
	if strings.Contains(arg, "=") {
		return false
	}
	switch strings.TrimLeft(arg, "-") {
	case "root", "config", "pass", "format", "out", "store", "polyfill-dir", "area":
		return true
	default:
		return false
	}
}
