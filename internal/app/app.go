package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ben-ranford/stdmod/internal/builtin"
	"github.com/ben-ranford/stdmod/internal/bundle"
	"github.com/ben-ranford/stdmod/internal/config"
	"github.com/ben-ranford/stdmod/internal/ctxlog"
	"github.com/ben-ranford/stdmod/internal/importmap"
	"github.com/ben-ranford/stdmod/internal/lang/js"
	"github.com/ben-ranford/stdmod/internal/manifest"
	"github.com/ben-ranford/stdmod/internal/report"
	"github.com/ben-ranford/stdmod/internal/safeio"
	"github.com/ben-ranford/stdmod/internal/scancache"
	"github.com/ben-ranford/stdmod/internal/server"
	"github.com/ben-ranford/stdmod/internal/workspace"
)

var ErrUnknownMode = errors.New("unknown mode")

type App struct {
	Formatter report.Formatter
	Now       func() time.Time
	// Environ overrides the process environment for the serve command.
	Environ map[string]string
}

func New() *App {
	return &App{
		Formatter: report.NewFormatter(),
		Now:       time.Now,
	}
}

func (a *App) Execute(ctx context.Context, req Request) (string, error) {
	switch req.Mode {
	case ModeBuild:
		return a.executeBuild(ctx, req)
	case ModeImportMap:
		return a.executeImportMap(ctx, req)
	case ModeCheck:
		return a.executeCheck(ctx, req)
	case ModeClean:
		return a.executeClean(ctx, req)
	case ModeServe:
		return "", a.executeServe(ctx, req)
	case ModeKV:
		return a.executeKV(ctx, req)
	default:
		return "", ErrUnknownMode
	}
}

func (a *App) loadConfig(ctx context.Context, req Request) (config.Config, error) {
	root := strings.TrimSpace(req.Root)
	if root == "" {
		discovered, found, err := workspace.FindProjectRoot(".", config.CandidateNames())
		if err != nil {
			return config.Config{}, err
		}
		if found {
			ctxlog.FromContext(ctx).Debug("discovered project root", "root", discovered)
		}
		root = discovered
	}
	cfg, err := config.Load(root, req.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	ctxlog.FromContext(ctx).Debug("loaded config", "root", cfg.Root, "path", cfg.Path, "modules", len(cfg.Modules), "passes", len(cfg.Passes))
	return cfg, nil
}

func (a *App) executeBuild(ctx context.Context, req Request) (string, error) {
	cfg, err := a.loadConfig(ctx, req)
	if err != nil {
		return "", err
	}
	passes, err := cfg.SelectPasses(req.Build.Passes)
	if err != nil {
		return "", err
	}
	results, err := bundle.RunAll(ctx, cfg, passes)
	if err != nil {
		return "", err
	}

	rep := report.NewBuildReport(cfg.Root, a.now())
	if sha, err := workspace.CurrentCommitSHA(ctx, cfg.Root); err == nil {
		rep.Commit = sha
	} else {
		ctxlog.FromContext(ctx).Debug("build is not stamped with a commit", "error", err)
	}

	merged := manifest.Manifest{}
	for _, result := range results {
		summary := report.PassSummary{
			Name:         result.Pass,
			Format:       string(result.Format),
			ManifestPath: relativeTo(cfg.Root, result.ManifestPath),
			Entries:      manifestEntries(result.Entries),
		}
		for _, change := range result.Changes {
			summary.Changes = append(summary.Changes, report.EntryChange{Name: change.Name, Previous: change.Previous, Current: change.Current})
		}
		rep.Passes = append(rep.Passes, summary)
		rep.Warnings = append(rep.Warnings, result.Warnings...)
		merged, _ = manifest.Merge(merged, result.Manifest)
	}
	rep.Manifest = manifestEntries(merged)
	return a.Formatter.Format(rep, req.Format)
}

func (a *App) executeImportMap(ctx context.Context, req Request) (string, error) {
	cfg, err := a.loadConfig(ctx, req)
	if err != nil {
		return "", err
	}
	m, err := manifest.Load(cfg.SharedManifestPath())
	if err != nil {
		return "", err
	}
	_, payload, err := importmap.Build(m)
	if err != nil {
		return "", err
	}
	payload = append(payload, '\n')

	out := strings.TrimSpace(req.ImportMap.OutPath)
	if out == "" {
		return string(payload), nil
	}
	target := cfg.Abs(out)
	if err := safeio.WriteFileAtomic(target, payload, 0o644); err != nil {
		return "", fmt.Errorf("write import map: %w", err)
	}
	return fmt.Sprintf("wrote import map to %s\n", relativeTo(cfg.Root, target)), nil
}

// executeCheck returns the formatted report even when unknown modules make
// the check fail.
func (a *App) executeCheck(ctx context.Context, req Request) (string, error) {
	cfg, err := a.loadConfig(ctx, req)
	if err != nil {
		return "", err
	}
	cache := scancache.New(scancache.Options{Enabled: !req.Check.NoCache, Path: cfg.Abs(scancache.DefaultDir)})
	scan, err := scanSources(ctx, cache, cfg)
	if err != nil {
		return "", err
	}
	result, checkErr := js.CheckBuiltins(scan, cfg.Modules)

	rep := report.NewCheckReport(cfg.Root, a.now())
	rep.FilesScanned = len(scan.Files)
	rep.Warnings = append(rep.Warnings, scan.Warnings...)
	rep.Warnings = append(rep.Warnings, cache.TakeWarnings()...)
	if !req.Check.NoCache {
		rep.Cache = cache.Metadata()
	}
	refs := make(map[string][]report.Location, len(result.Used))
	for _, usage := range result.Used {
		refs[usage.Name] = usage.References
	}
	unused := make(map[string]bool)
	for _, name := range result.Unused(cfg.Modules) {
		unused[name] = true
	}
	for _, name := range cfg.Modules.Names() {
		rep.Modules = append(rep.Modules, report.ModuleUsage{
			Name:       name,
			Source:     cfg.Modules[name],
			Used:       !unused[name],
			References: refs[name],
		})
	}
	rep.Unknown = findings(result.Unknown)
	rep.NodeBuiltins = findings(result.NodeBuiltins)

	formatted, err := a.Formatter.Format(rep, req.Format)
	if err != nil {
		return "", err
	}
	return formatted, checkErr
}

// scanSources serves the scan from cache when no scanned input changed.
// Cache failures only cost the reuse.
func scanSources(ctx context.Context, cache *scancache.Cache, cfg config.Config) (js.ScanResult, error) {
	logger := ctxlog.FromContext(ctx)
	exclude := []string{cfg.OutDirPath()}
	entry, err := cache.Prepare(cfg.Root, cfg.Path, exclude)
	if err != nil {
		logger.Debug("scan cache key unavailable", "error", err)
		return js.ScanSpecifiers(ctx, cfg.Root, exclude...)
	}
	if scan, ok, err := cache.Lookup(entry); err != nil {
		logger.Debug("scan cache lookup failed", "error", err)
	} else if ok {
		logger.Debug("scan served from cache", "files", len(scan.Files))
		return scan, nil
	}

	scan, err := js.ScanSpecifiers(ctx, cfg.Root, exclude...)
	if err != nil {
		return js.ScanResult{}, err
	}
	if err := cache.Store(entry, scan); err != nil {
		logger.Debug("scan cache store failed", "error", err)
	}
	return scan, nil
}

func (a *App) executeClean(ctx context.Context, req Request) (string, error) {
	cfg, err := a.loadConfig(ctx, req)
	if err != nil {
		return "", err
	}
	paths := []string{cfg.SharedManifestPath()}
	seen := map[string]bool{paths[0]: true}
	for _, pass := range cfg.Passes {
		path := cfg.ManifestPath(pass)
		if !seen[path] {
			seen[path] = true
			paths = append(paths, path)
		}
	}

	var out strings.Builder
	for _, path := range paths {
		removed, err := manifest.Remove(path)
		if err != nil {
			return out.String(), err
		}
		if removed {
			_, _ = fmt.Fprintf(&out, "removed %s\n", relativeTo(cfg.Root, path))
		}
	}
	cacheDir := cfg.Abs(scancache.DefaultDir)
	removed, err := scancache.Remove(cacheDir)
	if err != nil {
		return out.String(), err
	}
	if removed {
		_, _ = fmt.Fprintf(&out, "removed %s\n", relativeTo(cfg.Root, cacheDir))
	}
	if out.Len() == 0 {
		out.WriteString("nothing to clean\n")
	}
	return out.String(), nil
}

func (a *App) executeServe(ctx context.Context, req Request) error {
	cfg, err := a.loadConfig(ctx, req)
	if err != nil {
		return err
	}
	base := server.DefaultConfig()
	base.PublicDir = cfg.OutDirPath()
	base.Manifest = cfg.SharedManifestPath()
	serverCfg, err := server.ParseEnv(base, a.Environ)
	if err != nil {
		return err
	}
	srv, err := server.New(serverCfg, ctxlog.FromContext(ctx))
	if err != nil {
		return err
	}
	return srv.ListenAndServe(ctx)
}

func (a *App) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

func manifestEntries(m manifest.Manifest) []report.ManifestEntry {
	entries := make([]report.ManifestEntry, 0, len(m))
	for _, name := range m.Names() {
		entries = append(entries, report.ManifestEntry{Name: name, URL: m[name], Builtin: builtin.IsVirtual(name)})
	}
	return entries
}

func findings(refs []js.ModuleReference) []report.Finding {
	out := make([]report.Finding, 0, len(refs))
	for _, ref := range refs {
		out = append(out, report.Finding{Specifier: ref.Specifier, Kind: string(ref.Kind), Location: ref.Location})
	}
	return out
}

func relativeTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}
