package bundle

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/ben-ranford/stdmod/internal/builtin"
	"github.com/ben-ranford/stdmod/internal/config"
	"github.com/ben-ranford/stdmod/internal/manifest"
)

const pluginName = "stdmod"

// passState is shared by the hooks of one pass. esbuild runs resolve
// callbacks concurrently, so everything here is guarded by mu.
type passState struct {
	cfg      config.Config
	pass     config.Pass
	entries  entrySet
	logger   *slog.Logger
	external bool

	mu       sync.Mutex
	errs     []error
	produced manifest.Manifest
	merged   manifest.Manifest
	changes  []manifest.Change
}

func newPassState(cfg config.Config, pass config.Pass, entries entrySet, logger *slog.Logger) *passState {
	return &passState{
		cfg:      cfg,
		pass:     pass,
		entries:  entries,
		logger:   logger,
		external: pass.CodeSplit && pass.Format == config.FormatESM,
	}
}

func (s *passState) plugin() api.Plugin {
	return api.Plugin{
		Name: pluginName,
		Setup: func(build api.PluginBuild) {
			build.OnStart(func() (api.OnStartResult, error) {
				s.reset()
				return api.OnStartResult{}, nil
			})
			build.OnResolve(api.OnResolveOptions{Filter: "^" + regexp.QuoteMeta(builtin.Marker)}, s.resolve)
			build.OnEnd(s.end)
		},
	}
}

// resolve maps a virtual specifier to its configured source. In a code
// splitting ESM pass, imports from application code stay external so the
// import map binds them in the browser.
func (s *passState) resolve(args api.OnResolveArgs) (api.OnResolveResult, error) {
	resolution, err := s.cfg.Modules.Resolve(args.Path)
	if err != nil {
		if args.Importer != "" {
			err = fmt.Errorf("%w (imported by %s)", err, s.relative(args.Importer))
		}
		s.record(err)
		return api.OnResolveResult{}, err
	}
	if s.external && args.Kind != api.ResolveEntryPoint {
		s.logger.Debug("externalized builtin module", "specifier", args.Path, "importer", s.relative(args.Importer))
		return api.OnResolveResult{Path: args.Path, External: true}, nil
	}
	path := s.cfg.Abs(resolution.Source)
	s.logger.Debug("resolved builtin module", "specifier", args.Path, "source", s.relative(path))
	return api.OnResolveResult{Path: path}, nil
}

// end records the pass's outputs in the manifest once esbuild has written
// them. Failed builds leave the manifest untouched.
func (s *passState) end(result *api.BuildResult) (api.OnEndResult, error) {
	if len(result.Errors) > 0 || s.failed() {
		return api.OnEndResult{}, nil
	}

	produced, err := entriesFromMetafile(result.Metafile, s.entries.byPath, s.cfg.Root, s.cfg.OutDirPath())
	if err != nil {
		s.record(err)
		return api.OnEndResult{}, err
	}

	path := s.cfg.ManifestPath(s.pass)
	merged, changes, err := manifest.Write(path, produced)
	if err != nil {
		s.record(err)
		return api.OnEndResult{}, err
	}
	for _, change := range changes {
		s.logger.Warn("manifest entry replaced", "name", change.Name, "previous", change.Previous, "current", change.Current)
	}
	s.logger.Debug("manifest written", "path", path, "entries", len(produced))

	s.mu.Lock()
	s.produced = produced
	s.merged = merged
	s.changes = changes
	s.mu.Unlock()
	return api.OnEndResult{}, nil
}

func (s *passState) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = nil
	s.produced = nil
	s.merged = nil
	s.changes = nil
}

func (s *passState) record(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *passState) failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.errs) > 0
}

// err joins the recorded errors in a stable order.
func (s *passState) err() error {
	s.mu.Lock()
	errs := append([]error(nil), s.errs...)
	s.mu.Unlock()
	if len(errs) == 0 {
		return nil
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return errors.Join(errs...)
}

func (s *passState) relative(path string) string {
	if path == "" || !filepath.IsAbs(path) {
		return path
	}
	rel, err := filepath.Rel(s.cfg.Root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}
