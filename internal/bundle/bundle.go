// Package bundle runs the configured esbuild passes with the builtin module
// resolver installed and records each pass's outputs in the asset manifest.
package bundle

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/ben-ranford/stdmod/internal/config"
	"github.com/ben-ranford/stdmod/internal/ctxlog"
	"github.com/ben-ranford/stdmod/internal/manifest"
)

var ErrBuildFailed = errors.New("build failed")

type Result struct {
	Pass         string
	Format       config.Format
	ManifestPath string
	// Entries are the manifest entries this pass produced.
	Entries manifest.Manifest
	// Manifest is the merged manifest as written to disk.
	Manifest manifest.Manifest
	Changes  []manifest.Change
	Warnings []string
}

var targets = map[string]api.Target{
	"es5":    api.ES5,
	"es2015": api.ES2015,
	"es2016": api.ES2016,
	"es2017": api.ES2017,
	"es2018": api.ES2018,
	"es2019": api.ES2019,
	"es2020": api.ES2020,
	"es2021": api.ES2021,
	"es2022": api.ES2022,
	"esnext": api.ESNext,
}

// RunAll runs passes in order and stops at the first failure.
func RunAll(ctx context.Context, cfg config.Config, passes []config.Pass) ([]Result, error) {
	results := make([]Result, 0, len(passes))
	for _, pass := range passes {
		result, err := Run(ctx, cfg, pass)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}
	return results, nil
}

func Run(ctx context.Context, cfg config.Config, pass config.Pass) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	logger := ctxlog.FromContext(ctx).With("pass", pass.Name)

	entries, err := registerEntries(cfg, pass)
	if err != nil {
		return Result{}, fmt.Errorf("pass %s: %w", pass.Name, err)
	}
	opts, err := buildOptions(cfg, pass, entries)
	if err != nil {
		return Result{}, fmt.Errorf("pass %s: %w", pass.Name, err)
	}
	state := newPassState(cfg, pass, entries, logger)
	opts.Plugins = []api.Plugin{state.plugin()}

	buildCtx, ctxErr := api.Context(opts)
	if ctxErr != nil {
		return Result{}, fmt.Errorf("pass %s: %w", pass.Name, messagesError(ctxErr.Errors))
	}
	defer buildCtx.Dispose()
	stop := context.AfterFunc(ctx, buildCtx.Cancel)
	defer stop()

	logger.Info("building", "entries", len(entries.points), "format", string(pass.Format))
	if aliases := entries.aliases(); len(aliases) > 0 {
		logger.Debug("entries share an input and get its URL", "aliases", aliases)
	}
	built := buildCtx.Rebuild()
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := state.err(); err != nil {
		return Result{}, fmt.Errorf("pass %s: %w", pass.Name, err)
	}
	if len(built.Errors) > 0 {
		return Result{}, fmt.Errorf("pass %s: %w", pass.Name, messagesError(built.Errors))
	}

	result := Result{
		Pass:         pass.Name,
		Format:       pass.Format,
		ManifestPath: cfg.ManifestPath(pass),
		Warnings:     formatMessages(built.Warnings),
	}
	for _, warning := range result.Warnings {
		logger.Warn("esbuild warning", "message", warning)
	}
	state.mu.Lock()
	result.Entries = state.produced
	result.Manifest = state.merged
	result.Changes = state.changes
	state.mu.Unlock()
	for _, change := range result.Changes {
		result.Warnings = append(result.Warnings, fmt.Sprintf("manifest entry %s changed from %s to %s", change.Name, change.Previous, change.Current))
	}
	logger.Info("pass complete", "outputs", len(result.Entries), "manifest", result.ManifestPath)
	return result, nil
}

func buildOptions(cfg config.Config, pass config.Pass, entries entrySet) (api.BuildOptions, error) {
	target, ok := targets[strings.ToLower(strings.TrimSpace(pass.Target))]
	if !ok {
		return api.BuildOptions{}, fmt.Errorf("unknown target %q", pass.Target)
	}
	format := api.FormatESModule
	if pass.Format == config.FormatIIFE {
		format = api.FormatIIFE
	}
	return api.BuildOptions{
		AbsWorkingDir:       cfg.Root,
		EntryPointsAdvanced: entries.points,
		EntryNames:          pass.EntryNames,
		ChunkNames:          "chunk-[hash]",
		OutExtension:        map[string]string{".js": pass.Extension},
		Outdir:              cfg.OutDirPath(),
		Bundle:              true,
		Splitting:           pass.CodeSplit && pass.Format == config.FormatESM,
		Format:              format,
		Platform:            api.PlatformBrowser,
		Target:              target,
		MinifyWhitespace:    pass.Minify,
		MinifyIdentifiers:   pass.Minify,
		MinifySyntax:        pass.Minify,
		Metafile:            true,
		Write:               true,
		LogLevel:            api.LogLevelSilent,
	}, nil
}

func messagesError(messages []api.Message) error {
	formatted := formatMessages(messages)
	if len(formatted) == 0 {
		return ErrBuildFailed
	}
	return fmt.Errorf("%w: %s", ErrBuildFailed, strings.Join(formatted, "; "))
}

func formatMessages(messages []api.Message) []string {
	out := make([]string, 0, len(messages))
	for _, msg := range messages {
		text := msg.Text
		if msg.Location != nil {
			text = fmt.Sprintf("%s:%d:%d: %s", msg.Location.File, msg.Location.Line, msg.Location.Column, msg.Text)
		}
		out = append(out, text)
	}
	return out
}
