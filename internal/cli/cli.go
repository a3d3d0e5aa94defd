package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/ben-ranford/stdmod/internal/app"
	"github.com/ben-ranford/stdmod/internal/builtin"
	"github.com/ben-ranford/stdmod/internal/ctxlog"
	"github.com/ben-ranford/stdmod/internal/kvstorage"
)

const (
	ExitOK            = 0
	ExitError         = 1
	ExitUsage         = 2
	ExitUnknownModule = 3
	ExitAccessDenied  = 4
)

// LogLevelEnv selects the log level when --verbose is not given.
const LogLevelEnv = "STDMOD_LOG_LEVEL"

type Runner interface {
	Execute(ctx context.Context, req app.Request) (string, error)
}

type CLI struct {
	Runner Runner
	Out    io.Writer
	Err    io.Writer
	Getenv func(string) string
}

func New(runner Runner, out io.Writer, errOut io.Writer) *CLI {
	return &CLI{
		Runner: runner,
		Out:    out,
		Err:    errOut,
		Getenv: os.Getenv,
	}
}

func (c *CLI) Run(ctx context.Context, args []string) int {
	inv, err := ParseArgs(args)
	if err != nil {
		if errors.Is(err, ErrHelpRequested) {
			_, _ = fmt.Fprint(c.Out, Usage())
			return ExitOK
		}
		_, _ = fmt.Fprintf(c.Err, "error: %v\n\n", err)
		_, _ = fmt.Fprint(c.Err, Usage())
		return ExitUsage
	}

	level, err := c.logLevel(inv.Verbose)
	if err != nil {
		_, _ = fmt.Fprintf(c.Err, "error: %v\n", err)
		return ExitUsage
	}
	ctx = ctxlog.WithLogger(ctx, ctxlog.New(c.Err, level))

	output, runErr := c.Runner.Execute(ctx, inv.Request)
	if output != "" {
		_, _ = fmt.Fprint(c.Out, output)
		if !strings.HasSuffix(output, "\n") {
			_, _ = fmt.Fprintln(c.Out)
		}
	}

	if runErr != nil {
		_, _ = fmt.Fprintln(c.Err, runErr.Error())
		return exitCode(runErr)
	}
	return ExitOK
}

func (c *CLI) logLevel(verbose bool) (slog.Level, error) {
	if verbose {
		return slog.LevelDebug, nil
	}
	if c.Getenv == nil {
		return slog.LevelInfo, nil
	}
	return ctxlog.ParseLevel(c.Getenv(LogLevelEnv))
}

func exitCode(err error) int {
	switch {
	case errors.Is(err, builtin.ErrUnknownBuiltinModule):
		return ExitUnknownModule
	case errors.Is(err, kvstorage.ErrAccessDenied):
		return ExitAccessDenied
	case errors.Is(err, app.ErrUnknownMode), errors.Is(err, ErrUsage):
		return ExitUsage
	default:
		return ExitError
	}
}
