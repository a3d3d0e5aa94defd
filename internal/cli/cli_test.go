package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/ben-ranford/stdmod/internal/app"
	"github.com/ben-ranford/stdmod/internal/builtin"
	"github.com/ben-ranford/stdmod/internal/ctxlog"
	"github.com/ben-ranford/stdmod/internal/kvstorage"
)

type fakeRunner struct {
	output  string
	err     error
	request app.Request
	debug   bool
}

func (f *fakeRunner) Execute(ctx context.Context, req app.Request) (string, error) {
	f.request = req
	f.debug = ctxlog.FromContext(ctx).Enabled(ctx, slog.LevelDebug)
	ctxlog.FromContext(ctx).Debug("executing", "mode", string(req.Mode))
	return f.output, f.err
}

func newTestCLI(runner Runner, env map[string]string) (*CLI, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	c := New(runner, &out, &errOut)
	c.Getenv = func(key string) string { return env[key] }
	return c, &out, &errOut
}

func TestRunHelp(t *testing.T) {
	c, out, errOut := newTestCLI(&fakeRunner{}, nil)
	if code := c.Run(context.Background(), []string{"--help"}); code != ExitOK {
		t.Fatalf("expected code 0, got %d", code)
	}
	if !strings.Contains(out.String(), "Usage:") || errOut.Len() != 0 {
		t.Fatalf("expected usage on stdout only, got %q / %q", out.String(), errOut.String())
	}
}

func TestRunUsageError(t *testing.T) {
	c, out, errOut := newTestCLI(&fakeRunner{}, nil)
	if code := c.Run(context.Background(), []string{"deploy"}); code != ExitUsage {
		t.Fatalf("expected code 2, got %d", code)
	}
	if !strings.Contains(errOut.String(), "unknown command: deploy") || !strings.Contains(errOut.String(), "Usage:") {
		t.Fatalf("unexpected stderr %q", errOut.String())
	}
	if out.Len() != 0 {
		t.Fatalf("expected no stdout, got %q", out.String())
	}
}

func TestRunPrintsOutputWithTrailingNewline(t *testing.T) {
	runner := &fakeRunner{output: "done"}
	c, out, _ := newTestCLI(runner, nil)
	if code := c.Run(context.Background(), []string{"clean"}); code != ExitOK {
		t.Fatalf("expected code 0, got %d", code)
	}
	if out.String() != "done\n" {
		t.Fatalf("unexpected stdout %q", out.String())
	}
	if runner.request.Mode != app.ModeClean {
		t.Fatalf("unexpected request %+v", runner.request)
	}
}

func TestRunExitCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{name: "unknown builtin", err: fmt.Errorf("src/main.js:1:1: %w", builtin.ErrUnknownBuiltinModule), want: ExitUnknownModule},
		{name: "access denied", err: fmt.Errorf("set: %w", kvstorage.ErrAccessDenied), want: ExitAccessDenied},
		{name: "unknown mode", err: app.ErrUnknownMode, want: ExitUsage},
		{name: "other", err: errors.New("boom"), want: ExitError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, out, errOut := newTestCLI(&fakeRunner{output: "report", err: tc.err}, nil)
			if code := c.Run(context.Background(), []string{"check"}); code != tc.want {
				t.Fatalf("expected code %d, got %d", tc.want, code)
			}
			if out.String() != "report\n" {
				t.Fatalf("output must still be printed, got %q", out.String())
			}
			if !strings.Contains(errOut.String(), tc.err.Error()) {
				t.Fatalf("expected error on stderr, got %q", errOut.String())
			}
		})
	}
}

func TestRunVerboseEnablesDebugLogging(t *testing.T) {
	runner := &fakeRunner{}
	c, _, errOut := newTestCLI(runner, nil)
	if code := c.Run(context.Background(), []string{"build", "--verbose"}); code != ExitOK {
		t.Fatalf("expected code 0, got %d", code)
	}
	if !runner.debug || !strings.Contains(errOut.String(), "executing") {
		t.Fatalf("expected debug log on stderr, got %q", errOut.String())
	}
}

func TestRunLogLevelFromEnv(t *testing.T) {
	runner := &fakeRunner{}
	c, _, _ := newTestCLI(runner, map[string]string{LogLevelEnv: "debug"})
	if code := c.Run(context.Background(), []string{"build"}); code != ExitOK {
		t.Fatalf("expected code 0, got %d", code)
	}
	if !runner.debug {
		t.Fatal("expected debug level from the environment")
	}

	quiet := &fakeRunner{}
	c, _, errOut := newTestCLI(quiet, nil)
	_ = c.Run(context.Background(), []string{"build"})
	if quiet.debug || errOut.Len() != 0 {
		t.Fatalf("expected info level by default, got %q", errOut.String())
	}
}

func TestRunRejectsUnknownLogLevel(t *testing.T) {
	runner := &fakeRunner{}
	c, _, errOut := newTestCLI(runner, map[string]string{LogLevelEnv: "chatty"})
	if code := c.Run(context.Background(), []string{"build"}); code != ExitUsage {
		t.Fatalf("expected code 2, got %d", code)
	}
	if !strings.Contains(errOut.String(), "unknown log level") {
		t.Fatalf("unexpected stderr %q", errOut.String())
	}
	if runner.request.Mode != "" {
		t.Fatal("runner must not execute with a bad log level")
	}
}
