package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/ben-ranford/stdmod/internal/manifest"
	"github.com/ben-ranford/stdmod/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func publicDir(t *testing.T, manifestContent string) Config {
	t.Helper()
	dir := t.TempDir()
	if manifestContent != "" {
		testutil.MustWriteFile(t, filepath.Join(dir, manifest.DefaultFilename), manifestContent)
	}
	testutil.MustWriteFile(t, filepath.Join(dir, "main-abc.mjs"), "console.log('modern');\n")
	cfg := DefaultConfig()
	cfg.PublicDir = dir
	cfg.Title = "Visits"
	return cfg
}

const sampleManifest = `{
  "main": "/main-abc.mjs",
  "nomodule": "/nomodule-def.js",
  "std:kv-storage": "/std__kv-storage-123.mjs"
}
`

func get(t *testing.T, handler http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestIndexInlinesImportMapAndEntryScripts(t *testing.T) {
	srv, err := New(publicDir(t, sampleManifest), quietLogger)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	rec := get(t, srv.Handler(), "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"<title>Visits</title>",
		"<script type=\"importmap\">\n{\n  \"imports\": {\n    \"std:kv-storage\": \"/std__kv-storage-123.mjs\"\n  }\n}\n</script>",
		`<script type="module" src="/main-abc.mjs"></script>`,
		`<script nomodule defer src="/nomodule-def.js"></script>`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in index:\n%s", want, body)
		}
	}
	if strings.Contains(body, `"main":`) {
		t.Fatalf("ordinary entries must not appear in the import map:\n%s", body)
	}
}

func TestImportMapEndpoint(t *testing.T) {
	srv, err := New(publicDir(t, sampleManifest), quietLogger)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	rec := get(t, srv.Handler(), "/importmap.json")
	if got := rec.Header().Get("Content-Type"); got != "application/importmap+json" {
		t.Fatalf("unexpected content type %q", got)
	}
	if !strings.Contains(rec.Body.String(), `"std:kv-storage": "/std__kv-storage-123.mjs"`) {
		t.Fatalf("unexpected import map %s", rec.Body.String())
	}
}

func TestStaticFilesAreServed(t *testing.T) {
	srv, err := New(publicDir(t, sampleManifest), quietLogger)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	rec := get(t, srv.Handler(), "/main-abc.mjs")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "modern") {
		t.Fatalf("unexpected static response %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, srv.Handler(), "/missing.js"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestMissingManifestServesEmptyImportMap(t *testing.T) {
	srv, err := New(publicDir(t, ""), quietLogger)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	body := get(t, srv.Handler(), "/").Body.String()
	if !strings.Contains(body, "\"imports\": {}") {
		t.Fatalf("expected empty import map:\n%s", body)
	}
	if strings.Contains(body, `type="module"`) {
		t.Fatalf("no module script without a main entry:\n%s", body)
	}
}

func TestCorruptManifestIsFatal(t *testing.T) {
	_, err := New(publicDir(t, "[1, 2]"), quietLogger)
	if !errors.Is(err, manifest.ErrManifestCorrupt) {
		t.Fatalf("expected ErrManifestCorrupt, got %v", err)
	}
}

func TestParseEnv(t *testing.T) {
	cfg, err := ParseEnv(DefaultConfig(), map[string]string{
		"STDMOD_ADDR":             "127.0.0.1:9000",
		"STDMOD_PUBLIC_DIR":       "/srv/site",
		"STDMOD_SHUTDOWN_TIMEOUT": "2s",
	})
	if err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9000" || cfg.PublicDir != "/srv/site" || cfg.ShutdownTimeout != 2*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Title != "stdmod" || cfg.ManifestPath() != filepath.Join("/srv/site", manifest.DefaultFilename) {
		t.Fatalf("unset values should keep their base, got %+v", cfg)
	}

	if _, err := ParseEnv(DefaultConfig(), map[string]string{"STDMOD_SHUTDOWN_TIMEOUT": "soon"}); err == nil {
		t.Fatal("expected duration parse error")
	}
	if _, err := ParseEnv(DefaultConfig(), map[string]string{"STDMOD_SHUTDOWN_TIMEOUT": "0s"}); err == nil {
		t.Fatal("expected non-positive timeout error")
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	srv, err := New(publicDir(t, sampleManifest), quietLogger)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	client := &http.Client{Timeout: 5 * time.Second, Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + ln.Addr().String() + "/importmap.json")
	if err != nil {
		cancel()
		t.Fatalf("get: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestListenAndServeReportsBindErrors(t *testing.T) {
	cfg := publicDir(t, sampleManifest)
	cfg.Addr = "256.0.0.1:bad"
	srv, err := New(cfg, quietLogger)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := srv.ListenAndServe(context.Background()); err == nil {
		t.Fatal("expected listen error")
	}
}
