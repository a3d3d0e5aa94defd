// Package server serves the build output with the std: import map inlined
// into the index page.
package server

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ben-ranford/stdmod/internal/importmap"
	"github.com/ben-ranford/stdmod/internal/manifest"
)

const (
	entryModule   = "main"
	entryNoModule = "nomodule"
)

//go:embed index.html.tmpl
var indexSource string

var indexTemplate = template.Must(template.New("index").Parse(indexSource))

type indexData struct {
	Title     string
	ImportMap template.HTML
	Module    string
	NoModule  string
}

type Server struct {
	cfg       Config
	logger    *slog.Logger
	manifest  manifest.Manifest
	importMap []byte
	index     []byte
	files     http.Handler
}

// New reads the manifest once and renders the index page. A missing
// manifest serves an empty import map; a corrupt one is fatal.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	path := cfg.ManifestPath()
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		logger.Warn("manifest not found, serving an empty import map", "path", path)
	}
	m, err := manifest.Load(path)
	if err != nil {
		return nil, err
	}

	im, payload, err := importmap.Build(m)
	if err != nil {
		return nil, err
	}
	tag, err := im.ScriptTag()
	if err != nil {
		return nil, err
	}

	var index bytes.Buffer
	data := indexData{
		Title:     cfg.Title,
		ImportMap: tag,
		Module:    m[entryModule],
		NoModule:  m[entryNoModule],
	}
	if err := indexTemplate.Execute(&index, data); err != nil {
		return nil, fmt.Errorf("render index: %w", err)
	}

	return &Server{
		cfg:       cfg,
		logger:    logger,
		manifest:  m,
		importMap: payload,
		index:     index.Bytes(),
		files:     http.FileServer(http.Dir(cfg.PublicDir)),
	}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.serveIndex)
	mux.HandleFunc("GET /importmap.json", s.serveImportMap)
	mux.Handle("GET /", s.files)
	return mux
}

func (s *Server) serveIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(s.index)
}

func (s *Server) serveImportMap(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/importmap+json")
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = w.Write(s.importMap)
}

// ListenAndServe binds cfg.Addr and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the HTTP server on ln until ctx ends, then shuts down within
// the configured timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	s.logger.Info("serving", "addr", ln.Addr().String(), "public", s.cfg.PublicDir, "builtins", len(importmap.Generate(s.manifest).Imports))
	go func() {
		serveErr <- httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		<-serveErr
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
