package server

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/ben-ranford/stdmod/internal/manifest"
)

// Config is read from STDMOD_* environment variables on top of the values
// derived from the project config.
type Config struct {
	Addr            string        `env:"STDMOD_ADDR"`
	PublicDir       string        `env:"STDMOD_PUBLIC_DIR"`
	Manifest        string        `env:"STDMOD_MANIFEST"`
	Title           string        `env:"STDMOD_TITLE"`
	ShutdownTimeout time.Duration `env:"STDMOD_SHUTDOWN_TIMEOUT"`
}

func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		PublicDir:       "public",
		Manifest:        manifest.DefaultFilename,
		Title:           "stdmod",
		ShutdownTimeout: 5 * time.Second,
	}
}

// ParseEnv overlays environment values onto base. A nil environ reads the
// process environment.
func ParseEnv(base Config, environ map[string]string) (Config, error) {
	cfg := base
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("parse env: STDMOD_SHUTDOWN_TIMEOUT must be positive")
	}
	return cfg, nil
}

// ManifestPath resolves Manifest relative to PublicDir.
func (c Config) ManifestPath() string {
	if filepath.IsAbs(c.Manifest) {
		return c.Manifest
	}
	return filepath.Join(c.PublicDir, c.Manifest)
}
