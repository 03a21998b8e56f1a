// Package config resolves server settings from three layers: built-in
// defaults, an optional JSONC config file, then environment variables.
// Later layers win per field.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/tailscale/hujson"
)

// Built-in defaults.
const (
	DefaultDataDir     = "/vault"
	DefaultListenAddr  = "0.0.0.0:9000"
	DefaultFlushIdleMS = 1500
	DefaultFlushMaxOps = 200
	DefaultAppEnv      = "dev"
)

// Config holds every server setting.
type Config struct {
	// DataDir is the vault root; wal/ and snapshots/ live beneath it.
	DataDir string `json:"data_dir"`

	// ListenAddr is the TCP address the HTTP server binds.
	ListenAddr string `json:"listen_addr"`

	// FlushIdleMS is how long a document with pending edits may sit
	// idle before its WAL consolidates into a snapshot, and the period
	// of the background flusher. FlushMaxOps flushes earlier once that
	// many edits are pending.
	FlushIdleMS int64 `json:"flush_idle_ms"`
	FlushMaxOps int   `json:"flush_max_ops"`

	// AppEnv is the deployment environment; "dev" disables the
	// WebSocket origin gate.
	AppEnv string `json:"app_env"`

	// AppDomain derives a default origin allowlist of
	// https://<AppDomain> when AllowedOrigins is empty.
	AppDomain      string   `json:"app_domain"`
	AllowedOrigins []string `json:"allowed_origins"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DataDir:     DefaultDataDir,
		ListenAddr:  DefaultListenAddr,
		FlushIdleMS: DefaultFlushIdleMS,
		FlushMaxOps: DefaultFlushMaxOps,
		AppEnv:      DefaultAppEnv,
	}
}

// DevMode reports whether the origin gate is disabled.
func (c Config) DevMode() bool { return c.AppEnv == "dev" }

// Load resolves the effective configuration. A missing config file is
// not an error; a present but invalid one is. Unparseable or negative
// numeric environment values are ignored.
func Load(path string, env map[string]string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg, env)

	if len(cfg.AllowedOrigins) == 0 && cfg.AppDomain != "" {
		cfg.AllowedOrigins = []string{"https://" + cfg.AppDomain}
	}

	return cfg, nil
}

// applyFile layers a JSONC file over cfg. Fields absent from the file
// keep their current values.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("read config file: %w", err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := json.Unmarshal(standardized, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	return nil
}

func applyEnv(cfg *Config, env map[string]string) {
	if v := env["DATA_DIR"]; v != "" {
		cfg.DataDir = v
	}

	if v := env["LISTEN_ADDR"]; v != "" {
		cfg.ListenAddr = v
	}

	if v := env["FLUSH_IDLE_MS"]; v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			cfg.FlushIdleMS = n
		}
	}

	if v := env["FLUSH_MAX_OPS"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.FlushMaxOps = n
		}
	}

	if v := env["APP_ENV"]; v != "" {
		cfg.AppEnv = v
	}

	if v := env["APP_DOMAIN"]; v != "" {
		cfg.AppDomain = v
	}

	if v, ok := env["APP_ALLOWED_ORIGINS"]; ok {
		if origins := splitOrigins(v); len(origins) > 0 {
			cfg.AllowedOrigins = origins
		}
	}
}

// splitOrigins parses a comma-separated origin list, trimming whitespace
// and dropping empty entries.
func splitOrigins(value string) []string {
	var origins []string

	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}

	return origins
}
