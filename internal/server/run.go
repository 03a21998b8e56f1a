package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	flag "github.com/spf13/pflag"

	"vaultpad/internal/config"
	"vaultpad/internal/store"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// shutdownGrace bounds how long in-flight HTTP requests may drain after
// a shutdown signal. Upgraded WebSocket connections are not waited for;
// they die with the process after the final flush.
const shutdownGrace = 10 * time.Second

// Run starts the server and blocks until a shutdown signal arrives or
// startup fails. Returns the process exit code.
func Run(out, errOut io.Writer, args []string, env map[string]string, sig <-chan os.Signal) int {
	flagSet := flag.NewFlagSet("vaultpad", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	configPath := flagSet.String("config", "", "Path to a JSONC config file")
	listenAddr := flagSet.String("listen", "", "Listen address, overrides config")
	dataDir := flagSet.String("data-dir", "", "Vault directory, overrides config")
	logLevel := flagSet.String("log-level", "info", "Log level: debug, info, warn, error")
	help := flagSet.BoolP("help", "h", false, "Show help")

	if err := flagSet.Parse(args); err != nil {
		fprintln(errOut, "error:", err)
		printUsage(errOut)

		return exitUsage
	}

	if *help {
		printUsage(out)

		return exitOK
	}

	cfg, err := config.Load(*configPath, env)
	if err != nil {
		fprintln(errOut, "error:", err)

		return exitError
	}

	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}

	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	logger := NewLogger(errOut, *logLevel)

	if err := runServer(cfg, logger, sig); err != nil {
		logger.Error("server failed", "err", err)

		return exitError
	}

	return exitOK
}

// runServer wires the vault, consolidates stale WALs, serves until a
// signal arrives, then flushes everything and returns.
func runServer(cfg config.Config, logger *slog.Logger, sig <-chan os.Signal) error {
	st := store.New(cfg.DataDir, logger)

	for _, dir := range []string{st.WALDir(), st.SnapshotDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	lock, err := store.AcquireLock(cfg.DataDir)
	if err != nil {
		return err
	}
	defer func() { _ = lock.Release() }()

	state := NewState(cfg, st, logger)

	consolidated, err := state.FlushAllWALs()
	if err != nil {
		return fmt.Errorf("consolidate wals at startup: %w", err)
	}

	if consolidated > 0 {
		logger.Info("consolidated pending wals into snapshots", "count", consolidated)
	}

	stopFlush := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		state.runPeriodicFlush(stopFlush)
	}()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           state.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)

	go func() {
		serveErr <- srv.ListenAndServe()
	}()

	logger.Info("listening", "addr", cfg.ListenAddr, "data_dir", cfg.DataDir, "env", cfg.AppEnv)

	select {
	case err := <-serveErr:
		close(stopFlush)
		wg.Wait()

		return fmt.Errorf("serve: %w", err)
	case received := <-sig:
		logger.Info("shutting down", "signal", received.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("graceful shutdown incomplete", "err", err)
	}

	close(stopFlush)
	wg.Wait()

	flushed, err := state.FlushLoadedDocs()
	if err != nil {
		logger.Error("flushing loaded documents failed", "err", err)
	}

	consolidated, err = state.FlushAllWALs()
	if err != nil {
		logger.Error("consolidating wals at shutdown failed", "err", err)
	}

	logger.Info("flushed before exit", "loaded", flushed, "wal", consolidated)

	return nil
}

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(w io.Writer, level string) *slog.Logger {
	var lvl slog.Level

	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}

func fprintln(w io.Writer, a ...any) {
	_, _ = fmt.Fprintln(w, a...)
}

func printUsage(w io.Writer) {
	fprintln(w, `vaultpad - collaborative text document server

Usage: vaultpad [options]

Options:
  --config <path>      JSONC config file
  --listen <addr>      Listen address (default `+config.DefaultListenAddr+`)
  --data-dir <dir>     Vault directory (default `+config.DefaultDataDir+`)
  --log-level <level>  debug, info, warn or error (default info)
  -h, --help           Show this help

Environment:
  DATA_DIR, LISTEN_ADDR, FLUSH_IDLE_MS, FLUSH_MAX_OPS,
  APP_ENV, APP_DOMAIN, APP_ALLOWED_ORIGINS`)
}
