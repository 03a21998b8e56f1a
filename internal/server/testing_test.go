package server_test

import (
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vaultpad/internal/config"
	"vaultpad/internal/server"
	"vaultpad/internal/store"
	"vaultpad/internal/wire"
)

// testLogger keeps server noise out of passing runs; several tests
// provoke warnings (slow subscribers, rollbacks) on purpose.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))

	return len(p), nil
}

// quietConfig returns a config whose flush thresholds never fire unless
// a test arranges it.
func quietConfig(dataDir string) config.Config {
	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.FlushIdleMS = int64(time.Hour / time.Millisecond)
	cfg.FlushMaxOps = 1 << 30

	return cfg
}

// newState builds a coordinator over a fresh temp vault. The returned
// store addresses the same vault, so tests can inspect the files the
// coordinator writes.
func newState(t *testing.T) (*server.State, *store.Store) {
	t.Helper()

	dataDir := t.TempDir()
	st := store.New(dataDir, testLogger(t))

	return server.NewState(quietConfig(dataDir), st, testLogger(t)), st
}

// insertEdit builds a single-insert edit.
func insertEdit(baseRev uint64, pos int, text string) wire.Edit {
	return wire.Edit{BaseRev: baseRev, Ops: []wire.Op{wire.Insert(pos, text)}}
}

// recv waits for the next broadcast frame.
func recv(t *testing.T, ch <-chan wire.ServerMsg) wire.ServerMsg {
	t.Helper()

	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("subscriber queue closed while waiting for a frame")
		}

		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a frame")
	}

	return nil
}

// requireNoMsg asserts that nothing is queued for the subscriber.
func requireNoMsg(t *testing.T, ch <-chan wire.ServerMsg) {
	t.Helper()

	select {
	case msg, ok := <-ch:
		if ok {
			t.Fatalf("unexpected frame: %#v", msg)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

// walLineCount counts the newline-terminated entries in a slug's WAL. A
// missing WAL counts as zero.
func walLineCount(t *testing.T, st *store.Store, slug string) int {
	t.Helper()

	path, err := st.WALPath(slug)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0
	}
	require.NoError(t, err)

	return strings.Count(string(data), "\n")
}

// readSnapshot reads a slug's snapshot file. A missing snapshot returns
// ok=false.
func readSnapshot(t *testing.T, st *store.Store, slug string) (string, bool) {
	t.Helper()

	path, err := st.SnapshotPath(slug)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", false
	}
	require.NoError(t, err)

	return string(data), true
}
