package store_test

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vaultpad/internal/store"
	"vaultpad/internal/wire"
)

// testLogger returns a logger that stays silent unless a test fails
// with -v; warnings from replay paths are expected in several tests.
func testLogger(t *testing.T) *slog.Logger {
	t.Helper()

	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSuffix(string(p), "\n"))

	return len(p), nil
}

// mkStore builds a store over a fresh temp vault.
func mkStore(t *testing.T) *store.Store {
	t.Helper()

	return store.New(t.TempDir(), testLogger(t))
}

// writeRawWAL writes the given lines verbatim as a slug's WAL file.
func writeRawWAL(t *testing.T, st *store.Store, slug string, lines ...string) {
	t.Helper()

	path, err := st.WALPath(slug)
	if err != nil {
		t.Fatalf("wal path: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir wal dir: %v", err)
	}

	data := strings.Join(lines, "\n") + "\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write wal: %v", err)
	}
}

// v1Line encodes an edit as a legacy bare-object WAL line.
func v1Line(t *testing.T, edit wire.Edit) string {
	t.Helper()

	data, err := json.Marshal(edit)
	if err != nil {
		t.Fatalf("marshal v1 edit: %v", err)
	}

	return string(data)
}

// v2Line encodes a versioned WAL entry line.
func v2Line(t *testing.T, event store.DocEvent, ts int64) string {
	t.Helper()

	data, err := json.Marshal(store.WALEntry{Version: store.WALVersion, TS: ts, Event: event})
	if err != nil {
		t.Fatalf("marshal v2 entry: %v", err)
	}

	return string(data)
}
