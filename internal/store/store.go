// Package store owns the on-disk layout of a vault: append-only WAL
// files under wal/, snapshot and password files under snapshots/, and
// the process lock at the vault root. Files are addressed by document
// slug; nested slugs map to nested directories.
package store

import (
	"log/slog"
	"path/filepath"
)

// Vault layout, relative to the data directory.
const (
	walDirName  = "wal"
	snapDirName = "snapshots"

	walExt      = ".jsonl"
	snapshotExt = ".md"
	passwordExt = ".pwd"
)

// Store reads and writes one vault directory.
type Store struct {
	walDir  string
	snapDir string
	log     *slog.Logger
}

// New builds a Store rooted at dataDir. Directories are created lazily
// on first write; callers that need them up front use WALDir and
// SnapshotDir.
func New(dataDir string, log *slog.Logger) *Store {
	return &Store{
		walDir:  filepath.Join(dataDir, walDirName),
		snapDir: filepath.Join(dataDir, snapDirName),
		log:     log,
	}
}

// WALDir returns the vault's WAL root.
func (s *Store) WALDir() string { return s.walDir }

// SnapshotDir returns the vault's snapshot root.
func (s *Store) SnapshotDir() string { return s.snapDir }

// WALPath maps a slug to its WAL file.
func (s *Store) WALPath(slug string) (string, error) {
	return s.slugFile(s.walDir, slug, walExt)
}

// SnapshotPath maps a slug to its snapshot file.
func (s *Store) SnapshotPath(slug string) (string, error) {
	return s.slugFile(s.snapDir, slug, snapshotExt)
}

// PasswordPath maps a slug to its password hash file.
func (s *Store) PasswordPath(slug string) (string, error) {
	return s.slugFile(s.snapDir, slug, passwordExt)
}

func (s *Store) slugFile(root, slug, ext string) (string, error) {
	rel, err := SlugRelPath(slug)
	if err != nil {
		return "", err
	}

	return filepath.Join(root, filepath.FromSlash(rel)+ext), nil
}
