package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

// WriteSnapshot persists a document's full content with a write-and-
// rename so readers never observe a half-written snapshot.
func (s *Store) WriteSnapshot(slug, content string) error {
	path, err := s.SnapshotPath(slug)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	if err := atomic.WriteFile(path, strings.NewReader(content)); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	return nil
}

// WritePasswordHash persists the password hash next to the snapshot. An
// empty hash removes the file, reopening the document.
func (s *Store) WritePasswordHash(slug, hash string) error {
	path, err := s.PasswordPath(slug)
	if err != nil {
		return err
	}

	if hash == "" {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove password file: %w", err)
		}

		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	if err := atomic.WriteFile(path, strings.NewReader(hash)); err != nil {
		return fmt.Errorf("write password file: %w", err)
	}

	return nil
}
