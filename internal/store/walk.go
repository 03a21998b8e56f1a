package store

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// WALSlugs walks the WAL directory and returns the slug of every
// non-empty WAL file, sorted. Files whose relative path does not map
// back to a valid slug are logged and skipped. A missing WAL directory
// yields no slugs.
func (s *Store) WALSlugs() ([]string, error) {
	var slugs []string

	err := filepath.WalkDir(s.walDir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}

			return err
		}

		if entry.IsDir() || !strings.HasSuffix(entry.Name(), walExt) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}

		if info.Size() == 0 {
			return nil
		}

		rel, err := filepath.Rel(s.walDir, p)
		if err != nil {
			return fmt.Errorf("relativize %s: %w", p, err)
		}

		slug := strings.TrimSuffix(filepath.ToSlash(rel), walExt)
		if _, err := SlugRelPath(slug); err != nil {
			s.log.Warn("skipping wal file with unusable name", "path", p, "err", err)

			return nil
		}

		slugs = append(slugs, slug)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk wal dir: %w", err)
	}

	sort.Strings(slugs)

	return slugs, nil
}
