package store

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"vaultpad/internal/doc"
)

// LoadedDoc is a document rebuilt from disk plus the op ids observed in
// its WAL, in first-seen order. Callers feed SeenIDs into their dedup
// state so restarts do not reapply retried edits.
type LoadedDoc struct {
	Doc     doc.Doc
	SeenIDs []uuid.UUID
}

// LoadDoc rebuilds a document: the snapshot seeds the content, the WAL
// tail replays on top, and the password file supplies the hash. Missing
// files mean an empty document. Unparseable WAL lines are logged and
// skipped; edits whose op id already appeared are skipped entirely.
func (s *Store) LoadDoc(slug string) (*LoadedDoc, error) {
	snapPath, err := s.SnapshotPath(slug)
	if err != nil {
		return nil, err
	}

	loaded := &LoadedDoc{}

	if data, err := os.ReadFile(snapPath); err == nil {
		loaded.Doc.Content = string(data)
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	if err := s.replayWAL(slug, loaded); err != nil {
		return nil, err
	}

	pwdPath, err := s.PasswordPath(slug)
	if err != nil {
		return nil, err
	}

	if data, err := os.ReadFile(pwdPath); err == nil {
		loaded.Doc.PasswordHash = strings.TrimSpace(string(data))
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read password file: %w", err)
	}

	return loaded, nil
}

// replayWAL folds the slug's WAL into the loaded document. Edit events
// transform and apply exactly like live edits; cursor and ime events
// only contribute their op ids to the dedup set. After replay the
// pending-edit counters are set so the next flush consolidates the WAL.
func (s *Store) replayWAL(slug string, loaded *LoadedDoc) error {
	walPath, err := s.WALPath(slug)
	if err != nil {
		return err
	}

	f, err := os.Open(walPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("open wal: %w", err)
	}
	defer func() { _ = f.Close() }()

	seen := make(map[uuid.UUID]struct{})
	remember := func(id uuid.UUID) bool {
		if _, dup := seen[id]; dup {
			return false
		}
		seen[id] = struct{}{}
		loaded.SeenIDs = append(loaded.SeenIDs, id)

		return true
	}

	var (
		editCount int
		lastTS    int64
	)

	reader := bufio.NewReader(f)

	for lineNo := 1; ; lineNo++ {
		line, readErr := reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)

		if len(line) > 0 {
			entry, err := ParseWALLine(line)
			if err != nil {
				s.log.Warn("skipping unparseable wal line", "slug", slug, "line", lineNo, "err", err)
			} else {
				switch entry.Event.Type {
				case EventEdit:
					edit := *entry.Event.Edit
					if entry.Version == WALVersion && edit.TS == nil {
						ts := entry.TS
						edit.TS = &ts
					}

					if edit.OpID != nil && !remember(*edit.OpID) {
						break
					}

					ops := doc.Transform(&loaded.Doc, edit)
					doc.Apply(&loaded.Doc, ops)
					loaded.Doc.Rev++
					loaded.Doc.Log = append(loaded.Doc.Log, ops)

					editCount++
					if entry.TS > lastTS {
						lastTS = entry.TS
					}
				case EventCursor, EventIme:
					if entry.Event.OpID != nil {
						remember(*entry.Event.OpID)
					}
				}
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}

			return fmt.Errorf("read wal: %w", readErr)
		}
	}

	if editCount > 0 {
		if lastTS == 0 {
			lastTS = time.Now().UnixMilli()
		}

		loaded.Doc.SinceFlush = editCount
		loaded.Doc.LastEditTS = lastTS
	}

	return nil
}
