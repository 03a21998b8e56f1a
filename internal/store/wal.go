package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"vaultpad/internal/wire"
)

// WALVersion is the envelope version written for new entries. Version 1
// files, bare edit objects one per line, are still readable.
const WALVersion = 2

// WAL event types.
const (
	EventEdit   = "edit"
	EventCursor = "cursor"
	EventIme    = "ime"
)

// ErrWALEntry reports a WAL line that does not decode to a valid entry.
// Callers should use errors.Is(err, ErrWALEntry).
var ErrWALEntry = errors.New("invalid wal entry")

// DocEvent is one logged document event. Exactly one payload is set,
// matching Type.
type DocEvent struct {
	Type     string            `json:"type"`
	Edit     *wire.Edit        `json:"edit,omitempty"`
	ClientID *uuid.UUID        `json:"client_id,omitempty"`
	OpID     *uuid.UUID        `json:"op_id,omitempty"`
	Cursor   *wire.CursorState `json:"cursor,omitempty"`
	Ime      *wire.ImeEvent    `json:"ime,omitempty"`
}

// NewEditEvent wraps an edit for the log.
func NewEditEvent(edit wire.Edit) DocEvent {
	return DocEvent{Type: EventEdit, Edit: &edit}
}

// NewCursorEvent wraps a cursor move for the log.
func NewCursorEvent(clientID uuid.UUID, opID *uuid.UUID, cursor wire.CursorState) DocEvent {
	return DocEvent{Type: EventCursor, ClientID: &clientID, OpID: opID, Cursor: &cursor}
}

// NewImeEvent wraps a composition step for the log.
func NewImeEvent(clientID uuid.UUID, opID *uuid.UUID, ime wire.ImeEvent) DocEvent {
	return DocEvent{Type: EventIme, ClientID: &clientID, OpID: opID, Ime: &ime}
}

// WALEntry is one decoded WAL line. For version 1 lines TS carries the
// edit's own timestamp, or zero when the edit had none.
type WALEntry struct {
	Version int      `json:"version"`
	TS      int64    `json:"ts"`
	Event   DocEvent `json:"event"`
}

// AppendEvent appends one versioned entry to the slug's WAL, creating
// parent directories as needed. The write is a plain append without
// fsync; durability beyond the page cache comes from snapshot
// consolidation.
func (s *Store) AppendEvent(slug string, event DocEvent, ts int64) error {
	path, err := s.WALPath(slug)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create wal dir: %w", err)
	}

	line, err := json.Marshal(WALEntry{Version: WALVersion, TS: ts, Event: event})
	if err != nil {
		return fmt.Errorf("encode wal entry: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open wal: %w", err)
	}

	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()

		return fmt.Errorf("append wal: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("close wal: %w", err)
	}

	return nil
}

// ParseWALLine decodes one WAL line. Lines claiming version 2 must carry
// a valid event envelope; anything else is tried as a version 1 bare
// edit, which must at least have ops.
func ParseWALLine(line []byte) (WALEntry, error) {
	var probe struct {
		Version int `json:"version"`
	}

	if err := json.Unmarshal(line, &probe); err != nil {
		return WALEntry{}, fmt.Errorf("decode wal line: %w: %w", ErrWALEntry, err)
	}

	if probe.Version == WALVersion {
		var entry WALEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return WALEntry{}, fmt.Errorf("decode wal entry: %w: %w", ErrWALEntry, err)
		}

		if err := validateEvent(entry.Event); err != nil {
			return WALEntry{}, err
		}

		return entry, nil
	}

	var edit wire.Edit
	if err := json.Unmarshal(line, &edit); err != nil {
		return WALEntry{}, fmt.Errorf("decode legacy wal edit: %w: %w", ErrWALEntry, err)
	}

	if edit.Ops == nil {
		return WALEntry{}, fmt.Errorf("%w: legacy edit without ops", ErrWALEntry)
	}

	var ts int64
	if edit.TS != nil {
		ts = *edit.TS
	}

	return WALEntry{Version: 1, TS: ts, Event: NewEditEvent(edit)}, nil
}

// validateEvent checks that the payload matches the event type.
func validateEvent(event DocEvent) error {
	switch event.Type {
	case EventEdit:
		if event.Edit == nil {
			return fmt.Errorf("%w: edit event without edit", ErrWALEntry)
		}
	case EventCursor:
		if event.ClientID == nil || event.Cursor == nil {
			return fmt.Errorf("%w: cursor event without client_id or cursor", ErrWALEntry)
		}
	case EventIme:
		if event.ClientID == nil || event.Ime == nil {
			return fmt.Errorf("%w: ime event without client_id or ime", ErrWALEntry)
		}
	default:
		return fmt.Errorf("%w: event type %q", ErrWALEntry, event.Type)
	}

	return nil
}
