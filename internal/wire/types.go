// Package wire defines the JSON message vocabulary shared by the
// WebSocket protocol, the HTTP API, and the write-ahead log. Every
// position, length, and range in this package counts Unicode code
// points, not bytes.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Selection directions.
const (
	DirectionForward  = "forward"
	DirectionBackward = "backward"
)

// CursorState is a caret plus an optional selection. Anchor is the fixed
// end of the selection; Direction says which side the caret is on.
type CursorState struct {
	Position  int    `json:"position"`
	Anchor    *int   `json:"anchor,omitempty"`
	Direction string `json:"selection_direction,omitempty"`
}

// TextRange is a half-open [Start, End) span of code points.
type TextRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// IME composition phases.
const (
	ImeStart  = "start"
	ImeUpdate = "update"
	ImeCommit = "commit"
	ImeCancel = "cancel"
)

// ErrInvalidImeEvent is returned when an IME event is missing the fields
// its phase requires.
var ErrInvalidImeEvent = errors.New("invalid ime event")

// ImeEvent is one step of an input-method composition, tagged by phase.
// start and cancel carry the composition range, update carries the range
// plus the preview text, and commit replaces ReplaceRange with Text.
type ImeEvent struct {
	Phase        string     `json:"phase"`
	Range        *TextRange `json:"range,omitempty"`
	ReplaceRange *TextRange `json:"replace_range,omitempty"`
	Text         *string    `json:"text,omitempty"`
}

// UnmarshalJSON enforces the per-phase field requirements and drops
// fields that do not belong to the phase.
func (e *ImeEvent) UnmarshalJSON(data []byte) error {
	type plain ImeEvent

	var decoded plain
	if err := json.Unmarshal(data, &decoded); err != nil {
		return fmt.Errorf("decoding ime event: %w", err)
	}

	switch decoded.Phase {
	case ImeStart, ImeCancel:
		if decoded.Range == nil {
			return fmt.Errorf("%w: %s without range", ErrInvalidImeEvent, decoded.Phase)
		}
		decoded.ReplaceRange = nil
		decoded.Text = nil
	case ImeUpdate:
		if decoded.Range == nil || decoded.Text == nil {
			return fmt.Errorf("%w: update without range or text", ErrInvalidImeEvent)
		}
		decoded.ReplaceRange = nil
	case ImeCommit:
		if decoded.ReplaceRange == nil || decoded.Text == nil {
			return fmt.Errorf("%w: commit without replace_range or text", ErrInvalidImeEvent)
		}
		decoded.Range = nil
	default:
		return fmt.Errorf("%w: phase %q", ErrInvalidImeEvent, decoded.Phase)
	}

	*e = ImeEvent(decoded)

	return nil
}

// ImeState is the composition snapshot kept in presence. For commit
// events Range holds the replaced range.
type ImeState struct {
	Phase string     `json:"phase"`
	Range *TextRange `json:"range,omitempty"`
	Text  *string    `json:"text,omitempty"`
}

// Edit is one client edit against a known document revision. ClientID and
// OpID always appear on the wire, as null when absent, so that replayed
// log entries and live frames look the same.
type Edit struct {
	BaseRev      uint64       `json:"base_rev"`
	Ops          []Op         `json:"ops"`
	ClientID     *uuid.UUID   `json:"client_id"`
	OpID         *uuid.UUID   `json:"op_id"`
	CursorBefore *CursorState `json:"cursor_before,omitempty"`
	CursorAfter  *CursorState `json:"cursor_after,omitempty"`
	TS           *int64       `json:"ts,omitempty"`
}

// PresenceState is one client's visible state in a document.
type PresenceState struct {
	ClientID uuid.UUID    `json:"client_id"`
	Label    string       `json:"label,omitempty"`
	Color    string       `json:"color,omitempty"`
	Cursor   *CursorState `json:"cursor,omitempty"`
	Ime      *ImeState    `json:"ime,omitempty"`
	LastSeen int64        `json:"last_seen"`
}

// CompatContext is the metadata a legacy client sends with an op. The
// baseVersion spelling is part of the legacy protocol.
type CompatContext struct {
	BaseVersion uint64       `json:"baseVersion"`
	ClientID    *uuid.UUID   `json:"client_id,omitempty"`
	Selection   *CursorState `json:"selection,omitempty"`
	OpID        *uuid.UUID   `json:"op_id,omitempty"`
	TS          *int64       `json:"ts,omitempty"`
}

// CompatBroadcastContext mirrors CompatContext for server broadcasts,
// with serverSeq in place of baseVersion.
type CompatBroadcastContext struct {
	ServerSeq uint64       `json:"serverSeq"`
	ClientID  *uuid.UUID   `json:"client_id,omitempty"`
	Selection *CursorState `json:"selection,omitempty"`
	OpID      *uuid.UUID   `json:"op_id,omitempty"`
	TS        *int64       `json:"ts,omitempty"`
}

// SnapshotResp is the body of GET /api/snapshot.
type SnapshotResp struct {
	Slug    string `json:"slug"`
	Rev     uint64 `json:"rev"`
	Content string `json:"content"`
}

// PasswordUpdate is the body of POST /api/password. An absent or empty
// NewPassword clears the document password.
type PasswordUpdate struct {
	Slug            string  `json:"slug"`
	CurrentPassword *string `json:"current_password,omitempty"`
	NewPassword     *string `json:"new_password,omitempty"`
}
