package wire

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Server message type tags. "snapshot", "op_broadcast" and "ack" belong
// to the legacy protocol.
const (
	TypeApplied           = "applied"
	TypePresenceSnapshot  = "presence_snapshot"
	TypePresenceDiff      = "presence_diff"
	TypeCompatSnapshot    = "snapshot"
	TypeCompatOpBroadcast = "op_broadcast"
	TypeCompatAck         = "ack"
)

// ServerMsg is any message the server may push to a client.
type ServerMsg interface {
	serverMsg()
}

// Applied confirms an edit at its assigned revision. Ops holds the
// transformed ops as applied, empty when the edit was a duplicate or
// collapsed to nothing.
type Applied struct {
	Type     string     `json:"type"`
	Slug     string     `json:"slug"`
	Rev      uint64     `json:"rev"`
	Ops      []Op       `json:"ops"`
	ClientID *uuid.UUID `json:"client_id"`
	OpID     *uuid.UUID `json:"op_id"`
	TS       int64      `json:"ts"`
}

// NewApplied builds an Applied frame. A nil ops slice serialises as [].
func NewApplied(slug string, rev uint64, ops []Op, clientID, opID *uuid.UUID, ts int64) Applied {
	if ops == nil {
		ops = []Op{}
	}

	return Applied{Type: TypeApplied, Slug: slug, Rev: rev, Ops: ops, ClientID: clientID, OpID: opID, TS: ts}
}

// Cursor relays one client's cursor move to the document.
type Cursor struct {
	Type     string      `json:"type"`
	Slug     string      `json:"slug"`
	ClientID uuid.UUID   `json:"client_id"`
	Cursor   CursorState `json:"cursor"`
	OpID     *uuid.UUID  `json:"op_id"`
	TS       int64       `json:"ts"`
}

func NewCursor(slug string, clientID uuid.UUID, cursor CursorState, opID *uuid.UUID, ts int64) Cursor {
	return Cursor{Type: TypeCursor, Slug: slug, ClientID: clientID, Cursor: cursor, OpID: opID, TS: ts}
}

// Ime relays one client's composition step to the document.
type Ime struct {
	Type     string     `json:"type"`
	Slug     string     `json:"slug"`
	ClientID uuid.UUID  `json:"client_id"`
	Ime      ImeEvent   `json:"ime"`
	OpID     *uuid.UUID `json:"op_id"`
	TS       int64      `json:"ts"`
}

func NewIme(slug string, clientID uuid.UUID, ime ImeEvent, opID *uuid.UUID, ts int64) Ime {
	return Ime{Type: TypeIme, Slug: slug, ClientID: clientID, Ime: ime, OpID: opID, TS: ts}
}

// PresenceSnapshot is the full client list, sent once after a handshake.
type PresenceSnapshot struct {
	Type    string          `json:"type"`
	Slug    string          `json:"slug"`
	Clients []PresenceState `json:"clients"`
}

func NewPresenceSnapshot(slug string, clients []PresenceState) PresenceSnapshot {
	if clients == nil {
		clients = []PresenceState{}
	}

	return PresenceSnapshot{Type: TypePresenceSnapshot, Slug: slug, Clients: clients}
}

// PresenceDiff is an incremental presence change.
type PresenceDiff struct {
	Type    string          `json:"type"`
	Slug    string          `json:"slug"`
	Added   []PresenceState `json:"added"`
	Updated []PresenceState `json:"updated"`
	Removed []uuid.UUID     `json:"removed"`
}

func NewPresenceDiff(slug string, added, updated []PresenceState, removed []uuid.UUID) PresenceDiff {
	if added == nil {
		added = []PresenceState{}
	}
	if updated == nil {
		updated = []PresenceState{}
	}
	if removed == nil {
		removed = []uuid.UUID{}
	}

	return PresenceDiff{Type: TypePresenceDiff, Slug: slug, Added: added, Updated: updated, Removed: removed}
}

// CompatSnapshot is the legacy handshake reply: full document content at
// the current revision plus the presence list.
type CompatSnapshot struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id"`
	Rev       uint64          `json:"rev"`
	Content   string          `json:"content"`
	Presence  []PresenceState `json:"presence,omitempty"`
}

func NewCompatSnapshot(sessionID string, rev uint64, content string, presence []PresenceState) CompatSnapshot {
	return CompatSnapshot{Type: TypeCompatSnapshot, SessionID: sessionID, Rev: rev, Content: content, Presence: presence}
}

// CompatOpBroadcast relays one legacy operation to other clients.
type CompatOpBroadcast struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"session_id"`
	Operation Op                     `json:"operation"`
	Context   CompatBroadcastContext `json:"context"`
}

func NewCompatOpBroadcast(sessionID string, operation Op, ctx CompatBroadcastContext) CompatOpBroadcast {
	return CompatOpBroadcast{Type: TypeCompatOpBroadcast, SessionID: sessionID, Operation: operation, Context: ctx}
}

// CompatAck confirms a legacy operation to its sender.
type CompatAck struct {
	Type      string     `json:"type"`
	SessionID string     `json:"session_id"`
	ServerSeq uint64     `json:"server_seq"`
	OpID      *uuid.UUID `json:"op_id,omitempty"`
}

func NewCompatAck(sessionID string, serverSeq uint64, opID *uuid.UUID) CompatAck {
	return CompatAck{Type: TypeCompatAck, SessionID: sessionID, ServerSeq: serverSeq, OpID: opID}
}

// Pong answers a ping, echoing its timestamp.
type Pong struct {
	Type string `json:"type"`
	TS   *int64 `json:"ts,omitempty"`
}

func NewPong(ts *int64) Pong {
	return Pong{Type: TypePong, TS: ts}
}

func (Applied) serverMsg()           {}
func (Cursor) serverMsg()            {}
func (Ime) serverMsg()               {}
func (PresenceSnapshot) serverMsg()  {}
func (PresenceDiff) serverMsg()      {}
func (CompatSnapshot) serverMsg()    {}
func (CompatOpBroadcast) serverMsg() {}
func (CompatAck) serverMsg()         {}
func (Pong) serverMsg()              {}

// DecodeServerMsg decodes one server frame by its type tag. Clients of
// the Go API use it to consume the stream; the server itself only
// encodes.
func DecodeServerMsg(data []byte) (ServerMsg, error) {
	var tag struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}

	switch tag.Type {
	case TypeApplied:
		var m Applied
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding applied: %w", err)
		}
		return m, nil
	case TypeCursor:
		var m Cursor
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding cursor: %w", err)
		}
		return m, nil
	case TypeIme:
		var m Ime
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding ime: %w", err)
		}
		return m, nil
	case TypePresenceSnapshot:
		var m PresenceSnapshot
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding presence_snapshot: %w", err)
		}
		return m, nil
	case TypePresenceDiff:
		var m PresenceDiff
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding presence_diff: %w", err)
		}
		return m, nil
	case TypeCompatSnapshot:
		var m CompatSnapshot
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding snapshot: %w", err)
		}
		return m, nil
	case TypeCompatOpBroadcast:
		var m CompatOpBroadcast
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding op_broadcast: %w", err)
		}
		return m, nil
	case TypeCompatAck:
		var m CompatAck
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding ack: %w", err)
		}
		return m, nil
	case TypePong:
		var m Pong
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding pong: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMsgType, tag.Type)
	}
}
