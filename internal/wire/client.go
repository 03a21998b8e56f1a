package wire

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Client message type tags.
const (
	TypeHello    = "hello"
	TypeEdit     = "edit"
	TypeCursor   = "cursor"
	TypeIme      = "ime"
	TypeProfile  = "profile"
	TypeJoin     = "join"
	TypeCompatOp = "op"
	TypePing     = "ping"
	TypePong     = "pong"
)

var (
	// ErrUnknownMsgType is returned for a type tag outside the protocol.
	ErrUnknownMsgType = errors.New("unknown message type")

	// ErrMissingClientID is returned when hello or join omits client_id.
	ErrMissingClientID = errors.New("missing client_id")
)

// ClientMsg is any message a client may send over the socket.
type ClientMsg interface {
	clientMsg()
}

// HelloMsg announces a client on the native protocol and starts presence
// for it.
type HelloMsg struct {
	Type     string    `json:"type"`
	Slug     string    `json:"slug"`
	ClientID uuid.UUID `json:"client_id"`
	Label    *string   `json:"label"`
	Color    *string   `json:"color"`
}

// EditMsg carries one Edit.
type EditMsg struct {
	Type string `json:"type"`
	Slug string `json:"slug"`
	Edit Edit   `json:"edit"`
}

// CursorMsg reports a cursor move.
type CursorMsg struct {
	Type   string      `json:"type"`
	Slug   string      `json:"slug"`
	Cursor CursorState `json:"cursor"`
	OpID   *uuid.UUID  `json:"op_id,omitempty"`
	TS     *int64      `json:"ts,omitempty"`
}

// ImeMsg reports an input-method composition step.
type ImeMsg struct {
	Type string     `json:"type"`
	Slug string     `json:"slug"`
	Ime  ImeEvent   `json:"ime"`
	OpID *uuid.UUID `json:"op_id,omitempty"`
	TS   *int64     `json:"ts,omitempty"`
}

// ProfileMsg updates the sender's label and color. A field that is
// present but blank clears the value; an absent field leaves it alone.
type ProfileMsg struct {
	Type  string  `json:"type"`
	Slug  string  `json:"slug"`
	Label *string `json:"label,omitempty"`
	Color *string `json:"color,omitempty"`
}

// JoinMsg is the legacy handshake. The document slug travels as
// session_id and the password may arrive directly or as a basic-auth
// style token.
type JoinMsg struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id"`
	ClientID  uuid.UUID `json:"client_id"`
	Label     *string   `json:"label,omitempty"`
	Color     *string   `json:"color,omitempty"`
	Password  *string   `json:"password,omitempty"`
	Token     *string   `json:"token,omitempty"`
}

// CompatOpMsg is a single legacy operation with its context.
type CompatOpMsg struct {
	Type      string        `json:"type"`
	SessionID string        `json:"session_id"`
	Operation Op            `json:"operation"`
	Context   CompatContext `json:"context"`
}

// PingMsg is a client keepalive; the server echoes TS back in a Pong.
type PingMsg struct {
	Type string `json:"type"`
	TS   *int64 `json:"ts,omitempty"`
}

// PongMsg is a client reply to a server ping.
type PongMsg struct {
	Type string `json:"type"`
}

func (HelloMsg) clientMsg()    {}
func (EditMsg) clientMsg()     {}
func (CursorMsg) clientMsg()   {}
func (ImeMsg) clientMsg()      {}
func (ProfileMsg) clientMsg()  {}
func (JoinMsg) clientMsg()     {}
func (CompatOpMsg) clientMsg() {}
func (PingMsg) clientMsg()     {}
func (PongMsg) clientMsg()     {}

// DecodeClientMsg decodes one inbound frame by its type tag.
func DecodeClientMsg(data []byte) (ClientMsg, error) {
	var tag struct {
		Type string `json:"type"`
	}

	if err := json.Unmarshal(data, &tag); err != nil {
		return nil, fmt.Errorf("decoding message: %w", err)
	}

	switch tag.Type {
	case TypeHello:
		var m HelloMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding hello: %w", err)
		}
		if m.ClientID == uuid.Nil {
			return nil, fmt.Errorf("hello: %w", ErrMissingClientID)
		}
		return m, nil
	case TypeEdit:
		var m EditMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding edit: %w", err)
		}
		return m, nil
	case TypeCursor:
		var m CursorMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding cursor: %w", err)
		}
		return m, nil
	case TypeIme:
		var m ImeMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding ime: %w", err)
		}
		return m, nil
	case TypeProfile:
		var m ProfileMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding profile: %w", err)
		}
		return m, nil
	case TypeJoin:
		var m JoinMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding join: %w", err)
		}
		if m.ClientID == uuid.Nil {
			return nil, fmt.Errorf("join: %w", ErrMissingClientID)
		}
		return m, nil
	case TypeCompatOp:
		var m CompatOpMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding op: %w", err)
		}
		return m, nil
	case TypePing:
		var m PingMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding ping: %w", err)
		}
		return m, nil
	case TypePong:
		var m PongMsg
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("decoding pong: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMsgType, tag.Type)
	}
}
