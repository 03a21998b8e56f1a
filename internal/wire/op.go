package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Op kinds.
const (
	OpInsert = "insert"
	OpDelete = "delete"
)

var (
	// ErrUnknownOpKind is returned when an operation carries a type tag
	// other than "insert" or "delete".
	ErrUnknownOpKind = errors.New("unknown op kind")

	// ErrInvalidOp is returned when an operation carries a negative
	// position or length.
	ErrInvalidOp = errors.New("invalid op")
)

// Op is a single edit operation against a document. Pos and Len count
// Unicode code points, not bytes. Text is set for inserts, Len for
// deletes.
type Op struct {
	Kind string
	Pos  int
	Text string
	Len  int
}

// Insert builds an insert op.
func Insert(pos int, text string) Op {
	return Op{Kind: OpInsert, Pos: pos, Text: text}
}

// Delete builds a delete op.
func Delete(pos, length int) Op {
	return Op{Kind: OpDelete, Pos: pos, Len: length}
}

type insertJSON struct {
	Type string `json:"type"`
	Pos  int    `json:"pos"`
	Text string `json:"text"`
}

type deleteJSON struct {
	Type string `json:"type"`
	Pos  int    `json:"pos"`
	Len  int    `json:"len"`
}

// MarshalJSON emits the tagged wire form, {"type":"insert",...} or
// {"type":"delete",...}.
func (o Op) MarshalJSON() ([]byte, error) {
	switch o.Kind {
	case OpInsert:
		return json.Marshal(insertJSON{Type: OpInsert, Pos: o.Pos, Text: o.Text})
	case OpDelete:
		return json.Marshal(deleteJSON{Type: OpDelete, Pos: o.Pos, Len: o.Len})
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOpKind, o.Kind)
	}
}

// UnmarshalJSON decodes either tagged form and rejects unknown tags and
// negative positions or lengths.
func (o *Op) UnmarshalJSON(data []byte) error {
	var probe struct {
		Type string `json:"type"`
		Pos  int    `json:"pos"`
		Text string `json:"text"`
		Len  int    `json:"len"`
	}

	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("decoding op: %w", err)
	}

	if probe.Pos < 0 || probe.Len < 0 {
		return fmt.Errorf("%w: negative pos or len", ErrInvalidOp)
	}

	switch probe.Type {
	case OpInsert:
		*o = Op{Kind: OpInsert, Pos: probe.Pos, Text: probe.Text}
	case OpDelete:
		*o = Op{Kind: OpDelete, Pos: probe.Pos, Len: probe.Len}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOpKind, probe.Type)
	}

	return nil
}
