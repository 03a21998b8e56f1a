// Package doc holds the in-memory document model and the operational
// transformation core. Transformation is position-only: concurrent
// inserts shift positions by code-point counts and concurrent deletes
// shift them back, but delete lengths are never shrunk, so overlapping
// deletes can drop more text than either client intended.
package doc

import (
	"slices"
	"strings"
	"unicode/utf8"

	"vaultpad/internal/wire"
)

// Doc is the authoritative state of one document.
type Doc struct {
	// Rev counts applied edits. Log[i] holds the ops applied by revision
	// i+1, already transformed.
	Rev     uint64
	Content string
	Log     [][]wire.Op

	// SinceFlush counts edits since the last snapshot write. LastEditTS
	// is the timestamp of the newest edit, in milliseconds.
	SinceFlush int
	LastEditTS int64

	// PasswordHash is the hex SHA-256 of the document password, empty
	// for open documents.
	PasswordHash string
}

// Transform rebases an edit's ops against every op list applied after
// the edit's base revision. Ops map one to one; an edit based at or
// ahead of the current revision passes through unchanged.
func Transform(d *Doc, edit wire.Edit) []wire.Op {
	ops := slices.Clone(edit.Ops)
	if edit.BaseRev >= d.Rev {
		return ops
	}

	for rev := edit.BaseRev; rev < d.Rev; rev++ {
		if rev >= uint64(len(d.Log)) {
			break
		}
		for _, prior := range d.Log[rev] {
			for i := range ops {
				ops[i] = transformOp(ops[i], prior)
			}
		}
	}

	return ops
}

// transformOp adjusts op for one concurrently applied prior op. Inserts
// at the same position keep the prior op first; deletes at the same
// position move with it.
func transformOp(op, prior wire.Op) wire.Op {
	switch {
	case op.Kind == wire.OpInsert && prior.Kind == wire.OpInsert:
		if op.Pos > prior.Pos {
			op.Pos += utf8.RuneCountInString(prior.Text)
		}
	case op.Kind == wire.OpInsert && prior.Kind == wire.OpDelete:
		if op.Pos > prior.Pos {
			op.Pos = satSub(op.Pos, prior.Len)
		}
	case op.Kind == wire.OpDelete && prior.Kind == wire.OpInsert:
		if op.Pos >= prior.Pos {
			op.Pos += utf8.RuneCountInString(prior.Text)
		}
	case op.Kind == wire.OpDelete && prior.Kind == wire.OpDelete:
		if op.Pos >= prior.Pos {
			op.Pos = satSub(op.Pos, prior.Len)
		}
	}

	return op
}

// Apply applies ops to the content in order. Positions are re-evaluated
// against the mutated content between ops.
func Apply(d *Doc, ops []wire.Op) {
	for _, op := range ops {
		d.Content = applyOp(d.Content, op)
	}
}

// applyOp applies one op. Inserts past the end of the content are
// dropped; deletes consume at most the runes that remain.
func applyOp(content string, op wire.Op) string {
	runes := []rune(content)

	switch op.Kind {
	case wire.OpInsert:
		if op.Pos < 0 || op.Pos > len(runes) {
			return content
		}

		var b strings.Builder
		b.Grow(len(content) + len(op.Text))
		b.WriteString(string(runes[:op.Pos]))
		b.WriteString(op.Text)
		b.WriteString(string(runes[op.Pos:]))

		return b.String()
	case wire.OpDelete:
		if op.Pos < 0 || op.Pos >= len(runes) || op.Len <= 0 {
			return content
		}

		end := op.Pos + op.Len
		if end > len(runes) {
			end = len(runes)
		}

		return string(runes[:op.Pos]) + string(runes[end:])
	default:
		return content
	}
}

func satSub(a, b int) int {
	if b >= a {
		return 0
	}

	return a - b
}
