// Package presence tracks which clients are connected to which document
// and what each one is doing: cursor, IME composition, label and color.
// Presence is ephemeral; nothing here survives a restart.
package presence

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"vaultpad/internal/wire"
)

const (
	maxLabelRunes = 64
	maxColorRunes = 32
)

// Registry is the in-memory presence table, keyed by slug then client.
type Registry struct {
	mu   sync.RWMutex
	docs map[string]map[uuid.UUID]wire.PresenceState
}

func NewRegistry() *Registry {
	return &Registry{docs: make(map[string]map[uuid.UUID]wire.PresenceState)}
}

// Register adds or replaces a client entry and returns the full document
// snapshot along with the entry as stored.
func (r *Registry) Register(slug string, clientID uuid.UUID, label, color *string, now int64) ([]wire.PresenceState, wire.PresenceState) {
	entry := wire.PresenceState{
		ClientID: clientID,
		Label:    sanitize(label, maxLabelRunes),
		Color:    sanitize(color, maxColorRunes),
		LastSeen: now,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	clients := r.docs[slug]
	if clients == nil {
		clients = make(map[uuid.UUID]wire.PresenceState)
		r.docs[slug] = clients
	}
	clients[clientID] = entry

	return snapshotLocked(clients), entry
}

// Snapshot returns the current client list for a document, ordered by
// client id. Unknown slugs yield an empty list.
func (r *Registry) Snapshot(slug string) []wire.PresenceState {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return snapshotLocked(r.docs[slug])
}

// Touch refreshes a client's last_seen. Unknown clients are ignored.
func (r *Registry) Touch(slug string, clientID uuid.UUID, now int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.docs[slug][clientID]; ok {
		entry.LastSeen = now
		r.docs[slug][clientID] = entry
	}
}

// SetCursor stores a client's cursor and returns the updated entry.
func (r *Registry) SetCursor(slug string, clientID uuid.UUID, cursor wire.CursorState, now int64) (wire.PresenceState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.docs[slug][clientID]
	if !ok {
		return wire.PresenceState{}, false
	}

	entry.Cursor = &cursor
	entry.LastSeen = now
	r.docs[slug][clientID] = entry

	return entry, true
}

// SetIme stores the presence view of a composition step and returns the
// updated entry.
func (r *Registry) SetIme(slug string, clientID uuid.UUID, ime wire.ImeEvent, now int64) (wire.PresenceState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.docs[slug][clientID]
	if !ok {
		return wire.PresenceState{}, false
	}

	state := imeState(ime)
	entry.Ime = &state
	entry.LastSeen = now
	r.docs[slug][clientID] = entry

	return entry, true
}

// SetProfile updates label and color. A present but blank value clears
// the field; an absent value leaves it untouched.
func (r *Registry) SetProfile(slug string, clientID uuid.UUID, label, color *string, now int64) (wire.PresenceState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.docs[slug][clientID]
	if !ok {
		return wire.PresenceState{}, false
	}

	if v := sanitize(label, maxLabelRunes); v != "" {
		entry.Label = v
	} else if label != nil {
		entry.Label = ""
	}

	if v := sanitize(color, maxColorRunes); v != "" {
		entry.Color = v
	} else if color != nil {
		entry.Color = ""
	}

	entry.LastSeen = now
	r.docs[slug][clientID] = entry

	return entry, true
}

// Remove drops a client and returns its last entry. The slug bucket is
// removed once its last client leaves.
func (r *Registry) Remove(slug string, clientID uuid.UUID) (wire.PresenceState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	clients, ok := r.docs[slug]
	if !ok {
		return wire.PresenceState{}, false
	}

	entry, ok := clients[clientID]
	if !ok {
		return wire.PresenceState{}, false
	}

	delete(clients, clientID)
	if len(clients) == 0 {
		delete(r.docs, slug)
	}

	return entry, true
}

// snapshotLocked copies the client map into a slice ordered by client id
// so snapshots are stable on the wire.
func snapshotLocked(clients map[uuid.UUID]wire.PresenceState) []wire.PresenceState {
	out := make([]wire.PresenceState, 0, len(clients))
	for _, entry := range clients {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ClientID.String() < out[j].ClientID.String()
	})

	return out
}

// sanitize trims, treats blank as unset, and truncates to max runes.
func sanitize(value *string, max int) string {
	if value == nil {
		return ""
	}

	trimmed := strings.TrimSpace(*value)
	if trimmed == "" {
		return ""
	}

	runes := []rune(trimmed)
	if len(runes) > max {
		runes = runes[:max]
	}

	return string(runes)
}

// imeState maps a composition event to its presence snapshot. Commit
// events store the replaced range.
func imeState(ime wire.ImeEvent) wire.ImeState {
	state := wire.ImeState{Phase: ime.Phase, Text: ime.Text}
	if ime.Phase == wire.ImeCommit {
		state.Range = ime.ReplaceRange
	} else {
		state.Range = ime.Range
	}

	return state
}
