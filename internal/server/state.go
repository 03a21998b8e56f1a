// Package server is the coordination layer: it owns the loaded
// documents, linearises edits into them, fans broadcasts out to
// subscribed connections, and decides when WALs consolidate into
// snapshots. Transport lives in ws.go and http.go; policy lives here.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"vaultpad/internal/config"
	"vaultpad/internal/doc"
	"vaultpad/internal/presence"
	"vaultpad/internal/store"
	"vaultpad/internal/wire"
)

// subscriberQueueCap bounds each connection's outbound queue. A
// connection that cannot drain this many pending messages is dropped
// rather than allowed to stall the document.
const subscriberQueueCap = 256

// State is the process-wide coordinator.
type State struct {
	cfg      config.Config
	log      *slog.Logger
	store    *store.Store
	presence *presence.Registry
	upgrader websocket.Upgrader

	mu   sync.RWMutex
	docs map[string]*docHandle

	subMu sync.Mutex
	subs  map[string][]*subscriber

	recentMu sync.RWMutex
	recent   map[string]*RecentOps

	// now returns milliseconds since the epoch; swapped in tests.
	now func() int64
}

// docHandle pairs one document with its locks. editMu serialises the
// whole transform-apply-append pipeline for the document; mu guards the
// fields and is never held across file writes or broadcasts.
type docHandle struct {
	editMu sync.Mutex
	mu     sync.RWMutex
	doc    doc.Doc
}

func NewState(cfg config.Config, st *store.Store, log *slog.Logger) *State {
	return &State{
		cfg:      cfg,
		log:      log,
		store:    st,
		presence: presence.NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The origin gate runs before the upgrade; see originAllowed.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		docs:   make(map[string]*docHandle),
		subs:   make(map[string][]*subscriber),
		recent: make(map[string]*RecentOps),
		now:    func() int64 { return time.Now().UnixMilli() },
	}
}

// getOrLoadDoc returns the live handle for slug, loading the document
// from disk on first touch. Op ids recovered from the WAL seed the
// dedup ring before the handle becomes visible.
func (s *State) getOrLoadDoc(slug string) (*docHandle, error) {
	s.mu.RLock()
	h := s.docs[slug]
	s.mu.RUnlock()

	if h != nil {
		return h, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if h := s.docs[slug]; h != nil {
		return h, nil
	}

	loaded, err := s.store.LoadDoc(slug)
	if err != nil {
		return nil, err
	}

	if len(loaded.SeenIDs) > 0 {
		s.recentMu.Lock()
		ring := s.ringLocked(slug)
		for _, id := range loaded.SeenIDs {
			ring.Insert(id)
		}
		s.recentMu.Unlock()
	}

	h = &docHandle{doc: loaded.Doc}
	s.docs[slug] = h

	return h, nil
}

// loadedSlugs returns the slugs of all documents currently in memory.
func (s *State) loadedSlugs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slugs := make([]string, 0, len(s.docs))
	for slug := range s.docs {
		slugs = append(slugs, slug)
	}

	return slugs
}

// ApplyEdit runs one edit through the document pipeline: transform
// against the revisions the client had not seen, apply, log to the WAL,
// maybe flush, then broadcast the applied revision. Edits whose op id
// was already applied are acknowledged without touching the document or
// the WAL. If the WAL append fails the in-memory apply is rolled back
// and nothing is broadcast.
func (s *State) ApplyEdit(slug string, edit wire.Edit) error {
	ts := s.now()
	if edit.TS != nil {
		ts = *edit.TS
	} else {
		edit.TS = &ts
	}

	h, err := s.getOrLoadDoc(slug)
	if err != nil {
		return err
	}

	if edit.OpID != nil && s.opSeen(slug, *edit.OpID) {
		h.mu.RLock()
		rev := h.doc.Rev
		h.mu.RUnlock()

		s.broadcast(slug, wire.NewApplied(slug, rev, nil, edit.ClientID, edit.OpID, ts))

		return nil
	}

	h.editMu.Lock()
	rev, err := s.applyAndLog(slug, h, edit, ts)
	if err != nil {
		h.editMu.Unlock()

		return err
	}

	if edit.OpID != nil {
		s.rememberOp(slug, *edit.OpID)
	}

	applied := wire.NewApplied(slug, rev.rev, rev.ops, edit.ClientID, edit.OpID, ts)
	s.broadcast(slug, applied)
	h.editMu.Unlock()

	if edit.ClientID != nil && edit.CursorAfter != nil {
		now := s.now()
		if updated, ok := s.presence.SetCursor(slug, *edit.ClientID, *edit.CursorAfter, now); ok {
			s.broadcast(slug, wire.NewCursor(slug, *edit.ClientID, *edit.CursorAfter, edit.OpID, ts))
			s.broadcast(slug, wire.NewPresenceDiff(slug, nil, []wire.PresenceState{updated}, nil))
		}
	}

	return nil
}

// appliedRev is what applyAndLog hands back for the broadcast.
type appliedRev struct {
	rev uint64
	ops []wire.Op
}

// applyAndLog is the critical section of ApplyEdit. It must run with
// editMu held; it takes and releases h.mu itself around the in-memory
// mutation so readers only ever block on memory operations.
func (s *State) applyAndLog(slug string, h *docHandle, edit wire.Edit, ts int64) (appliedRev, error) {
	h.mu.Lock()

	prevContent := h.doc.Content
	prevRev := h.doc.Rev
	prevLogLen := len(h.doc.Log)
	prevSinceFlush := h.doc.SinceFlush
	prevLastEditTS := h.doc.LastEditTS

	ops := doc.Transform(&h.doc, edit)
	mutated := len(ops) > 0
	if mutated {
		doc.Apply(&h.doc, ops)
		h.doc.Rev++
		h.doc.Log = append(h.doc.Log, ops)
		h.doc.SinceFlush++
		h.doc.LastEditTS = ts
	}
	rev := h.doc.Rev

	h.mu.Unlock()

	if err := s.store.AppendEvent(slug, store.NewEditEvent(edit), ts); err != nil {
		if mutated {
			h.mu.Lock()
			h.doc.Content = prevContent
			h.doc.Rev = prevRev
			h.doc.Log = h.doc.Log[:prevLogLen]
			h.doc.SinceFlush = prevSinceFlush
			h.doc.LastEditTS = prevLastEditTS
			h.mu.Unlock()
		}

		return appliedRev{}, fmt.Errorf("append edit to wal: %w", err)
	}

	if _, err := s.flushLocked(slug, h, false); err != nil {
		s.log.Error("flush after edit failed", "slug", slug, "err", err)
	}

	return appliedRev{rev: rev, ops: ops}, nil
}

// opSeen reports whether slug already applied an edit with this op id.
func (s *State) opSeen(slug string, id uuid.UUID) bool {
	s.recentMu.RLock()
	defer s.recentMu.RUnlock()

	ring := s.recent[slug]

	return ring != nil && ring.Contains(id)
}

// rememberOp records an op id and reports whether it was novel.
func (s *State) rememberOp(slug string, id uuid.UUID) bool {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()

	return s.ringLocked(slug).Insert(id)
}

func (s *State) ringLocked(slug string) *RecentOps {
	ring := s.recent[slug]
	if ring == nil {
		ring = NewRecentOps(recentOpsCap)
		s.recent[slug] = ring
	}

	return ring
}

// subscriber is one connection's outbound queue. All channel operations
// happen under State.subMu, so close and send never race.
type subscriber struct {
	ch     chan wire.ServerMsg
	closed bool
}

func (sub *subscriber) trySend(msg wire.ServerMsg) bool {
	if sub.closed {
		return false
	}

	select {
	case sub.ch <- msg:
		return true
	default:
		return false
	}
}

func (sub *subscriber) shutdown() {
	if !sub.closed {
		sub.closed = true
		close(sub.ch)
	}
}

// subscribe registers a new outbound queue for slug.
func (s *State) subscribe(slug string) *subscriber {
	sub := &subscriber{ch: make(chan wire.ServerMsg, subscriberQueueCap)}

	s.subMu.Lock()
	s.subs[slug] = append(s.subs[slug], sub)
	s.subMu.Unlock()

	return sub
}

// unsubscribe removes sub and closes its queue.
func (s *State) unsubscribe(slug string, sub *subscriber) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	list := s.subs[slug]
	for i, candidate := range list {
		if candidate == sub {
			list = append(list[:i], list[i+1:]...)

			break
		}
	}

	if len(list) == 0 {
		delete(s.subs, slug)
	} else {
		s.subs[slug] = list
	}

	sub.shutdown()
}

// broadcast queues msg for every subscriber of slug. A subscriber whose
// queue is full is dropped on the spot; its connection notices the
// closed queue and tears down.
func (s *State) broadcast(slug string, msg wire.ServerMsg) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	list := s.subs[slug]
	kept := list[:0]

	for _, sub := range list {
		if sub.trySend(msg) {
			kept = append(kept, sub)
		} else {
			sub.shutdown()
			s.log.Warn("dropping slow subscriber", "slug", slug)
		}
	}

	if len(kept) == 0 {
		delete(s.subs, slug)
	} else {
		s.subs[slug] = kept
	}
}

// sendTo queues msg for one subscriber and reports success.
func (s *State) sendTo(sub *subscriber, msg wire.ServerMsg) bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	return sub.trySend(msg)
}
