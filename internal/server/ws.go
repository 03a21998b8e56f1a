package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"vaultpad/internal/auth"
	"vaultpad/internal/store"
	"vaultpad/internal/wire"
)

var (
	errSlugMismatch     = errors.New("slug mismatch")
	errUnauthorizedJoin = errors.New("unauthorized join")
	errNoCompatClient   = errors.New("compat op without client_id")
)

// handleWS gates a connection (origin, slug, password) and, once
// upgraded, runs its session until either side goes away.
func (s *State) handleWS(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("slug")

	if !s.originAllowed(r) {
		http.Error(w, "forbidden origin", http.StatusForbidden)

		return
	}

	h, err := s.getOrLoadDoc(slug)
	if err != nil {
		if errors.Is(err, store.ErrInvalidSlug) {
			http.Error(w, "invalid slug", http.StatusBadRequest)
		} else {
			s.log.Error("loading document failed", "slug", slug, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}

		return
	}

	provided := extractPassword(r, slug)

	h.mu.RLock()
	authorized := auth.Authorized(h.doc.PasswordHash, provided)
	h.mu.RUnlock()

	if !authorized {
		http.Error(w, "unauthorized", http.StatusUnauthorized)

		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "slug", slug, "err", err)

		return
	}

	s.runSession(conn, slug)
}

// originAllowed enforces the upgrade-time origin gate. Dev mode and an
// empty allowlist admit everything; otherwise a present Origin header
// must prefix-match one of the allowed origins. Requests without an
// Origin header pass, matching browser-focused checks elsewhere.
func (s *State) originAllowed(r *http.Request) bool {
	if s.cfg.DevMode() || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}

	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}

	return false
}

// extractPassword resolves the connection password: the password query
// parameter wins, then a basic-auth header whose user is the slug, then
// the legacy base64 token parameter.
func extractPassword(r *http.Request, slug string) *string {
	query := r.URL.Query()

	if query.Has("password") {
		p := query.Get("password")

		return &p
	}

	if p := auth.PasswordFromBasicHeader(r.Header.Get("Authorization"), slug); p != nil {
		return p
	}

	if query.Has("token") {
		return auth.PasswordFromToken(query.Get("token"), slug)
	}

	return nil
}

// clientMeta identifies the client behind a session once it handshakes.
type clientMeta struct {
	id     uuid.UUID
	compat bool
}

// session is the per-connection state machine. established flips after a
// successful hello or join, or on the first compat op; until then edits
// and presence messages are dropped. meta is read at teardown from the
// handler goroutine, so it has its own lock.
type session struct {
	state *State
	slug  string
	conn  *websocket.Conn
	sub   *subscriber

	established bool

	metaMu sync.Mutex
	meta   *clientMeta
}

// runSession drives one connection: a writer goroutine drains the
// subscriber queue, a ticker goroutine flushes the document while the
// connection lives, and the read loop runs here. Whichever side fails
// first wakes the others, then presence is cleaned up.
func (s *State) runSession(conn *websocket.Conn, slug string) {
	defer func() { _ = conn.Close() }()

	sub := s.subscribe(slug)
	sess := &session{state: s, slug: slug, conn: conn, sub: sub}

	stopFlush := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()

		for msg := range sub.ch {
			if err := conn.WriteJSON(msg); err != nil {
				break
			}
		}

		// Wake the read loop, whether the queue closed or the write
		// failed.
		_ = conn.Close()
	}()

	go func() {
		defer wg.Done()

		interval := time.Duration(s.cfg.FlushIdleMS) * time.Millisecond
		if interval < minFlushInterval {
			interval = minFlushInterval
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := s.FlushIfNeeded(slug); err != nil {
					s.log.Error("connection flush failed", "slug", slug, "err", err)
				}
			case <-stopFlush:
				return
			}
		}
	}()

	sess.readLoop()

	close(stopFlush)
	s.unsubscribe(slug, sub)

	if meta := sess.currentMeta(); meta != nil {
		if removed, ok := s.presence.Remove(slug, meta.id); ok {
			s.broadcast(slug, wire.NewPresenceDiff(slug, nil, nil, []uuid.UUID{removed.ClientID}))
		}
	}

	wg.Wait()
}

// readLoop decodes and dispatches frames until the socket closes or a
// handler reports a hard error. Unparseable frames are logged and
// skipped.
func (sess *session) readLoop() {
	for {
		kind, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		if kind != websocket.TextMessage {
			continue
		}

		msg, err := wire.DecodeClientMsg(data)
		if err != nil {
			sess.state.log.Warn("unparseable client message", "slug", sess.slug, "err", err)

			continue
		}

		if err := sess.dispatch(msg); err != nil {
			sess.state.log.Error("closing session", "slug", sess.slug, "err", err)

			return
		}
	}
}

// dispatch routes one message. Before the session is established only
// hello, join and compat ops are honoured; everything else is silently
// dropped. A compat op establishes the session by itself.
func (sess *session) dispatch(msg wire.ClientMsg) error {
	switch m := msg.(type) {
	case wire.HelloMsg:
		return sess.handleHello(m)
	case wire.JoinMsg:
		return sess.handleJoin(m)
	case wire.CompatOpMsg:
		sess.established = true

		return sess.handleCompatOp(m)
	case wire.EditMsg:
		if !sess.established {
			return nil
		}

		return sess.handleEdit(m)
	case wire.CursorMsg:
		if !sess.established {
			return nil
		}

		return sess.handleCursor(m)
	case wire.ImeMsg:
		if !sess.established {
			return nil
		}

		return sess.handleIme(m)
	case wire.ProfileMsg:
		if !sess.established {
			return nil
		}

		sess.handleProfile(m)

		return nil
	case wire.PingMsg:
		if !sess.established {
			return nil
		}

		sess.handlePing(m)

		return nil
	case wire.PongMsg:
		if !sess.established {
			return nil
		}

		sess.touch()

		return nil
	default:
		return nil
	}
}

// handleHello registers presence and answers with the full presence
// snapshot. A hello for a different slug than the connection was opened
// for ends the session; a second hello is ignored.
func (sess *session) handleHello(m wire.HelloMsg) error {
	if sess.established {
		return nil
	}

	if m.Slug != sess.slug {
		sess.state.log.Warn("hello for wrong document", "expected", sess.slug, "received", m.Slug)

		return fmt.Errorf("%w: hello for %q", errSlugMismatch, m.Slug)
	}

	sess.setMeta(clientMeta{id: m.ClientID})

	now := sess.state.now()
	snapshot, added := sess.state.presence.Register(sess.slug, m.ClientID, m.Label, m.Color, now)

	if !sess.state.sendTo(sess.sub, wire.NewPresenceSnapshot(sess.slug, snapshot)) {
		return nil
	}

	sess.state.broadcast(sess.slug, wire.NewPresenceDiff(sess.slug, []wire.PresenceState{added}, nil, nil))
	sess.established = true

	return nil
}

// handleJoin is the legacy handshake: authenticate against the document
// password, register presence, then send the full document snapshot.
// A join for the wrong slug is logged and dropped; a failed password
// ends the session.
func (sess *session) handleJoin(m wire.JoinMsg) error {
	if m.SessionID != sess.slug {
		sess.state.log.Warn("join for wrong document", "expected", sess.slug, "received", m.SessionID)

		return nil
	}

	h, err := sess.state.getOrLoadDoc(sess.slug)
	if err != nil {
		return err
	}

	provided := m.Password
	if provided == nil && m.Token != nil {
		provided = auth.PasswordFromToken(*m.Token, sess.slug)
	}

	h.mu.RLock()
	authorized := auth.Authorized(h.doc.PasswordHash, provided)
	h.mu.RUnlock()

	if !authorized {
		return fmt.Errorf("%w: document %q", errUnauthorizedJoin, sess.slug)
	}

	sess.setMeta(clientMeta{id: m.ClientID, compat: true})

	now := sess.state.now()
	snapshot, added := sess.state.presence.Register(sess.slug, m.ClientID, m.Label, m.Color, now)

	if !sess.state.sendTo(sess.sub, wire.NewPresenceSnapshot(sess.slug, snapshot)) {
		return nil
	}

	sess.state.broadcast(sess.slug, wire.NewPresenceDiff(sess.slug, []wire.PresenceState{added}, nil, nil))

	h.mu.RLock()
	rev, content := h.doc.Rev, h.doc.Content
	h.mu.RUnlock()

	sess.state.sendTo(sess.sub, wire.NewCompatSnapshot(sess.slug, rev, content, snapshot))
	sess.established = true

	return nil
}

// handleCompatOp translates a legacy op into an edit. The context's
// client id is adopted as the session identity when no handshake
// happened first; without either, the session ends.
func (sess *session) handleCompatOp(m wire.CompatOpMsg) error {
	if m.SessionID != sess.slug {
		sess.state.log.Warn("compat op for wrong document", "expected", sess.slug, "received", m.SessionID)

		return nil
	}

	effective, err := sess.adoptCompatIdentity(m.Context.ClientID)
	if err != nil {
		return err
	}

	now := sess.state.now()
	sess.state.presence.Touch(sess.slug, effective, now)

	clientID := m.Context.ClientID
	if clientID == nil {
		clientID = &effective
	}

	ts := m.Context.TS
	if ts == nil {
		ts = &now
	}

	edit := wire.Edit{
		BaseRev:     m.Context.BaseVersion,
		Ops:         []wire.Op{m.Operation},
		ClientID:    clientID,
		OpID:        m.Context.OpID,
		CursorAfter: m.Context.Selection,
		TS:          ts,
	}

	return sess.state.ApplyEdit(sess.slug, edit)
}

// handleEdit applies a native edit, stamping the session identity when
// the edit does not carry one. Edits before any identity exists are
// dropped.
func (sess *session) handleEdit(m wire.EditMsg) error {
	meta := sess.currentMeta()
	if meta == nil {
		return nil
	}

	now := sess.state.now()
	sess.state.presence.Touch(sess.slug, meta.id, now)

	edit := m.Edit
	if edit.ClientID == nil {
		id := meta.id
		edit.ClientID = &id
	}

	if edit.TS == nil {
		edit.TS = &now
	}

	return sess.state.ApplyEdit(sess.slug, edit)
}

// handleCursor updates presence and relays the move. The move is logged
// to the WAL unless its op id was already recorded; the relay happens
// either way so observers converge.
func (sess *session) handleCursor(m wire.CursorMsg) error {
	meta := sess.currentMeta()
	if meta == nil {
		return nil
	}

	now := sess.state.now()

	ts := now
	if m.TS != nil {
		ts = *m.TS
	}

	updated, ok := sess.state.presence.SetCursor(sess.slug, meta.id, m.Cursor, now)
	if !ok {
		return nil
	}

	novel := m.OpID == nil || sess.state.rememberOp(sess.slug, *m.OpID)
	if novel {
		event := store.NewCursorEvent(meta.id, m.OpID, m.Cursor)
		if err := sess.state.store.AppendEvent(sess.slug, event, ts); err != nil {
			sess.state.log.Error("appending cursor event failed", "slug", sess.slug, "err", err)
		}
	}

	sess.state.broadcast(sess.slug, wire.NewCursor(sess.slug, meta.id, m.Cursor, m.OpID, ts))
	sess.state.broadcast(sess.slug, wire.NewPresenceDiff(sess.slug, nil, []wire.PresenceState{updated}, nil))

	return nil
}

// handleIme mirrors handleCursor for composition events.
func (sess *session) handleIme(m wire.ImeMsg) error {
	meta := sess.currentMeta()
	if meta == nil {
		return nil
	}

	now := sess.state.now()

	ts := now
	if m.TS != nil {
		ts = *m.TS
	}

	updated, ok := sess.state.presence.SetIme(sess.slug, meta.id, m.Ime, now)
	if !ok {
		return nil
	}

	novel := m.OpID == nil || sess.state.rememberOp(sess.slug, *m.OpID)
	if novel {
		event := store.NewImeEvent(meta.id, m.OpID, m.Ime)
		if err := sess.state.store.AppendEvent(sess.slug, event, ts); err != nil {
			sess.state.log.Error("appending ime event failed", "slug", sess.slug, "err", err)
		}
	}

	sess.state.broadcast(sess.slug, wire.NewIme(sess.slug, meta.id, m.Ime, m.OpID, ts))
	sess.state.broadcast(sess.slug, wire.NewPresenceDiff(sess.slug, nil, []wire.PresenceState{updated}, nil))

	return nil
}

// handleProfile updates label and color. A profile for the wrong slug is
// logged and dropped.
func (sess *session) handleProfile(m wire.ProfileMsg) {
	if m.Slug != sess.slug {
		sess.state.log.Warn("profile for wrong document", "expected", sess.slug, "received", m.Slug)

		return
	}

	meta := sess.currentMeta()
	if meta == nil {
		return
	}

	now := sess.state.now()

	updated, ok := sess.state.presence.SetProfile(sess.slug, meta.id, m.Label, m.Color, now)
	if !ok {
		return
	}

	sess.state.broadcast(sess.slug, wire.NewPresenceDiff(sess.slug, nil, []wire.PresenceState{updated}, nil))
}

// handlePing refreshes presence and always answers with a pong echoing
// the client's timestamp.
func (sess *session) handlePing(m wire.PingMsg) {
	sess.touch()
	sess.state.sendTo(sess.sub, wire.NewPong(m.TS))
}

func (sess *session) touch() {
	if meta := sess.currentMeta(); meta != nil {
		sess.state.presence.Touch(sess.slug, meta.id, sess.state.now())
	}
}

// adoptCompatIdentity resolves the session identity for a compat op. An
// existing identity is upgraded to compat; otherwise the op's client id
// becomes the identity.
func (sess *session) adoptCompatIdentity(ctxClientID *uuid.UUID) (uuid.UUID, error) {
	sess.metaMu.Lock()
	defer sess.metaMu.Unlock()

	if sess.meta != nil {
		sess.meta.compat = true

		return sess.meta.id, nil
	}

	if ctxClientID == nil {
		return uuid.Nil, errNoCompatClient
	}

	sess.meta = &clientMeta{id: *ctxClientID, compat: true}

	return *ctxClientID, nil
}

func (sess *session) setMeta(meta clientMeta) {
	sess.metaMu.Lock()
	sess.meta = &meta
	sess.metaMu.Unlock()
}

func (sess *session) currentMeta() *clientMeta {
	sess.metaMu.Lock()
	defer sess.metaMu.Unlock()

	if sess.meta == nil {
		return nil
	}

	copied := *sess.meta

	return &copied
}
