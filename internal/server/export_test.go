package server

import (
	"github.com/google/uuid"

	"vaultpad/internal/wire"
)

// TestSubscriberQueueCap exposes the outbound queue bound for testing.
const TestSubscriberQueueCap = subscriberQueueCap

// SetNowForTesting replaces the state's clock and returns a restore
// function.
func (s *State) SetNowForTesting(now func() int64) func() {
	prev := s.now
	s.now = now

	return func() { s.now = prev }
}

// SubscribeForTesting registers an outbound queue for slug and returns
// its channel plus an unsubscribe function.
func (s *State) SubscribeForTesting(slug string) (<-chan wire.ServerMsg, func()) {
	sub := s.subscribe(slug)

	return sub.ch, func() { s.unsubscribe(slug, sub) }
}

// BroadcastForTesting exposes broadcast for testing.
func (s *State) BroadcastForTesting(slug string, msg wire.ServerMsg) {
	s.broadcast(slug, msg)
}

// RegisterPresenceForTesting adds a presence entry so cursor paths can
// be exercised without a socket.
func (s *State) RegisterPresenceForTesting(slug string, clientID uuid.UUID) {
	s.presence.Register(slug, clientID, nil, nil, s.now())
}

// SubscriberCountForTesting reports how many queues are registered for
// slug.
func (s *State) SubscriberCountForTesting(slug string) int {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	return len(s.subs[slug])
}

// DocProbe is a copy of the fields tests assert on.
type DocProbe struct {
	Rev        uint64
	Content    string
	LogLen     int
	SinceFlush int
	LastEditTS int64
}

// ProbeDocForTesting loads slug if needed and returns a snapshot of its
// in-memory state.
func (s *State) ProbeDocForTesting(slug string) (DocProbe, error) {
	h, err := s.getOrLoadDoc(slug)
	if err != nil {
		return DocProbe{}, err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	return DocProbe{
		Rev:        h.doc.Rev,
		Content:    h.doc.Content,
		LogLen:     len(h.doc.Log),
		SinceFlush: h.doc.SinceFlush,
		LastEditTS: h.doc.LastEditTS,
	}, nil
}
