package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"vaultpad/internal/auth"
	"vaultpad/internal/store"
	"vaultpad/internal/wire"
)

// Routes builds the server's HTTP surface.
func (s *State) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("POST /api/password", s.handlePassword)
	mux.HandleFunc("GET /api/ws", s.handleWS)

	return mux
}

func (s *State) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_, _ = io.WriteString(w, "ok")
}

// handleSnapshot returns the current content and revision of a document.
// The password comes from the password query parameter or a basic-auth
// header whose user is the slug.
func (s *State) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	slug := query.Get("slug")

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

	var provided *string
	if query.Has("password") {
		p := query.Get("password")
		provided = &p
	} else {
		provided = auth.PasswordFromBasicHeader(r.Header.Get("Authorization"), slug)
	}

	h.mu.RLock()
	resp := wire.SnapshotResp{Slug: slug, Rev: h.doc.Rev, Content: h.doc.Content}
	authorized := auth.Authorized(h.doc.PasswordHash, provided)
	h.mu.RUnlock()

	if !authorized {
		http.Error(w, "unauthorized", http.StatusUnauthorized)

		return
	}

	s.writeJSON(w, resp)
}

// handlePassword sets, changes, or clears a document password. Changing
// requires the current password; clearing happens when the new password
// is empty. The new hash is persisted before the handler reports
// success.
func (s *State) handlePassword(w http.ResponseWriter, r *http.Request) {
	var req wire.PasswordUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	var current string
	if req.CurrentPassword != nil {
		current = *req.CurrentPassword
	}

	var newPassword string
	if req.NewPassword != nil {
		newPassword = *req.NewPassword
	}

	h, err := s.getOrLoadDoc(req.Slug)
	if err != nil {
		if errors.Is(err, store.ErrInvalidSlug) {
			http.Error(w, "invalid slug", http.StatusBadRequest)
		} else {
			s.log.Error("loading document failed", "slug", req.Slug, "err", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
		}

		return
	}

	newHash := ""
	if newPassword != "" {
		newHash = auth.HashPassword(newPassword)
	}

	h.mu.Lock()

	switch {
	case h.doc.PasswordHash != "":
		if !auth.VerifyPassword(current, h.doc.PasswordHash) {
			h.mu.Unlock()
			http.Error(w, "invalid current password", http.StatusUnauthorized)

			return
		}
	case current != "":
		// No password is set; presenting one anyway is rejected rather
		// than ignored.
		h.mu.Unlock()
		http.Error(w, "invalid current password", http.StatusUnauthorized)

		return
	}

	h.doc.PasswordHash = newHash
	h.mu.Unlock()

	if err := s.store.WritePasswordHash(req.Slug, newHash); err != nil {
		s.log.Error("persisting password failed", "slug", req.Slug, "err", err)
		http.Error(w, "failed to persist password", http.StatusInternalServerError)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *State) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("encoding response failed", "err", err)
	}
}
