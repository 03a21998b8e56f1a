package server

import (
	"fmt"
	"time"
)

// minFlushInterval floors the periodic flusher so a tiny flush_idle_ms
// cannot turn it into a busy loop.
const minFlushInterval = 50 * time.Millisecond

// FlushIfNeeded writes the slug's snapshot when the document has enough
// pending edits or has been idle past the configured window. It reports
// whether a snapshot was written.
func (s *State) FlushIfNeeded(slug string) (bool, error) {
	h, err := s.getOrLoadDoc(slug)
	if err != nil {
		return false, err
	}

	h.editMu.Lock()
	defer h.editMu.Unlock()

	return s.flushLocked(slug, h, false)
}

// FlushForce writes the slug's snapshot whenever any edits are pending,
// regardless of thresholds.
func (s *State) FlushForce(slug string) (bool, error) {
	h, err := s.getOrLoadDoc(slug)
	if err != nil {
		return false, err
	}

	h.editMu.Lock()
	defer h.editMu.Unlock()

	return s.flushLocked(slug, h, true)
}

// flushLocked decides and performs one snapshot write. It must run with
// h.editMu held so no edit can slip between the counter reset and the
// write. h.mu is only held while reading the decision inputs and
// copying the content; the file write happens outside it.
func (s *State) flushLocked(slug string, h *docHandle, force bool) (bool, error) {
	h.mu.Lock()

	var should bool
	if force {
		should = h.doc.SinceFlush > 0
	} else {
		idle := h.doc.SinceFlush > 0 && h.doc.LastEditTS > 0 &&
			s.now()-h.doc.LastEditTS >= s.cfg.FlushIdleMS
		should = h.doc.SinceFlush >= s.cfg.FlushMaxOps || idle
	}

	if !should {
		h.mu.Unlock()

		return false, nil
	}

	content := h.doc.Content
	h.doc.SinceFlush = 0
	h.mu.Unlock()

	if err := s.store.WriteSnapshot(slug, content); err != nil {
		return false, fmt.Errorf("flush %s: %w", slug, err)
	}

	return true, nil
}

// FlushLoadedDocs force-flushes every document in memory and returns how
// many snapshots were written.
func (s *State) FlushLoadedDocs() (int, error) {
	flushed := 0

	for _, slug := range s.loadedSlugs() {
		ok, err := s.FlushForce(slug)
		if err != nil {
			return flushed, err
		}

		if ok {
			flushed++
		}
	}

	return flushed, nil
}

// FlushAllWALs loads every document with a non-empty WAL and
// force-flushes it, consolidating stale WALs into snapshots. Runs at
// startup, before the listener accepts, and again at shutdown.
func (s *State) FlushAllWALs() (int, error) {
	slugs, err := s.store.WALSlugs()
	if err != nil {
		return 0, err
	}

	flushed := 0

	for _, slug := range slugs {
		ok, err := s.FlushForce(slug)
		if err != nil {
			return flushed, err
		}

		if ok {
			flushed++
		}
	}

	return flushed, nil
}

// runPeriodicFlush drives opportunistic flushes for all loaded documents
// until stop closes.
func (s *State) runPeriodicFlush(stop <-chan struct{}) {
	interval := time.Duration(s.cfg.FlushIdleMS) * time.Millisecond
	if interval < minFlushInterval {
		interval = minFlushInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, slug := range s.loadedSlugs() {
				if _, err := s.FlushIfNeeded(slug); err != nil {
					s.log.Error("periodic flush failed", "slug", slug, "err", err)
				}
			}
		case <-stop:
			return
		}
	}
}
