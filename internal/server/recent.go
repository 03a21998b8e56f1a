package server

import "github.com/google/uuid"

// recentOpsCap bounds how many op ids are remembered per document.
const recentOpsCap = 4096

// RecentOps remembers recently applied op ids for one document so
// retried edits become idempotent acknowledgements. Eviction is FIFO by
// first insertion. Not safe for concurrent use; State guards it.
type RecentOps struct {
	set   map[uuid.UUID]struct{}
	order []uuid.UUID
	limit int
}

func NewRecentOps(limit int) *RecentOps {
	return &RecentOps{set: make(map[uuid.UUID]struct{}), limit: limit}
}

// Contains reports whether id is remembered.
func (r *RecentOps) Contains(id uuid.UUID) bool {
	_, ok := r.set[id]

	return ok
}

// Insert remembers id and reports whether it was novel, evicting the
// oldest ids once over the limit.
func (r *RecentOps) Insert(id uuid.UUID) bool {
	if _, dup := r.set[id]; dup {
		return false
	}

	r.set[id] = struct{}{}
	r.order = append(r.order, id)

	for len(r.order) > r.limit {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.set, oldest)
	}

	return true
}

// Len returns the number of remembered ids.
func (r *RecentOps) Len() int { return len(r.order) }
