// Package reconcile diffs a document's fresh chunk list against the
// records already stored for it. The result is the minimal set of
// store operations: position moves for content that merely moved,
// deletions for content that vanished, and the pending set that
// genuinely needs context generation and embedding. Pure reordering
// and duplicate-content moves cost zero model calls.
package reconcile

import (
	"errors"
	"fmt"
	"slices"

	"github.com/MeshJS/mimir/internal/chunk"
)

// ErrPositionsNotContiguous reports a fresh chunk list whose positions
// are not 0..n-1 in order. The splitter never produces such a list, so
// hitting this means the caller assembled chunks by hand.
var ErrPositionsNotContiguous = errors.New("fresh chunk positions are not contiguous from zero")

// Record is the stored view of one chunk: a stable store-assigned id
// and the checksum the row was last written with. The row's current
// position is the key of the map handed to Diff.
type Record struct {
	ID       int64
	Checksum string
}

// Reorder moves the stored record with ID to NewPosition.
type Reorder struct {
	ID          int64
	NewPosition int
}

// Plan is the outcome of one reconciliation. Deletes must be applied
// before Reorders so a record moving onto a vacated position never
// collides with the row being removed from it.
type Plan struct {
	// Reorders retains records whose content is unchanged but whose
	// position moved.
	Reorders []Reorder
	// DeleteIDs lists records no fresh chunk matched.
	DeleteIDs []int64
	// Pending holds the fresh chunks with no stored counterpart; only
	// these require model calls.
	Pending []chunk.Chunk
}

// Empty reports whether the plan requires no store writes and no model
// calls.
func (p Plan) Empty() bool {
	return len(p.Reorders) == 0 && len(p.DeleteIDs) == 0 && len(p.Pending) == 0
}

// candidate is an existing record waiting in its checksum bucket.
type candidate struct {
	id       int64
	position int
}

// Diff matches fresh chunks against existing records by checksum.
// Records with the same checksum queue up in stored-position order and
// the oldest unmatched one wins, so duplicate-content sections match
// deterministically. A matched record keeps its id; if its stored
// position differs from the fresh position it is reordered. Fresh
// chunks with no match become pending, and existing records never
// matched are deleted.
func Diff(fresh []chunk.Chunk, existing map[int]Record) (Plan, error) {
	for i, c := range fresh {
		if c.Position != i {
			return Plan{}, fmt.Errorf("chunk %d has position %d: %w", i, c.Position, ErrPositionsNotContiguous)
		}
	}

	positions := make([]int, 0, len(existing))
	for pos := range existing {
		positions = append(positions, pos)
	}
	slices.Sort(positions)

	buckets := make(map[string][]candidate, len(existing))
	for _, pos := range positions {
		rec := existing[pos]
		buckets[rec.Checksum] = append(buckets[rec.Checksum], candidate{id: rec.ID, position: pos})
	}

	var plan Plan
	matched := make(map[int64]bool, len(existing))
	for _, c := range fresh {
		queue := buckets[c.Checksum]
		if len(queue) == 0 {
			plan.Pending = append(plan.Pending, c)
			continue
		}
		cand := queue[0]
		buckets[c.Checksum] = queue[1:]
		matched[cand.id] = true
		if cand.position != c.Position {
			plan.Reorders = append(plan.Reorders, Reorder{ID: cand.id, NewPosition: c.Position})
		}
	}

	for _, pos := range positions {
		if rec := existing[pos]; !matched[rec.ID] {
			plan.DeleteIDs = append(plan.DeleteIDs, rec.ID)
		}
	}
	return plan, nil
}
