package live

import (
	"github.com/braudabaugh/vantage/internal/diff"
	"github.com/braudabaugh/vantage/store"
)

// Move is one explicit reorder: the element at From in the old sequence
// ended up at To in the new one.
type Move struct {
	From int
	To   int
}

// ChangeSet is the minimal ordered diff between two materializations of a
// view. Deleted holds pre-mutation indices, Inserted post-mutation indices,
// both ascending. Modified holds the pre-mutation indices of rows whose
// content changed without entering or leaving the view; NewModified holds
// the same rows' post-mutation indices. Moves carries explicit reorders of
// an ordered relationship, in application order.
type ChangeSet struct {
	Deleted     []int
	Inserted    []int
	Modified    []int
	NewModified []int
	Moves       []Move
}

// Empty reports whether the change set carries no changes. Empty change
// sets are never delivered to subscribers.
func (c *ChangeSet) Empty() bool {
	return len(c.Deleted) == 0 && len(c.Inserted) == 0 &&
		len(c.Modified) == 0 && len(c.NewModified) == 0 && len(c.Moves) == 0
}

// changes diffs two materializations of view. snap must be the snapshot the
// new sequence was computed against; since is the version the old sequence
// was computed against, used to test per-row content changes.
func changes(snap *store.Snapshot, view *View, old, new []store.RowRef, since uint64) (*ChangeSet, error) {
	changed := func(ref store.RowRef) bool {
		return snap.ChangedSince(ref, since)
	}

	// Reorder and replacement hints exist only for ordered relationships;
	// query-backed views explain every shift as delete+insert.
	var replaced []int
	var moves []diff.Move
	if view.prop != "" {
		replaced = snap.Replacements(view.owner, view.prop)
		for _, m := range snap.Moves(view.owner, view.prop) {
			moves = append(moves, diff.Move{From: m.From, To: m.To})
		}
	}

	res, err := diff.Compute(old, new, changed, replaced, moves)
	if err != nil {
		return nil, err
	}
	cs := &ChangeSet{
		Deleted:     res.Deleted,
		Inserted:    res.Inserted,
		Modified:    res.Modified,
		NewModified: res.NewModified,
	}
	for _, m := range res.Moves {
		cs.Moves = append(cs.Moves, Move{From: m.From, To: m.To})
	}
	return cs, nil
}
