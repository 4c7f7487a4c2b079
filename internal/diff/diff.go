// Package diff computes ordered-sequence change sets between two
// materializations of a live collection.
package diff

import (
	"errors"
	"slices"
)

// ErrInconsistent is returned when the input sequences violate the differ's
// invariants (an identity present twice in one sequence, or an out-of-range
// move hint). It is not reachable from correct collection usage.
var ErrInconsistent = errors.New("vantage: inconsistent sequences passed to differ")

// Move is one explicit reorder, from an index in the old sequence to an
// index in the new one.
type Move struct {
	From int
	To   int
}

// Result is the minimal change set turning the old sequence into the new
// one. Deleted holds pre-mutation indices, Inserted post-mutation indices,
// both ascending. Modified holds pre-mutation indices of rows whose content
// changed, NewModified the same rows' post-mutation indices. Moves, when the
// caller supplied reorder hints, are reported in the order they were applied
// instead of delete+insert pairs.
type Result struct {
	Deleted     []int
	Inserted    []int
	Modified    []int
	NewModified []int
	Moves       []Move
}

// Empty reports whether the result carries no changes at all.
func (r Result) Empty() bool {
	return len(r.Deleted) == 0 && len(r.Inserted) == 0 &&
		len(r.Modified) == 0 && len(r.NewModified) == 0 && len(r.Moves) == 0
}

// Compute diffs two sequences of stable identities.
//
// changed reports whether an identity's content changed between the two
// versions; nil means no content changed. replaced holds indices known to be
// in-place replacements (set-at-index), reported as a modification at that
// index rather than a delete+insert pair. moves holds explicit reorders in
// application order; they are honored only when old and new contain the same
// identities up to in-place replacements, otherwise the shift is explained
// positionally.
func Compute[K comparable](old, new []K, changed func(K) bool, replaced []int, moves []Move) (Result, error) {
	var res Result

	oldIdx := make(map[K]int, len(old))
	for i, k := range old {
		if _, dup := oldIdx[k]; dup {
			return Result{}, ErrInconsistent
		}
		oldIdx[k] = i
	}
	newIdx := make(map[K]int, len(new))
	for j, k := range new {
		if _, dup := newIdx[k]; dup {
			return Result{}, ErrInconsistent
		}
		newIdx[k] = j
	}

	// In-place replacements consume their old and new identities so they are
	// not double-reported as a deletion and an insertion. A stale hint (the
	// indices no longer line up) degrades to the positional explanation.
	consumedOld := make(map[K]bool)
	consumedNew := make(map[K]bool)
	for _, i := range replaced {
		if i < 0 || i >= len(old) || i >= len(new) {
			continue
		}
		ko, kn := old[i], new[i]
		if ko == kn {
			continue
		}
		if _, still := newIdx[ko]; still {
			continue
		}
		if _, already := oldIdx[kn]; already {
			continue
		}
		if consumedOld[ko] || consumedNew[kn] {
			continue
		}
		consumedOld[ko] = true
		consumedNew[kn] = true
		res.Modified = append(res.Modified, i)
		res.NewModified = append(res.NewModified, i)
	}

	for i, k := range old {
		if _, ok := newIdx[k]; !ok && !consumedOld[k] {
			res.Deleted = append(res.Deleted, i)
		}
	}
	for j, k := range new {
		if _, ok := oldIdx[k]; !ok && !consumedNew[k] {
			res.Inserted = append(res.Inserted, j)
		}
	}

	// Explicit reorder hints apply only to a pure permutation, up to in-place
	// replacements (the replaced identity sits at the same index on both
	// sides, so it cannot perturb move indices); anything else falls through
	// to the positional explanation below.
	pureReorder := len(old) == len(new)
	if pureReorder {
		for _, k := range old {
			if _, ok := newIdx[k]; !ok && !consumedOld[k] {
				pureReorder = false
				break
			}
		}
	}
	displaced := make(map[K]bool)
	if pureReorder && len(moves) > 0 {
		for _, m := range moves {
			if m.From < 0 || m.From >= len(old) || m.To < 0 || m.To >= len(new) {
				return Result{}, ErrInconsistent
			}
		}
		res.Moves = slices.Clone(moves)
	} else {
		// Rows present in both sequences whose shift is not already explained
		// by the deletions and insertions around them become delete+insert
		// pairs. The rows to keep in place are the longest subsequence of the
		// new order that preserves old order.
		for _, k := range displacedRows(old, new, oldIdx, newIdx, consumedOld) {
			res.Deleted = append(res.Deleted, oldIdx[k])
			res.Inserted = append(res.Inserted, newIdx[k])
			displaced[k] = true
		}
		slices.Sort(res.Deleted)
		slices.Sort(res.Inserted)
	}

	if changed != nil {
		for _, k := range new {
			oi, inOld := oldIdx[k]
			if !inOld || displaced[k] || consumedNew[k] {
				continue
			}
			if changed(k) {
				res.Modified = append(res.Modified, oi)
				res.NewModified = append(res.NewModified, newIdx[k])
			}
		}
	}
	slices.Sort(res.Modified)
	slices.Sort(res.NewModified)
	return res, nil
}

// displacedRows returns the common rows that are not part of the longest
// old-order-preserving subsequence of the new sequence.
func displacedRows[K comparable](old, new []K, oldIdx, newIdx map[K]int, consumed map[K]bool) []K {
	type entry struct {
		key K
		oi  int
	}
	var common []entry
	for _, k := range new {
		if oi, ok := oldIdx[k]; ok && !consumed[k] {
			common = append(common, entry{key: k, oi: oi})
		}
	}
	if len(common) == 0 {
		return nil
	}

	// Patience algorithm over the old indices: tails[l] holds the position in
	// common of the smallest old index ending an increasing run of length l+1.
	tails := make([]int, 0, len(common))
	prev := make([]int, len(common))
	for i := range common {
		lo, hi := 0, len(tails)
		for lo < hi {
			mid := (lo + hi) / 2
			if common[tails[mid]].oi < common[i].oi {
				lo = mid + 1
			} else {
				hi = mid
			}
		}
		if lo > 0 {
			prev[i] = tails[lo-1]
		} else {
			prev[i] = -1
		}
		if lo == len(tails) {
			tails = append(tails, i)
		} else {
			tails[lo] = i
		}
	}
	kept := make(map[int]bool, len(tails))
	for i := tails[len(tails)-1]; i >= 0; i = prev[i] {
		kept[i] = true
	}

	var displaced []K
	for i, e := range common {
		if !kept[i] {
			displaced = append(displaced, e.key)
		}
	}
	return displaced
}
