package live

import (
	"errors"
	"iter"
	"slices"
	"sync"

	"github.com/braudabaugh/vantage/query"
	"github.com/braudabaugh/vantage/store"
)

// View is an ordered sequence of row references that can be re-materialized
// against any retained store version: either all rows of a table, the rows
// matching a compiled filter (with optional sort and distinct), or the
// contents of one ordered relationship.
//
// A view tracks the store's latest version unless pinned. The
// materialization for a version is computed once and cached, so repeated
// access within one version is cheap and returns an identical sequence.
type View struct {
	store *store.Store
	query *query.Query

	// table is set for table- and query-backed views; owner/prop for
	// relationship-backed ones.
	table string
	owner store.RowRef
	prop  string

	mu      sync.Mutex
	pinned  uint64 // 0 tracks the latest version
	invalid bool
	cacheV  uint64
	cache   []store.RowRef
}

// NewTableView creates a view over every row of a table, in insertion order.
func NewTableView(s *store.Store, table string) (*View, error) {
	if _, ok := s.Schema().Table(table); !ok {
		return nil, store.ErrNoSuchTable
	}
	return &View{store: s, table: table}, nil
}

// NewQueryView compiles filter against table and creates a view over the
// matching rows. The literal TRUEPREDICATE matches all rows.
func NewQueryView(s *store.Store, table, filter string) (*View, error) {
	q, err := query.Compile(s.Schema(), table, filter)
	if err != nil {
		return nil, err
	}
	return &View{store: s, table: table, query: q}, nil
}

// Store returns the store the view reads from.
func (v *View) Store() *store.Store { return v.store }

// effectiveVersion is the version the view currently materializes against.
func (v *View) effectiveVersion() uint64 {
	if v.pinned != 0 {
		return v.pinned
	}
	return v.store.CurrentVersion()
}

// Version returns the version the view currently materializes against.
func (v *View) Version() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.effectiveVersion()
}

// Materialize returns the view's ordered row sequence at its current
// version. The result is a copy; mutating it does not affect the view.
func (v *View) Materialize() ([]store.RowRef, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.materializeLocked(v.effectiveVersion())
}

// MaterializeAt returns the view's ordered row sequence at a specific
// retained version, regardless of pinning.
func (v *View) MaterializeAt(version uint64) ([]store.RowRef, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.materializeLocked(version)
}

func (v *View) materializeLocked(version uint64) ([]store.RowRef, error) {
	if v.invalid {
		return nil, ErrViewInvalid
	}
	if v.store.Closed() {
		v.invalid = true
		return nil, ErrViewInvalid
	}
	if v.cacheV == version && v.cache != nil {
		return slices.Clone(v.cache), nil
	}
	snap, err := v.store.At(version)
	if err != nil {
		return nil, err
	}
	refs, err := v.compute(snap)
	if err != nil {
		return nil, err
	}
	v.cacheV = version
	v.cache = refs
	return slices.Clone(refs), nil
}

func (v *View) compute(snap *store.Snapshot) ([]store.RowRef, error) {
	if v.prop != "" {
		refs, err := snap.List(v.owner, v.prop)
		if errors.Is(err, store.ErrRowDeleted) {
			v.invalid = true
			return nil, ErrViewInvalid
		}
		return refs, err
	}

	rows, err := snap.Rows(v.table)
	if err != nil {
		return nil, err
	}
	if v.query == nil {
		return rows, nil
	}
	refs := make([]store.RowRef, 0, len(rows))
	for _, ref := range rows {
		ok, err := v.query.Match(snap, ref)
		if err != nil {
			return nil, err
		}
		if ok {
			refs = append(refs, ref)
		}
	}
	if v.query.Sorted() {
		var sortErr error
		slices.SortStableFunc(refs, func(a, b store.RowRef) int {
			c, err := v.query.Compare(snap, a, b)
			if err != nil && sortErr == nil {
				sortErr = err
			}
			return c
		})
		if sortErr != nil {
			return nil, sortErr
		}
	}
	if v.query.Distinct() {
		seen := make(map[string]bool)
		kept := refs[:0]
		for _, ref := range refs {
			key, err := v.query.DistinctKey(snap, ref)
			if err != nil {
				return nil, err
			}
			if seen[key] {
				continue
			}
			seen[key] = true
			kept = append(kept, ref)
		}
		refs = kept
	}
	return refs, nil
}

// Count returns the number of rows at the view's current version.
func (v *View) Count() (int, error) {
	refs, err := v.Materialize()
	if err != nil {
		return 0, err
	}
	return len(refs), nil
}

// At returns the row at index. Indexes outside [0, count) fail with
// store.ErrIndexOutOfRange.
func (v *View) At(index int) (store.RowRef, error) {
	refs, err := v.Materialize()
	if err != nil {
		return store.RowRef{}, err
	}
	if index < 0 || index >= len(refs) {
		return store.RowRef{}, store.ErrIndexOutOfRange
	}
	return refs[index], nil
}

// First returns the first row of the view. An empty view fails with
// store.ErrIndexOutOfRange.
func (v *View) First() (store.RowRef, error) {
	return v.At(0)
}

// IndexOf returns the position of ref in the view, or -1 if absent. A
// reference from a different store instance fails with store.ErrCrossStore.
func (v *View) IndexOf(ref store.RowRef) (int, error) {
	if !v.store.Owns(ref) {
		return -1, store.ErrCrossStore
	}
	refs, err := v.Materialize()
	if err != nil {
		return -1, err
	}
	return slices.Index(refs, ref), nil
}

// All iterates the view in order. The sequence is captured once when
// iteration starts, so mutations committed while iterating do not change
// the set of visited rows.
func (v *View) All() iter.Seq2[int, store.RowRef] {
	return func(yield func(int, store.RowRef) bool) {
		refs, err := v.Materialize()
		if err != nil {
			return
		}
		for i, ref := range refs {
			if !yield(i, ref) {
				return
			}
		}
	}
}

// IsValid reports whether the view can still be read. It becomes false
// permanently once the owning row is deleted or the store is closed.
func (v *View) IsValid() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.invalid {
		return false
	}
	if v.store.Closed() {
		v.invalid = true
		return false
	}
	if v.prop != "" {
		snap, err := v.store.Current()
		if err != nil || !snap.Contains(v.owner) {
			v.invalid = true
			return false
		}
	}
	return true
}

// Pin freezes the view at the store's current version: it keeps
// materializing against that version even as new versions are committed,
// until Refresh or Unpin. Pinning an already pinned view moves the pin to
// the latest version.
func (v *View) Pin() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.invalid {
		return ErrViewInvalid
	}
	cur := v.store.CurrentVersion()
	if v.pinned == cur {
		return nil
	}
	if err := v.store.Pin(cur); err != nil {
		return err
	}
	if v.pinned != 0 {
		v.store.Unpin(v.pinned)
	}
	v.pinned = cur
	return nil
}

// Refresh advances a pinned view to the store's current version.
func (v *View) Refresh() error { return v.Pin() }

// Unpin returns the view to tracking the latest version.
func (v *View) Unpin() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.pinned != 0 {
		v.store.Unpin(v.pinned)
		v.pinned = 0
	}
}
