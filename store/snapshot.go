package store

import (
	"slices"

	"github.com/google/btree"
)

// MoveOp records one explicit reorder applied to an ordered relationship.
type MoveOp struct {
	From int
	To   int
}

// listKey identifies one ordered relationship instance: a list property of
// one owning row.
type listKey struct {
	table string
	key   string
	prop  string
}

// listLog records the explicit reorders and in-place replacements applied to
// one list by the transaction that produced a snapshot. The differencer uses
// it to report moves and modifications instead of delete+insert pairs.
type listLog struct {
	moves []MoveOp
	sets  []int
}

// Snapshot is an immutable view of the store at one committed version.
// Snapshots are safe for concurrent readers and never block a writer.
type Snapshot struct {
	store   *Store
	version uint64
	tables  map[string]*btree.BTreeG[*row]

	// lists carries the list operation log of the commit that produced this
	// snapshot only.
	lists map[listKey]*listLog
}

// Version returns the committed version this snapshot represents.
func (s *Snapshot) Version() uint64 { return s.version }

func (s *Snapshot) getRow(ref RowRef) (*row, error) {
	if s.store.Closed() {
		return nil, ErrStoreClosed
	}
	if ref.store != s.store {
		return nil, ErrCrossStore
	}
	tree, ok := s.tables[ref.table]
	if !ok {
		return nil, ErrNoSuchTable
	}
	r, ok := tree.Get(&row{key: ref.key})
	if !ok {
		return nil, ErrRowDeleted
	}
	return r, nil
}

// Contains reports whether the referenced row exists at this version.
func (s *Snapshot) Contains(ref RowRef) bool {
	_, err := s.getRow(ref)
	return err == nil
}

// Value returns the value of a property at this version. Unset properties
// return nil. Link properties return a RowRef, list properties a copy of
// the ordered RowRef slice.
func (s *Snapshot) Value(ref RowRef, prop string) (any, error) {
	r, err := s.getRow(ref)
	if err != nil {
		return nil, err
	}
	p, ok := s.store.schema.Property(ref.table, prop)
	if !ok {
		return nil, ErrNoSuchProperty
	}
	if p.Type == TypeBacklink {
		return s.Backlinks(ref, p.Target, p.Origin)
	}
	v, ok := r.fields[prop]
	if !ok {
		return nil, nil
	}
	if refs, isList := v.([]RowRef); isList {
		return slices.Clone(refs), nil
	}
	return v, nil
}

// List returns the ordered contents of a list property at this version.
func (s *Snapshot) List(ref RowRef, prop string) ([]RowRef, error) {
	r, err := s.getRow(ref)
	if err != nil {
		return nil, err
	}
	p, ok := s.store.schema.Property(ref.table, prop)
	if !ok || p.Type != TypeList {
		return nil, ErrNoSuchProperty
	}
	refs, _ := r.fields[prop].([]RowRef)
	return slices.Clone(refs), nil
}

// Rows returns every row of a table at this version, in insertion order.
func (s *Snapshot) Rows(table string) ([]RowRef, error) {
	if s.store.Closed() {
		return nil, ErrStoreClosed
	}
	tree, ok := s.tables[table]
	if !ok {
		return nil, ErrNoSuchTable
	}
	rows := make([]*row, 0, tree.Len())
	tree.Ascend(func(r *row) bool {
		rows = append(rows, r)
		return true
	})
	slices.SortFunc(rows, func(a, b *row) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	refs := make([]RowRef, len(rows))
	for i, r := range rows {
		refs[i] = RowRef{store: s.store, table: table, key: r.key}
	}
	return refs, nil
}

// Backlinks returns, in the source table's insertion order, every row of
// srcTable whose srcProp link points at ref. The result is computed on
// demand from the forward links; nothing cyclic is materialized.
func (s *Snapshot) Backlinks(ref RowRef, srcTable, srcProp string) ([]RowRef, error) {
	if _, err := s.getRow(ref); err != nil {
		return nil, err
	}
	p, ok := s.store.schema.Property(srcTable, srcProp)
	if !ok {
		return nil, ErrNoSuchProperty
	}
	if (p.Type != TypeLink && p.Type != TypeList) || p.Target != ref.table {
		return nil, ErrNoSuchProperty
	}
	sources, err := s.Rows(srcTable)
	if err != nil {
		return nil, err
	}
	var incoming []RowRef
	for _, src := range sources {
		r, err := s.getRow(src)
		if err != nil {
			return nil, err
		}
		switch v := r.fields[srcProp].(type) {
		case RowRef:
			if v == ref {
				incoming = append(incoming, src)
			}
		case []RowRef:
			if slices.Contains(v, ref) {
				incoming = append(incoming, src)
			}
		}
	}
	return incoming, nil
}

// ChangedSince reports whether the row's content was modified by any version
// after since. Absent rows report false.
func (s *Snapshot) ChangedSince(ref RowRef, since uint64) bool {
	r, err := s.getRow(ref)
	if err != nil {
		return false
	}
	return r.modAt > since
}

// Moves returns the explicit reorders applied to a list by the commit that
// produced this snapshot, in the order they were applied.
func (s *Snapshot) Moves(owner RowRef, prop string) []MoveOp {
	log, ok := s.lists[listKey{table: owner.table, key: owner.key, prop: prop}]
	if !ok {
		return nil
	}
	return slices.Clone(log.moves)
}

// Replacements returns the list indices replaced in place (set-at-index) by
// the commit that produced this snapshot.
func (s *Snapshot) Replacements(owner RowRef, prop string) []int {
	log, ok := s.lists[listKey{table: owner.table, key: owner.key, prop: prop}]
	if !ok {
		return nil
	}
	return slices.Clone(log.sets)
}
