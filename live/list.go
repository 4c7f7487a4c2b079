package live

import (
	"github.com/braudabaugh/vantage/store"
)

// List is a relationship-backed view exposing the mutating operations of an
// ordered to-many relationship. All mutations require an open write
// transaction and take effect, and become observable, when it commits.
type List struct {
	*View
}

// NewList creates a live view over the ordered relationship prop of owner.
func NewList(s *store.Store, owner store.RowRef, prop string) (*List, error) {
	if !s.Owns(owner) {
		return nil, store.ErrCrossStore
	}
	p, ok := s.Schema().Property(owner.Table(), prop)
	if !ok || p.Type != store.TypeList {
		return nil, store.ErrNoSuchProperty
	}
	return &List{View: &View{store: s, owner: owner, prop: prop}}, nil
}

// Owner returns the row owning the relationship.
func (l *List) Owner() store.RowRef { return l.owner }

func (l *List) guard(tx *store.Tx) error {
	if tx == nil {
		return store.ErrNotInWriteTransaction
	}
	if !l.IsValid() {
		return ErrViewInvalid
	}
	return nil
}

// Insert places child at index, shifting later elements. Valid indexes are
// 0 <= index <= count; anything else fails with store.ErrIndexOutOfRange
// and mutates nothing.
func (l *List) Insert(tx *store.Tx, index int, child store.RowRef) error {
	if err := l.guard(tx); err != nil {
		return err
	}
	return tx.ListInsert(l.owner, l.prop, index, child)
}

// Append places child at the end of the list.
func (l *List) Append(tx *store.Tx, child store.RowRef) error {
	if err := l.guard(tx); err != nil {
		return err
	}
	v, err := tx.Get(l.owner, l.prop)
	if err != nil {
		return err
	}
	refs, _ := v.([]store.RowRef)
	return tx.ListInsert(l.owner, l.prop, len(refs), child)
}

// Remove takes the element at index out of the list without deleting the
// row it references. Valid indexes are 0 <= index < count.
func (l *List) Remove(tx *store.Tx, index int) error {
	if err := l.guard(tx); err != nil {
		return err
	}
	return tx.ListRemove(l.owner, l.prop, index)
}

// Move places child at position to, interpreted against the list after
// child has been taken out; valid destinations are 0 <= to <= count-1.
// Moving a child onto its own position is a no-op. The reorder is reported
// as a move pair in the next change set, not as a delete+insert.
func (l *List) Move(tx *store.Tx, child store.RowRef, to int) error {
	if err := l.guard(tx); err != nil {
		return err
	}
	return tx.ListMove(l.owner, l.prop, child, to)
}

// Set replaces the element at index with child, leaving the count
// unchanged. The replacement is reported as a single modification at index.
func (l *List) Set(tx *store.Tx, index int, child store.RowRef) error {
	if err := l.guard(tx); err != nil {
		return err
	}
	return tx.ListSet(l.owner, l.prop, index, child)
}
