package store

import "maps"

// RowRef is a stable, comparable handle to one logical record. Two RowRefs
// are equal iff they denote the same record in the same store instance,
// independent of position or version. A RowRef stays valid across versions
// until the record is deleted; reading through it afterwards fails with
// ErrRowDeleted.
type RowRef struct {
	store *Store
	table string
	key   string
}

// Table returns the name of the table the referenced record lives in.
func (r RowRef) Table() string { return r.table }

// Key returns the stable record key.
func (r RowRef) Key() string { return r.key }

// IsZero reports whether r is the zero reference.
func (r RowRef) IsZero() bool { return r.store == nil }

// String returns the type-qualified reference (e.g. "task#uuid").
func (r RowRef) String() string {
	if r.IsZero() {
		return "<zero>"
	}
	return r.table + "#" + r.key
}

// row is the stored record. Committed rows are immutable; a write
// transaction copies a row before mutating it so older snapshots keep
// seeing the original.
type row struct {
	key string

	// seq is the insertion ordinal. Unfiltered table scans return rows in
	// seq order.
	seq uint64

	// fields maps property name to value. Links are RowRef, lists []RowRef.
	// An absent entry means the property is unset.
	fields map[string]any

	// modAt is the version whose transaction last changed this row's content.
	modAt uint64
}

func (r *row) clone() *row {
	return &row{
		key:    r.key,
		seq:    r.seq,
		fields: maps.Clone(r.fields),
		modAt:  r.modAt,
	}
}

// rowLess orders rows by key for the per-table B-tree.
func rowLess(a, b *row) bool { return a.key < b.key }
