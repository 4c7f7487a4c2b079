package store

import (
	"slices"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"
)

// Tx is an open write transaction. A store admits one at a time; all
// mutations go through a Tx and become visible to readers atomically at
// Commit, as a single new version.
//
// A Tx is not safe for concurrent use.
type Tx struct {
	store   *Store
	base    *Snapshot
	version uint64
	seq     uint64

	// tables holds copy-on-write clones of the trees mutated so far. Tables
	// never touched by this transaction stay shared with base.
	tables map[string]*btree.BTreeG[*row]
	lists  map[listKey]*listLog
	done   bool
}

// Version returns the version this transaction will produce when committed.
func (tx *Tx) Version() uint64 { return tx.version }

func (tx *Tx) table(name string) (*btree.BTreeG[*row], bool) {
	if t, ok := tx.tables[name]; ok {
		return t, true
	}
	t, ok := tx.base.tables[name]
	return t, ok
}

func (tx *Tx) tableForWrite(name string) *btree.BTreeG[*row] {
	if t, ok := tx.tables[name]; ok {
		return t
	}
	t := tx.base.tables[name].Clone()
	tx.tables[name] = t
	return t
}

func (tx *Tx) getRow(ref RowRef) (*row, error) {
	if ref.store != tx.store {
		return nil, ErrCrossStore
	}
	tree, ok := tx.table(ref.table)
	if !ok {
		return nil, ErrNoSuchTable
	}
	r, ok := tree.Get(&row{key: ref.key})
	if !ok {
		return nil, ErrRowDeleted
	}
	return r, nil
}

// Create inserts a new empty row into table and returns its reference.
func (tx *Tx) Create(table string) (RowRef, error) {
	if tx.done {
		return RowRef{}, ErrNotInWriteTransaction
	}
	if _, ok := tx.store.schema.Table(table); !ok {
		return RowRef{}, ErrNoSuchTable
	}
	tx.seq++
	r := &row{
		key:    uuid.NewString(),
		seq:    tx.seq,
		fields: make(map[string]any),
		modAt:  tx.version,
	}
	tx.tableForWrite(table).ReplaceOrInsert(r)
	return RowRef{store: tx.store, table: table, key: r.key}, nil
}

// Set assigns a property value. A nil value clears the property. Link and
// list values must reference live rows of the declared target table in this
// store.
func (tx *Tx) Set(ref RowRef, prop string, value any) error {
	if tx.done {
		return ErrNotInWriteTransaction
	}
	r, err := tx.getRow(ref)
	if err != nil {
		return err
	}
	p, ok := tx.store.schema.Property(ref.table, prop)
	if !ok {
		return ErrNoSuchProperty
	}
	if p.Type == TypeBacklink {
		return ErrNoSuchProperty
	}
	v, err := tx.normalize(p, value)
	if err != nil {
		return err
	}
	r = r.clone()
	if v == nil {
		delete(r.fields, prop)
	} else {
		r.fields[prop] = v
	}
	r.modAt = tx.version
	tx.tableForWrite(ref.table).ReplaceOrInsert(r)
	return nil
}

// Get reads a property through the transaction's uncommitted state.
func (tx *Tx) Get(ref RowRef, prop string) (any, error) {
	if tx.done {
		return nil, ErrNotInWriteTransaction
	}
	r, err := tx.getRow(ref)
	if err != nil {
		return nil, err
	}
	p, ok := tx.store.schema.Property(ref.table, prop)
	if !ok {
		return nil, ErrNoSuchProperty
	}
	if p.Type == TypeBacklink {
		return tx.backlinks(ref, p.Target, p.Origin)
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

// Delete removes a row. Incoming links are cleared and incoming list
// memberships removed, stamping the affected rows as modified.
func (tx *Tx) Delete(ref RowRef) error {
	if tx.done {
		return ErrNotInWriteTransaction
	}
	if _, err := tx.getRow(ref); err != nil {
		return err
	}
	tx.tableForWrite(ref.table).Delete(&row{key: ref.key})
	tx.unlinkAll(ref)
	for key := range tx.lists {
		if key.table == ref.table && key.key == ref.key {
			delete(tx.lists, key)
		}
	}
	return nil
}

// unlinkAll clears every forward reference to ref across the schema.
func (tx *Tx) unlinkAll(ref RowRef) {
	for _, t := range tx.store.schema.Tables {
		for i := range t.Properties {
			p := &t.Properties[i]
			if (p.Type != TypeLink && p.Type != TypeList) || p.Target != ref.table {
				continue
			}
			tree, ok := tx.table(t.Name)
			if !ok {
				continue
			}
			var dirty []*row
			tree.Ascend(func(r *row) bool {
				switch v := r.fields[p.Name].(type) {
				case RowRef:
					if v == ref {
						dirty = append(dirty, r)
					}
				case []RowRef:
					if slices.Contains(v, ref) {
						dirty = append(dirty, r)
					}
				}
				return true
			})
			if len(dirty) == 0 {
				continue
			}
			dst := tx.tableForWrite(t.Name)
			for _, r := range dirty {
				r = r.clone()
				switch v := r.fields[p.Name].(type) {
				case RowRef:
					delete(r.fields, p.Name)
				case []RowRef:
					next := slices.Clone(v)
					for idx := slices.Index(next, ref); idx >= 0; idx = slices.Index(next, ref) {
						next = slices.Delete(next, idx, idx+1)
					}
					r.fields[p.Name] = next
				}
				r.modAt = tx.version
				dst.ReplaceOrInsert(r)
			}
		}
	}
}

func (tx *Tx) backlinks(ref RowRef, srcTable, srcProp string) ([]RowRef, error) {
	tree, ok := tx.table(srcTable)
	if !ok {
		return nil, ErrNoSuchTable
	}
	var incoming []*row
	tree.Ascend(func(r *row) bool {
		switch v := r.fields[srcProp].(type) {
		case RowRef:
			if v == ref {
				incoming = append(incoming, r)
			}
		case []RowRef:
			if slices.Contains(v, ref) {
				incoming = append(incoming, r)
			}
		}
		return true
	})
	slices.SortFunc(incoming, func(a, b *row) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	refs := make([]RowRef, len(incoming))
	for i, r := range incoming {
		refs[i] = RowRef{store: tx.store, table: srcTable, key: r.key}
	}
	return refs, nil
}

// normalize coerces value to the property's storage representation.
func (tx *Tx) normalize(p *Property, value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	switch p.Type {
	case TypeString:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case TypeInt:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		}
	case TypeFloat:
		switch v := value.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		}
	case TypeBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case TypeDate:
		if v, ok := value.(time.Time); ok {
			return v, nil
		}
	case TypeLink:
		if v, ok := value.(RowRef); ok {
			return v, tx.checkChild(p, v)
		}
	case TypeList:
		if v, ok := value.([]RowRef); ok {
			for _, child := range v {
				if err := tx.checkChild(p, child); err != nil {
					return nil, err
				}
			}
			return slices.Clone(v), nil
		}
	}
	return nil, ErrTypeMismatch
}

func (tx *Tx) checkChild(p *Property, child RowRef) error {
	if child.store != tx.store {
		return ErrCrossStore
	}
	if child.table != p.Target {
		return ErrTypeMismatch
	}
	_, err := tx.getRow(child)
	return err
}

// listFor validates and loads the current contents of a list property.
func (tx *Tx) listFor(owner RowRef, prop string) (*row, *Property, []RowRef, error) {
	if tx.done {
		return nil, nil, nil, ErrNotInWriteTransaction
	}
	r, err := tx.getRow(owner)
	if err != nil {
		return nil, nil, nil, err
	}
	p, ok := tx.store.schema.Property(owner.table, prop)
	if !ok || p.Type != TypeList {
		return nil, nil, nil, ErrNoSuchProperty
	}
	refs, _ := r.fields[prop].([]RowRef)
	return r, p, refs, nil
}

func (tx *Tx) storeList(owner RowRef, r *row, prop string, refs []RowRef) {
	r = r.clone()
	r.fields[prop] = refs
	r.modAt = tx.version
	tx.tableForWrite(owner.table).ReplaceOrInsert(r)
}

func (tx *Tx) listLogFor(owner RowRef, prop string) *listLog {
	key := listKey{table: owner.table, key: owner.key, prop: prop}
	log, ok := tx.lists[key]
	if !ok {
		log = &listLog{}
		tx.lists[key] = log
	}
	return log
}

// ListInsert inserts child at index, 0 <= index <= len.
func (tx *Tx) ListInsert(owner RowRef, prop string, index int, child RowRef) error {
	r, p, refs, err := tx.listFor(owner, prop)
	if err != nil {
		return err
	}
	if index < 0 || index > len(refs) {
		return ErrIndexOutOfRange
	}
	if err := tx.checkChild(p, child); err != nil {
		return err
	}
	tx.storeList(owner, r, prop, slices.Insert(slices.Clone(refs), index, child))
	return nil
}

// ListRemove removes the element at index, 0 <= index < len. The child row
// itself is not deleted.
func (tx *Tx) ListRemove(owner RowRef, prop string, index int) error {
	r, _, refs, err := tx.listFor(owner, prop)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(refs) {
		return ErrIndexOutOfRange
	}
	tx.storeList(owner, r, prop, slices.Delete(slices.Clone(refs), index, index+1))
	return nil
}

// ListMove moves child to position to, where to is interpreted against the
// list after child has been taken out: valid destinations are 0 <= to <=
// len-1. Moving a child to its current position is a no-op.
func (tx *Tx) ListMove(owner RowRef, prop string, child RowRef, to int) error {
	r, _, refs, err := tx.listFor(owner, prop)
	if err != nil {
		return err
	}
	from := slices.Index(refs, child)
	if from < 0 {
		if child.store != tx.store {
			return ErrCrossStore
		}
		return ErrRowDeleted
	}
	if to < 0 || to > len(refs)-1 {
		return ErrIndexOutOfRange
	}
	if from == to {
		return nil
	}
	next := slices.Clone(refs)
	next = slices.Delete(next, from, from+1)
	next = slices.Insert(next, to, child)
	tx.storeList(owner, r, prop, next)
	log := tx.listLogFor(owner, prop)
	log.moves = append(log.moves, MoveOp{From: from, To: to})
	return nil
}

// ListSet replaces the element at index with child, 0 <= index < len. The
// replacement is reported as a single modification at index, not as a
// delete+insert pair.
func (tx *Tx) ListSet(owner RowRef, prop string, index int, child RowRef) error {
	r, p, refs, err := tx.listFor(owner, prop)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(refs) {
		return ErrIndexOutOfRange
	}
	if err := tx.checkChild(p, child); err != nil {
		return err
	}
	next := slices.Clone(refs)
	next[index] = child
	tx.storeList(owner, r, prop, next)
	log := tx.listLogFor(owner, prop)
	log.sets = append(log.sets, index)
	return nil
}

// Commit publishes the transaction as the next version, runs commit hooks
// (notification delivery), and releases the writer slot. The next write
// transaction cannot begin until delivery has finished.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrNotInWriteTransaction
	}
	tables := make(map[string]*btree.BTreeG[*row], len(tx.base.tables))
	for name, tree := range tx.base.tables {
		tables[name] = tree
	}
	for name, tree := range tx.tables {
		tables[name] = tree
	}
	snap := &Snapshot{
		store:   tx.store,
		version: tx.version,
		tables:  tables,
		lists:   tx.lists,
	}
	prev, hooks, err := tx.store.commit(snap, tx.seq)
	tx.done = true
	if err != nil {
		tx.store.writer.Release(1)
		return err
	}
	for _, hook := range hooks {
		hook(prev, tx.version)
	}
	tx.store.logger.Debug("committed", "version", tx.version)
	tx.store.writer.Release(1)
	return nil
}

// Rollback discards the transaction. Rolling back a finished transaction is
// a no-op.
func (tx *Tx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.store.writer.Release(1)
	return nil
}
