package store

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/btree"
	"golang.org/x/sync/semaphore"
)

// btreeDegree is the branching factor of the per-table row trees.
const btreeDegree = 16

// CommitHook observes a committed write transaction. Hooks run synchronously
// on the committing goroutine, after the new version becomes current and
// before the next write transaction can begin. A new advance therefore never
// starts while a prior advance's hooks are still running.
type CommitHook func(prev, next uint64)

// Store is an in-memory multi-version store. One writer at a time mutates it
// through serialized write transactions; any number of readers each observe
// an immutable snapshot version.
type Store struct {
	schema *Schema
	config Config
	logger *slog.Logger
	stats  *metrics

	// writer admits one write transaction at a time. Commit releases it only
	// after commit hooks have run.
	writer *semaphore.Weighted

	mu        sync.Mutex
	closed    bool
	version   uint64
	seq       uint64
	current   *Snapshot
	snapshots map[uint64]*Snapshot
	pins      map[uint64]int
	onCommit  []CommitHook
	onClose   []func()
}

// Open creates a store for the given schema. The store starts at version 1
// with all tables empty.
func Open(schema *Schema, config Config) (*Store, error) {
	if schema == nil {
		return nil, ErrNoSuchTable
	}
	config.validate()
	s := &Store{
		schema:    schema,
		config:    config,
		logger:    config.Logger,
		stats:     newMetrics(config.Metrics),
		writer:    semaphore.NewWeighted(1),
		version:   1,
		snapshots: make(map[uint64]*Snapshot),
		pins:      make(map[uint64]int),
	}
	tables := make(map[string]*btree.BTreeG[*row], len(schema.Tables))
	for _, t := range schema.Tables {
		tables[t.Name] = btree.NewG(btreeDegree, rowLess)
	}
	s.current = &Snapshot{store: s, version: 1, tables: tables}
	s.snapshots[1] = s.current
	return s, nil
}

// Schema returns the schema the store was opened with.
func (s *Store) Schema() *Schema { return s.schema }

// Owns reports whether ref was produced by this store instance.
func (s *Store) Owns(ref RowRef) bool { return ref.store == s }

// Closed reports whether Close has been called.
func (s *Store) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CurrentVersion returns the most recently committed version. It is stable
// between commits.
func (s *Store) CurrentVersion() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// Current returns the snapshot of the most recently committed version.
func (s *Store) Current() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	return s.current, nil
}

// At returns the snapshot for a retained committed version.
func (s *Store) At(version uint64) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	snap, ok := s.snapshots[version]
	if !ok {
		return nil, ErrVersionRetired
	}
	return snap, nil
}

// Pin keeps the snapshot at version readable until a matching Unpin, even as
// newer versions are committed. Pins nest.
func (s *Store) Pin(version uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if _, ok := s.snapshots[version]; !ok {
		return ErrVersionRetired
	}
	s.pins[version]++
	return nil
}

// Unpin releases a Pin. Unpinning a version that is not pinned is a no-op.
func (s *Store) Unpin(version uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.pins[version]; n > 1 {
		s.pins[version] = n - 1
	} else {
		delete(s.pins, version)
	}
}

// AddCommitHook registers a hook to run after every commit.
func (s *Store) AddCommitHook(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onCommit = append(s.onCommit, hook)
}

// AddCloseHook registers a hook to run when the store closes.
func (s *Store) AddCloseHook(hook func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onClose = append(s.onClose, hook)
}

// BeginWrite opens a write transaction, blocking until any in-flight write
// transaction (including its notification delivery) has finished. The
// context bounds the wait.
func (s *Store) BeginWrite(ctx context.Context) (*Tx, error) {
	if s.Closed() {
		return nil, ErrStoreClosed
	}
	if err := s.writer.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.writer.Release(1)
		return nil, ErrStoreClosed
	}
	tx := &Tx{
		store:   s,
		base:    s.current,
		version: s.version + 1,
		seq:     s.seq,
		tables:  make(map[string]*btree.BTreeG[*row]),
		lists:   make(map[listKey]*listLog),
	}
	s.mu.Unlock()
	return tx, nil
}

// Write runs fn inside a write transaction, committing when fn returns nil
// and rolling back otherwise.
func (s *Store) Write(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.BeginWrite(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close waits for any in-flight write transaction, then invalidates the
// store. All further operations fail with ErrStoreClosed. Close hooks run
// once; closing an already-closed store is a no-op.
func (s *Store) Close() error {
	if err := s.writer.Acquire(context.Background(), 1); err != nil {
		return err
	}
	defer s.writer.Release(1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	hooks := slices.Clone(s.onClose)
	s.onCommit = nil
	s.onClose = nil
	s.mu.Unlock()

	for _, hook := range hooks {
		hook()
	}
	s.logger.Info("store closed", "version", s.version)
	return nil
}

// commit installs a new snapshot as current and runs commit hooks. Called by
// Tx.Commit with the writer slot held.
func (s *Store) commit(snap *Snapshot, seq uint64) (uint64, []CommitHook, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, nil, ErrStoreClosed
	}
	prev := s.version
	s.version = snap.version
	s.seq = seq
	s.current = snap
	s.snapshots[snap.version] = snap
	s.pruneLocked()
	retained := len(s.snapshots)
	hooks := slices.Clone(s.onCommit)
	s.mu.Unlock()

	s.stats.commit(retained)
	return prev, hooks, nil
}

// pruneLocked drops snapshots beyond the retention window. The current
// version and pinned versions are always kept.
func (s *Store) pruneLocked() {
	keep := s.config.MaxRetainedVersions
	versions := make([]uint64, 0, len(s.snapshots))
	for v := range s.snapshots {
		versions = append(versions, v)
	}
	slices.Sort(versions)
	slices.Reverse(versions)
	recent := 0
	for _, v := range versions {
		if v == s.version || s.pins[v] > 0 {
			continue
		}
		recent++
		if recent > keep {
			delete(s.snapshots, v)
		}
	}
}
