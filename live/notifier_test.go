package live_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/braudabaugh/vantage/live"
	"github.com/braudabaugh/vantage/store"
)

// recorder collects callback invocations in order.
type recorder struct {
	changes []*live.ChangeSet
	errs    []error
}

func (r *recorder) callback(_ *live.View, cs *live.ChangeSet, err error) {
	r.changes = append(r.changes, cs)
	r.errs = append(r.errs, err)
}

func newNotifier(t *testing.T, s *store.Store) *live.Notifier {
	t.Helper()
	return live.NewNotifier(s, live.NotifierConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestSubscribe_InitialCallback(t *testing.T) {
	s := openStore(t)
	n := newNotifier(t, s)
	v, err := live.NewTableView(s, "tasks")
	if err != nil {
		t.Fatal(err)
	}

	var rec recorder
	tok, err := n.Subscribe(v, rec.callback)
	if err != nil {
		t.Fatal(err)
	}
	defer tok.Unsubscribe()

	if len(rec.changes) != 1 {
		t.Fatalf("got %d callbacks before any commit, want 1", len(rec.changes))
	}
	if rec.changes[0] != nil || rec.errs[0] != nil {
		t.Errorf("initial callback = (%v, %v), want (nil, nil)", rec.changes[0], rec.errs[0])
	}
}

func TestSubscribe_Errors(t *testing.T) {
	a := openStore(t)
	b := openStore(t)
	n := newNotifier(t, a)

	foreignView, err := live.NewTableView(b, "tasks")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := n.Subscribe(foreignView, func(*live.View, *live.ChangeSet, error) {}); !errors.Is(err, store.ErrCrossStore) {
		t.Errorf("Subscribe(foreign view) = %v, want ErrCrossStore", err)
	}

	v, err := live.NewTableView(a, "tasks")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := n.Subscribe(nil, func(*live.View, *live.ChangeSet, error) {}); err == nil {
		t.Error("Subscribe(nil view) succeeded")
	}
	if _, err := n.Subscribe(v, nil); err == nil {
		t.Error("Subscribe(nil callback) succeeded")
	}
}

func TestNotifier_OneDeliveryPerCommit(t *testing.T) {
	s := openStore(t)
	n := newNotifier(t, s)
	v, err := live.NewTableView(s, "tasks")
	if err != nil {
		t.Fatal(err)
	}

	var rec recorder
	tok, err := n.Subscribe(v, rec.callback)
	if err != nil {
		t.Fatal(err)
	}
	defer tok.Unsubscribe()

	const k = 4
	for i := 0; i < k; i++ {
		createTask(t, s, "t", i)
	}

	// One initial callback plus exactly one per commit.
	if len(rec.changes) != 1+k {
		t.Fatalf("got %d callbacks, want %d", len(rec.changes), 1+k)
	}
	for i := 1; i <= k; i++ {
		cs := rec.changes[i]
		if cs == nil {
			t.Fatalf("callback %d has nil change set", i)
		}
		if !slices.Equal(cs.Inserted, []int{i - 1}) {
			t.Errorf("commit %d Inserted = %v, want [%d]", i, cs.Inserted, i-1)
		}
		if len(cs.Deleted) != 0 || len(cs.Modified) != 0 || len(cs.Moves) != 0 {
			t.Errorf("commit %d has spurious changes: %+v", i, cs)
		}
	}
}

func TestNotifier_EmptyDiffSuppressed(t *testing.T) {
	s := openStore(t)
	n := newNotifier(t, s)
	v, err := live.NewTableView(s, "tasks")
	if err != nil {
		t.Fatal(err)
	}

	var rec recorder
	tok, err := n.Subscribe(v, rec.callback)
	if err != nil {
		t.Fatal(err)
	}
	defer tok.Unsubscribe()

	// A commit touching a different table does not reach the subscriber.
	err = s.Write(context.Background(), func(tx *store.Tx) error {
		_, err := tx.Create("people")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.changes) != 1 {
		t.Errorf("got %d callbacks, want only the initial one", len(rec.changes))
	}

	// The skipped advance does not resurface later: the next relevant commit
	// reports only its own changes.
	createTask(t, s, "t", 0)
	if len(rec.changes) != 2 {
		t.Fatalf("got %d callbacks, want 2", len(rec.changes))
	}
	if cs := rec.changes[1]; !slices.Equal(cs.Inserted, []int{0}) || len(cs.Modified) != 0 {
		t.Errorf("change set = %+v, want a single insertion", cs)
	}
}

func TestNotifier_ModifiedRow(t *testing.T) {
	s := openStore(t)
	refs := []store.RowRef{
		createTask(t, s, "a", 0),
		createTask(t, s, "b", 1),
		createTask(t, s, "c", 2),
	}
	n := newNotifier(t, s)
	v, err := live.NewTableView(s, "tasks")
	if err != nil {
		t.Fatal(err)
	}

	var rec recorder
	tok, err := n.Subscribe(v, rec.callback)
	if err != nil {
		t.Fatal(err)
	}
	defer tok.Unsubscribe()

	err = s.Write(context.Background(), func(tx *store.Tx) error {
		return tx.Set(refs[1], "title", "renamed")
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(rec.changes) != 2 {
		t.Fatalf("got %d callbacks, want 2", len(rec.changes))
	}
	cs := rec.changes[1]
	if !slices.Equal(cs.Modified, []int{1}) || !slices.Equal(cs.NewModified, []int{1}) {
		t.Errorf("Modified = %v / %v, want [1] / [1]", cs.Modified, cs.NewModified)
	}
	if len(cs.Inserted) != 0 || len(cs.Deleted) != 0 {
		t.Errorf("spurious structural changes: %+v", cs)
	}
}

func TestNotifier_ListSetReportsModification(t *testing.T) {
	s := openStore(t)
	var tasks []store.RowRef
	for i := 0; i < 5; i++ {
		tasks = append(tasks, createTask(t, s, "t", i))
	}
	project := createProject(t, s, "p", tasks)
	replacement := createTask(t, s, "new", 99)

	n := newNotifier(t, s)
	l, err := live.NewList(s, project, "tasks")
	if err != nil {
		t.Fatal(err)
	}
	var rec recorder
	tok, err := n.Subscribe(l.View, rec.callback)
	if err != nil {
		t.Fatal(err)
	}
	defer tok.Unsubscribe()

	err = s.Write(context.Background(), func(tx *store.Tx) error {
		return l.Set(tx, 2, replacement)
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(rec.changes) != 2 {
		t.Fatalf("got %d callbacks, want 2", len(rec.changes))
	}
	cs := rec.changes[1]
	if !slices.Equal(cs.Modified, []int{2}) || !slices.Equal(cs.NewModified, []int{2}) {
		t.Errorf("Modified = %v / %v, want [2] / [2]", cs.Modified, cs.NewModified)
	}
	if len(cs.Inserted) != 0 || len(cs.Deleted) != 0 {
		t.Errorf("replacement reported as delete+insert: %+v", cs)
	}
}

func TestNotifier_ListMoveReportsMove(t *testing.T) {
	s := openStore(t)
	var tasks []store.RowRef
	for i := 0; i < 5; i++ {
		tasks = append(tasks, createTask(t, s, "t", i))
	}
	project := createProject(t, s, "p", tasks)

	n := newNotifier(t, s)
	l, err := live.NewList(s, project, "tasks")
	if err != nil {
		t.Fatal(err)
	}
	var rec recorder
	tok, err := n.Subscribe(l.View, rec.callback)
	if err != nil {
		t.Fatal(err)
	}
	defer tok.Unsubscribe()

	err = s.Write(context.Background(), func(tx *store.Tx) error {
		return l.Move(tx, tasks[0], 3)
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(rec.changes) != 2 {
		t.Fatalf("got %d callbacks, want 2", len(rec.changes))
	}
	cs := rec.changes[1]
	if !slices.Equal(cs.Moves, []live.Move{{From: 0, To: 3}}) {
		t.Errorf("Moves = %v, want [{0 3}]", cs.Moves)
	}
	if len(cs.Deleted) != 0 || len(cs.Inserted) != 0 {
		t.Errorf("move reported as delete+insert: %+v", cs)
	}

	// A no-op move produces no delivery at all.
	err = s.Write(context.Background(), func(tx *store.Tx) error {
		return l.Move(tx, tasks[4], 4)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(rec.changes) != 2 {
		t.Errorf("no-op move delivered a change set")
	}
}

func TestNotifier_Unsubscribe(t *testing.T) {
	s := openStore(t)
	n := newNotifier(t, s)
	v, err := live.NewTableView(s, "tasks")
	if err != nil {
		t.Fatal(err)
	}
	var rec recorder
	tok, err := n.Subscribe(v, rec.callback)
	if err != nil {
		t.Fatal(err)
	}
	tok.Unsubscribe()
	tok.Unsubscribe() // idempotent

	createTask(t, s, "t", 0)
	if len(rec.changes) != 1 {
		t.Errorf("got %d callbacks after unsubscribe, want 1", len(rec.changes))
	}
}

func TestNotifier_UnsubscribeInsideCallback(t *testing.T) {
	s := openStore(t)
	n := newNotifier(t, s)
	v, err := live.NewTableView(s, "tasks")
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	var tok *live.Token
	tok, err = n.Subscribe(v, func(_ *live.View, cs *live.ChangeSet, _ error) {
		calls++
		if cs != nil {
			tok.Unsubscribe()
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	createTask(t, s, "a", 0)
	createTask(t, s, "b", 1)
	if calls != 2 { // initial + first commit only
		t.Errorf("got %d callbacks, want 2", calls)
	}
}

func TestNotifier_ConcurrentUnsubscribe(t *testing.T) {
	s := openStore(t)
	n := newNotifier(t, s)
	v, err := live.NewTableView(s, "tasks")
	if err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	calls := 0
	tok, err := n.Subscribe(v, func(*live.View, *live.ChangeSet, error) {
		mu.Lock()
		calls++
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}

	// Commits run on a second goroutine while this one disposes the token.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			err := s.Write(context.Background(), func(tx *store.Tx) error {
				_, err := tx.Create("tasks")
				return err
			})
			if err != nil {
				t.Error(err)
				return
			}
		}
	}()
	tok.Unsubscribe()
	<-done

	// Deliveries are synchronous with their commit, so once the writer has
	// drained, the disposed subscription must stay silent for good.
	mu.Lock()
	settled := calls
	mu.Unlock()
	createTask(t, s, "late", 0)
	mu.Lock()
	final := calls
	mu.Unlock()
	if final != settled {
		t.Errorf("delivery after unsubscribe: %d then %d callbacks", settled, final)
	}
}

func TestSubscribe_InitialCallbackPrecedesDeliveries(t *testing.T) {
	s := openStore(t)
	n := newNotifier(t, s)

	// A writer keeps committing while subscriptions come and go; the first
	// callback every subscriber sees must be the nil initial-state one.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 30; i++ {
			err := s.Write(context.Background(), func(tx *store.Tx) error {
				_, err := tx.Create("tasks")
				return err
			})
			if err != nil {
				t.Error(err)
				return
			}
		}
	}()

	for i := 0; i < 10; i++ {
		v, err := live.NewTableView(s, "tasks")
		if err != nil {
			t.Fatal(err)
		}
		var mu sync.Mutex
		var first *live.ChangeSet
		seen := false
		tok, err := n.Subscribe(v, func(_ *live.View, cs *live.ChangeSet, _ error) {
			mu.Lock()
			if !seen {
				seen = true
				first = cs
			}
			mu.Unlock()
		})
		if err != nil {
			t.Fatal(err)
		}
		mu.Lock()
		if !seen {
			t.Error("Subscribe returned before the initial callback ran")
		}
		if first != nil {
			t.Errorf("first callback carried a change set: %+v", first)
		}
		mu.Unlock()
		tok.Unsubscribe()
	}
	<-done
}

func TestNotifier_InvalidationIsTerminal(t *testing.T) {
	s := openStore(t)
	task := createTask(t, s, "a", 0)
	project := createProject(t, s, "p", []store.RowRef{task})

	n := newNotifier(t, s)
	l, err := live.NewList(s, project, "tasks")
	if err != nil {
		t.Fatal(err)
	}
	var rec recorder
	tok, err := n.Subscribe(l.View, rec.callback)
	if err != nil {
		t.Fatal(err)
	}
	defer tok.Unsubscribe()

	err = s.Write(context.Background(), func(tx *store.Tx) error {
		return tx.Delete(project)
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(rec.errs) != 2 {
		t.Fatalf("got %d callbacks, want 2", len(rec.errs))
	}
	if !errors.Is(rec.errs[1], live.ErrViewInvalid) {
		t.Errorf("final callback err = %v, want ErrViewInvalid", rec.errs[1])
	}

	// The subscription ended; further commits are silent.
	createTask(t, s, "later", 1)
	if len(rec.errs) != 2 {
		t.Errorf("delivery after invalidation: %d callbacks", len(rec.errs))
	}
}

func TestNotifier_CloseDeliversInvalidation(t *testing.T) {
	cfg := store.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := store.Open(testSchema(t), cfg)
	if err != nil {
		t.Fatal(err)
	}
	n := newNotifier(t, s)
	v, err := live.NewTableView(s, "tasks")
	if err != nil {
		t.Fatal(err)
	}
	var rec recorder
	if _, err := n.Subscribe(v, rec.callback); err != nil {
		t.Fatal(err)
	}

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if len(rec.errs) != 2 {
		t.Fatalf("got %d callbacks, want 2", len(rec.errs))
	}
	if !errors.Is(rec.errs[1], live.ErrViewInvalid) {
		t.Errorf("close callback err = %v, want ErrViewInvalid", rec.errs[1])
	}

	// Subscriptions are refused once closed.
	if _, err := n.Subscribe(v, rec.callback); !errors.Is(err, live.ErrViewInvalid) {
		t.Errorf("Subscribe after close = %v, want ErrViewInvalid", err)
	}
}

func TestNotifier_QueryViewMembershipChanges(t *testing.T) {
	s := openStore(t)
	var refs []store.RowRef
	for i := 0; i < 6; i++ {
		refs = append(refs, createTask(t, s, "t", i))
	}
	n := newNotifier(t, s)
	v, err := live.NewQueryView(s, "tasks", "rank >= 3")
	if err != nil {
		t.Fatal(err)
	}
	var rec recorder
	tok, err := n.Subscribe(v, rec.callback)
	if err != nil {
		t.Fatal(err)
	}
	defer tok.Unsubscribe()

	// View holds ranks 3,4,5. Promote rank 0 to 9: it enters at the end
	// (insertion order); demote rank 4: it leaves from the middle.
	err = s.Write(context.Background(), func(tx *store.Tx) error {
		if err := tx.Set(refs[0], "rank", 9); err != nil {
			return err
		}
		return tx.Set(refs[4], "rank", 0)
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(rec.changes) != 2 {
		t.Fatalf("got %d callbacks, want 2", len(rec.changes))
	}
	cs := rec.changes[1]
	if !slices.Equal(cs.Deleted, []int{1}) {
		t.Errorf("Deleted = %v, want [1]", cs.Deleted)
	}
	if !slices.Equal(cs.Inserted, []int{0}) {
		t.Errorf("Inserted = %v, want [0]", cs.Inserted)
	}
}
