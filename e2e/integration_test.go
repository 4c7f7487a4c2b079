//go:build e2e

// Package e2e contains end-to-end tests exercising the full stack: schema
// loading, transactional writes, live views, and change notifications.
// Run with: go test -tags=e2e -v ./e2e/...
package e2e

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/braudabaugh/vantage/live"
	"github.com/braudabaugh/vantage/store"
)

const schemaYAML = `
tables:
  - name: boards
    properties:
      - name: name
        type: string
      - name: cards
        type: list
        target: cards
  - name: cards
    properties:
      - name: title
        type: string
      - name: points
        type: int
      - name: done
        type: bool
      - name: board
        type: backlink
        target: boards
        origin: cards
`

func openStore(t *testing.T, reg prometheus.Registerer) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "schema.yaml")
	if err := os.WriteFile(path, []byte(schemaYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	schema, err := store.LoadSchema(path)
	if err != nil {
		t.Fatalf("LoadSchema failed: %v", err)
	}
	cfg := store.DefaultConfig()
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Metrics = reg
	s, err := store.Open(schema, cfg)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createCard(t *testing.T, s *store.Store, title string, points int) store.RowRef {
	t.Helper()
	var ref store.RowRef
	err := s.Write(context.Background(), func(tx *store.Tx) error {
		var err error
		if ref, err = tx.Create("cards"); err != nil {
			return err
		}
		if err := tx.Set(ref, "title", title); err != nil {
			return err
		}
		if err := tx.Set(ref, "points", points); err != nil {
			return err
		}
		return tx.Set(ref, "done", points%2 == 0)
	})
	if err != nil {
		t.Fatalf("create card: %v", err)
	}
	return ref
}

func TestFullWorkflow(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := openStore(t, reg)
	ctx := context.Background()

	// Populate a board with ten cards.
	var cards []store.RowRef
	for i := 0; i < 10; i++ {
		cards = append(cards, createCard(t, s, fmt.Sprintf("card-%d", i), i))
	}
	var board store.RowRef
	err := s.Write(ctx, func(tx *store.Tx) error {
		var err error
		if board, err = tx.Create("boards"); err != nil {
			return err
		}
		if err := tx.Set(board, "name", "sprint"); err != nil {
			return err
		}
		return tx.Set(board, "cards", slices.Clone(cards))
	})
	if err != nil {
		t.Fatal(err)
	}

	// A filtered view sees exactly the matching rows.
	filtered, err := live.NewQueryView(s, "cards", "points >= 5")
	if err != nil {
		t.Fatal(err)
	}
	refs, err := filtered.Materialize()
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(refs, cards[5:]) {
		t.Errorf("filtered view = %v, want points 5..9", refs)
	}

	// Sort plus distinct collapses the view to one row per done value.
	grouped, err := live.NewQueryView(s, "cards",
		"TRUEPREDICATE SORT(done ASC, points DESC) DISTINCT(done)")
	if err != nil {
		t.Fatal(err)
	}
	snap, err := s.Current()
	if err != nil {
		t.Fatal(err)
	}
	refs, err = grouped.Materialize()
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 2 {
		t.Fatalf("grouped view has %d rows, want 2", len(refs))
	}
	for i, want := range []int64{9, 8} {
		got, err := snap.Value(refs[i], "points")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Errorf("grouped row %d points = %v, want %d", i, got, want)
		}
	}

	// The registry saw the store's commit counter.
	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, len(families))
	for i, f := range families {
		names[i] = f.GetName()
	}
	if !slices.Contains(names, "vantage_commits_total") {
		t.Errorf("metrics registry missing commit counter, have %v", names)
	}
}

func TestNotificationWorkflow(t *testing.T) {
	s := openStore(t, nil)
	ctx := context.Background()

	var board store.RowRef
	err := s.Write(ctx, func(tx *store.Tx) error {
		var err error
		board, err = tx.Create("boards")
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	notifier := live.NewNotifier(s, live.NotifierConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	list, err := live.NewList(s, board, "cards")
	if err != nil {
		t.Fatal(err)
	}

	var sets []*live.ChangeSet
	var errs []error
	tok, err := notifier.Subscribe(list.View, func(_ *live.View, cs *live.ChangeSet, err error) {
		sets = append(sets, cs)
		errs = append(errs, err)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer tok.Unsubscribe()

	// K appends arrive as K change sets with a single insertion each.
	const k = 5
	var cards []store.RowRef
	for i := 0; i < k; i++ {
		card := createCard(t, s, fmt.Sprintf("card-%d", i), i)
		cards = append(cards, card)
		err := s.Write(ctx, func(tx *store.Tx) error {
			return list.Append(tx, card)
		})
		if err != nil {
			t.Fatal(err)
		}
	}
	// The card-creation commits do not touch the list, so only the appends
	// are delivered, after the initial nil change set.
	if len(sets) != 1+k {
		t.Fatalf("got %d callbacks, want %d", len(sets), 1+k)
	}
	for i := 1; i <= k; i++ {
		if !slices.Equal(sets[i].Inserted, []int{i - 1}) {
			t.Errorf("append %d Inserted = %v, want [%d]", i, sets[i].Inserted, i-1)
		}
	}

	// One commit with a reorder and a replacement arrives as one change set.
	replacement := createCard(t, s, "replacement", 99)
	err = s.Write(ctx, func(tx *store.Tx) error {
		if err := list.Move(tx, cards[0], 2); err != nil {
			return err
		}
		return list.Set(tx, 4, replacement)
	})
	if err != nil {
		t.Fatal(err)
	}
	last := sets[len(sets)-1]
	if !slices.Equal(last.Moves, []live.Move{{From: 0, To: 2}}) {
		t.Errorf("Moves = %v, want [{0 2}]", last.Moves)
	}
	if !slices.Equal(last.Modified, []int{4}) {
		t.Errorf("Modified = %v, want [4]", last.Modified)
	}

	// Deleting the owner invalidates the subscription with one final error.
	before := len(errs)
	err = s.Write(ctx, func(tx *store.Tx) error {
		return tx.Delete(board)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(errs) != before+1 || !errors.Is(errs[len(errs)-1], live.ErrViewInvalid) {
		t.Errorf("expected one final ErrViewInvalid callback, got %v", errs[before:])
	}
	if list.IsValid() {
		t.Error("list still valid after owner deletion")
	}
}

func TestConcurrentReadersAndWriter(t *testing.T) {
	s := openStore(t, nil)
	ctx := context.Background()

	view, err := live.NewQueryView(s, "cards", "points >= 0 SORT(points DESC)")
	if err != nil {
		t.Fatal(err)
	}

	g, ctx := errgroup.WithContext(ctx)

	// One writer commits a hundred cards, one at a time.
	g.Go(func() error {
		for i := 0; i < 100; i++ {
			err := s.Write(ctx, func(tx *store.Tx) error {
				ref, err := tx.Create("cards")
				if err != nil {
					return err
				}
				return tx.Set(ref, "points", i)
			})
			if err != nil {
				return err
			}
		}
		return nil
	})

	// Readers continuously materialize; every observation must be internally
	// consistent: sorted by points descending with no gaps.
	for r := 0; r < 4; r++ {
		g.Go(func() error {
			seen := 0
			for seen < 100 {
				refs, err := view.Materialize()
				if err != nil {
					return err
				}
				// Point values never change after creation, so reading them
				// off the current snapshot is safe even if a commit landed
				// since the materialization.
				snap, err := s.Current()
				if err != nil {
					return err
				}
				prev := int64(-1)
				for i := len(refs) - 1; i >= 0; i-- {
					v, err := snap.Value(refs[i], "points")
					if err != nil {
						return err
					}
					points := v.(int64)
					if points != prev+1 {
						return fmt.Errorf("gap in observed sequence: %d after %d", points, prev)
					}
					prev = points
				}
				seen = len(refs)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}
