package live

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/braudabaugh/vantage/store"
)

// Callback receives change notifications for one subscribed view.
//
// The first delivery happens synchronously inside Subscribe with a nil
// change set, signalling the initial state. Afterwards the callback runs
// exactly once per committed version in which the view's materialization
// changed, with the diff against the previously delivered state. If the
// view becomes invalid, the callback runs one final time with a non-nil
// error and the subscription ends.
type Callback func(view *View, change *ChangeSet, err error)

// NotifierConfig configures a Notifier.
type NotifierConfig struct {
	// Logger receives structured log output. Default: slog.Default()
	Logger *slog.Logger

	// Metrics is an optional Prometheus registerer.
	Metrics prometheus.Registerer
}

// Notifier owns the subscription registry for one store and delivers change
// sets as versions advance. Delivery runs synchronously on the committing
// goroutine, after the new version became current and before the next write
// transaction can begin, so each subscriber sees every advance exactly once
// and in order.
type Notifier struct {
	store  *store.Store
	logger *slog.Logger
	stats  *nmetrics

	mu     sync.Mutex
	closed bool
	subs   map[uuid.UUID]*subscription
	order  []uuid.UUID
}

type subscription struct {
	id   uuid.UUID
	view *View
	cb   Callback

	// prev is the materialization delivered (or silently advanced past)
	// last, with the version it was computed against. Only the delivery
	// goroutine touches these after subscription.
	prev        []store.RowRef
	prevVersion uint64

	// active is guarded by the notifier mutex: cleared by Unsubscribe and
	// close, read immediately before each delivery.
	active bool
}

// Token identifies one subscription. Disposing it stops deliveries.
type Token struct {
	n  *Notifier
	id uuid.UUID
}

// NewNotifier creates a notifier bound to s and hooks it into the store's
// commit and close lifecycle.
func NewNotifier(s *store.Store, config NotifierConfig) *Notifier {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	n := &Notifier{
		store:  s,
		logger: config.Logger,
		stats:  newNotifierMetrics(config.Metrics),
		subs:   make(map[uuid.UUID]*subscription),
	}
	s.AddCommitHook(n.deliver)
	s.AddCloseHook(n.close)
	return n
}

// Subscribe registers a callback for changes to view. The callback is
// invoked once immediately with a nil change set before Subscribe returns.
func (n *Notifier) Subscribe(view *View, cb Callback) (*Token, error) {
	if view == nil || cb == nil {
		return nil, errors.New("vantage: nil view or callback")
	}
	if view.Store() != n.store {
		return nil, store.ErrCrossStore
	}
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrViewInvalid
	}
	n.mu.Unlock()

	version := n.store.CurrentVersion()
	refs, err := view.MaterializeAt(version)
	if err != nil {
		return nil, err
	}

	sub := &subscription{
		id:          uuid.New(),
		view:        view,
		cb:          cb,
		prev:        refs,
		prevVersion: version,
		active:      true,
	}

	// The initial-state callback runs before the subscription is published,
	// so no diff delivery can overtake it.
	cb(view, nil, nil)

	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return nil, ErrViewInvalid
	}
	n.subs[sub.id] = sub
	n.order = append(n.order, sub.id)
	count := len(n.subs)
	n.mu.Unlock()

	n.stats.subscriptions(count)
	return &Token{n: n, id: sub.id}, nil
}

// Unsubscribe disposes the subscription. It is safe to call at any time,
// including from inside the subscription's own callback, and is idempotent.
// It takes effect no later than the next delivery.
func (t *Token) Unsubscribe() {
	if t == nil || t.n == nil {
		return
	}
	t.n.remove(t.id)
}

func (n *Notifier) remove(id uuid.UUID) {
	n.mu.Lock()
	sub, ok := n.subs[id]
	if ok {
		sub.active = false
		delete(n.subs, id)
		n.order = slices.DeleteFunc(n.order, func(o uuid.UUID) bool { return o == id })
	}
	count := len(n.subs)
	n.mu.Unlock()
	if ok {
		n.stats.subscriptions(count)
	}
}

// deliver is the commit hook: re-materializes every subscribed view at the
// new version, diffs against the last delivered state, and invokes
// callbacks for non-empty diffs.
func (n *Notifier) deliver(prev, next uint64) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	ids := slices.Clone(n.order)
	n.mu.Unlock()

	snap, err := n.store.At(next)
	if err != nil {
		n.logger.Error("version vanished before delivery", "version", next, "error", err)
		return
	}

	for _, id := range ids {
		n.mu.Lock()
		sub, ok := n.subs[id]
		active := ok && sub.active
		n.mu.Unlock()
		if !active {
			// Disposed after this advance was triggered; no delivery.
			continue
		}

		refs, err := sub.view.MaterializeAt(next)
		if err != nil {
			// Terminal: owning row deleted or store closed underneath us.
			n.remove(id)
			sub.cb(sub.view, nil, ErrViewInvalid)
			continue
		}

		cs, err := changes(snap, sub.view, sub.prev, refs, sub.prevVersion)
		if err != nil {
			n.logger.Error("differencer failed",
				"version", next,
				"error", err,
			)
			n.remove(id)
			sub.cb(sub.view, nil, fmt.Errorf("%w: %v", ErrInternalDiff, err))
			continue
		}

		sub.prev = refs
		sub.prevVersion = next
		if cs.Empty() {
			continue
		}
		n.stats.delivered()
		sub.cb(sub.view, cs, nil)
	}
}

// Close tears the registry down ahead of the store: every live subscription
// receives one final invalidation callback and no further deliveries happen.
// The store's own Close triggers the same teardown.
func (n *Notifier) Close() {
	n.close()
}

// close is the store close hook: every live subscription receives one final
// invalidation callback, then the registry shuts down.
func (n *Notifier) close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	// The active flag is guarded by mu, so mark everything inactive while
	// still holding it; the final callbacks run unlocked afterwards.
	final := make([]*subscription, 0, len(n.order))
	for _, id := range n.order {
		sub := n.subs[id]
		if sub != nil && sub.active {
			sub.active = false
			final = append(final, sub)
		}
	}
	n.order = nil
	n.subs = make(map[uuid.UUID]*subscription)
	n.mu.Unlock()

	n.stats.subscriptions(0)
	for _, sub := range final {
		sub.cb(sub.view, nil, ErrViewInvalid)
	}
	n.logger.Info("notifier closed", "subscriptions", len(final))
}
