// Package live implements live collections over a versioned store: ordered
// views of query results and of managed relationships that can be
// re-materialized against any retained version, plus transactional
// change-set notifications.
//
// # Views
//
// A [View] is created over a whole table ([NewTableView]), over the rows
// matching a filter expression ([NewQueryView]), or over one ordered
// relationship ([NewList]). Views track the store's latest committed
// version; [View.Pin] freezes one for consistent reads across commits.
// Materializations are cached per version, so reading the same view twice
// at one version returns an identical sequence.
//
// # Notifications
//
// A [Notifier] owns the subscription registry for one store. Subscribing a
// view yields one immediate callback with a nil [ChangeSet] (initial
// state), then exactly one callback per committed version in which the
// view's contents changed, carrying the exact insert/delete/modify/move
// diff. Delivery is synchronous with the commit: the next write transaction
// cannot begin until all callbacks for the previous one have returned.
//
// When a view's owning row is deleted or its store closes, each of its
// subscriptions receives one final callback with [ErrViewInvalid] and is
// then removed; the view itself reports IsValid() == false forever after.
package live
