// Package store provides a versioned in-memory record store with serialized
// write transactions, immutable snapshots, and stable row references.
//
// The store is the substrate the live collection engine is built on: every
// committed write transaction produces a new monotonically increasing
// version, and any number of concurrent readers can hold snapshots of
// retained versions while a writer prepares the next one. Tables are held in
// copy-on-write B-trees, so capturing a snapshot at commit is cheap and old
// versions share structure with new ones.
//
// # Schema
//
// A store is opened against a validated [Schema] declaring tables and typed
// properties, including to-one links, ordered to-many lists, and declared
// backlinks (inverse relationships). Schemas can be built programmatically
// with [NewSchema] or declared in YAML and loaded with [LoadSchema]:
//
//	tables:
//	  - name: projects
//	    properties:
//	      - {name: title, type: string}
//	      - {name: tasks, type: list, target: tasks}
//	  - name: tasks
//	    properties:
//	      - {name: done, type: bool}
//	      - {name: project, type: backlink, target: projects, origin: tasks}
//
// # Transactions
//
// Writes go through [Store.BeginWrite] or the [Store.Write] convenience
// wrapper. Writers are serialized: a new transaction cannot begin until the
// previous commit, including its change-notification delivery, has finished.
// Readers never block and are never blocked.
//
// # Row references
//
// [RowRef] is a stable identity handle, valid across versions until the row
// is deleted. Reading through a deleted reference fails with [ErrRowDeleted];
// passing a reference from another store instance fails with [ErrCrossStore].
//
// # Errors
//
// The package defines domain-specific errors:
//
//   - [ErrIndexOutOfRange] - index outside the collection bounds
//   - [ErrNotInWriteTransaction] - mutation outside an open transaction
//   - [ErrCrossStore] - row reference from a different store instance
//   - [ErrRowDeleted] - row no longer exists at the requested version
//   - [ErrStoreClosed] - store has been closed
//   - [ErrVersionRetired] - version no longer retained (see [Store.Pin])
package store
