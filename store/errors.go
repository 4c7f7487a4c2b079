package store

import "errors"

var (
	// ErrIndexOutOfRange is returned when an index-based operation is given an
	// index outside the valid range for the collection. The operation performs
	// no mutation.
	ErrIndexOutOfRange = errors.New("vantage: index out of range")

	// ErrNotInWriteTransaction is returned when a mutating operation is
	// invoked outside an open write transaction.
	ErrNotInWriteTransaction = errors.New("vantage: not in a write transaction")

	// ErrCrossStore is returned when a row reference from a different store
	// instance is passed to this store.
	ErrCrossStore = errors.New("vantage: row belongs to a different store")

	// ErrRowDeleted is returned when accessing a row that has been deleted or
	// never existed at the requested version.
	ErrRowDeleted = errors.New("vantage: row has been deleted")

	// ErrStoreClosed is returned from all operations after Close.
	ErrStoreClosed = errors.New("vantage: store is closed")

	// ErrNoSuchTable is returned when a table name is not declared in the schema.
	ErrNoSuchTable = errors.New("vantage: unknown table")

	// ErrNoSuchProperty is returned when a property name is not declared for
	// the table, or a computed property is written to.
	ErrNoSuchProperty = errors.New("vantage: unknown property")

	// ErrTypeMismatch is returned when a value does not match the declared
	// property type.
	ErrTypeMismatch = errors.New("vantage: value type does not match property type")

	// ErrVersionRetired is returned when reading at a version that is no
	// longer retained. Pin a version to keep its snapshot alive.
	ErrVersionRetired = errors.New("vantage: version no longer retained")
)
