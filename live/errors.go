package live

import "errors"

var (
	// ErrViewInvalid is returned once a view's owning row has been deleted
	// or its store closed. It is terminal: the view never becomes valid
	// again.
	ErrViewInvalid = errors.New("vantage: view is no longer valid")

	// ErrInternalDiff wraps a differencer invariant violation. It is not
	// reachable from correct view usage and terminates the affected
	// subscription.
	ErrInternalDiff = errors.New("vantage: differencer invariant violated")
)
