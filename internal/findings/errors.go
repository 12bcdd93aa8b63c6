package findings

import "errors"

var (
	// ErrNotFound means the finding id is unknown to the store.
	ErrNotFound = errors.New("finding not found")
	// ErrInvalidTransition means the requested lifecycle change is not
	// allowed from the finding's current status.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrInvalidReason means the dismissal reason is not one of the
	// accepted values.
	ErrInvalidReason = errors.New("invalid dismissal reason")
	// ErrActionInFlight means another action for the same finding has not
	// completed yet.
	ErrActionInFlight = errors.New("action already in flight for finding")
	// ErrDispatcherClosed means the dispatcher was shut down and drops all
	// further work.
	ErrDispatcherClosed = errors.New("dispatcher closed")
)
