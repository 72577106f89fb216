package projections

import "errors"

var (
	// ErrDriverStopped is returned by Run once a driver has reached its
	// terminal state. A stopped driver is never restarted.
	ErrDriverStopped = errors.New("projection driver stopped")

	// ErrDriverRunning is returned by Run while another Run call is active.
	ErrDriverRunning = errors.New("projection driver already running")

	// ErrFatalDrop wraps a subscription drop the driver does not know how to
	// recover from. The projection halts until an operator intervenes.
	ErrFatalDrop = errors.New("fatal subscription drop")

	// ErrRestartLimit is returned when a driver exhausts its restart budget
	// without making progress.
	ErrRestartLimit = errors.New("restart limit reached")

	// ErrDuplicateProjection is returned when two definitions share a name.
	ErrDuplicateProjection = errors.New("duplicate projection name")
)
