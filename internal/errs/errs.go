// Package errs defines the sentinel error kinds shared across the
// replication and retention packages, following spec.md §7.
package errs

import "errors"

// Sentinel error kinds. Use errors.Is against these, and %w to wrap the
// underlying driver/transport error for context.
var (
	ErrConfig      = errors.New("config error")
	ErrConnect     = errors.New("connect error")
	ErrPoolBusy    = errors.New("pool busy")
	ErrNotFound    = errors.New("not found")
	ErrProtected   = errors.New("protected")
	ErrDivergence  = errors.New("divergence")
	ErrTransfer    = errors.New("transfer error")
	ErrQuiesce     = errors.New("quiesce error")
	ErrLockHeld    = errors.New("lock held")
	ErrAlreadyOpen = errors.New("already exists")
	ErrCorruption  = errors.New("corrupt snapshot registry")
)

// DivergenceMarker is the stderr substring the consumer process emits when
// the backup side already holds a snapshot at the requested point that does
// not match the incremental base being sent.
const DivergenceMarker = "already exists"
