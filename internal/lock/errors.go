package lock

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when the lock is held by a live (or unknown) owner.
	ErrBusy = errors.New("lock busy")

	// ErrStale is returned when the lock file belongs to an owner that is
	// verifiably gone.
	ErrStale = errors.New("stale lock")

	// ErrMalformed is returned when a lock file cannot be decoded.
	ErrMalformed = errors.New("malformed lock file")
)

// BusyError reports a lock held by someone else.
// Owner is nil if the lock file could not be decoded (its writer may still
// be filling it in).
type BusyError struct {
	Path  string
	Owner *Owner
}

func (e *BusyError) Error() string {
	if e.Owner == nil {
		return fmt.Sprintf("%s: %v", e.Path, ErrBusy)
	}
	return fmt.Sprintf("%s: %v (pid %d on %s)", e.Path, ErrBusy, e.Owner.PID, e.Owner.Host)
}

func (e *BusyError) Unwrap() error { return ErrBusy }

// StaleError reports a lock file left behind by a dead owner.
type StaleError struct {
	Path  string
	Owner Owner
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("%s: %v (pid %d on %s is gone)", e.Path, ErrStale, e.Owner.PID, e.Owner.Host)
}

func (e *StaleError) Unwrap() error { return ErrStale }

// Token returns a token bound to the dead owner. Releasing it removes the
// stale lock file, unless another owner has replaced it in the meantime.
func (e *StaleError) Token() *Token {
	return &Token{path: e.Path, owner: e.Owner, stale: true}
}
