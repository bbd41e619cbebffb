package casefs

import (
	"errors"
	"fmt"
	"time"

	"github.com/hupe1980/casefs/driver"
	"github.com/hupe1980/casefs/internal/lock"
)

var (
	// ErrNotFound is returned when no storage area exists at a path.
	ErrNotFound = errors.New("storage area not found")

	// ErrAlreadyExists is returned by Create when an area with a different
	// driver kind or config occupies the path.
	ErrAlreadyExists = errors.New("storage area already exists")

	// ErrLocked is returned when another read-write mount holds the area.
	ErrLocked = errors.New("storage area locked")

	// ErrBusy is an alias of ErrLocked.
	ErrBusy = ErrLocked

	// ErrStale is matched, in addition to ErrLocked, when the lock holder is
	// verifiably gone and stale lock recovery is disabled.
	ErrStale = errors.New("stale lock")

	// ErrReadOnly is returned by mutating operations on a read-only handle.
	ErrReadOnly = errors.New("read-only violation")

	// ErrStorage is matched by every *StorageError.
	ErrStorage = errors.New("storage error")

	// ErrClosed is returned by operations on a handle whose reference count
	// has reached zero.
	ErrClosed = errors.New("handle closed")

	// ErrInvalidKey is returned for keys that cannot be encoded.
	ErrInvalidKey = errors.New("invalid key")

	// ErrKindMismatch is returned by Mount when the area was created with a
	// different driver kind than the caller expects.
	ErrKindMismatch = errors.New("driver kind mismatch")

	// ErrUnknownDriver is returned when no factory is registered for a kind.
	ErrUnknownDriver = errors.New("unknown driver kind")
)

// LockHolder describes the process recorded in a lock file.
type LockHolder struct {
	PID       int
	Host      string
	StartTime uint64
	Created   time.Time
}

func holderOf(o *lock.Owner) *LockHolder {
	if o == nil {
		return nil
	}
	return &LockHolder{PID: o.PID, Host: o.Host, StartTime: o.StartTime, Created: o.Created}
}

// LockedError reports that a read-write mount was refused because the area's
// lock file exists.
//
// Holder is nil when the lock file could not be decoded. Stale is true when
// the holder is verifiably gone; the lock file is then only removed by a
// registry created WithStaleLockRecovery(true).
type LockedError struct {
	Path   string
	Holder *LockHolder
	Stale  bool
}

func (e *LockedError) Error() string {
	switch {
	case e.Holder == nil:
		return fmt.Sprintf("%s: %v", e.Path, ErrLocked)
	case e.Stale:
		return fmt.Sprintf("%s: %v by dead process %d on %s", e.Path, ErrStale, e.Holder.PID, e.Holder.Host)
	default:
		return fmt.Sprintf("%s: %v by process %d on %s", e.Path, ErrLocked, e.Holder.PID, e.Holder.Host)
	}
}

// Is matches ErrLocked, and ErrStale for stale locks.
func (e *LockedError) Is(target error) bool {
	return target == ErrLocked || (e.Stale && target == ErrStale)
}

// StorageError is an I/O or corruption failure of the underlying storage.
//
// It aborts the operation that returned it. If Fatal reports true the
// handle is poisoned and every further call fails with the same error until
// the handle is torn down.
type StorageError struct {
	Op    string
	Path  string
	Err   error
	fatal bool
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap exposes both ErrStorage and the underlying cause.
func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }

// Fatal reports whether the error poisoned the handle.
func (e *StorageError) Fatal() bool { return e.fatal }

// translateError maps driver and lock errors onto the public taxonomy.
func translateError(op, path string, err error) error {
	if err == nil {
		return nil
	}

	var be *lock.BusyError
	if errors.As(err, &be) {
		return &LockedError{Path: path, Holder: holderOf(be.Owner)}
	}
	var se *lock.StaleError
	if errors.As(err, &se) {
		return &LockedError{Path: path, Holder: holderOf(&se.Owner), Stale: true}
	}

	switch {
	case errors.Is(err, driver.ErrReadOnly):
		return fmt.Errorf("%w: %s %s", ErrReadOnly, op, path)
	case errors.Is(err, driver.ErrClosed):
		return fmt.Errorf("%w: %s %s", ErrClosed, op, path)
	case errors.Is(err, driver.ErrKeyTooLarge):
		return fmt.Errorf("%w: %w", ErrInvalidKey, err)
	case errors.Is(err, driver.ErrUnknownKind):
		return fmt.Errorf("%w: %w", ErrUnknownDriver, err)
	}
	return &StorageError{Op: op, Path: path, Err: err, fatal: errors.Is(err, driver.ErrCorrupt)}
}
