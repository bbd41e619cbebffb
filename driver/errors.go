package driver

import "errors"

var (
	// ErrReadOnly is returned by mutating operations on a driver opened
	// read-only.
	ErrReadOnly = errors.New("driver is read-only")

	// ErrCorrupt is returned when on-disk state is inconsistent. A driver
	// that returns it from a mutating call is poisoned: every further call
	// fails with the same error.
	ErrCorrupt = errors.New("data corruption detected")

	// ErrClosed is returned when an operation is attempted on a closed driver.
	ErrClosed = errors.New("driver closed")

	// ErrUnknownKind is returned when a kind has no registered factory.
	ErrUnknownKind = errors.New("unknown driver kind")

	// ErrDuplicateKind is returned when a kind is registered twice.
	ErrDuplicateKind = errors.New("driver kind already registered")

	// ErrInvalidConfig is returned when a driver rejects its configuration.
	ErrInvalidConfig = errors.New("invalid driver config")

	// ErrKeyTooLarge is returned for keys a driver cannot index.
	ErrKeyTooLarge = errors.New("key too large")
)
