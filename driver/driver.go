package driver

import (
	"log/slog"

	"github.com/hupe1980/casefs/internal/fs"
)

// Kind identifies a driver implementation. It is persisted with the area.
type Kind string

// Driver is an open connection to the records of one storage area.
//
// Implementations must be safe for concurrent use. Their in-memory state is
// private to the instance: two drivers opened on the same directory never
// share caches or indexes.
type Driver interface {
	// Get returns the value stored under key. ok is false if the key is
	// absent; absence is never an error.
	Get(key string) (value []byte, ok bool, err error)

	// Put stores value under key, replacing any previous value.
	Put(key string, value []byte) error

	// Delete removes key. Deleting an absent key succeeds.
	Delete(key string) error

	// Keys returns all live keys in byte order.
	Keys() ([]string, error)

	// Flush durably persists every write accepted so far.
	Flush() error

	// Close releases resources. Failures are logged, not returned.
	Close()
}

// Compactor is implemented by drivers that can reclaim space held by
// overwritten and deleted records.
type Compactor interface {
	Compact() error
}

// Options are passed to a factory by the area that owns the driver.
type Options struct {
	FS       fs.FileSystem
	Logger   *slog.Logger
	ReadOnly bool
}

// WithDefaults fills unset fields.
func (o Options) WithDefaults() Options {
	if o.FS == nil {
		o.FS = fs.Default
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Factory creates and opens drivers of one kind.
type Factory interface {
	// Kind returns the persisted identifier of this driver.
	Kind() Kind

	// Validate checks cfg without touching the filesystem.
	Validate(cfg Config) error

	// Init lays out an empty store under dir. It is called once, on a
	// staging directory that is published atomically afterwards.
	Init(dir string, cfg Config, opts Options) error

	// Open opens the store under dir.
	Open(dir string, cfg Config, opts Options) (Driver, error)
}
