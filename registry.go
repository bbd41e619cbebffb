package casefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hupe1980/casefs/driver"
	"github.com/hupe1980/casefs/internal/lock"
	"github.com/hupe1980/casefs/internal/marker"
)

// AreaInfo describes a storage area as recorded at creation.
type AreaInfo struct {
	Path    string
	ID      string
	Kind    driver.Kind
	Config  driver.Config
	Created time.Time
}

// Registry creates, inspects and mounts storage areas.
//
// A registry holds no per-area state: any number of registries, in this or
// other processes, may work on the same areas. Mutual exclusion of writers
// rests entirely on the lock file.
type Registry struct {
	opts  options
	locks *lock.Manager
}

// NewRegistry creates a registry.
func NewRegistry(optFns ...Option) *Registry {
	o := applyOptions(optFns)
	var lockOpts []lock.Option
	if o.prober != nil {
		lockOpts = append(lockOpts, lock.WithProber(o.prober))
	}
	return &Registry{
		opts:  o,
		locks: lock.NewManager(o.fs, lockOpts...),
	}
}

// Drivers returns the driver table of the registry.
func (r *Registry) Drivers() *driver.Table { return r.opts.drivers }

func canonical(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("%w: empty path", ErrNotFound)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	return abs, nil
}

// LockPath returns the path of the lock file of the area at path:
// <area>/<base name of area>.lock.
func (r *Registry) LockPath(path string) (string, error) {
	p, err := canonical(path)
	if err != nil {
		return "", err
	}
	return lockPath(p), nil
}

func lockPath(area string) string {
	return filepath.Join(area, filepath.Base(area)+".lock")
}

func (r *Registry) driverOptions(path string, readOnly bool) driver.Options {
	return driver.Options{
		FS:       r.opts.fs,
		Logger:   r.opts.logger.With("area", path),
		ReadOnly: readOnly,
	}
}

// Exists reports whether a storage area marker is present at path. It takes
// no lock and never modifies the file system.
func (r *Registry) Exists(path string) bool {
	p, err := canonical(path)
	if err != nil {
		return false
	}
	return marker.Exists(r.opts.fs, p)
}

// Create makes a new storage area at path using the driver kind (DefaultKind
// if empty) and its configuration.
//
// The layout is built in a staging directory and renamed into place, so
// concurrent creators never observe or produce a partial area. Creating an
// area that already exists with the same kind and config succeeds; a
// conflicting one fails with ErrAlreadyExists.
func (r *Registry) Create(path string, kind driver.Kind, cfg driver.Config) (err error) {
	if kind == "" {
		kind = DefaultKind
	}
	p, err := canonical(path)
	if err != nil {
		return err
	}
	defer func() { r.opts.logger.LogCreate(p, string(kind), err) }()

	f, err := r.opts.drivers.Lookup(kind)
	if err != nil {
		return translateError("create", p, err)
	}
	if err := f.Validate(cfg); err != nil {
		return err
	}

	m := marker.New(kind, cfg)
	got, err := marker.Publish(r.opts.fs, p, m, func(staging string) error {
		return f.Init(staging, cfg, r.driverOptions(p, false))
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, marker.ErrExists):
		if got.Matches(kind, cfg) {
			return nil
		}
		return fmt.Errorf("%w: %s holds kind %q with config %v", ErrAlreadyExists, p, got.Kind, got.Config)
	default:
		return translateError("create", p, err)
	}
}

// Info returns the metadata of the area at path.
func (r *Registry) Info(path string) (*AreaInfo, error) {
	p, err := canonical(path)
	if err != nil {
		return nil, err
	}
	m, err := r.readMarker(p)
	if err != nil {
		return nil, err
	}
	return &AreaInfo{Path: p, ID: m.ID, Kind: m.Kind, Config: m.Config.Clone(), Created: m.CreatedAt}, nil
}

func (r *Registry) readMarker(p string) (*marker.Marker, error) {
	m, err := marker.Read(r.opts.fs, p)
	if errors.Is(err, marker.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if err != nil {
		return nil, translateError("read marker", p, err)
	}
	return m, nil
}

// LockHolder returns the holder recorded in the lock file of the area at
// path. ok is false if the area is not locked. The lock file is not touched.
func (r *Registry) LockHolder(path string) (holder *LockHolder, ok bool, err error) {
	p, err := canonical(path)
	if err != nil {
		return nil, false, err
	}
	owner, err := r.locks.Inspect(lockPath(p))
	switch {
	case err == nil:
		return holderOf(owner), true, nil
	case errors.Is(err, os.ErrNotExist):
		return nil, false, nil
	case errors.Is(err, lock.ErrMalformed):
		// Being written, or garbage: either way the area is locked.
		return nil, true, nil
	default:
		return nil, false, translateError("inspect lock", p, err)
	}
}

// Mount opens the storage area at path and returns a handle holding one
// reference.
//
// A read-write mount first takes the area's lock file and fails fast with a
// *LockedError (matching ErrLocked) if another read-write mount holds it.
// A read-only mount never touches the lock file. Mount never retries; see
// MountWait for a caller-side wait loop.
func (r *Registry) Mount(path string, readOnly bool, optFns ...MountOption) (h *Handle, err error) {
	mo := applyMountOptions(optFns)
	p, err := canonical(path)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		r.opts.metrics.RecordMount(readOnly, time.Since(start), err)
		r.opts.logger.LogMount(p, readOnly, err)
	}()

	m, err := r.readMarker(p)
	if err != nil {
		return nil, err
	}
	if mo.kind != "" && mo.kind != m.Kind {
		return nil, fmt.Errorf("%w: %s is %q, not %q", ErrKindMismatch, p, m.Kind, mo.kind)
	}
	f, err := r.opts.drivers.Lookup(m.Kind)
	if err != nil {
		return nil, translateError("mount", p, err)
	}

	var token *lock.Token
	if !readOnly {
		token, err = r.acquire(p)
		if err != nil {
			return nil, err
		}
	}

	drv, err := f.Open(p, m.Config, r.driverOptions(p, readOnly))
	if err != nil {
		if rerr := r.locks.Release(token); rerr != nil {
			err = errors.Join(err, rerr)
		}
		return nil, translateError("open", p, err)
	}
	return newHandle(p, m, readOnly, drv, r.locks, token, r.opts.logger, r.opts.metrics), nil
}

func (r *Registry) acquire(p string) (*lock.Token, error) {
	lp := lockPath(p)
	token, err := r.locks.Acquire(lp)
	var se *lock.StaleError
	if !errors.As(err, &se) {
		if errors.Is(err, lock.ErrBusy) {
			r.opts.metrics.RecordLockContention(false)
		}
		return token, translateError("lock", p, err)
	}

	r.opts.metrics.RecordLockContention(true)
	holder := holderOf(&se.Owner)
	if !r.opts.staleRecovery {
		r.opts.logger.LogStaleLock(p, holder, false)
		return nil, translateError("lock", p, err)
	}
	r.opts.logger.LogStaleLock(p, holder, true)
	if err := r.locks.Release(se.Token()); err != nil {
		return nil, translateError("reclaim lock", p, err)
	}
	token, err = r.locks.Acquire(lp)
	return token, translateError("lock", p, err)
}
