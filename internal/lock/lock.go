package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/hupe1980/casefs/internal/fs"
)

// acquireAttempts bounds the retries when a lock file vanishes between the
// failed exclusive create and the owner inspection.
const acquireAttempts = 3

// Token is the capability returned by Acquire. Only Release consumes it.
type Token struct {
	path     string
	owner    Owner
	stale    bool
	released atomic.Bool
}

// Path returns the lock file path.
func (t *Token) Path() string { return t.path }

// Owner returns the owner recorded in the lock file.
func (t *Token) Owner() Owner { return t.owner }

// Released reports whether Release has been called on t.
func (t *Token) Released() bool { return t.released.Load() }

// Manager acquires and releases lock files.
type Manager struct {
	fs     fs.FileSystem
	prober Prober
	self   Identity
	now    func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithProber replaces the default process prober.
func WithProber(p Prober) Option {
	return func(m *Manager) {
		if p != nil {
			m.prober = p
		}
	}
}

// WithIdentity overrides the identity written into new lock files.
func WithIdentity(id Identity) Option {
	return func(m *Manager) {
		m.self = id
	}
}

// NewManager creates a lock manager on fsys (fs.Default if nil).
func NewManager(fsys fs.FileSystem, optFns ...Option) *Manager {
	if fsys == nil {
		fsys = fs.Default
	}
	m := &Manager{
		fs:   fsys,
		self: Self(),
		now:  time.Now,
	}
	for _, fn := range optFns {
		fn(m)
	}
	if m.prober == nil {
		m.prober = &ProcessProber{Self: m.self}
	}
	return m
}

// Acquire creates the lock file at path exclusively.
//
// It fails fast: *BusyError when the file exists and its owner is alive or
// cannot be judged, *StaleError when the owner is verifiably gone. Any other
// error is an I/O failure; in every failure case no lock file is left behind
// by this call.
func (m *Manager) Acquire(path string) (*Token, error) {
	for attempt := 0; ; attempt++ {
		f, err := m.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return m.publish(path, f)
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, err
		}

		owner, err := m.Inspect(path)
		switch {
		case err == nil:
			if m.prober.Probe(*owner) == Dead {
				return nil, &StaleError{Path: path, Owner: *owner}
			}
			return nil, &BusyError{Path: path, Owner: owner}
		case errors.Is(err, os.ErrNotExist):
			// Released between our create and the read; try again.
			if attempt+1 < acquireAttempts {
				continue
			}
			return nil, &BusyError{Path: path}
		case errors.Is(err, ErrMalformed):
			return nil, &BusyError{Path: path}
		default:
			return nil, err
		}
	}
}

func (m *Manager) publish(path string, f fs.File) (*Token, error) {
	t := &Token{path: path, owner: newOwner(m.self, m.now())}
	data, err := t.owner.encode()
	if err == nil {
		_, err = f.Write(data)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = fs.SyncDir(m.fs, filepath.Dir(path))
	}
	if err != nil {
		// The file is ours even if half-written; an empty token skips the
		// ownership check in Release.
		t.owner.Token = ""
		_ = m.Release(t)
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return t, nil
}

// Inspect decodes the owner of the lock file at path without modifying it.
func (m *Manager) Inspect(path string) (*Owner, error) {
	data, err := fs.ReadFile(m.fs, path)
	if err != nil {
		return nil, err
	}
	o, err := decodeOwner(data)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// Release removes the lock file held by t.
//
// Releasing a nil or already released token is a no-op. The file is only
// removed if it still names t's owner, so a token for a stale owner cannot
// delete a lock that a new writer has taken since. Stale tokens are released
// under a guard shared by all reclaimers of the same lock file, which makes
// the check and the removal one step for them.
func (m *Manager) Release(t *Token) error {
	if t == nil || !t.released.CompareAndSwap(false, true) {
		return nil
	}
	if !t.stale {
		return m.removeOwned(t)
	}
	unlock, err := reclaimGuard(m.fs, t.path)
	if err != nil {
		t.released.Store(false)
		return err
	}
	defer unlock()
	return m.removeOwned(t)
}

// removeOwned removes the lock file if it still names t's owner. A live
// owner's file is only ever removed by that owner; a dead owner's file only
// by a reclaimer holding the guard.
func (m *Manager) removeOwned(t *Token) error {
	if t.owner.Token != "" {
		data, err := fs.ReadFile(m.fs, t.path)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		cur, err := decodeOwner(data)
		if err != nil || cur.Token != t.owner.Token {
			return nil
		}
	}
	if err := m.fs.Remove(t.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return fs.SyncDir(m.fs, filepath.Dir(t.path))
}
