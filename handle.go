package casefs

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/casefs/driver"
	"github.com/hupe1980/casefs/internal/lock"
	"github.com/hupe1980/casefs/internal/marker"
)

// State is the lifecycle state of a Handle. Unmounted and Mounting are never
// observed on a returned handle: Mount either hands out a mounted handle or
// nothing.
type State int32

const (
	StateMounted State = iota
	StateUnmounting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateMounted:
		return "mounted"
	case StateUnmounting:
		return "unmounting"
	default:
		return "closed"
	}
}

// Handle is a reference-counted connection to a mounted storage area.
//
// A handle starts with one reference. Incref shares it; each owner calls
// Decref exactly once. The decrement that reaches zero flushes and closes the
// driver, then releases the lock file. A closed handle never reopens.
type Handle struct {
	path     string
	info     *marker.Marker
	readOnly bool
	logger   *Logger
	metrics  MetricsCollector

	drv   driver.Driver
	locks *lock.Manager
	token *lock.Token

	refs  atomic.Int64
	state atomic.Int32

	// mu orders record operations against teardown.
	mu    sync.RWMutex
	fatal atomic.Pointer[StorageError]
}

func newHandle(path string, info *marker.Marker, readOnly bool, drv driver.Driver, locks *lock.Manager, token *lock.Token, logger *Logger, metrics MetricsCollector) *Handle {
	h := &Handle{
		path:     path,
		info:     info,
		readOnly: readOnly,
		logger:   logger,
		metrics:  metrics,
		drv:      drv,
		locks:    locks,
		token:    token,
	}
	h.refs.Store(1)
	h.state.Store(int32(StateMounted))
	return h
}

// Path returns the canonical path of the area.
func (h *Handle) Path() string { return h.path }

// Kind returns the driver kind of the area.
func (h *Handle) Kind() driver.Kind { return h.info.Kind }

// ID returns the identity recorded when the area was created.
func (h *Handle) ID() string { return h.info.ID }

// IsReadOnly reports whether the handle was mounted read-only.
func (h *Handle) IsReadOnly() bool { return h.readOnly }

// Refcount returns the current number of references.
func (h *Handle) Refcount() int { return int(h.refs.Load()) }

// State returns the lifecycle state.
func (h *Handle) State() State { return State(h.state.Load()) }

// Incref adds a reference and returns the same handle. It fails with
// ErrClosed once the count has dropped to zero.
func (h *Handle) Incref() (*Handle, error) {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return nil, ErrClosed
		}
		if h.refs.CompareAndSwap(n, n+1) {
			return h, nil
		}
	}
}

// Decref drops a reference. The call that drops the last one unmounts: the
// driver is flushed (read-write only) and closed, then the lock file is
// released. Teardown always completes; the returned error reports a failed
// flush or release. Decref on a closed handle returns ErrClosed.
func (h *Handle) Decref() error {
	for {
		n := h.refs.Load()
		if n <= 0 {
			return ErrClosed
		}
		if h.refs.CompareAndSwap(n, n-1) {
			if n == 1 {
				return h.unmount()
			}
			return nil
		}
	}
}

func (h *Handle) unmount() error {
	if !h.state.CompareAndSwap(int32(StateMounted), int32(StateUnmounting)) {
		return ErrClosed
	}
	start := time.Now()
	h.mu.Lock()
	defer h.mu.Unlock()

	var errs []error
	if !h.readOnly {
		if fe := h.fatal.Load(); fe != nil {
			h.logger.Warn("skipping flush of poisoned handle", "area", h.path, "error", fe.Err)
		} else if err := h.drv.Flush(); err != nil {
			errs = append(errs, translateError("flush", h.path, err))
		}
	}
	h.drv.Close()
	if err := h.locks.Release(h.token); err != nil {
		errs = append(errs, translateError("release lock", h.path, err))
	}
	h.state.Store(int32(StateClosed))

	err := errors.Join(errs...)
	h.metrics.RecordUnmount(h.readOnly, time.Since(start), err)
	h.logger.LogUnmount(h.path, h.readOnly, err)
	return err
}

// begin takes the shared side of mu for one record operation.
func (h *Handle) begin() error {
	h.mu.RLock()
	if State(h.state.Load()) != StateMounted {
		h.mu.RUnlock()
		return ErrClosed
	}
	if fe := h.fatal.Load(); fe != nil {
		h.mu.RUnlock()
		return fe
	}
	return nil
}

func (h *Handle) end() { h.mu.RUnlock() }

func (h *Handle) fail(op string, err error) error {
	err = translateError(op, h.path, err)
	var se *StorageError
	if errors.As(err, &se) && se.Fatal() {
		if h.fatal.CompareAndSwap(nil, se) {
			h.logger.Error("handle poisoned", "area", h.path, "op", op, "error", se.Err)
		}
		return h.fatal.Load()
	}
	return err
}

// Get returns the record stored under k. ok is false if there is none.
func (h *Handle) Get(k Key) (value []byte, ok bool, err error) {
	defer func(start time.Time) { h.metrics.RecordGet(ok, time.Since(start), err) }(time.Now())
	if err := k.Validate(); err != nil {
		return nil, false, err
	}
	if err := h.begin(); err != nil {
		return nil, false, err
	}
	defer h.end()
	value, ok, err = h.drv.Get(k.String())
	if err != nil {
		return nil, false, h.fail("get", err)
	}
	return value, ok, nil
}

// Has reports whether a record is stored under k.
func (h *Handle) Has(k Key) (bool, error) {
	_, ok, err := h.Get(k)
	return ok, err
}

// Put stores value under k, replacing any previous record.
func (h *Handle) Put(k Key, value []byte) (err error) {
	defer func(start time.Time) { h.metrics.RecordPut(len(value), time.Since(start), err) }(time.Now())
	if err := k.Validate(); err != nil {
		return err
	}
	if err := h.begin(); err != nil {
		return err
	}
	defer h.end()
	if h.readOnly {
		return translateError("put", h.path, driver.ErrReadOnly)
	}
	if err := h.drv.Put(k.String(), value); err != nil {
		return h.fail("put", err)
	}
	return nil
}

// Delete removes the record under k. Deleting an absent key succeeds.
func (h *Handle) Delete(k Key) (err error) {
	defer func(start time.Time) { h.metrics.RecordDelete(time.Since(start), err) }(time.Now())
	if err := k.Validate(); err != nil {
		return err
	}
	if err := h.begin(); err != nil {
		return err
	}
	defer h.end()
	if h.readOnly {
		return translateError("delete", h.path, driver.ErrReadOnly)
	}
	if err := h.drv.Delete(k.String()); err != nil {
		return h.fail("delete", err)
	}
	return nil
}

// Keys returns all keys in byte order of their encoding.
func (h *Handle) Keys() ([]Key, error) {
	if err := h.begin(); err != nil {
		return nil, err
	}
	defer h.end()
	raw, err := h.drv.Keys()
	if err != nil {
		return nil, h.fail("keys", err)
	}
	keys := make([]Key, 0, len(raw))
	for _, s := range raw {
		k, err := ParseKey(s)
		if err != nil {
			h.logger.Debug("skipping foreign key", "area", h.path, "key", s)
			continue
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// Realizations returns the realizations that have a record for name at
// report step step.
func (h *Handle) Realizations(name string, step int) (*roaring.Bitmap, error) {
	keys, err := h.Keys()
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	for _, k := range keys {
		if k.Name == name && k.ReportStep == step {
			bm.Add(uint32(k.Realization))
		}
	}
	return bm, nil
}

// Flush makes every accepted write durable without unmounting. It is a
// no-op on read-only handles.
func (h *Handle) Flush() error {
	if err := h.begin(); err != nil {
		return err
	}
	defer h.end()
	if h.readOnly {
		return nil
	}
	if err := h.drv.Flush(); err != nil {
		return h.fail("flush", err)
	}
	return nil
}

// Compact reclaims space held by overwritten and deleted records if the
// driver supports it.
func (h *Handle) Compact() error {
	if err := h.begin(); err != nil {
		return err
	}
	defer h.end()
	if h.readOnly {
		return translateError("compact", h.path, driver.ErrReadOnly)
	}
	c, ok := h.drv.(driver.Compactor)
	if !ok {
		return nil
	}
	if err := c.Compact(); err != nil {
		return h.fail("compact", err)
	}
	return nil
}
