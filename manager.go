package casefs

import (
	"container/list"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// DefaultManagerCapacity is the number of areas a Manager keeps mounted when
// NewManager is given a non-positive capacity.
const DefaultManagerCapacity = 5

// Manager keeps recently used areas mounted so that repeated access does not
// pay for a mount each time.
//
// The manager owns one reference to each cached handle and drops it for the
// least recently used area once more than capacity areas are cached. A
// handle evicted while a caller still holds it stays mounted until that
// caller's Decref.
type Manager struct {
	reg      *Registry
	capacity int
	readOnly bool

	mu        sync.Mutex
	items     map[string]*list.Element
	evictList *list.List
	closed    bool

	group singleflight.Group
}

// NewManager creates a manager mounting areas of reg read-only or
// read-write.
func NewManager(reg *Registry, capacity int, readOnly bool) *Manager {
	if capacity <= 0 {
		capacity = DefaultManagerCapacity
	}
	return &Manager{
		reg:       reg,
		capacity:  capacity,
		readOnly:  readOnly,
		items:     make(map[string]*list.Element),
		evictList: list.New(),
	}
}

// Get returns a handle for the area at path carrying one reference owned by
// the caller, who must Decref it. Concurrent calls for an uncached area
// share a single mount.
func (m *Manager) Get(path string) (*Handle, error) {
	p, err := canonical(path)
	if err != nil {
		return nil, err
	}
	for {
		h, err := m.lookup(p)
		if err != nil {
			return nil, err
		}
		if h == nil {
			v, err, _ := m.group.Do(p, func() (any, error) {
				return m.mount(p)
			})
			if err != nil {
				return nil, err
			}
			h = v.(*Handle)
		}
		// The cached reference may be dropped by an eviction between lookup
		// and Incref; the next round mounts again.
		if h, err := h.Incref(); err == nil {
			return h, nil
		}
	}
}

func (m *Manager) lookup(p string) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if el, ok := m.items[p]; ok {
		m.evictList.MoveToFront(el)
		return el.Value.(*Handle), nil
	}
	return nil, nil
}

func (m *Manager) mount(p string) (*Handle, error) {
	if h, err := m.lookup(p); err != nil || h != nil {
		return h, err
	}
	h, err := m.reg.Mount(p, m.readOnly)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = h.Decref()
		return nil, ErrClosed
	}
	m.items[p] = m.evictList.PushFront(h)
	evicted := m.evict()
	m.mu.Unlock()

	for _, old := range evicted {
		if err := old.Decref(); err != nil {
			m.reg.opts.logger.Warn("evicted handle failed to unmount", "area", old.Path(), "error", err)
		}
	}
	return h, nil
}

// evict removes entries beyond capacity. Their references are dropped by
// the caller outside the lock, since the last Decref flushes.
func (m *Manager) evict() []*Handle {
	var out []*Handle
	for m.evictList.Len() > m.capacity {
		el := m.evictList.Back()
		h := m.removeElement(el)
		out = append(out, h)
	}
	return out
}

func (m *Manager) removeElement(el *list.Element) *Handle {
	m.evictList.Remove(el)
	h := el.Value.(*Handle)
	delete(m.items, h.Path())
	return h
}

// Len returns the number of cached areas.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evictList.Len()
}

// Close drops the manager's references to all cached handles. Handles still
// referenced by callers remain mounted. Get fails with ErrClosed afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	var handles []*Handle
	for m.evictList.Len() > 0 {
		handles = append(handles, m.removeElement(m.evictList.Front()))
	}
	m.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := h.Decref(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
