package driver

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// Table maps kinds to factories.
type Table struct {
	mu        sync.RWMutex
	factories map[Kind]Factory
}

// NewTable creates a table holding factories. It panics on duplicate kinds,
// which is a programming error in the caller's static setup.
func NewTable(factories ...Factory) *Table {
	t := &Table{factories: make(map[Kind]Factory, len(factories))}
	for _, f := range factories {
		if err := t.Register(f); err != nil {
			panic(err)
		}
	}
	return t
}

// Register adds f to the table.
func (t *Table) Register(f Factory) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.factories[f.Kind()]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateKind, f.Kind())
	}
	t.factories[f.Kind()] = f
	return nil
}

// Lookup returns the factory registered for kind.
func (t *Table) Lookup(kind Kind) (Factory, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return f, nil
}

// Kinds returns the registered kinds in sorted order.
func (t *Table) Kinds() []Kind {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Sorted(maps.Keys(t.factories))
}
