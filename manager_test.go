package casefs

import (
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/casefs/driver/block"
)

func newAreas(t *testing.T, reg *Registry, n int) []string {
	t.Helper()
	root := t.TempDir()
	paths := make([]string, n)
	for i := range paths {
		paths[i] = filepath.Join(root, fmt.Sprintf("case_%d", i))
		require.NoError(t, reg.Create(paths[i], block.Kind, nil))
	}
	return paths
}

func TestManagerCachesHandles(t *testing.T) {
	reg := NewRegistry()
	paths := newAreas(t, reg, 1)
	m := NewManager(reg, 2, false)
	defer m.Close()

	h1, err := m.Get(paths[0])
	require.NoError(t, err)
	h2, err := m.Get(paths[0])
	require.NoError(t, err)
	assert.Same(t, h1, h2)
	assert.Equal(t, 3, h1.Refcount())

	require.NoError(t, h1.Decref())
	require.NoError(t, h2.Decref())
	assert.Equal(t, 1, h1.Refcount())
	assert.Equal(t, 1, m.Len())
	assert.FileExists(t, lockFileOf(t, reg, paths[0]))
}

func TestManagerEvictsLeastRecentlyUsed(t *testing.T) {
	reg := NewRegistry()
	paths := newAreas(t, reg, 3)
	m := NewManager(reg, 2, false)

	get := func(p string) *Handle {
		h, err := m.Get(p)
		require.NoError(t, err)
		require.NoError(t, h.Decref())
		return h
	}
	h0 := get(paths[0])
	h1 := get(paths[1])
	get(paths[0])
	h2 := get(paths[2])

	// paths[0] was refreshed, so paths[1] is the one evicted.
	assert.Equal(t, 2, m.Len())
	assert.Equal(t, StateMounted, h0.State())
	assert.Equal(t, StateClosed, h1.State())
	assert.Equal(t, StateMounted, h2.State())
	assert.NoFileExists(t, lockFileOf(t, reg, paths[1]))
	assert.FileExists(t, lockFileOf(t, reg, paths[2]))

	require.NoError(t, m.Close())
	assert.Equal(t, 0, m.Len())
	for _, p := range paths {
		assert.NoFileExists(t, lockFileOf(t, reg, p))
	}
	_, err := m.Get(paths[0])
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManagerEvictionKeepsBorrowedHandle(t *testing.T) {
	reg := NewRegistry()
	paths := newAreas(t, reg, 2)
	m := NewManager(reg, 1, false)
	defer m.Close()

	held, err := m.Get(paths[0])
	require.NoError(t, err)

	other, err := m.Get(paths[1])
	require.NoError(t, err)
	require.NoError(t, other.Decref())

	// Evicted from the cache but still referenced by the caller.
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, 1, held.Refcount())
	require.NoError(t, held.Put(Key{Name: "A"}, []byte("x")))
	assert.FileExists(t, lockFileOf(t, reg, paths[0]))

	require.NoError(t, held.Decref())
	assert.NoFileExists(t, lockFileOf(t, reg, paths[0]))
}

func TestManagerSingleMount(t *testing.T) {
	reg := NewRegistry()
	paths := newAreas(t, reg, 1)
	m := NewManager(reg, 0, false)
	defer m.Close()

	const n = 16
	handles := make([]*Handle, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, err := m.Get(paths[0])
			assert.NoError(t, err)
			handles[i] = h
		}()
	}
	wg.Wait()

	for _, h := range handles {
		require.NotNil(t, h)
		assert.Same(t, handles[0], h)
	}
	assert.Equal(t, n+1, handles[0].Refcount())
	for _, h := range handles {
		require.NoError(t, h.Decref())
	}
}

func TestManagerReadOnly(t *testing.T) {
	reg := NewRegistry()
	paths := newAreas(t, reg, 1)

	writer, err := reg.Mount(paths[0], false)
	require.NoError(t, err)
	defer writer.Decref()

	m := NewManager(reg, 1, true)
	defer m.Close()
	h, err := m.Get(paths[0])
	require.NoError(t, err)
	defer h.Decref()
	assert.True(t, h.IsReadOnly())

	// A read-write manager cannot mount while the writer is active.
	rw := NewManager(reg, 1, false)
	defer rw.Close()
	_, err = rw.Get(paths[0])
	assert.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, 0, rw.Len())
}
