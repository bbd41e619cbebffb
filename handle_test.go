package casefs

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/casefs/driver"
	"github.com/hupe1980/casefs/driver/block"
	"github.com/hupe1980/casefs/internal/fs"
)

func mount(t *testing.T, reg *Registry, path string, readOnly bool) *Handle {
	t.Helper()
	h, err := reg.Mount(path, readOnly)
	require.NoError(t, err)
	return h
}

func TestRefcount(t *testing.T) {
	reg := NewRegistry()
	path := newArea(t, reg, block.Kind, nil)

	h := mount(t, reg, path, false)
	assert.Equal(t, 1, h.Refcount())
	assert.Equal(t, StateMounted, h.State())
	assert.False(t, h.IsReadOnly())

	h2, err := h.Incref()
	require.NoError(t, err)
	assert.Same(t, h, h2)
	assert.Equal(t, 2, h.Refcount())

	require.NoError(t, h2.Decref())
	assert.Equal(t, 1, h.Refcount())
	require.NoError(t, h.Put(Key{Name: "A"}, []byte("still open")))
	assert.FileExists(t, lockFileOf(t, reg, path))

	require.NoError(t, h.Decref())
	assert.Equal(t, 0, h.Refcount())
	assert.Equal(t, StateClosed, h.State())
	assert.NoFileExists(t, lockFileOf(t, reg, path))

	// No resurrection.
	_, err = h.Incref()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.Decref(), ErrClosed)
	assert.Equal(t, 0, h.Refcount())
	_, _, err = h.Get(Key{Name: "A"})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, h.Put(Key{Name: "A"}, nil), ErrClosed)
}

func TestConcurrentIncrefDecref(t *testing.T) {
	reg := NewRegistry()
	path := newArea(t, reg, block.Kind, nil)
	h := mount(t, reg, path, false)

	var g errgroup.Group
	for w := range 16 {
		g.Go(func() error {
			for i := range 50 {
				ref, err := h.Incref()
				if err != nil {
					return err
				}
				if err := ref.Put(Key{Name: fmt.Sprintf("W%d", w), ReportStep: i}, []byte{byte(i)}); err != nil {
					return err
				}
				if err := ref.Decref(); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, 1, h.Refcount())
	assert.FileExists(t, lockFileOf(t, reg, path))
	require.NoError(t, h.Decref())
	assert.NoFileExists(t, lockFileOf(t, reg, path))

	ro := mount(t, reg, path, true)
	defer ro.Decref()
	keys, err := ro.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 16*50)
}

func TestRecordRoundTrip(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(string(kind), func(t *testing.T) {
			reg := NewRegistry()
			path := newArea(t, reg, kind, nil)
			h := mount(t, reg, path, false)
			defer h.Decref()

			k := Key{Name: "PRESSURE", Realization: 3, ReportStep: 10}
			_, ok, err := h.Get(k)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, h.Put(k, []byte("grid")))
			v, ok, err := h.Get(k)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("grid"), v)
			has, err := h.Has(k)
			require.NoError(t, err)
			assert.True(t, has)

			require.NoError(t, h.Delete(k))
			_, ok, err = h.Get(k)
			require.NoError(t, err)
			assert.False(t, ok)
			require.NoError(t, h.Delete(k))
			require.NoError(t, h.Delete(Key{Name: "NEVER"}))

			assert.ErrorIs(t, h.Put(Key{Name: ""}, nil), ErrInvalidKey)
			_, _, err = h.Get(Key{Name: "A", Realization: -1})
			assert.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestKeysAndRealizations(t *testing.T) {
	reg := NewRegistry()
	path := newArea(t, reg, block.Kind, nil)
	h := mount(t, reg, path, false)
	defer h.Decref()

	for _, r := range []int{0, 2, 5, 17} {
		require.NoError(t, h.Put(Key{Name: "SWAT", Realization: r, ReportStep: 4}, nil))
		require.NoError(t, h.Put(Key{Name: "SWAT", Realization: r, ReportStep: 5}, nil))
	}
	require.NoError(t, h.Put(Key{Name: "PRESSURE", Realization: 9, ReportStep: 4}, nil))

	keys, err := h.Keys()
	require.NoError(t, err)
	require.Len(t, keys, 9)
	assert.Equal(t, Key{Name: "PRESSURE", Realization: 9, ReportStep: 4}, keys[0])
	assert.Equal(t, Key{Name: "SWAT", Realization: 0, ReportStep: 4}, keys[1])

	bm, err := h.Realizations("SWAT", 4)
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 2, 5, 17}, bm.ToArray())

	bm, err = h.Realizations("SWAT", 6)
	require.NoError(t, err)
	assert.True(t, bm.IsEmpty())
}

func TestReadOnlyViolation(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(string(kind), func(t *testing.T) {
			reg := NewRegistry()
			path := newArea(t, reg, kind, nil)
			k := Key{Name: "SOIL", Realization: 1, ReportStep: 2}

			rw := mount(t, reg, path, false)
			require.NoError(t, rw.Put(k, []byte("original")))
			require.NoError(t, rw.Decref())

			ro := mount(t, reg, path, true)
			assert.True(t, ro.IsReadOnly())
			assert.ErrorIs(t, ro.Put(k, []byte("changed")), ErrReadOnly)
			assert.ErrorIs(t, ro.Put(Key{Name: "NEW"}, []byte("x")), ErrReadOnly)
			assert.ErrorIs(t, ro.Delete(k), ErrReadOnly)
			assert.ErrorIs(t, ro.Compact(), ErrReadOnly)
			assert.NoError(t, ro.Flush())
			require.NoError(t, ro.Decref())

			again := mount(t, reg, path, true)
			defer again.Decref()
			v, ok, err := again.Get(k)
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, bytes.Equal([]byte("original"), v))
			has, err := again.Has(Key{Name: "NEW"})
			require.NoError(t, err)
			assert.False(t, has)
		})
	}
}

func TestReaderSeesFlushedWrites(t *testing.T) {
	reg := NewRegistry()
	path := newArea(t, reg, block.Kind, nil)
	rw := mount(t, reg, path, false)
	defer rw.Decref()

	k := Key{Name: "FOPT", ReportStep: 1}
	require.NoError(t, rw.Put(k, []byte("1.5")))
	require.NoError(t, rw.Flush())

	ro := mount(t, reg, path, true)
	defer ro.Decref()
	v, ok, err := ro.Get(k)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("1.5"), v)
}

func TestInterruptedWriteIsDiscarded(t *testing.T) {
	reg := NewRegistry()
	path := newArea(t, reg, block.Kind, nil)

	h := mount(t, reg, path, false)
	for i := range 10 {
		require.NoError(t, h.Put(Key{Name: "PORO", Realization: i}, bytes.Repeat([]byte{byte(i)}, 100)))
	}
	require.NoError(t, h.Decref())

	data := filepath.Join(path, "block", "data-000001.blk")
	info, err := os.Stat(data)
	require.NoError(t, err)
	// Cut the last record in the middle of its value.
	require.NoError(t, os.Truncate(data, info.Size()-50))

	h = mount(t, reg, path, false)
	defer h.Decref()
	keys, err := h.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 9)
	for i := range 9 {
		v, ok, err := h.Get(Key{Name: "PORO", Realization: i})
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, bytes.Repeat([]byte{byte(i)}, 100), v)
	}
	_, ok, err := h.Get(Key{Name: "PORO", Realization: 9})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStorageErrorKeepsHandleUsable(t *testing.T) {
	reg := NewRegistry()
	path := newArea(t, reg, block.Kind, nil)

	// Appends fail beyond 200 bytes but can be cut off again.
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("data-000001.blk", fs.Fault{FailAfterBytes: 200})
	faulty := NewRegistry(WithFileSystem(ffs))
	h := mount(t, faulty, path, false)
	defer h.Decref()

	require.NoError(t, h.Put(Key{Name: "A"}, []byte("kept")))
	err := h.Put(Key{Name: "B"}, bytes.Repeat([]byte{'b'}, 300))
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, fs.ErrInjected)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.False(t, se.Fatal())
	assert.Equal(t, "put", se.Op)

	v, ok, err := h.Get(Key{Name: "A"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("kept"), v)
	has, err := h.Has(Key{Name: "B"})
	require.NoError(t, err)
	assert.False(t, has)
	require.NoError(t, h.Flush())
}

func TestFatalStorageErrorPoisonsHandle(t *testing.T) {
	reg := NewRegistry()
	path := newArea(t, reg, block.Kind, nil)

	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("data-000001.blk", fs.Fault{FailAfterBytes: 40, FailOnTruncate: true})
	faulty := NewRegistry(WithFileSystem(ffs))
	h := mount(t, faulty, path, false)

	err := h.Put(Key{Name: "A"}, bytes.Repeat([]byte{'v'}, 64))
	require.ErrorIs(t, err, ErrStorage)
	require.ErrorIs(t, err, driver.ErrCorrupt)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	assert.True(t, se.Fatal())

	// Every further call fails with the same error.
	_, _, err = h.Get(Key{Name: "B"})
	assert.Same(t, se, err)
	assert.Same(t, se, h.Put(Key{Name: "B"}, nil))
	assert.Same(t, se, h.Flush())

	// Teardown still releases the lock.
	require.NoError(t, h.Decref())
	assert.NoFileExists(t, lockFileOf(t, reg, path))

	clean := mount(t, reg, path, false)
	defer clean.Decref()
	keys, err := clean.Keys()
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCompact(t *testing.T) {
	reg := NewRegistry()
	path := newArea(t, reg, block.Kind, nil)
	h := mount(t, reg, path, false)
	defer h.Decref()

	for i := range 20 {
		require.NoError(t, h.Put(Key{Name: "X", ReportStep: i % 4}, bytes.Repeat([]byte{byte(i)}, 256)))
	}
	require.NoError(t, h.Compact())

	keys, err := h.Keys()
	require.NoError(t, err)
	assert.Len(t, keys, 4)
	v, ok, err := h.Get(Key{Name: "X", ReportStep: 3})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, bytes.Repeat([]byte{19}, 256), v)
}

func TestHandleObservers(t *testing.T) {
	reg := NewRegistry()
	path := newArea(t, reg, block.Kind, nil)
	info, err := reg.Info(path)
	require.NoError(t, err)

	h := mount(t, reg, path, true)
	defer h.Decref()
	assert.Equal(t, info.Path, h.Path())
	assert.Equal(t, info.ID, h.ID())
	assert.Equal(t, block.Kind, h.Kind())
	assert.Equal(t, "mounted", h.State().String())
}
