// Package drivertest provides a conformance suite for driver implementations.
package drivertest

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hupe1980/casefs/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Setup initializes a fresh store for f in a temporary directory and returns
// the directory.
func Setup(t *testing.T, f driver.Factory, cfg driver.Config) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "area")
	require.NoError(t, f.Validate(cfg))
	require.NoError(t, f.Init(dir, cfg, driver.Options{}.WithDefaults()))
	return dir
}

// Open opens the store under dir.
func Open(t *testing.T, f driver.Factory, dir string, cfg driver.Config, readOnly bool) driver.Driver {
	t.Helper()
	d, err := f.Open(dir, cfg, driver.Options{ReadOnly: readOnly}.WithDefaults())
	require.NoError(t, err)
	return d
}

// Run exercises the driver contract against f.
func Run(t *testing.T, f driver.Factory, cfg driver.Config) {
	t.Run("RoundTrip", func(t *testing.T) {
		dir := Setup(t, f, cfg)
		d := Open(t, f, dir, cfg, false)
		defer d.Close()

		_, ok, err := d.Get("PRESSURE.0000000000.0000000000")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, d.Put("PRESSURE.0000000000.0000000000", []byte("p0")))
		v, ok, err := d.Get("PRESSURE.0000000000.0000000000")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("p0"), v)

		// Overwrite replaces.
		require.NoError(t, d.Put("PRESSURE.0000000000.0000000000", []byte("p0-v2")))
		v, _, err = d.Get("PRESSURE.0000000000.0000000000")
		require.NoError(t, err)
		assert.Equal(t, []byte("p0-v2"), v)

		require.NoError(t, d.Delete("PRESSURE.0000000000.0000000000"))
		_, ok, err = d.Get("PRESSURE.0000000000.0000000000")
		require.NoError(t, err)
		assert.False(t, ok)

		// Deleting an absent key is a no-op.
		require.NoError(t, d.Delete("PRESSURE.0000000000.0000000000"))
		require.NoError(t, d.Delete("NEVER.0000000000.0000000000"))
	})

	t.Run("EmptyValue", func(t *testing.T) {
		dir := Setup(t, f, cfg)
		d := Open(t, f, dir, cfg, false)
		defer d.Close()

		require.NoError(t, d.Put("EMPTY.0000000001.0000000002", nil))
		v, ok, err := d.Get("EMPTY.0000000001.0000000002")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, v)
	})

	t.Run("PersistAcrossOpen", func(t *testing.T) {
		dir := Setup(t, f, cfg)
		d := Open(t, f, dir, cfg, false)

		want := map[string][]byte{}
		for i := range 50 {
			k := fmt.Sprintf("SWAT.%010d.%010d", i%5, i)
			v := bytes.Repeat([]byte{byte(i)}, 10+i*7)
			require.NoError(t, d.Put(k, v))
			want[k] = v
		}
		require.NoError(t, d.Delete("SWAT.0000000000.0000000000"))
		delete(want, "SWAT.0000000000.0000000000")
		require.NoError(t, d.Flush())
		d.Close()

		ro := Open(t, f, dir, cfg, true)
		defer ro.Close()
		for k, v := range want {
			got, ok, err := ro.Get(k)
			require.NoError(t, err)
			require.True(t, ok, k)
			assert.Equal(t, v, got, k)
		}
		_, ok, err := ro.Get("SWAT.0000000000.0000000000")
		require.NoError(t, err)
		assert.False(t, ok)

		keys, err := ro.Keys()
		require.NoError(t, err)
		assert.Len(t, keys, len(want))
		assert.IsNonDecreasing(t, keys)
	})

	t.Run("ReadOnly", func(t *testing.T) {
		dir := Setup(t, f, cfg)
		rw := Open(t, f, dir, cfg, false)
		require.NoError(t, rw.Put("K.0000000000.0000000000", []byte("v")))
		require.NoError(t, rw.Flush())
		rw.Close()

		ro := Open(t, f, dir, cfg, true)
		assert.ErrorIs(t, ro.Put("K.0000000000.0000000000", []byte("changed")), driver.ErrReadOnly)
		assert.ErrorIs(t, ro.Put("NEW.0000000000.0000000000", []byte("x")), driver.ErrReadOnly)
		assert.ErrorIs(t, ro.Delete("K.0000000000.0000000000"), driver.ErrReadOnly)
		assert.NoError(t, ro.Flush())
		ro.Close()

		again := Open(t, f, dir, cfg, true)
		defer again.Close()
		v, ok, err := again.Get("K.0000000000.0000000000")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("v"), v)
		_, ok, err = again.Get("NEW.0000000000.0000000000")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("IndependentInstances", func(t *testing.T) {
		dir := Setup(t, f, cfg)
		rw := Open(t, f, dir, cfg, false)
		defer rw.Close()
		require.NoError(t, rw.Put("A.0000000000.0000000000", []byte("1")))
		require.NoError(t, rw.Flush())

		ro := Open(t, f, dir, cfg, true)
		defer ro.Close()
		v, ok, err := ro.Get("A.0000000000.0000000000")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []byte("1"), v)
	})

	t.Run("Closed", func(t *testing.T) {
		dir := Setup(t, f, cfg)
		d := Open(t, f, dir, cfg, false)
		d.Close()
		d.Close()

		_, _, err := d.Get("A.0000000000.0000000000")
		assert.ErrorIs(t, err, driver.ErrClosed)
		assert.ErrorIs(t, d.Put("A.0000000000.0000000000", nil), driver.ErrClosed)
	})

	t.Run("Concurrent", func(t *testing.T) {
		dir := Setup(t, f, cfg)
		d := Open(t, f, dir, cfg, false)
		defer d.Close()

		var wg sync.WaitGroup
		for w := range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := range 25 {
					k := fmt.Sprintf("W%d.%010d.%010d", w, i, 0)
					assert.NoError(t, d.Put(k, []byte(k)))
					v, ok, err := d.Get(k)
					assert.NoError(t, err)
					assert.True(t, ok)
					assert.Equal(t, []byte(k), v)
				}
			}()
		}
		wg.Wait()

		keys, err := d.Keys()
		require.NoError(t, err)
		assert.Len(t, keys, 100)
	})
}
