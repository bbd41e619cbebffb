package casefs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/casefs/driver/block"
)

func TestMountWaitAcquiresAfterRelease(t *testing.T) {
	reg := NewRegistry()
	path := newArea(t, reg, block.Kind, nil)
	holder := mount(t, reg, path, false)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = holder.Decref()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// A long poll interval makes the file system event the only quick way in.
	h, err := MountWait(ctx, reg, path, WithPollInterval(5*time.Second))
	require.NoError(t, err)
	assert.False(t, h.IsReadOnly())
	require.NoError(t, h.Decref())
}

func TestMountWaitPolls(t *testing.T) {
	reg := NewRegistry()
	path := newArea(t, reg, block.Kind, nil)
	holder := mount(t, reg, path, false)
	time.AfterFunc(50*time.Millisecond, func() { _ = holder.Decref() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	h, err := MountWait(ctx, reg, path, WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, h.Decref())
}

func TestMountWaitHonorsContext(t *testing.T) {
	reg := NewRegistry()
	path := newArea(t, reg, block.Kind, nil)
	holder := mount(t, reg, path, false)
	defer holder.Decref()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := MountWait(ctx, reg, path, WithPollInterval(20*time.Millisecond))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, holder.Refcount())
}

func TestMountWaitReturnsOtherErrors(t *testing.T) {
	reg := NewRegistry()
	_, err := MountWait(context.Background(), reg, t.TempDir()+"/missing")
	assert.ErrorIs(t, err, ErrNotFound)

	path := newArea(t, reg, block.Kind, nil)
	writeForeignLock(t, lockFileOf(t, reg, path), 4_000_000)
	stale := NewRegistry(WithLockProber(deadPID(4_000_000)))
	_, err = MountWait(context.Background(), stale, path, WithMountOptions(ExpectKind(block.Kind)))
	assert.ErrorIs(t, err, ErrStale)
}
