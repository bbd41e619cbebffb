package lock

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hupe1980/casefs/internal/fs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func lockPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "mnt.lock")
}

func TestAcquireRelease(t *testing.T) {
	path := lockPath(t)
	m := NewManager(nil)

	tok, err := m.Acquire(path)
	require.NoError(t, err)
	assert.FileExists(t, path)
	assert.Equal(t, path, tok.Path())
	assert.Equal(t, ModeReadWrite, tok.Owner().Mode)
	assert.Equal(t, os.Getpid(), tok.Owner().PID)

	owner, err := m.Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, tok.Owner().Token, owner.Token)

	require.NoError(t, m.Release(tok))
	assert.NoFileExists(t, path)
	assert.True(t, tok.Released())

	// Double release is a no-op.
	require.NoError(t, m.Release(tok))
	require.NoError(t, m.Release(nil))
}

func TestAcquireBusy(t *testing.T) {
	path := lockPath(t)
	m := NewManager(nil)

	tok, err := m.Acquire(path)
	require.NoError(t, err)
	defer m.Release(tok)

	_, err = m.Acquire(path)
	require.ErrorIs(t, err, ErrBusy)
	var be *BusyError
	require.True(t, errors.As(err, &be))
	require.NotNil(t, be.Owner)
	assert.Equal(t, tok.Owner().Token, be.Owner.Token)

	// The loser must not have disturbed the winner's file.
	owner, err := m.Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, tok.Owner().Token, owner.Token)
}

func TestAcquireMalformedIsBusy(t *testing.T) {
	path := lockPath(t)
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := NewManager(nil).Acquire(path)
	require.ErrorIs(t, err, ErrBusy)
	assert.NotErrorIs(t, err, ErrStale)
	assert.FileExists(t, path)
}

func TestAcquireStale(t *testing.T) {
	path := lockPath(t)
	dead := Identity{PID: 999999, Host: "node-a"}
	prior := NewManager(nil, WithIdentity(dead))
	staleTok, err := prior.Acquire(path)
	require.NoError(t, err)

	m := NewManager(nil, WithProber(ProberFunc(func(o Owner) Liveness {
		if o.PID == dead.PID {
			return Dead
		}
		return Alive
	})))

	_, err = m.Acquire(path)
	require.ErrorIs(t, err, ErrStale)
	var se *StaleError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, staleTok.Owner().Token, se.Owner.Token)

	// Releasing the stale token is the way to reclaim the lock.
	require.NoError(t, m.Release(se.Token()))
	assert.NoFileExists(t, path)

	tok, err := m.Acquire(path)
	require.NoError(t, err)
	require.NoError(t, m.Release(tok))
}

func TestReleaseDoesNotRemoveForeignLock(t *testing.T) {
	path := lockPath(t)
	m := NewManager(nil, WithProber(ProberFunc(func(Owner) Liveness { return Dead })))

	first, err := m.Acquire(path)
	require.NoError(t, err)

	_, err = m.Acquire(path)
	var se *StaleError
	require.True(t, errors.As(err, &se))
	stale := se.Token()

	// Someone else reclaims and re-locks first.
	require.NoError(t, m.Release(first))
	second, err := m.Acquire(path)
	require.NoError(t, err)

	// Our stale token now points at a lock we do not own.
	require.NoError(t, m.Release(stale))
	assert.FileExists(t, path)

	require.NoError(t, m.Release(second))
	assert.NoFileExists(t, path)
}

// removeHookFS runs onRemove once, right before the first Remove.
type removeHookFS struct {
	fs.FileSystem
	once     sync.Once
	onRemove func()
}

func (h *removeHookFS) Remove(name string) error {
	h.once.Do(h.onRemove)
	return h.FileSystem.Remove(name)
}

func deadProber(dead Identity) Option {
	return WithProber(ProberFunc(func(o Owner) Liveness {
		if o.PID == dead.PID && o.Host == dead.Host {
			return Dead
		}
		return Alive
	}))
}

// reclaim acquires path, clearing a stale lock first if there is one.
func reclaim(m *Manager, path string) (*Token, error) {
	tok, err := m.Acquire(path)
	var se *StaleError
	if !errors.As(err, &se) {
		return tok, err
	}
	if err := m.Release(se.Token()); err != nil {
		return nil, err
	}
	return m.Acquire(path)
}

func TestReclaimIsAtomic(t *testing.T) {
	path := lockPath(t)
	dead := Identity{PID: 999999, Host: "node-a"}
	_, err := NewManager(nil, WithIdentity(dead)).Acquire(path)
	require.NoError(t, err)

	a := NewManager(nil, deadProber(dead))
	var (
		aTok *Token
		aErr error
	)
	done := make(chan struct{})
	hooked := &removeHookFS{FileSystem: fs.Default}
	hooked.onRemove = func() {
		// A second reclaimer runs between b's ownership check and its
		// removal of the stale file.
		go func() {
			defer close(done)
			aTok, aErr = reclaim(a, path)
		}()
		select {
		case <-done:
		case <-time.After(200 * time.Millisecond):
		}
	}
	b := NewManager(hooked, deadProber(dead))

	bTok, bErr := reclaim(b, path)
	<-done

	var winners []*Token
	for _, r := range []struct {
		tok *Token
		err error
	}{{aTok, aErr}, {bTok, bErr}} {
		if r.err == nil {
			winners = append(winners, r.tok)
			continue
		}
		assert.ErrorIs(t, r.err, ErrBusy)
	}
	require.Len(t, winners, 1, "exactly one reclaimer may hold the lock")

	owner, err := a.Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, winners[0].Owner().Token, owner.Token)
	require.NoError(t, a.Release(winners[0]))
	assert.NoFileExists(t, path)
}

func TestConcurrentReclaim(t *testing.T) {
	path := lockPath(t)
	dead := Identity{PID: 999999, Host: "node-a"}
	_, err := NewManager(nil, WithIdentity(dead)).Acquire(path)
	require.NoError(t, err)

	var (
		winners atomic.Int32
		g       errgroup.Group
	)
	for range 8 {
		g.Go(func() error {
			m := NewManager(nil, deadProber(dead))
			_, err := reclaim(m, path)
			switch {
			case err == nil:
				winners.Add(1)
				return nil
			case errors.Is(err, ErrBusy):
				return nil
			default:
				return err
			}
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), winners.Load())
	assert.FileExists(t, path)
}

func TestConcurrentAcquire(t *testing.T) {
	path := lockPath(t)
	m := NewManager(nil)

	var (
		g       errgroup.Group
		winners atomic.Int32
		busy    atomic.Int32
		tokens  = make(chan *Token, 16)
	)
	for range 16 {
		g.Go(func() error {
			tok, err := m.Acquire(path)
			switch {
			case err == nil:
				winners.Add(1)
				tokens <- tok
			case errors.Is(err, ErrBusy):
				busy.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(tokens)

	assert.Equal(t, int32(1), winners.Load())
	assert.Equal(t, int32(15), busy.Load())
	for tok := range tokens {
		require.NoError(t, m.Release(tok))
	}
	assert.NoFileExists(t, path)
}

func TestAcquireWriteFailureLeavesNoFile(t *testing.T) {
	path := lockPath(t)
	ffs := fs.NewFaultyFS(nil)
	ffs.AddRule("mnt.lock", fs.Fault{FailAfterBytes: -1, FailOnSync: true})

	_, err := NewManager(ffs).Acquire(path)
	require.ErrorIs(t, err, fs.ErrInjected)
	assert.NoFileExists(t, path)
}

func TestProcessProber(t *testing.T) {
	self := Self()
	p := &ProcessProber{Self: self}

	assert.Equal(t, Alive, p.Probe(Owner{PID: self.PID, Host: self.Host}))
	assert.Equal(t, Unknown, p.Probe(Owner{PID: self.PID, Host: self.Host + "-elsewhere"}))
	assert.Equal(t, Unknown, p.Probe(Owner{PID: -1, Host: self.Host}))

	if runtime.GOOS != "linux" {
		t.Skip("process start time is only probed on linux")
	}
	ppid := os.Getppid()
	if ppid <= 0 {
		t.Skip("no parent process to probe")
	}
	start, ok := processStartTime(ppid)
	require.True(t, ok)
	assert.Equal(t, Alive, p.Probe(Owner{PID: ppid, Host: self.Host, StartTime: start}))
	// A recycled pid shows a different start time.
	assert.Equal(t, Dead, p.Probe(Owner{PID: ppid, Host: self.Host, StartTime: start + 1}))
}
