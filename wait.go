package casefs

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/time/rate"
)

const (
	// DefaultPollInterval is how often MountWait retries when no file system
	// event arrives.
	DefaultPollInterval = 250 * time.Millisecond

	// minRetryInterval bounds the retry rate when lock files churn.
	minRetryInterval = 10 * time.Millisecond
)

type waitOptions struct {
	pollInterval time.Duration
	mount        []MountOption
}

// WaitOption configures MountWait.
type WaitOption func(*waitOptions)

// WithPollInterval sets the fallback retry interval.
func WithPollInterval(d time.Duration) WaitOption {
	return func(o *waitOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithMountOptions passes options through to every Mount attempt.
func WithMountOptions(opts ...MountOption) WaitOption {
	return func(o *waitOptions) {
		o.mount = append(o.mount, opts...)
	}
}

// MountWait mounts the area at path read-write, waiting while another
// writer holds it. It retries only on ErrLocked: as soon as the lock file is
// removed, or every poll interval if no event arrives. A stale lock, and
// every other error, is returned at once. Cancelling ctx stops the wait with
// ctx.Err().
func MountWait(ctx context.Context, reg *Registry, path string, optFns ...WaitOption) (*Handle, error) {
	o := waitOptions{pollInterval: DefaultPollInterval}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	limiter := rate.NewLimiter(rate.Every(minRetryInterval), 1)

	var (
		watcher  *fsnotify.Watcher
		released <-chan struct{}
		watched  bool
	)
	defer func() {
		if watcher != nil {
			_ = watcher.Close()
		}
	}()

	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		h, err := reg.Mount(path, false, o.mount...)
		if err == nil || !errors.Is(err, ErrLocked) || errors.Is(err, ErrStale) {
			return h, err
		}

		if !watched {
			watcher, released = watchRelease(ctx, reg, path)
			watched = true
		}
		timer := time.NewTimer(o.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-released:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// watchRelease signals on the returned channel whenever the lock file of the
// area is removed. It returns a nil watcher if watching is not possible, in
// which case the caller falls back to polling.
func watchRelease(ctx context.Context, reg *Registry, path string) (*fsnotify.Watcher, <-chan struct{}) {
	lp, err := reg.LockPath(path)
	if err != nil {
		return nil, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		reg.opts.logger.Debug("lock watch unavailable", "area", path, "error", err)
		return nil, nil
	}
	if err := w.Add(filepath.Dir(lp)); err != nil {
		_ = w.Close()
		reg.opts.logger.Debug("lock watch unavailable", "area", path, "error", err)
		return nil, nil
	}

	ch := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if event.Name == lp && (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)) {
					select {
					case ch <- struct{}{}:
					default:
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				reg.opts.logger.Debug("lock watch error", "area", path, "error", err)
			}
		}
	}()
	return w, ch
}
