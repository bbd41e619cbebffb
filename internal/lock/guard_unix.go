//go:build unix

package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/hupe1980/casefs/internal/fs"
)

// reclaimGuard takes an exclusive flock on the directory holding the lock
// file. The kernel drops it when the process dies, so a crashed reclaimer
// never blocks later ones.
func reclaimGuard(fsys fs.FileSystem, path string) (unlock func(), err error) {
	dir := filepath.Dir(path)
	f, err := fsys.OpenFile(dir, os.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	fd, ok := f.(interface{ Fd() uintptr })
	if !ok {
		_ = f.Close()
		return nil, fmt.Errorf("%s: reclaim guard needs an os file", dir)
	}
	for {
		err = unix.Flock(int(fd.Fd()), unix.LOCK_EX)
		if !errors.Is(err, unix.EINTR) {
			break
		}
	}
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("flock %s: %w", dir, err)
	}
	return func() {
		_ = unix.Flock(int(fd.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}
