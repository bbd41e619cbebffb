//go:build !unix

package lock

import (
	"errors"
	"os"

	"github.com/hupe1980/casefs/internal/fs"
)

// reclaimGuard creates <path>.reclaim exclusively. If a reclaimer died
// holding it the guard stays and the lock reads as busy until it is removed
// by hand.
func reclaimGuard(fsys fs.FileSystem, path string) (unlock func(), err error) {
	guard := path + ".reclaim"
	f, err := fsys.OpenFile(guard, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, os.ErrExist) {
		return nil, &BusyError{Path: path}
	}
	if err != nil {
		return nil, err
	}
	_ = f.Close()
	return func() { _ = fsys.Remove(guard) }, nil
}
