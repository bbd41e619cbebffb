//go:build unix

package lock

import (
	"errors"

	"golang.org/x/sys/unix"
)

// pidAlive sends signal 0 to pid. ESRCH proves the process is gone; EPERM
// proves it exists under another user.
func pidAlive(pid int) (alive, known bool) {
	err := unix.Kill(pid, 0)
	switch {
	case err == nil:
		return true, true
	case errors.Is(err, unix.EPERM):
		return true, true
	case errors.Is(err, unix.ESRCH):
		return false, true
	default:
		return false, false
	}
}
