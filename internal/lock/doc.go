// Package lock implements the exclusive write lock of a storage area.
//
// The lock is a file created with O_CREATE|O_EXCL next to the area's data.
// Exclusive creation is atomic on every local filesystem, so there is no
// check-then-create window between competing writers, whether they run in
// the same process or in different ones.
//
// The file records the identity of its owner (a random token, pid, host and
// process start time). When creation fails because the file exists, the
// owner is probed:
//
//   - alive, or the probe is inconclusive: [ErrBusy]
//   - verifiably gone: [ErrStale], carrying a [Token] for the dead owner
//
// [Manager.Release] is the only function that removes a lock file. It is
// idempotent and never removes a file that belongs to a different owner.
// Releasing a stale token holds an exclusive flock on the area directory
// while it checks the owner and removes the file, so concurrent reclaimers
// of one dead owner clear the file at most once.
package lock
