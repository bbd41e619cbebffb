// Package casefs manages persistent storage areas ("cases") holding very
// many small keyed binary records, shared by independent readers and writers
// across goroutines and processes.
//
// # Quick Start
//
//	reg := casefs.NewRegistry()
//	if !reg.Exists("./storage/default") {
//	    _ = reg.Create("./storage/default", casefs.DefaultKind, nil)
//	}
//
//	h, err := reg.Mount("./storage/default", false)
//	if errors.Is(err, casefs.ErrLocked) {
//	    // another writer is active; retry, wait or report
//	}
//	defer h.Decref()
//
//	k := casefs.Key{Name: "PRESSURE", Realization: 3, ReportStep: 10}
//	_ = h.Put(k, payload)
//	v, ok, _ := h.Get(k)
//
// # Mounts and Locking
//
// At most one read-write handle exists per area at a time. A read-write
// mount creates <area>/<name>.lock exclusively and the last Decref of the
// handle removes it after flushing the driver. Read-only mounts never look at
// the lock file and may coexist with a writer; they see the writer's data as
// of its last flush at the time they were opened.
//
// Lock contention is reported immediately as *LockedError. Mount never
// retries; MountWait is an opt-in helper that waits for the lock.
//
// # Drivers
//
// The driver kind is chosen at Create and persisted in the area's MOUNT_INFO
// marker:
//
//   - block: records packed into append-only data files with an in-memory
//     offset table (default). Survives torn writes.
//   - plain: one file per record.
//   - sqlite: a single SQLite database.
//
// # Durability
//
// A write is durable once Flush returns, or once the handle has been
// unmounted. Records flushed before a crash survive it.
package casefs
