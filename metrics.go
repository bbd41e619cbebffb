package casefs

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    mountCounter  prometheus.Counter
//	    putHistogram  prometheus.Histogram
//	}
//
//	func (p *PrometheusCollector) RecordPut(bytes int, duration time.Duration, err error) {
//	    p.putHistogram.Observe(duration.Seconds())
//	}
type MetricsCollector interface {
	// RecordMount is called after each mount attempt.
	RecordMount(readOnly bool, duration time.Duration, err error)

	// RecordUnmount is called after a handle has been torn down.
	RecordUnmount(readOnly bool, duration time.Duration, err error)

	// RecordLockContention is called when a read-write mount finds the lock
	// taken. stale is true if the holder was found dead.
	RecordLockContention(stale bool)

	// RecordGet is called after each record read. found reports a hit.
	RecordGet(found bool, duration time.Duration, err error)

	// RecordPut is called after each record write of size bytes.
	RecordPut(bytes int, duration time.Duration, err error)

	// RecordDelete is called after each delete operation.
	RecordDelete(duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordMount(bool, time.Duration, error)   {}
func (NoopMetricsCollector) RecordUnmount(bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordLockContention(bool)                {}
func (NoopMetricsCollector) RecordGet(bool, time.Duration, error)     {}
func (NoopMetricsCollector) RecordPut(int, time.Duration, error)      {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)        {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	MountCount     atomic.Int64
	MountErrors    atomic.Int64
	UnmountCount   atomic.Int64
	UnmountErrors  atomic.Int64
	LockContention atomic.Int64
	StaleLocks     atomic.Int64
	GetCount       atomic.Int64
	GetMisses      atomic.Int64
	GetErrors      atomic.Int64
	GetTotalNanos  atomic.Int64
	PutCount       atomic.Int64
	PutBytes       atomic.Int64
	PutErrors      atomic.Int64
	PutTotalNanos  atomic.Int64
	DeleteCount    atomic.Int64
	DeleteErrors   atomic.Int64
}

// RecordMount implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMount(_ bool, _ time.Duration, err error) {
	b.MountCount.Add(1)
	if err != nil {
		b.MountErrors.Add(1)
	}
}

// RecordUnmount implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUnmount(_ bool, _ time.Duration, err error) {
	b.UnmountCount.Add(1)
	if err != nil {
		b.UnmountErrors.Add(1)
	}
}

// RecordLockContention implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLockContention(stale bool) {
	b.LockContention.Add(1)
	if stale {
		b.StaleLocks.Add(1)
	}
}

// RecordGet implements MetricsCollector.
func (b *BasicMetricsCollector) RecordGet(found bool, duration time.Duration, err error) {
	b.GetCount.Add(1)
	b.GetTotalNanos.Add(duration.Nanoseconds())
	switch {
	case err != nil:
		b.GetErrors.Add(1)
	case !found:
		b.GetMisses.Add(1)
	}
}

// RecordPut implements MetricsCollector.
func (b *BasicMetricsCollector) RecordPut(bytes int, duration time.Duration, err error) {
	b.PutCount.Add(1)
	b.PutTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.PutErrors.Add(1)
		return
	}
	b.PutBytes.Add(int64(bytes))
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(_ time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		MountCount:     b.MountCount.Load(),
		MountErrors:    b.MountErrors.Load(),
		UnmountCount:   b.UnmountCount.Load(),
		UnmountErrors:  b.UnmountErrors.Load(),
		LockContention: b.LockContention.Load(),
		StaleLocks:     b.StaleLocks.Load(),
		GetCount:       b.GetCount.Load(),
		GetMisses:      b.GetMisses.Load(),
		GetErrors:      b.GetErrors.Load(),
		GetAvgNanos:    avg(b.GetTotalNanos.Load(), b.GetCount.Load()),
		PutCount:       b.PutCount.Load(),
		PutBytes:       b.PutBytes.Load(),
		PutErrors:      b.PutErrors.Load(),
		PutAvgNanos:    avg(b.PutTotalNanos.Load(), b.PutCount.Load()),
		DeleteCount:    b.DeleteCount.Load(),
		DeleteErrors:   b.DeleteErrors.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	MountCount     int64
	MountErrors    int64
	UnmountCount   int64
	UnmountErrors  int64
	LockContention int64
	StaleLocks     int64
	GetCount       int64
	GetMisses      int64
	GetErrors      int64
	GetAvgNanos    int64
	PutCount       int64
	PutBytes       int64
	PutErrors      int64
	PutAvgNanos    int64
	DeleteCount    int64
	DeleteErrors   int64
}
