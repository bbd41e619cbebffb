package casefs

import (
	"log/slog"

	"github.com/hupe1980/casefs/driver"
	"github.com/hupe1980/casefs/internal/fs"
	"github.com/hupe1980/casefs/internal/lock"
)

// Liveness is the verdict of a lock holder probe.
type Liveness = lock.Liveness

const (
	// HolderUnknown means the probe could not decide. It is treated as alive.
	HolderUnknown = lock.Unknown
	HolderAlive   = lock.Alive
	HolderDead    = lock.Dead
)

type options struct {
	logger        *Logger
	drivers       *driver.Table
	fs            fs.FileSystem
	staleRecovery bool
	prober        lock.Prober
	metrics       MetricsCollector
}

// Option configures a Registry.
type Option func(*options)

// WithLogger configures structured logging for registry and handle
// operations. Pass nil to disable logging.
//
// Example with JSON logging:
//
//	logger := casefs.NewJSONLogger(slog.LevelInfo)
//	reg := casefs.NewRegistry(casefs.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithMetricsCollector configures a metrics collector for mounts and record
// operations. Pass nil to disable metrics collection.
//
// Example with BasicMetricsCollector:
//
//	metrics := &casefs.BasicMetricsCollector{}
//	reg := casefs.NewRegistry(casefs.WithMetricsCollector(metrics))
//	// ... mount and use areas ...
//	stats := metrics.GetStats()
//	fmt.Printf("Puts: %d, Avg latency: %dns\n", stats.PutCount, stats.PutAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		o.metrics = mc
	}
}

// WithDrivers sets the table of driver kinds the registry can create and
// mount. The default is DefaultDrivers().
func WithDrivers(t *driver.Table) Option {
	return func(o *options) {
		o.drivers = t
	}
}

// WithFileSystem replaces the local file system, e.g. with a fault-injecting
// one in tests. The SQLite driver always uses the local file system.
func WithFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		o.fs = fsys
	}
}

// WithStaleLockRecovery lets read-write mounts remove a lock file whose
// holder is verifiably dead and retry once. Disabled by default, in which
// case Mount reports a *LockedError with Stale set.
func WithStaleLockRecovery(enabled bool) Option {
	return func(o *options) {
		o.staleRecovery = enabled
	}
}

// WithLockProber replaces the process-table probe that decides whether a
// lock holder is still running.
func WithLockProber(probe func(LockHolder) Liveness) Option {
	return func(o *options) {
		if probe == nil {
			o.prober = nil
			return
		}
		o.prober = lock.ProberFunc(func(owner lock.Owner) Liveness {
			return probe(*holderOf(&owner))
		})
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger: NoopLogger(),
		fs:     fs.Default,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	if o.drivers == nil {
		o.drivers = DefaultDrivers()
	}
	if o.fs == nil {
		o.fs = fs.Default
	}
	if o.metrics == nil {
		o.metrics = NoopMetricsCollector{}
	}
	return o
}

type mountOptions struct {
	kind driver.Kind
}

// MountOption configures a single Mount call.
type MountOption func(*mountOptions)

// ExpectKind makes Mount fail with ErrKindMismatch unless the area was
// created with kind.
func ExpectKind(kind driver.Kind) MountOption {
	return func(o *mountOptions) {
		o.kind = kind
	}
}

func applyMountOptions(optFns []MountOption) mountOptions {
	var o mountOptions
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
