package lock

// Liveness is the outcome of probing a lock owner.
type Liveness int

const (
	// Unknown means the probe could not decide; callers treat it as alive.
	Unknown Liveness = iota
	Alive
	Dead
)

func (l Liveness) String() string {
	switch l {
	case Alive:
		return "alive"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Prober decides whether the owner of a lock file is still running.
type Prober interface {
	Probe(o Owner) Liveness
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(o Owner) Liveness

func (f ProberFunc) Probe(o Owner) Liveness { return f(o) }

// ProcessProber checks owners on the local host through the process table.
// Owners on other hosts are never declared dead.
type ProcessProber struct {
	Self Identity
}

// NewProcessProber returns a prober for the running process.
func NewProcessProber() *ProcessProber {
	return &ProcessProber{Self: Self()}
}

func (p *ProcessProber) Probe(o Owner) Liveness {
	if o.Host != p.Self.Host || o.PID <= 0 {
		return Unknown
	}
	if o.PID == p.Self.PID {
		// A handle in this very process holds it.
		return Alive
	}
	alive, known := pidAlive(o.PID)
	if !known {
		return Unknown
	}
	if !alive {
		return Dead
	}
	if o.StartTime != 0 {
		if start, ok := processStartTime(o.PID); ok && start != o.StartTime {
			// The pid was recycled by an unrelated process.
			return Dead
		}
	}
	return Alive
}
