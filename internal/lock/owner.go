package lock

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ModeReadWrite is the only intent ever recorded in a lock file; read-only
// mounts never take the lock.
const ModeReadWrite = "rw"

// Owner identifies the holder of a lock file.
type Owner struct {
	Token     string    `yaml:"token"`
	PID       int       `yaml:"pid"`
	Host      string    `yaml:"host"`
	StartTime uint64    `yaml:"start_time,omitempty"`
	Mode      string    `yaml:"mode"`
	Created   time.Time `yaml:"created"`
}

func newOwner(self Identity, now time.Time) Owner {
	return Owner{
		Token:     uuid.NewString(),
		PID:       self.PID,
		Host:      self.Host,
		StartTime: self.StartTime,
		Mode:      ModeReadWrite,
		Created:   now.UTC(),
	}
}

func (o Owner) encode() ([]byte, error) {
	return yaml.Marshal(o)
}

func decodeOwner(data []byte) (Owner, error) {
	var o Owner
	if len(data) == 0 {
		return o, fmt.Errorf("%w: empty", ErrMalformed)
	}
	if err := yaml.Unmarshal(data, &o); err != nil {
		return o, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if o.Token == "" || o.PID == 0 {
		return o, fmt.Errorf("%w: missing owner identity", ErrMalformed)
	}
	return o, nil
}

// Identity describes the current process as seen by lock owners and probes.
type Identity struct {
	PID       int
	Host      string
	StartTime uint64
}

// Self returns the identity of the running process.
func Self() Identity {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	pid := os.Getpid()
	start, _ := processStartTime(pid)
	return Identity{PID: pid, Host: host, StartTime: start}
}
