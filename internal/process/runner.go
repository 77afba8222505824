// Package process builds and launches OpenVPN client processes.
package process

import (
	"time"
)

// Spawner starts processes for a supervisor.
// This interface allows the supervisor to be process-agnostic.
type Spawner interface {
	// Spawn starts a new process and returns a handle to it.
	// Every call produces an independent process.
	Spawn() (*Handle, error)

	// Name returns a human-readable name for this process type.
	Name() string

	// String returns the invocation for logs.
	String() string
}

// Result captures the outcome of a single supervised session.
type Result struct {
	SessionID string
	Pid       int
	ExitCode  int
	StartTime time.Time
	EndTime   time.Time
	Error     error
}

// Uptime returns how long the session ran.
func (r Result) Uptime() time.Duration {
	if r.EndTime.IsZero() || r.StartTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}
