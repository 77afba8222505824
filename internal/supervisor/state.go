// Package supervisor keeps an OpenVPN client process running, restarting it
// with backoff when it exits.
package supervisor

// State is the lifecycle phase of the supervised connection.
type State int

const (
	StateCreated State = iota // nothing spawned yet
	StateStarting             // spawn in progress
	StateRunning              // openvpn is up; the tunnel may still be negotiating
	StateStopping             // shutdown requested, waiting for the child to exit
	StateBackoff              // child exited, waiting to respawn
	StateStopped              // supervision has ended
)

var stateNames = [...]string{
	StateCreated:  "created",
	StateStarting: "starting",
	StateRunning:  "running",
	StateStopping: "stopping",
	StateBackoff:  "backoff",
	StateStopped:  "stopped",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// HasProcess reports whether an OpenVPN child exists in this state, so
// its pid and uptime are meaningful.
func (s State) HasProcess() bool {
	return s == StateRunning || s == StateStopping
}
