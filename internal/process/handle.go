package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// ErrHandleReleased is returned when a released Handle is used.
var ErrHandleReleased = errors.New("process handle released")

// child is the state shared by every clone of a Handle.
type child struct {
	id      string
	pid     int
	proc    *os.Process
	command string
	started time.Time

	// Read ends of the output pipes; nil when output is not captured.
	stdout *os.File
	stderr *os.File

	// done is closed by the reaper once Wait has returned.
	done    chan struct{}
	state   *os.ProcessState
	waitErr error

	mu     sync.Mutex
	refs   int
	closed bool
}

// Handle is a reference to a spawned process. Clone returns further
// references to the same process; all of them may be used concurrently.
// The output pipes are closed once the process has been reaped and
// every reference has been released.
type Handle struct {
	c        *child
	released atomic.Bool
}

func newHandle(c *child) *Handle {
	c.refs = 1
	return &Handle{c: c}
}

// reap waits for the process exactly once on behalf of all handles.
func (c *child) reap(cmd *exec.Cmd) {
	err := cmd.Wait()

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		err = nil
	}

	// done is closed under mu, so a group signal sent while holding mu
	// sees either a live child or the published exit.
	c.mu.Lock()
	c.state = cmd.ProcessState
	c.waitErr = err
	close(c.done)
	c.mu.Unlock()

	c.closeIfUnused()
}

func (c *child) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *child) closeIfUnused() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.refs > 0 || !c.exited() {
		return
	}
	c.closed = true
	if c.stdout != nil {
		c.stdout.Close()
	}
	if c.stderr != nil {
		c.stderr.Close()
	}
}

// Clone returns a new reference to the same process. It panics if h
// has already been released.
func (h *Handle) Clone() *Handle {
	if h.released.Load() {
		panic("process: Clone of released Handle")
	}
	h.c.mu.Lock()
	h.c.refs++
	h.c.mu.Unlock()
	return &Handle{c: h.c}
}

// Release drops this reference. Further calls on h return
// ErrHandleReleased. Releasing twice is a no-op.
func (h *Handle) Release() {
	if h.released.Swap(true) {
		return
	}
	h.c.mu.Lock()
	h.c.refs--
	h.c.mu.Unlock()
	h.c.closeIfUnused()
}

// Refs returns the number of live references to the process.
func (h *Handle) Refs() int {
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.c.refs
}

// ID returns the session ID assigned at spawn time.
func (h *Handle) ID() string {
	return h.c.id
}

// Pid returns the OS process ID.
func (h *Handle) Pid() int {
	return h.c.pid
}

// Command returns the display form of the invocation.
func (h *Handle) Command() string {
	return h.c.command
}

// StartTime returns when the process was started.
func (h *Handle) StartTime() time.Time {
	return h.c.started
}

// Stdout returns the read end of the captured standard output, or nil
// if output is not captured. All clones share the same reader.
func (h *Handle) Stdout() io.Reader {
	if h.c.stdout == nil {
		return nil
	}
	return h.c.stdout
}

// Stderr returns the read end of the captured standard error, or nil
// if output is not captured. All clones share the same reader.
func (h *Handle) Stderr() io.Reader {
	if h.c.stderr == nil {
		return nil
	}
	return h.c.stderr
}

// Done returns a channel that is closed once the process has been reaped.
func (h *Handle) Done() <-chan struct{} {
	return h.c.done
}

// Exited reports whether the process has been reaped.
func (h *Handle) Exited() bool {
	return h.c.exited()
}

// ProcessState returns the exit state, or nil while the process runs.
func (h *Handle) ProcessState() *os.ProcessState {
	if !h.c.exited() {
		return nil
	}
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	return h.c.state
}

// Wait blocks until the process exits or ctx is done. A non-zero exit
// status is not an error; inspect the returned state instead.
func (h *Handle) Wait(ctx context.Context) (*os.ProcessState, error) {
	if h.released.Load() {
		return nil, ErrHandleReleased
	}
	select {
	case <-h.c.done:
		h.c.mu.Lock()
		defer h.c.mu.Unlock()
		return h.c.state, h.c.waitErr
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Signal sends sig to the process.
func (h *Handle) Signal(sig os.Signal) error {
	if h.released.Load() {
		return ErrHandleReleased
	}
	if h.c.exited() {
		return os.ErrProcessDone
	}
	return h.c.proc.Signal(sig)
}

// Terminate sends SIGTERM to the process group.
func (h *Handle) Terminate() error {
	return h.signalGroup(unix.SIGTERM)
}

// Kill sends SIGKILL to the process group.
func (h *Handle) Kill() error {
	return h.signalGroup(unix.SIGKILL)
}

// signalGroup signals the child's process group, falling back to the
// process itself when it does not lead its own group. The exit check and
// the kill run under mu, which the reaper holds while publishing the
// exit. The kernel reaps inside cmd.Wait slightly earlier. In that gap
// the pid stays reserved while any group member still carries it as
// pgid, and a recycled pid only names a group once its new owner calls
// setpgid.
func (h *Handle) signalGroup(sig unix.Signal) error {
	if h.released.Load() {
		return ErrHandleReleased
	}
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if h.c.exited() {
		return os.ErrProcessDone
	}
	if pgid, err := unix.Getpgid(h.c.pid); err == nil && pgid == h.c.pid {
		return unix.Kill(-pgid, sig)
	}
	return h.c.proc.Signal(sig)
}

// String identifies the handle in logs.
func (h *Handle) String() string {
	return fmt.Sprintf("session %s (pid %d)", h.c.id, h.c.pid)
}
