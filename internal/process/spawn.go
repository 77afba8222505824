package process

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// SpawnError is returned when the OS cannot start the process.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", lossy(e.Binary), e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Spawn starts OpenVPN as a child process and returns a handle to it.
// Standard input is always the null device. Standard output and error
// are piped to the handle when output capture is enabled, otherwise
// they go to the null device. The command itself is left untouched and
// may be spawned again.
func (c *OpenVPNCommand) Spawn() (*Handle, error) {
	args := c.Arguments()
	cmd := exec.Command(c.binary, args...)

	// Own process group so the whole tree can be signalled.
	cmd.SysProcAttr = &unix.SysProcAttr{
		Setpgid: true,
	}

	var stdoutR, stdoutW, stderrR, stderrW *os.File
	closeAll := func() {
		for _, f := range []*os.File{stdoutR, stdoutW, stderrR, stderrW} {
			if f != nil {
				f.Close()
			}
		}
	}

	if c.captureOutput {
		var err error
		if stdoutR, stdoutW, err = os.Pipe(); err != nil {
			return nil, &SpawnError{Binary: c.binary, Err: fmt.Errorf("stdout pipe: %w", err)}
		}
		if stderrR, stderrW, err = os.Pipe(); err != nil {
			closeAll()
			return nil, &SpawnError{Binary: c.binary, Err: fmt.Errorf("stderr pipe: %w", err)}
		}
		// *os.File values are handed to the child directly, so Wait
		// never closes the read ends behind the caller's back.
		cmd.Stdout = stdoutW
		cmd.Stderr = stderrW
	}

	if err := cmd.Start(); err != nil {
		closeAll()
		return nil, &SpawnError{Binary: c.binary, Err: err}
	}

	// The child holds its own copies of the write ends. Closing ours
	// makes readers see EOF when the child exits.
	if stdoutW != nil {
		stdoutW.Close()
	}
	if stderrW != nil {
		stderrW.Close()
	}

	ch := &child{
		id:      uuid.NewString(),
		pid:     cmd.Process.Pid,
		proc:    cmd.Process,
		command: FormatCommand(c.binary, args),
		started: time.Now(),
		stdout:  stdoutR,
		stderr:  stderrR,
		done:    make(chan struct{}),
	}
	h := newHandle(ch)
	go ch.reap(cmd)

	return h, nil
}
