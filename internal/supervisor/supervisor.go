package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/randomizedcoder/go-openvpn-launcher/internal/logging"
	"github.com/randomizedcoder/go-openvpn-launcher/internal/process"
)

var (
	// ErrMaxRestarts is returned by Run once the restart limit is reached.
	ErrMaxRestarts = errors.New("max restarts reached")

	// ErrForceKilled is returned by Stop when the process ignored SIGTERM.
	ErrForceKilled = errors.New("process did not exit gracefully")
)

const (
	// DefaultStopTimeout is how long a stopping process gets between
	// SIGTERM and SIGKILL.
	DefaultStopTimeout = 10 * time.Second

	// outputDrainTimeout bounds the wait for output readers after exit.
	outputDrainTimeout = 5 * time.Second
)

// OutputSink consumes one captured output stream of the process.
// HandleReader is called in its own goroutine per stream and must read
// until EOF.
type OutputSink interface {
	HandleReader(stream string, r io.Reader)
}

// Callbacks contains optional callback functions for supervisor events.
type Callbacks struct {
	// OnStateChange is called when the supervisor state changes.
	OnStateChange func(oldState, newState State)

	// OnStart is called when a process has been spawned.
	OnStart func(sessionID string, pid int)

	// OnExit is called when a spawned process has exited.
	OnExit func(result process.Result)

	// OnSpawnError is called when Spawn fails.
	OnSpawnError func(err error)

	// OnRestart is called before a restart attempt.
	OnRestart func(attempt int, delay time.Duration)
}

// Status is a point-in-time snapshot of the supervisor.
type Status struct {
	State        State
	SessionID    string
	Pid          int
	StartTime    time.Time
	Restarts     int
	LastExitCode int
	Command      string
}

// Uptime returns how long the current session has been running.
func (s Status) Uptime() time.Duration {
	if !s.State.HasProcess() || s.StartTime.IsZero() {
		return 0
	}
	return time.Since(s.StartTime)
}

// Supervisor manages the lifecycle of one OpenVPN connection.
// It spawns the process, forwards its output, and restarts it with
// backoff when it exits.
type Supervisor struct {
	spawner     process.Spawner
	backoff     *Backoff
	logger      *slog.Logger
	callbacks   Callbacks
	output      OutputSink
	stopTimeout time.Duration

	// Configuration
	maxRestarts int // 0 = unlimited

	// Guarded by mu
	mu       sync.RWMutex
	state    State
	handle   *process.Handle
	restarts int
	lastExit int
	sessID   string
	pid      int
	started  time.Time
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	Spawner     process.Spawner
	Backoff     *Backoff // nil = DefaultBackoffConfig seeded from time
	Logger      *slog.Logger
	Callbacks   Callbacks
	MaxRestarts int // 0 = unlimited

	// Output receives captured stdout/stderr. When nil, captured
	// output is read and discarded.
	Output OutputSink

	// StopTimeout is the grace period between SIGTERM and SIGKILL.
	StopTimeout time.Duration
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	backoff := cfg.Backoff
	if backoff == nil {
		backoff = NewBackoffFromTime(DefaultBackoffConfig())
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	stopTimeout := cfg.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}

	return &Supervisor{
		spawner:     cfg.Spawner,
		backoff:     backoff,
		logger:      logger,
		callbacks:   cfg.Callbacks,
		output:      cfg.Output,
		stopTimeout: stopTimeout,
		maxRestarts: cfg.MaxRestarts,
		state:       StateCreated,
	}
}

// Run starts the supervision loop. It blocks until one of:
//   - the context is cancelled (the running process is stopped first)
//   - MaxRestarts is reached (if configured)
//   - the binary cannot be executed at all
func (s *Supervisor) Run(ctx context.Context) error {
	s.logger.Debug("supervisor_starting", "command", s.spawner.String())

	for {
		// Check if we should stop
		select {
		case <-ctx.Done():
			s.setState(StateStopped)
			s.logger.Debug("supervisor_stopped", "reason", "context_cancelled")
			return ctx.Err()
		default:
		}

		restarts := s.Restarts()
		if s.maxRestarts > 0 && restarts >= s.maxRestarts {
			s.setState(StateStopped)
			s.logger.Warn("max_restarts_reached",
				"restarts", restarts,
				"max", s.maxRestarts,
			)
			return fmt.Errorf("%w (%d)", ErrMaxRestarts, s.maxRestarts)
		}

		result, err := s.runOnce(ctx)
		if ctx.Err() != nil {
			s.setState(StateStopped)
			return ctx.Err()
		}
		if err != nil && isPermanent(err) {
			s.setState(StateStopped)
			return err
		}

		// A spawn failure never resets backoff.
		if err == nil && ShouldReset(result.Uptime(), result.ExitCode) {
			s.backoff.Reset()
		}

		delay := s.backoff.Next()

		s.mu.Lock()
		s.restarts++
		attempt := s.restarts
		s.mu.Unlock()

		if s.callbacks.OnRestart != nil {
			s.callbacks.OnRestart(attempt, delay)
		}

		s.logger.Info("client_restart_scheduled",
			"attempt", attempt,
			"delay", delay.String(),
		)

		s.setState(StateBackoff)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(StateStopped)
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// runOnce spawns the process once and waits for it to exit.
func (s *Supervisor) runOnce(ctx context.Context) (process.Result, error) {
	s.setState(StateStarting)

	h, err := s.spawner.Spawn()
	if err != nil {
		s.logger.Error("failed_to_start_process",
			"binary", s.spawner.Name(),
			"error", err,
		)
		if s.callbacks.OnSpawnError != nil {
			s.callbacks.OnSpawnError(err)
		}
		return process.Result{ExitCode: -1, Error: err}, err
	}
	defer h.Release()

	logger := logging.WithSession(s.logger, h.ID())

	s.mu.Lock()
	s.handle = h
	s.sessID = h.ID()
	s.pid = h.Pid()
	s.started = h.StartTime()
	s.mu.Unlock()

	s.setState(StateRunning)

	logger.Info("client_started",
		"pid", h.Pid(),
		"command", h.Command(),
	)

	var outputWg sync.WaitGroup
	s.pump(&outputWg, "stdout", h.Stdout())
	s.pump(&outputWg, "stderr", h.Stderr())

	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(h.ID(), h.Pid())
	}

	select {
	case <-h.Done():
	case <-ctx.Done():
		s.setState(StateStopping)
		logger.Info("client_stopping", "pid", h.Pid(), "reason", "context_cancelled")
		if err := s.stopHandle(h, s.stopTimeout); err != nil {
			logger.Warn("client_stop_failed", "pid", h.Pid(), "error", err)
		}
	}

	// A SIGKILLed process is always reaped.
	state, waitErr := h.Wait(context.Background())
	result := process.Result{
		SessionID: h.ID(),
		Pid:       h.Pid(),
		ExitCode:  extractExitCode(state),
		StartTime: h.StartTime(),
		EndTime:   time.Now(),
		Error:     waitErr,
	}

	s.drainOutput(logger, &outputWg)

	logger.Info("client_exited",
		"pid", result.Pid,
		"exit_code", result.ExitCode,
		"uptime", result.Uptime().String(),
	)

	s.mu.Lock()
	s.handle = nil
	s.lastExit = result.ExitCode
	s.mu.Unlock()

	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(result)
	}

	return result, nil
}

// pump starts a reader for one captured stream. r is nil when output
// is not captured.
func (s *Supervisor) pump(wg *sync.WaitGroup, stream string, r io.Reader) {
	if r == nil {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if s.output == nil {
			_, _ = io.Copy(io.Discard, r)
			return
		}
		s.output.HandleReader(stream, r)
	}()
}

// drainOutput waits for output readers to finish with a timeout.
// A grandchild holding the pipe open would otherwise block forever.
func (s *Supervisor) drainOutput(logger *slog.Logger, wg *sync.WaitGroup) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(outputDrainTimeout):
		logger.Warn("output_drain_timeout",
			"timeout", outputDrainTimeout.String(),
			"reason", "output readers did not reach EOF within timeout",
		)
	}
}

// Stop gracefully stops the running process, if any.
// It first sends SIGTERM to the process group, then SIGKILL if the
// process doesn't exit within timeout. Stop does not end Run; cancel
// its context for that.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.mu.RLock()
	var h *process.Handle
	if s.handle != nil {
		h = s.handle.Clone()
	}
	s.mu.RUnlock()

	if h == nil {
		return nil
	}
	defer h.Release()

	return s.stopHandle(h, timeout)
}

func (s *Supervisor) stopHandle(h *process.Handle, timeout time.Duration) error {
	if err := h.Terminate(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		s.logger.Debug("terminate_failed", "pid", h.Pid(), "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if _, err := h.Wait(ctx); err == nil {
		return nil
	}

	s.logger.Warn("force_killing_process", "pid", h.Pid())
	if err := h.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill pid %d: %w", h.Pid(), err)
	}
	return ErrForceKilled
}

// State returns the current state of the supervisor.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// setState updates the state and calls the callback if registered.
func (s *Supervisor) setState(newState State) {
	s.mu.Lock()
	oldState := s.state
	s.state = newState
	s.mu.Unlock()

	if s.callbacks.OnStateChange != nil && oldState != newState {
		s.callbacks.OnStateChange(oldState, newState)
	}
}

// Restarts returns the number of restarts that have occurred.
func (s *Supervisor) Restarts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.restarts
}

// Uptime returns the current uptime if running, or 0 if not.
func (s *Supervisor) Uptime() time.Duration {
	return s.Status().Uptime()
}

// Status returns a snapshot of the supervisor and its current session.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		State:        s.state,
		SessionID:    s.sessID,
		Pid:          s.pid,
		StartTime:    s.started,
		Restarts:     s.restarts,
		LastExitCode: s.lastExit,
		Command:      s.spawner.String(),
	}
}

// isPermanent reports whether a spawn error will recur on every attempt.
func isPermanent(err error) bool {
	var spawnErr *process.SpawnError
	if !errors.As(err, &spawnErr) {
		return false
	}
	return errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission)
}

// extractExitCode extracts the exit code from a process state.
func extractExitCode(state *os.ProcessState) int {
	if state == nil {
		// Unknown outcome, assume exit code 1
		return 1
	}
	if status, ok := state.Sys().(syscall.WaitStatus); ok {
		if status.Signaled() {
			// Signal exit: 128 + signal number
			return 128 + int(status.Signal())
		}
		return status.ExitStatus()
	}
	return state.ExitCode()
}
