package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randomizedcoder/go-openvpn-launcher/internal/process"
)

// =============================================================================
// Test Spawners
// =============================================================================

// writeScript writes an executable shell script and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "fake-openvpn")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

// scriptSpawner returns a command that runs body as a shell script.
func scriptSpawner(t *testing.T, body string) *process.OpenVPNCommand {
	t.Helper()
	return process.NewOpenVPNCommand(writeScript(t, body))
}

// countingSpawner counts Spawn calls and can inject failures.
type countingSpawner struct {
	inner process.Spawner
	err   error
	calls atomic.Int32
}

func (c *countingSpawner) Spawn() (*process.Handle, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.Spawn()
}

func (c *countingSpawner) Name() string { return "counting" }

func (c *countingSpawner) String() string { return "counting-spawner" }

// recordingSink collects lines per stream.
type recordingSink struct {
	mu    sync.Mutex
	lines map[string][]string
}

func (r *recordingSink) HandleReader(stream string, rd io.Reader) {
	data, _ := io.ReadAll(rd)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lines == nil {
		r.lines = make(map[string][]string)
	}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line != "" {
			r.lines[stream] = append(r.lines[stream], line)
		}
	}
}

func (r *recordingSink) get(stream string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines[stream]...)
}

// =============================================================================
// Test Helpers
// =============================================================================

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestBackoff() *Backoff {
	return NewBackoff(12345, BackoffConfig{
		Initial:    10 * time.Millisecond,
		Max:        100 * time.Millisecond,
		Multiplier: 1.5,
		JitterPct:  0,
	})
}

func runWithTimeout(t *testing.T, sup *Supervisor, timeout time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return sup.Run(ctx)
}

// =============================================================================
// Table-Driven Tests: State Management
// =============================================================================

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateCreated, "created"},
		{StateStarting, "starting"},
		{StateRunning, "running"},
		{StateStopping, "stopping"},
		{StateBackoff, "backoff"},
		{StateStopped, "stopped"},
		{State(99), "unknown"},
		{State(-1), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
			}
		})
	}
}

func TestState_HasProcess(t *testing.T) {
	tests := []struct {
		state State
		want  bool
	}{
		{StateCreated, false},
		{StateStarting, false},
		{StateRunning, true},
		{StateStopping, true},
		{StateBackoff, false},
		{StateStopped, false},
		{State(99), false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.HasProcess(); got != tt.want {
				t.Errorf("State(%d).HasProcess() = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

func TestStatus_Uptime(t *testing.T) {
	started := time.Now().Add(-time.Minute)
	tests := []struct {
		name   string
		status Status
		want   bool
	}{
		{"running", Status{State: StateRunning, StartTime: started}, true},
		{"stopping", Status{State: StateStopping, StartTime: started}, true},
		{"backoff", Status{State: StateBackoff, StartTime: started}, false},
		{"running without start time", Status{State: StateRunning}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Uptime() >= time.Minute; got != tt.want {
				t.Errorf("Uptime() = %v, want counted = %v", tt.status.Uptime(), tt.want)
			}
		})
	}
}

// =============================================================================
// Table-Driven Tests: Exit Code Extraction
// =============================================================================

func TestExtractExitCode(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		wantCode int
	}{
		{"clean exit", "exit 0", 0},
		{"error exit", "exit 3", 3},
		{"sigterm", "kill -TERM $$", 143},
		{"sigkill", "kill -KILL $$", 137},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := scriptSpawner(t, tt.script).SetOutputCapture(false).Spawn()
			if err != nil {
				t.Fatalf("Spawn() error = %v", err)
			}
			defer h.Release()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			state, err := h.Wait(ctx)
			if err != nil {
				t.Fatalf("Wait() error = %v", err)
			}
			if got := extractExitCode(state); got != tt.wantCode {
				t.Errorf("extractExitCode() = %d, want %d", got, tt.wantCode)
			}
		})
	}

	if got := extractExitCode(nil); got != 1 {
		t.Errorf("extractExitCode(nil) = %d, want 1", got)
	}
}

// =============================================================================
// Tests: Supervisor Lifecycle
// =============================================================================

func TestNew_Defaults(t *testing.T) {
	sup := New(Config{Spawner: process.NewOpenVPNCommand("openvpn")})

	if sup.backoff == nil {
		t.Error("backoff is nil")
	}
	if sup.logger == nil {
		t.Error("logger is nil")
	}
	if sup.stopTimeout != DefaultStopTimeout {
		t.Errorf("stopTimeout = %v, want %v", sup.stopTimeout, DefaultStopTimeout)
	}
}

func TestSupervisor_InitialState(t *testing.T) {
	sup := New(Config{
		Spawner: process.NewOpenVPNCommand("openvpn").SetConfig("/c.conf"),
		Backoff: newTestBackoff(),
		Logger:  newTestLogger(),
	})

	st := sup.Status()
	if st.State != StateCreated {
		t.Errorf("initial state = %v, want created", st.State)
	}
	if st.Restarts != 0 {
		t.Errorf("initial restarts = %d, want 0", st.Restarts)
	}
	if st.Command != "openvpn --config /c.conf" {
		t.Errorf("Command = %q", st.Command)
	}
	if sup.Uptime() != 0 {
		t.Errorf("Uptime() = %v before start", sup.Uptime())
	}
	if err := sup.Stop(time.Second); err != nil {
		t.Errorf("Stop() with no process = %v", err)
	}
}

func TestSupervisor_MaxRestarts(t *testing.T) {
	spawner := &countingSpawner{inner: scriptSpawner(t, "exit 1").SetOutputCapture(false)}
	sup := New(Config{
		Spawner:     spawner,
		Backoff:     newTestBackoff(),
		Logger:      newTestLogger(),
		MaxRestarts: 3,
	})

	err := runWithTimeout(t, sup, 10*time.Second)
	if !errors.Is(err, ErrMaxRestarts) {
		t.Fatalf("Run() error = %v, want ErrMaxRestarts", err)
	}
	if got := spawner.calls.Load(); got != 3 {
		t.Errorf("spawns = %d, want 3", got)
	}
	if sup.Restarts() != 3 {
		t.Errorf("Restarts() = %d, want 3", sup.Restarts())
	}
	if sup.State() != StateStopped {
		t.Errorf("final state = %v, want stopped", sup.State())
	}
	if got := sup.Status().LastExitCode; got != 1 {
		t.Errorf("LastExitCode = %d, want 1", got)
	}
}

func TestSupervisor_ContextCancellationStopsProcess(t *testing.T) {
	started := make(chan int, 1)
	stopping := make(chan struct{}, 1)
	sup := New(Config{
		Spawner:     scriptSpawner(t, "exec sleep 30").SetOutputCapture(false),
		Backoff:     newTestBackoff(),
		Logger:      newTestLogger(),
		StopTimeout: 2 * time.Second,
		Callbacks: Callbacks{
			OnStart: func(sessionID string, pid int) { started <- pid },
			OnStateChange: func(oldState, newState State) {
				if oldState == StateRunning && newState == StateStopping {
					stopping <- struct{}{}
				}
			},
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- sup.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("process never started")
	}
	if sup.State() != StateRunning {
		t.Errorf("state = %v, want running", sup.State())
	}
	if sup.Uptime() <= 0 {
		t.Error("Uptime() not positive while running")
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() error = %v, want context.Canceled", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if got := sup.Status().LastExitCode; got != 143 {
		t.Errorf("LastExitCode = %d, want 143 (SIGTERM)", got)
	}
	select {
	case <-stopping:
	default:
		t.Error("no running>stopping transition during shutdown")
	}
}

func TestSupervisor_StopEscalatesToKill(t *testing.T) {
	started := make(chan struct{}, 1)
	// The script ignores SIGTERM, so Stop must escalate.
	sup := New(Config{
		Spawner:     scriptSpawner(t, `trap '' TERM; echo ready; while true; do sleep 0.1; done`),
		Backoff:     newTestBackoff(),
		Logger:      newTestLogger(),
		MaxRestarts: 1,
		Output: sinkFunc(func(stream string, r io.Reader) {
			buf := make([]byte, 6)
			if stream == "stdout" {
				if _, err := io.ReadFull(r, buf); err == nil {
					started <- struct{}{}
				}
			}
			_, _ = io.Copy(io.Discard, r)
		}),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- runWithTimeout(t, sup, 30*time.Second) }()

	select {
	case <-started:
	case <-time.After(10 * time.Second):
		t.Fatal("process never became ready")
	}

	if err := sup.Stop(200 * time.Millisecond); !errors.Is(err, ErrForceKilled) {
		t.Errorf("Stop() error = %v, want ErrForceKilled", err)
	}

	if err := <-errCh; !errors.Is(err, ErrMaxRestarts) {
		t.Errorf("Run() error = %v, want ErrMaxRestarts", err)
	}
	if got := sup.Status().LastExitCode; got != 137 {
		t.Errorf("LastExitCode = %d, want 137 (SIGKILL)", got)
	}
}

type sinkFunc func(stream string, r io.Reader)

func (f sinkFunc) HandleReader(stream string, r io.Reader) { f(stream, r) }

func TestSupervisor_PermanentSpawnErrorStops(t *testing.T) {
	spawner := &countingSpawner{inner: process.NewOpenVPNCommand("definitely-not-an-openvpn-binary-xyz")}
	var spawnErrs atomic.Int32
	sup := New(Config{
		Spawner: spawner,
		Backoff: newTestBackoff(),
		Logger:  newTestLogger(),
		Callbacks: Callbacks{
			OnSpawnError: func(error) { spawnErrs.Add(1) },
		},
	})

	err := runWithTimeout(t, sup, 10*time.Second)
	var spawnErr *process.SpawnError
	if !errors.As(err, &spawnErr) {
		t.Fatalf("Run() error = %v, want *process.SpawnError", err)
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Errorf("Run() error = %v, want exec.ErrNotFound", err)
	}
	if spawner.calls.Load() != 1 || spawnErrs.Load() != 1 {
		t.Errorf("spawns = %d, spawn errors = %d, want 1 and 1", spawner.calls.Load(), spawnErrs.Load())
	}
}

func TestSupervisor_TransientSpawnErrorRetries(t *testing.T) {
	spawner := &countingSpawner{err: errors.New("fork: resource temporarily unavailable")}
	sup := New(Config{
		Spawner:     spawner,
		Backoff:     newTestBackoff(),
		Logger:      newTestLogger(),
		MaxRestarts: 2,
	})

	if err := runWithTimeout(t, sup, 10*time.Second); !errors.Is(err, ErrMaxRestarts) {
		t.Fatalf("Run() error = %v, want ErrMaxRestarts", err)
	}
	if got := spawner.calls.Load(); got != 2 {
		t.Errorf("spawns = %d, want 2", got)
	}
	// Spawn failures grow the backoff.
	if sup.backoff.Attempts() != 2 {
		t.Errorf("backoff attempts = %d, want 2", sup.backoff.Attempts())
	}
}

func TestSupervisor_CleanExitResetsBackoff(t *testing.T) {
	sup := New(Config{
		Spawner:     scriptSpawner(t, "exit 0").SetOutputCapture(false),
		Backoff:     newTestBackoff(),
		Logger:      newTestLogger(),
		MaxRestarts: 3,
	})

	if err := runWithTimeout(t, sup, 10*time.Second); !errors.Is(err, ErrMaxRestarts) {
		t.Fatalf("Run() error = %v, want ErrMaxRestarts", err)
	}
	// Reset before every Next, so only the final increment remains.
	if sup.backoff.Attempts() != 1 {
		t.Errorf("backoff attempts = %d, want 1", sup.backoff.Attempts())
	}
}

func TestSupervisor_ForwardsOutput(t *testing.T) {
	sink := &recordingSink{}
	sup := New(Config{
		Spawner:     scriptSpawner(t, `echo "Initialization Sequence Completed"; echo "TLS Error" >&2`),
		Backoff:     newTestBackoff(),
		Logger:      newTestLogger(),
		MaxRestarts: 1,
		Output:      sink,
	})

	if err := runWithTimeout(t, sup, 10*time.Second); !errors.Is(err, ErrMaxRestarts) {
		t.Fatalf("Run() error = %v, want ErrMaxRestarts", err)
	}

	if got := sink.get("stdout"); len(got) != 1 || got[0] != "Initialization Sequence Completed" {
		t.Errorf("stdout lines = %q", got)
	}
	if got := sink.get("stderr"); len(got) != 1 || got[0] != "TLS Error" {
		t.Errorf("stderr lines = %q", got)
	}
}

func TestSupervisor_CapturedOutputDiscardedWithoutSink(t *testing.T) {
	// Enough output to fill a pipe buffer; the process must not block.
	sup := New(Config{
		Spawner:     scriptSpawner(t, `i=0; while [ $i -lt 5000 ]; do echo "line $i padding padding padding"; i=$((i+1)); done`),
		Backoff:     newTestBackoff(),
		Logger:      newTestLogger(),
		MaxRestarts: 1,
	})

	if err := runWithTimeout(t, sup, 20*time.Second); !errors.Is(err, ErrMaxRestarts) {
		t.Fatalf("Run() error = %v, want ErrMaxRestarts", err)
	}
	if got := sup.Status().LastExitCode; got != 0 {
		t.Errorf("LastExitCode = %d, want 0", got)
	}
}

func TestSupervisor_Callbacks(t *testing.T) {
	var mu sync.Mutex
	var transitions []string
	var starts, restarts int
	var results []process.Result

	sup := New(Config{
		Spawner:     scriptSpawner(t, "exit 2").SetOutputCapture(false),
		Backoff:     newTestBackoff(),
		Logger:      newTestLogger(),
		MaxRestarts: 2,
		Callbacks: Callbacks{
			OnStateChange: func(oldState, newState State) {
				mu.Lock()
				transitions = append(transitions, oldState.String()+">"+newState.String())
				mu.Unlock()
			},
			OnStart: func(sessionID string, pid int) {
				mu.Lock()
				starts++
				mu.Unlock()
				if sessionID == "" || pid <= 0 {
					t.Errorf("OnStart(%q, %d)", sessionID, pid)
				}
			},
			OnExit: func(r process.Result) {
				mu.Lock()
				results = append(results, r)
				mu.Unlock()
			},
			OnRestart: func(attempt int, delay time.Duration) {
				mu.Lock()
				restarts++
				mu.Unlock()
			},
		},
	})

	if err := runWithTimeout(t, sup, 10*time.Second); !errors.Is(err, ErrMaxRestarts) {
		t.Fatalf("Run() error = %v, want ErrMaxRestarts", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if starts != 2 {
		t.Errorf("OnStart calls = %d, want 2", starts)
	}
	if restarts != 2 {
		t.Errorf("OnRestart calls = %d, want 2", restarts)
	}
	if len(results) != 2 {
		t.Fatalf("OnExit calls = %d, want 2", len(results))
	}
	for _, r := range results {
		if r.ExitCode != 2 {
			t.Errorf("result exit code = %d, want 2", r.ExitCode)
		}
		if r.EndTime.Before(r.StartTime) {
			t.Error("result ends before it starts")
		}
	}
	if results[0].SessionID == results[1].SessionID {
		t.Error("restarted sessions share an id")
	}

	want := []string{
		"created>starting", "starting>running", "running>backoff",
		"backoff>starting", "starting>running", "running>backoff",
		"backoff>stopped",
	}
	if strings.Join(transitions, ",") != strings.Join(want, ",") {
		t.Errorf("transitions = %v, want %v", transitions, want)
	}
}

func TestSupervisor_ConcurrentStatusAccess(t *testing.T) {
	sup := New(Config{
		Spawner:     scriptSpawner(t, "sleep 0.05").SetOutputCapture(false),
		Backoff:     newTestBackoff(),
		Logger:      newTestLogger(),
		MaxRestarts: 3,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	done := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					_ = sup.Status()
					_ = sup.State()
					_ = sup.Uptime()
				}
			}
		}()
	}

	_ = sup.Run(ctx)
	close(done)
	wg.Wait()
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkSupervisor_Status(b *testing.B) {
	sup := New(Config{
		Spawner: process.NewOpenVPNCommand("openvpn"),
		Backoff: NewBackoff(0, DefaultBackoffConfig()),
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = sup.Status()
	}
}
