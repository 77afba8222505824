// Package orchestrator wires the launcher's components together for one
// supervised OpenVPN connection.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-openvpn-launcher/internal/config"
	"github.com/randomizedcoder/go-openvpn-launcher/internal/logging"
	"github.com/randomizedcoder/go-openvpn-launcher/internal/metrics"
	"github.com/randomizedcoder/go-openvpn-launcher/internal/preflight"
	"github.com/randomizedcoder/go-openvpn-launcher/internal/process"
	"github.com/randomizedcoder/go-openvpn-launcher/internal/supervisor"
	"github.com/randomizedcoder/go-openvpn-launcher/internal/tui"
)

// ErrPreflightFailed is returned by Run when a required check fails.
var ErrPreflightFailed = errors.New("preflight checks failed (use --skip-preflight to override)")

const (
	// shutdownTimeout bounds the metrics server shutdown.
	shutdownTimeout = 10 * time.Second

	// summaryOutputLines is how much OpenVPN output the exit summary repeats.
	summaryOutputLines = 10
)

// Orchestrator coordinates all components for one OpenVPN connection.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger
	out    io.Writer

	command       *process.OpenVPNCommand
	supervisor    *supervisor.Supervisor
	output        *logging.OutputHandler
	registry      *prometheus.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server // nil when disabled

	program *tea.Program // nil unless the TUI is running
}

// New creates a new Orchestrator with the given configuration. It fails
// only if the remotes cannot be resolved.
func New(cfg *config.Config, logger *slog.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	command, err := cfg.Command()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		config:   cfg,
		logger:   logger,
		out:      os.Stdout,
		command:  command,
		registry: prometheus.NewRegistry(),
	}

	o.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	o.metrics = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Binary:  command.Binary(),
		Remotes: remoteStrings(command),
	}, o.registry)

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(cfg.MetricsAddr, o.registry, o.metrics.Connected, logger)
	}

	o.output = logging.NewOutputHandler(logger, cfg.Verbose, o.onEvent)

	o.supervisor = supervisor.New(supervisor.Config{
		Spawner:     command,
		Backoff:     supervisor.NewBackoffFromTime(cfg.Backoff()),
		Logger:      logger,
		MaxRestarts: cfg.MaxRestarts,
		Output:      o.output,
		StopTimeout: cfg.StopTimeout,
		Callbacks: supervisor.Callbacks{
			OnStateChange: o.onStateChange,
			OnStart:       o.onStart,
			OnExit:        o.onExit,
			OnSpawnError:  o.onSpawnError,
			OnRestart:     o.onRestart,
		},
	})

	return o, nil
}

// SetOutput redirects preflight results and the exit summary (default
// os.Stdout).
func (o *Orchestrator) SetOutput(w io.Writer) {
	o.out = w
}

// Run supervises the connection. It blocks until a signal, the configured
// duration, the TUI quitting, ctx, or the supervisor giving up.
func (o *Orchestrator) Run(ctx context.Context) error {
	// Run preflight checks
	if !o.config.SkipPreflight {
		result := preflight.RunAll(ctx, preflight.Options{
			Binary:     o.config.Binary,
			ConfigFile: o.config.ConfigFile,
			PluginPath: o.config.PluginPath,
		})
		preflight.PrintResults(o.out, result)
		if !result.Passed {
			return ErrPreflightFailed
		}
	}

	// Start metrics server
	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	o.logger.Info("connection_starting",
		"command", o.command.String(),
		"remotes", len(o.command.Remotes()),
		"max_restarts", o.config.MaxRestarts,
	)

	// The program must exist before the supervisor reports state changes.
	var tuiDone <-chan struct{}
	if o.config.TUI {
		tuiDone = o.startTUI()
	}

	supDone := make(chan error, 1)
	go func() {
		supDone <- o.supervisor.Run(ctx)
	}()

	var durationCh <-chan time.Time
	if o.config.Duration > 0 {
		timer := time.NewTimer(o.config.Duration)
		defer timer.Stop()
		durationCh = timer.C
	}

	var runErr error
	select {
	case sig := <-sigCh:
		o.logger.Info("received_signal", "signal", sig.String())
	case <-durationCh:
		o.logger.Info("duration_elapsed", "duration", o.config.Duration.String())
	case <-tuiDone:
		o.logger.Info("tui_closed")
	case err := <-supDone:
		supDone = nil
		runErr = err
		o.logger.Warn("supervisor_stopped", "error", err)
	case <-ctx.Done():
		o.logger.Info("context_cancelled")
	}

	// Graceful shutdown
	o.logger.Info("shutting_down")
	cancel()

	if supDone != nil {
		if err := <-supDone; err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
		}
	}

	if tuiDone != nil {
		tui.SendQuit(o.program)
		<-tuiDone
	}

	if o.metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
			o.logger.Warn("metrics_shutdown_error", "error", err)
		}
	}

	o.printExitSummary()

	o.logger.Info("shutdown_complete",
		"starts", o.metrics.TotalStarts(),
		"restarts", o.metrics.TotalRestarts(),
	)

	return runErr
}

// startTUI runs the dashboard until it quits. The returned channel is
// closed when it has.
func (o *Orchestrator) startTUI() <-chan struct{} {
	model := tui.New(tui.Config{
		Command:     o.command.String(),
		MetricsAddr: o.metricsAddr(),
		Status:      o.supervisor,
		Output:      o.output,
		Summary:     o.metrics,
	})
	o.program = tea.NewProgram(model, tea.WithAltScreen())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := o.program.Run(); err != nil {
			o.logger.Error("tui_error", "error", err)
		}
	}()
	return done
}

// Callback handlers

func (o *Orchestrator) onStateChange(oldState, newState supervisor.State) {
	o.logger.Debug("client_state_changed", "from", oldState.String(), "to", newState.String())
	if o.program != nil {
		tui.SendStatus(o.program, o.supervisor.Status(), o.metrics.Connected())
	}
}

func (o *Orchestrator) onStart(sessionID string, pid int) {
	o.metrics.ClientStarted()
	if o.config.Verbose {
		o.logger.Debug("client_process_started", "session_id", sessionID, "pid", pid)
	}
}

func (o *Orchestrator) onExit(result process.Result) {
	o.metrics.RecordExit(result.ExitCode, result.Uptime())
}

func (o *Orchestrator) onSpawnError(err error) {
	o.metrics.SpawnFailed()
}

func (o *Orchestrator) onRestart(attempt int, delay time.Duration) {
	o.metrics.ClientRestarted()
}

func (o *Orchestrator) onEvent(event logging.Event, line string) {
	o.metrics.RecordEvent(event.String())
	if event == logging.EventConnected {
		o.logger.Info("tunnel_up", "session_id", o.supervisor.Status().SessionID)
	}
}

// printExitSummary prints a summary of the run.
func (o *Orchestrator) printExitSummary() {
	summary := o.metrics.GenerateSummary()
	w := o.out

	fmt.Fprintln(w)
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintln(w, "                   go-openvpn-launcher Exit Summary")
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
	fmt.Fprintf(w, "Run Duration:           %s\n", formatDuration(summary.Duration))
	fmt.Fprintf(w, "Command:                %s\n", o.command.String())
	fmt.Fprintln(w)

	if summary.UptimeP50 > 0 || summary.UptimeP95 > 0 {
		fmt.Fprintln(w, "Session Uptime:")
		fmt.Fprintf(w, "  P50 (median):         %s\n", formatDuration(summary.UptimeP50))
		fmt.Fprintf(w, "  P95:                  %s\n", formatDuration(summary.UptimeP95))
		fmt.Fprintf(w, "  P99:                  %s\n", formatDuration(summary.UptimeP99))
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "Lifecycle:")
	fmt.Fprintf(w, "  Total Starts:         %d\n", summary.TotalStarts)
	fmt.Fprintf(w, "  Total Restarts:       %d\n", summary.TotalRestarts)
	fmt.Fprintf(w, "  Spawn Failures:       %d\n", summary.SpawnFailures)
	fmt.Fprintln(w)

	if len(summary.ExitCodes) > 0 {
		fmt.Fprintln(w, "Exit Codes:")
		codes := make([]int, 0, len(summary.ExitCodes))
		for code := range summary.ExitCodes {
			codes = append(codes, code)
		}
		sort.Ints(codes)
		for _, code := range codes {
			fmt.Fprintf(w, "  %3d %-16s %d\n", code, exitCodeLabel(code), summary.ExitCodes[code])
		}
		fmt.Fprintln(w)
	}

	if len(summary.Events) > 0 {
		fmt.Fprintln(w, "Connection Events:")
		for _, name := range sortedKeys(summary.Events) {
			fmt.Fprintf(w, "  %-20s %d\n", name, summary.Events[name])
		}
		fmt.Fprintln(w)
	}

	errorCounts := o.output.CountErrors()
	if len(errorCounts) > 0 {
		fmt.Fprintln(w, "Errors Seen:")
		for _, pattern := range sortedKeys(errorCounts) {
			fmt.Fprintf(w, "  %-24s %d\n", pattern, errorCounts[pattern])
		}
		fmt.Fprintln(w)
	}

	if lines := o.output.RecentLines(summaryOutputLines); len(lines) > 0 {
		fmt.Fprintln(w, "Last OpenVPN Output:")
		for _, line := range lines {
			fmt.Fprintf(w, "  %s\n", line)
		}
		fmt.Fprintln(w)
	}

	if addr := o.metricsAddr(); addr != "" {
		fmt.Fprintf(w, "Metrics endpoint was: http://%s/metrics\n", addr)
	}
	fmt.Fprintln(w, "═══════════════════════════════════════════════════════════════════")
}

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// exitCodeLabel returns a human-readable label for common exit codes.
func exitCodeLabel(code int) string {
	switch code {
	case 0:
		return "(clean)"
	case 1:
		return "(error)"
	case 137:
		return "(SIGKILL)"
	case 143:
		return "(SIGTERM)"
	default:
		return ""
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func remoteStrings(c *process.OpenVPNCommand) []string {
	remotes := c.Remotes()
	out := make([]string, len(remotes))
	for i, r := range remotes {
		out[i] = r.String()
	}
	return out
}

func (o *Orchestrator) metricsAddr() string {
	if o.metricsServer == nil {
		return ""
	}
	return o.metricsServer.Addr()
}

// Command returns the OpenVPN command being supervised.
func (o *Orchestrator) Command() *process.OpenVPNCommand {
	return o.command
}

// Supervisor returns the supervisor for external access.
func (o *Orchestrator) Supervisor() *supervisor.Supervisor {
	return o.supervisor
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Registry returns the registry the metrics are exposed from.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.registry
}

// Output returns the handler consuming OpenVPN's output.
func (o *Orchestrator) Output() *logging.OutputHandler {
	return o.output
}
