package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/randomizedcoder/go-openvpn-launcher/internal/config"
	"github.com/randomizedcoder/go-openvpn-launcher/internal/logging"
	"github.com/randomizedcoder/go-openvpn-launcher/internal/orchestrator"
	"github.com/randomizedcoder/go-openvpn-launcher/internal/preflight"
)

// errChecksFailed is returned by the check command.
var errChecksFailed = errors.New("preflight checks failed")

// app holds state shared by the commands of one invocation.
type app struct {
	cfg    *config.Config
	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{
		cfg:    config.DefaultConfig(),
		stdout: stdout,
		stderr: stderr,
	}

	root := &cobra.Command{
		Use:   "go-openvpn-launcher",
		Short: "Launch and supervise an OpenVPN client",
		Long: `go-openvpn-launcher runs an OpenVPN client with the given configuration
file, remote endpoints and plugin, restarts it with backoff when it exits,
and exposes its state as Prometheus metrics.`,
		Version:           version,
		Args:              cobra.NoArgs,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.prepare,
		RunE:              a.runClient,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetVersionTemplate("go-openvpn-launcher {{.Version}}\n")

	config.BindFlags(root.PersistentFlags(), a.cfg)

	root.AddCommand(
		a.argsCmd(),
		a.printCmdCmd(),
		a.checkCmd(),
		versionCmd(),
	)
	return root
}

// prepare layers the profile under the command line and validates the result.
func (a *app) prepare(cmd *cobra.Command, _ []string) error {
	if err := config.ApplyProfile(cmd.Flags(), a.cfg); err != nil {
		return err
	}
	if err := config.Validate(a.cfg); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	return nil
}

// newLogger builds the process logger. The dashboard owns the terminal,
// so logs are discarded while it runs.
func (a *app) newLogger() *slog.Logger {
	if a.cfg.TUI {
		return logging.NewLoggerWithWriter(io.Discard, a.cfg.LogFormat, a.cfg.LogLevel)
	}
	return logging.NewLogger(a.cfg.LogFormat, a.cfg.LogLevel, a.cfg.Verbose)
}

func (a *app) runClient(cmd *cobra.Command, _ []string) error {
	logger := a.newLogger()
	logging.SetDefault(logger)

	orch, err := orchestrator.New(a.cfg, logger)
	if err != nil {
		return err
	}
	orch.SetOutput(a.stdout)

	logger.Info("starting",
		"version", version,
		"binary", a.cfg.Binary,
		"remotes", a.cfg.Remotes,
		"profile", a.cfg.ProfilePath,
		"metrics_addr", a.cfg.MetricsAddr,
	)

	if !a.cfg.TUI {
		a.printBanner(orch)
	}

	if err := orch.Run(cmd.Context()); err != nil {
		logger.Error("orchestrator_failed", "error", err)
		return err
	}
	return nil
}

// printBanner prints the startup banner.
func (a *app) printBanner(orch *orchestrator.Orchestrator) {
	w := a.stdout
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                     go-openvpn-launcher                           ║")
	fmt.Fprintln(w, "║          Supervised OpenVPN client process launcher               ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Command:     %s\n", orch.Command().String())
	if a.cfg.MaxRestarts > 0 {
		fmt.Fprintf(w, "  Restarts:    up to %d\n", a.cfg.MaxRestarts)
	} else {
		fmt.Fprintln(w, "  Restarts:    unlimited")
	}
	if a.cfg.MetricsAddr != "" {
		fmt.Fprintf(w, "  Metrics:     http://%s/metrics\n", a.cfg.MetricsAddr)
	}
	if a.cfg.Duration > 0 {
		fmt.Fprintf(w, "  Duration:    %s\n", a.cfg.Duration)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Press Ctrl+C to stop.")
	fmt.Fprintln(w)
}

func (a *app) argsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "args",
		Short: "Print the OpenVPN arguments, one per line",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.cfg.Command()
			if err != nil {
				return err
			}
			for _, arg := range c.Arguments() {
				fmt.Fprintln(a.stdout, arg)
			}
			return nil
		},
	}
}

func (a *app) printCmdCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "print-cmd",
		Short: "Print the OpenVPN command line that would be run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.cfg.Command()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, c.String())
			return nil
		},
	}
}

func (a *app) checkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Run preflight checks and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			result := preflight.RunAll(cmd.Context(), preflight.Options{
				Binary:     a.cfg.Binary,
				ConfigFile: a.cfg.ConfigFile,
				PluginPath: a.cfg.PluginPath,
			})
			preflight.PrintResults(a.stdout, result)
			if !result.Passed {
				return errChecksFailed
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// No configuration needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "go-openvpn-launcher %s\n", version)
			return nil
		},
	}
}
