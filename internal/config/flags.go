package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// BindFlags registers command-line flags on fs, storing values in cfg.
// Defaults are taken from cfg.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	// OpenVPN
	fs.StringVar(&cfg.Binary, "openvpn", cfg.Binary, "Path to the OpenVPN binary")
	fs.StringVarP(&cfg.ConfigFile, "config", "c", cfg.ConfigFile, "OpenVPN configuration file (--config)")
	fs.StringArrayVarP(&cfg.Remotes, "remote", "r", cfg.Remotes, `Remote endpoint "host:port" (can repeat, order kept)`)
	fs.StringVar(&cfg.PluginPath, "plugin", cfg.PluginPath, "OpenVPN plugin module path")
	fs.StringArrayVar(&cfg.PluginArgs, "plugin-arg", cfg.PluginArgs, "Argument passed to the plugin (can repeat)")
	fs.BoolVar(&cfg.CaptureOutput, "capture-output", cfg.CaptureOutput, "Capture OpenVPN stdout/stderr into the log")

	// Run control
	fs.DurationVar(&cfg.Duration, "duration", cfg.Duration, "Run duration (0 = until signalled)")

	// Restart policy
	fs.IntVar(&cfg.MaxRestarts, "max-restarts", cfg.MaxRestarts, "Maximum restarts (0 = unlimited)")
	fs.DurationVar(&cfg.BackoffInitial, "backoff-initial", cfg.BackoffInitial, "Initial restart delay")
	fs.DurationVar(&cfg.BackoffMax, "backoff-max", cfg.BackoffMax, "Maximum restart delay")
	fs.Float64Var(&cfg.BackoffMultiply, "backoff-multiply", cfg.BackoffMultiply, "Restart delay multiplier")
	fs.DurationVar(&cfg.StopTimeout, "stop-timeout", cfg.StopTimeout, "Grace period between SIGTERM and SIGKILL")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, `Prometheus metrics address ("" disables)`)
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose logging, including every OpenVPN output line")
	fs.BoolVar(&cfg.TUI, "tui", cfg.TUI, "Show the live dashboard")

	// Diagnostics
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.StringVar(&cfg.ProfilePath, "profile", cfg.ProfilePath, "YAML profile; explicit flags override it")
}

// savedFlag is the value of a flag set on the command line.
type savedFlag struct {
	flag  *pflag.Flag
	value string
	slice []string
}

// ApplyProfile loads cfg.ProfilePath, if set, beneath flags explicitly
// given on the command line: defaults < profile < flags.
func ApplyProfile(fs *pflag.FlagSet, cfg *Config) error {
	if cfg.ProfilePath == "" {
		return nil
	}

	var saved []savedFlag
	fs.Visit(func(f *pflag.Flag) {
		s := savedFlag{flag: f}
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			s.slice = sv.GetSlice()
		} else {
			s.value = f.Value.String()
		}
		saved = append(saved, s)
	})

	if err := LoadFile(cfg.ProfilePath, cfg); err != nil {
		return err
	}

	for _, s := range saved {
		var err error
		if sv, ok := s.flag.Value.(pflag.SliceValue); ok {
			err = sv.Replace(s.slice)
		} else {
			err = s.flag.Value.Set(s.value)
		}
		if err != nil {
			return fmt.Errorf("reapply --%s: %w", s.flag.Name, err)
		}
	}
	return nil
}
