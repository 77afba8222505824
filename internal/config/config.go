// Package config provides configuration management for go-openvpn-launcher.
package config

import (
	"fmt"
	"time"

	"github.com/randomizedcoder/go-openvpn-launcher/internal/process"
	"github.com/randomizedcoder/go-openvpn-launcher/internal/remote"
	"github.com/randomizedcoder/go-openvpn-launcher/internal/supervisor"
)

// Config holds all configuration options for the launcher.
type Config struct {
	// OpenVPN invocation
	Binary        string   `yaml:"binary"`
	ConfigFile    string   `yaml:"config"`
	Remotes       []string `yaml:"remotes"` // "host:port"
	PluginPath    string   `yaml:"plugin"`
	PluginArgs    []string `yaml:"plugin_args"`
	CaptureOutput bool     `yaml:"capture_output"`

	// Run control
	Duration time.Duration `yaml:"duration"` // 0 = until signalled

	// Restart policy
	MaxRestarts     int           `yaml:"max_restarts"` // 0 = unlimited
	BackoffInitial  time.Duration `yaml:"backoff_initial"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	BackoffMultiply float64       `yaml:"backoff_multiply"`
	StopTimeout     time.Duration `yaml:"stop_timeout"`

	// Observability
	MetricsAddr string `yaml:"metrics_addr"` // empty = disabled
	LogFormat   string `yaml:"log_format"`   // json, text
	LogLevel    string `yaml:"log_level"`
	Verbose     bool   `yaml:"verbose"`
	TUI         bool   `yaml:"tui"`

	// Diagnostics
	SkipPreflight bool `yaml:"skip_preflight"`

	// ProfilePath is the YAML profile the rest was loaded from, if any.
	ProfilePath string `yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	backoff := supervisor.DefaultBackoffConfig()
	return &Config{
		// OpenVPN
		Binary:        "openvpn",
		CaptureOutput: true,

		// Restart policy
		MaxRestarts:     0, // Unlimited
		BackoffInitial:  backoff.Initial,
		BackoffMax:      backoff.Max,
		BackoffMultiply: backoff.Multiplier,
		StopTimeout:     supervisor.DefaultStopTimeout,

		// Observability
		MetricsAddr: "127.0.0.1:17092",
		LogFormat:   "json",
		LogLevel:    "info",
	}
}

// Command builds the OpenVPN command described by the configuration.
func (c *Config) Command() (*process.OpenVPNCommand, error) {
	cmd := process.NewOpenVPNCommand(c.Binary).SetOutputCapture(c.CaptureOutput)

	if c.ConfigFile != "" {
		cmd.SetConfig(c.ConfigFile)
	}
	if len(c.Remotes) > 0 {
		if _, err := cmd.SetRemotes(remote.Strings(c.Remotes)); err != nil {
			return nil, fmt.Errorf("remotes: %w", err)
		}
	}
	if c.PluginPath != "" {
		cmd.SetPlugin(c.PluginPath, c.PluginArgs)
	}
	return cmd, nil
}

// Backoff returns the restart backoff settings.
func (c *Config) Backoff() supervisor.BackoffConfig {
	cfg := supervisor.DefaultBackoffConfig()
	cfg.Initial = c.BackoffInitial
	cfg.Max = c.BackoffMax
	cfg.Multiplier = c.BackoffMultiply
	return cfg
}
