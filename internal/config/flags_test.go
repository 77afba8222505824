package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func writeProfile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profile.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	return path
}

func parse(t *testing.T, args ...string) (*pflag.FlagSet, *Config) {
	t.Helper()
	cfg := DefaultConfig()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, cfg)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%q) error = %v", args, err)
	}
	return fs, cfg
}

// =============================================================================
// Tests: BindFlags
// =============================================================================

func TestBindFlags(t *testing.T) {
	_, cfg := parse(t,
		"--openvpn", "/usr/sbin/openvpn",
		"-c", "/etc/openvpn/client.conf",
		"-r", "10.0.0.1:1194",
		"--remote", "10.0.0.2:443",
		"--plugin", "/p.so",
		"--plugin-arg", "a b",
		"--plugin-arg", "c,d",
		"--capture-output=false",
		"--max-restarts", "5",
		"--backoff-initial", "2s",
		"--stop-timeout", "3s",
		"--metrics", "",
		"-v",
	)

	if cfg.Binary != "/usr/sbin/openvpn" {
		t.Errorf("Binary = %q", cfg.Binary)
	}
	if cfg.ConfigFile != "/etc/openvpn/client.conf" {
		t.Errorf("ConfigFile = %q", cfg.ConfigFile)
	}
	if strings.Join(cfg.Remotes, "|") != "10.0.0.1:1194|10.0.0.2:443" {
		t.Errorf("Remotes = %q", cfg.Remotes)
	}
	// StringArray keeps commas intact
	if strings.Join(cfg.PluginArgs, "|") != "a b|c,d" {
		t.Errorf("PluginArgs = %q", cfg.PluginArgs)
	}
	if cfg.CaptureOutput {
		t.Error("CaptureOutput = true")
	}
	if cfg.MaxRestarts != 5 || cfg.BackoffInitial != 2*time.Second || cfg.StopTimeout != 3*time.Second {
		t.Errorf("restart policy = %d/%v/%v", cfg.MaxRestarts, cfg.BackoffInitial, cfg.StopTimeout)
	}
	if cfg.MetricsAddr != "" {
		t.Errorf("MetricsAddr = %q, want empty", cfg.MetricsAddr)
	}
	if !cfg.Verbose {
		t.Error("Verbose = false")
	}
}

func TestBindFlags_Defaults(t *testing.T) {
	_, cfg := parse(t)
	def := DefaultConfig()
	if cfg.Binary != def.Binary || cfg.MetricsAddr != def.MetricsAddr || cfg.CaptureOutput != def.CaptureOutput {
		t.Errorf("defaults changed by BindFlags: %+v", cfg)
	}
}

// =============================================================================
// Tests: ApplyProfile
// =============================================================================

func TestApplyProfile_NoProfile(t *testing.T) {
	fs, cfg := parse(t, "--max-restarts", "2")
	if err := ApplyProfile(fs, cfg); err != nil {
		t.Fatalf("ApplyProfile() error = %v", err)
	}
	if cfg.MaxRestarts != 2 {
		t.Errorf("MaxRestarts = %d", cfg.MaxRestarts)
	}
}

func TestApplyProfile_FlagsOverrideProfile(t *testing.T) {
	path := writeProfile(t, `
binary: /opt/openvpn/sbin/openvpn
config: /etc/openvpn/profile.conf
remotes:
  - 10.0.0.1:1194
  - 10.0.0.2:1194
max_restarts: 7
backoff_initial: 3s
log_format: text
`)

	fs, cfg := parse(t,
		"--profile", path,
		"--remote", "192.168.1.1:443",
		"--max-restarts", "1",
	)
	if err := ApplyProfile(fs, cfg); err != nil {
		t.Fatalf("ApplyProfile() error = %v", err)
	}

	// From the profile
	if cfg.Binary != "/opt/openvpn/sbin/openvpn" {
		t.Errorf("Binary = %q", cfg.Binary)
	}
	if cfg.ConfigFile != "/etc/openvpn/profile.conf" {
		t.Errorf("ConfigFile = %q", cfg.ConfigFile)
	}
	if cfg.BackoffInitial != 3*time.Second {
		t.Errorf("BackoffInitial = %v", cfg.BackoffInitial)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q", cfg.LogFormat)
	}

	// Flags win, and repeated flags replace rather than append
	if strings.Join(cfg.Remotes, "|") != "192.168.1.1:443" {
		t.Errorf("Remotes = %q, want only the flag value", cfg.Remotes)
	}
	if cfg.MaxRestarts != 1 {
		t.Errorf("MaxRestarts = %d, want 1", cfg.MaxRestarts)
	}

	// Untouched by either
	if cfg.StopTimeout != DefaultConfig().StopTimeout {
		t.Errorf("StopTimeout = %v", cfg.StopTimeout)
	}
	if cfg.ProfilePath != path {
		t.Errorf("ProfilePath = %q", cfg.ProfilePath)
	}
}

func TestApplyProfile_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		fs, cfg := parse(t, "--profile", filepath.Join(t.TempDir(), "missing.yaml"))
		if err := ApplyProfile(fs, cfg); err == nil {
			t.Error("ApplyProfile() error = nil for missing profile")
		}
	})

	t.Run("unknown field", func(t *testing.T) {
		fs, cfg := parse(t, "--profile", writeProfile(t, "remotess:\n  - 10.0.0.1:1194\n"))
		err := ApplyProfile(fs, cfg)
		if err == nil || !strings.Contains(err.Error(), "remotess") {
			t.Errorf("ApplyProfile() error = %v, want unknown field remotess", err)
		}
	})

	t.Run("bad duration", func(t *testing.T) {
		fs, cfg := parse(t, "--profile", writeProfile(t, "stop_timeout: soon\n"))
		if err := ApplyProfile(fs, cfg); err == nil {
			t.Error("ApplyProfile() error = nil for bad duration")
		}
	})
}

func TestLoadFile_Empty(t *testing.T) {
	cfg := DefaultConfig()
	if err := LoadFile(writeProfile(t, ""), cfg); err != nil {
		t.Fatalf("LoadFile(empty) error = %v", err)
	}
	if cfg.Binary != "openvpn" {
		t.Errorf("empty profile changed Binary to %q", cfg.Binary)
	}
}

func TestLoadFile_PluginAndCapture(t *testing.T) {
	cfg := DefaultConfig()
	err := LoadFile(writeProfile(t, `
plugin: /usr/lib/openvpn/openvpn-plugin-auth-pam.so
plugin_args: [login]
capture_output: false
tui: true
duration: 1h30m
`), cfg)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if cfg.PluginPath != "/usr/lib/openvpn/openvpn-plugin-auth-pam.so" || len(cfg.PluginArgs) != 1 {
		t.Errorf("plugin = %q %q", cfg.PluginPath, cfg.PluginArgs)
	}
	if cfg.CaptureOutput || !cfg.TUI {
		t.Errorf("CaptureOutput = %v, TUI = %v", cfg.CaptureOutput, cfg.TUI)
	}
	if cfg.Duration != 90*time.Minute {
		t.Errorf("Duration = %v", cfg.Duration)
	}
}
