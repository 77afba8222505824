// Package preflight provides startup validation checks.
package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-openvpn-launcher/internal/process"
)

// MinFileDescriptors is the soft RLIMIT_NOFILE the launcher needs:
// the client's sockets, tun device, pipes and the metrics server.
const MinFileDescriptors = 64

// probeTimeout bounds the "openvpn --version" probe.
const probeTimeout = 5 * time.Second

// tunDevice is the Linux clone device OpenVPN opens.
const tunDevice = "/dev/net/tun"

// Overridable in tests.
var (
	lookPath = exec.LookPath
	geteuid  = os.Geteuid
	tunPath  = tunDevice
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options selects what RunAll checks.
type Options struct {
	Binary     string
	ConfigFile string // optional
	PluginPath string // optional
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// RunAll executes all preflight checks. Warnings never fail the result.
func RunAll(ctx context.Context, opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 6),
		Passed: true,
	}

	checks := []Check{
		checkOpenVPN(ctx, opts.Binary),
		checkReadable("config_file", opts.ConfigFile),
		checkReadable("plugin", opts.PluginPath),
		checkFileDescriptors(),
		checkPrivileges(),
		checkTunDevice(),
	}
	for _, c := range checks {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	return result
}

// checkOpenVPN verifies the binary resolves and reports a version.
func checkOpenVPN(ctx context.Context, binary string) Check {
	path, err := lookPath(binary)
	if err != nil {
		return Check{
			Name:    "openvpn",
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", binary, err),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	v, err := process.ProbeVersion(ctx, path)
	if err != nil {
		return Check{
			Name:    "openvpn",
			Passed:  false,
			Message: fmt.Sprintf("found at %s but version probe failed: %v", path, err),
		}
	}

	if !v.AtLeast(2, 4) {
		return Check{
			Name:    "openvpn",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("found at %s (version %s, 2.4 or newer recommended)", path, v),
		}
	}

	return Check{
		Name:    "openvpn",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (version %s)", path, v),
	}
}

// checkReadable warns when an optional file cannot be opened.
// OpenVPN reports the real error at startup, so this never fails.
func checkReadable(name, path string) Check {
	if path == "" {
		return Check{
			Name:    name,
			Passed:  true,
			Message: "not configured",
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return Check{
			Name:    name,
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("cannot read %s: %v", path, err),
		}
	}
	f.Close()

	return Check{
		Name:    name,
		Passed:  true,
		Message: path,
	}
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors() Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	actual := int(limit.Cur)
	if limit.Cur > uint64(^uint32(0)) {
		actual = int(^uint32(0) >> 1)
	}

	return Check{
		Name:     "file_descriptors",
		Required: MinFileDescriptors,
		Actual:   actual,
		Passed:   actual >= MinFileDescriptors,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, MinFileDescriptors),
	}
}

// checkPrivileges warns when not running as root. OpenVPN may still
// work with CAP_NET_ADMIN or a persistent tun device.
func checkPrivileges() Check {
	if euid := geteuid(); euid != 0 {
		return Check{
			Name:    "privileges",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("running as uid %d; creating the tun device needs root or CAP_NET_ADMIN", euid),
		}
	}
	return Check{
		Name:    "privileges",
		Passed:  true,
		Message: "running as root",
	}
}

// checkTunDevice warns when the tun clone device is missing.
func checkTunDevice() Check {
	if _, err := os.Stat(tunPath); err != nil {
		return Check{
			Name:    "tun_device",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("%s unavailable: %v", tunPath, err),
		}
	}
	return Check{
		Name:    "tun_device",
		Passed:  true,
		Message: tunPath,
	}
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed || check.Warning {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "openvpn":
		return "install openvpn (apt install openvpn / brew install openvpn) or pass --openvpn"
	case "config_file":
		return "check the --config path and its permissions"
	case "plugin":
		return "check the --plugin path and its permissions"
	case "file_descriptors":
		return "ulimit -n 1024 (or edit /etc/security/limits.conf)"
	case "privileges":
		return "run as root, or grant CAP_NET_ADMIN (setcap cap_net_admin+ep $(which openvpn))"
	case "tun_device":
		return "modprobe tun (or mknod /dev/net/tun c 10 200)"
	default:
		return "see documentation"
	}
}
