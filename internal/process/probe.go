package process

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// Version is the parsed banner of `openvpn --version`.
type Version struct {
	Major int
	Minor int
	Patch int
	// Raw is the full first line of the banner.
	Raw string
}

// String returns "major.minor.patch".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// AtLeast reports whether v is major.minor or newer.
func (v Version) AtLeast(major, minor int) bool {
	if v.Major != major {
		return v.Major > major
	}
	return v.Minor >= minor
}

// ProbeVersion runs `<binary> --version` and parses the banner.
// OpenVPN 2.x exits with status 1 after printing its version, so a
// non-zero exit is tolerated as long as a banner was printed.
func ProbeVersion(ctx context.Context, binary string) (Version, error) {
	cmd := exec.CommandContext(ctx, binary, "--version")
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || len(bytes.TrimSpace(output)) == 0 {
			return Version{}, fmt.Errorf("openvpn --version failed: %w", err)
		}
	}

	scanner := bufio.NewScanner(bytes.NewReader(output))
	if !scanner.Scan() {
		return Version{}, errors.New("openvpn --version printed nothing")
	}
	return ParseVersion(scanner.Text())
}

// ParseVersion parses a banner line such as
// "OpenVPN 2.6.8 x86_64-pc-linux-gnu [SSL (OpenSSL)] ...".
// Suffixes like "_git" or "_rc2" on the version field are ignored.
func ParseVersion(line string) (Version, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 || !strings.EqualFold(fields[0], "OpenVPN") {
		return Version{}, fmt.Errorf("unrecognized version banner %q", line)
	}

	numeric := fields[1]
	if i := strings.IndexFunc(numeric, func(r rune) bool {
		return r != '.' && (r < '0' || r > '9')
	}); i >= 0 {
		numeric = numeric[:i]
	}

	parts := strings.Split(numeric, ".")
	if len(parts) < 2 {
		return Version{}, fmt.Errorf("unrecognized version %q", fields[1])
	}

	nums := make([]int, 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return Version{}, fmt.Errorf("unrecognized version %q", fields[1])
		}
		nums[i] = n
	}

	return Version{
		Major: nums[0],
		Minor: nums[1],
		Patch: nums[2],
		Raw:   line,
	}, nil
}
