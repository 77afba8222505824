package process

import (
	"path/filepath"
	"strconv"

	"github.com/randomizedcoder/go-openvpn-launcher/internal/remote"
)

// plugin is the --plugin path and its arguments.
type plugin struct {
	path string
	args []string
}

// OpenVPNCommand describes how to invoke the OpenVPN binary.
// Setters mutate the command in place and return it for chaining.
// An OpenVPNCommand is not safe for concurrent mutation.
type OpenVPNCommand struct {
	binary        string
	config        *string
	remotes       []remote.Addr
	plugin        *plugin
	captureOutput bool
}

// NewOpenVPNCommand returns a command for the binary at path. Output
// capture is enabled by default.
func NewOpenVPNCommand(binary string) *OpenVPNCommand {
	return &OpenVPNCommand{
		binary:        binary,
		captureOutput: true,
	}
}

// SetConfig sets the configuration file passed with --config. The path
// is not checked for existence.
func (c *OpenVPNCommand) SetConfig(path string) *OpenVPNCommand {
	c.config = &path
	return c
}

// SetRemotes replaces the remotes with the endpoints produced by spec.
// Order is preserved. If spec fails to resolve, the remotes are left
// untouched and the resolver's error is returned.
func (c *OpenVPNCommand) SetRemotes(spec remote.Spec) (*OpenVPNCommand, error) {
	addrs, err := remote.Resolve(spec)
	if err != nil {
		return c, err
	}
	c.remotes = append([]remote.Addr(nil), addrs...)
	return c, nil
}

// SetPlugin sets the plugin path and its arguments.
func (c *OpenVPNCommand) SetPlugin(path string, args []string) *OpenVPNCommand {
	c.plugin = &plugin{
		path: path,
		args: append([]string(nil), args...),
	}
	return c
}

// SetOutputCapture controls whether stdout and stderr of spawned
// processes are piped back to the caller (true) or discarded (false).
func (c *OpenVPNCommand) SetOutputCapture(capture bool) *OpenVPNCommand {
	c.captureOutput = capture
	return c
}

// Binary returns the executable path.
func (c *OpenVPNCommand) Binary() string {
	return c.binary
}

// Config returns the configuration path and whether one is set.
func (c *OpenVPNCommand) Config() (string, bool) {
	if c.config == nil {
		return "", false
	}
	return *c.config, true
}

// Remotes returns a copy of the configured endpoints in order.
func (c *OpenVPNCommand) Remotes() []remote.Addr {
	return append([]remote.Addr(nil), c.remotes...)
}

// Plugin returns the plugin path, a copy of its arguments and whether a
// plugin is set.
func (c *OpenVPNCommand) Plugin() (string, []string, bool) {
	if c.plugin == nil {
		return "", nil, false
	}
	return c.plugin.path, append([]string(nil), c.plugin.args...), true
}

// OutputCapture reports whether output capture is enabled.
func (c *OpenVPNCommand) OutputCapture() bool {
	return c.captureOutput
}

// Clone returns a deep copy of the command.
func (c *OpenVPNCommand) Clone() *OpenVPNCommand {
	out := &OpenVPNCommand{
		binary:        c.binary,
		remotes:       c.Remotes(),
		captureOutput: c.captureOutput,
	}
	if c.config != nil {
		cfg := *c.config
		out.config = &cfg
	}
	if c.plugin != nil {
		path, args, _ := c.Plugin()
		out.plugin = &plugin{path: path, args: args}
	}
	return out
}

// Name returns the base name of the binary.
func (c *OpenVPNCommand) Name() string {
	if c.binary == "" {
		return "openvpn"
	}
	return filepath.Base(c.binary)
}

// Arguments returns the arguments the process would be spawned with:
//
//	[--config <path>] [--remote <addr> <port>]* [--plugin <path> <arg>*]
//
// Tokens are raw values; nothing is quoted.
func (c *OpenVPNCommand) Arguments() []string {
	args := make([]string, 0, c.argumentCount())

	if c.config != nil {
		args = append(args, "--config", *c.config)
	}

	for _, r := range c.remotes {
		args = append(args, "--remote", r.Address(), strconv.FormatUint(uint64(r.Port), 10))
	}

	if c.plugin != nil {
		args = append(args, "--plugin", c.plugin.path)
		args = append(args, c.plugin.args...)
	}

	return args
}

// argumentCount returns the exact length of Arguments().
func (c *OpenVPNCommand) argumentCount() int {
	n := 3 * len(c.remotes)
	if c.config != nil {
		n += 2
	}
	if c.plugin != nil {
		n += 2 + len(c.plugin.args)
	}
	return n
}

// String formats the binary and arguments for display. See FormatCommand.
func (c *OpenVPNCommand) String() string {
	return FormatCommand(c.binary, c.Arguments())
}
