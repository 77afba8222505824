// Package remote resolves endpoint specifications into ordered
// (host, port) pairs for the VPN client's --remote options.
package remote

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrInvalidAddr is matched by every ParseError via errors.Is.
var ErrInvalidAddr = errors.New("invalid remote address")

// ErrNoSpec is returned by Resolve when given a nil Spec.
var ErrNoSpec = errors.New("no remote specification")

// ParseError describes a specification string that could not be parsed.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid remote %q: %s", e.Input, e.Reason)
}

// Is reports whether target is ErrInvalidAddr.
func (e *ParseError) Is(target error) bool {
	return target == ErrInvalidAddr
}

// Addr is a resolved remote endpoint.
type Addr struct {
	Host string
	Port uint16
}

// New returns an Addr for host and port. No validation is performed.
func New(host string, port uint16) Addr {
	return Addr{Host: host, Port: port}
}

// Address returns the host part as given.
func (a Addr) Address() string {
	return a.Host
}

// String renders host:port, bracketing IPv6 literals.
func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// RemoteAddrs implements Spec for a single endpoint.
func (a Addr) RemoteAddrs() ([]Addr, error) {
	return []Addr{a}, nil
}

// Parse parses a "host:port" specification. IPv6 literals must be
// bracketed ("[fe80::1]:1194").
func Parse(s string) (Addr, error) {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		var addrErr *net.AddrError
		if errors.As(err, &addrErr) {
			return Addr{}, &ParseError{Input: s, Reason: addrErr.Err}
		}
		return Addr{}, &ParseError{Input: s, Reason: err.Error()}
	}
	if host == "" {
		return Addr{}, &ParseError{Input: s, Reason: "missing host"}
	}
	if portStr == "" {
		return Addr{}, &ParseError{Input: s, Reason: "missing port"}
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Addr{}, &ParseError{Input: s, Reason: fmt.Sprintf("port %q is not a number in 0-65535", portStr)}
	}
	return Addr{Host: host, Port: uint16(port)}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level defaults.
func MustParse(s string) Addr {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}
