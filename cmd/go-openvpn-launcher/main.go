// Package main provides the go-openvpn-launcher CLI entry point.
//
// go-openvpn-launcher builds an OpenVPN client command line from a
// configuration file, remote endpoints and an optional plugin, then runs
// the client and keeps it running.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-openvpn-launcher
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}
