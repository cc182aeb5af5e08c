// Package main is the entry point for the atlas CLI.
//
// atlas is the control plane for self-hosted application platforms: it
// provisions bare hosts into k3s servers, rolls tagged releases onto them,
// reconciles DNS, and manages project secrets.
//
// Commands: provision, deploy, status, secrets, logs, dns.
//
// For detailed usage information, run:
//
//	atlas --help
package main

import (
	"fmt"
	"os"

	"github.com/imamik/atlas/cmd/atlas/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
