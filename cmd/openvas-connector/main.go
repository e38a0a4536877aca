// Command openvas-connector manages OpenVAS scan targets, tasks, alerts and
// reports through the omp command-line client.
package main

import (
	"github.com/anstrom/openvas-connector/cmd/cli"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	cli.Execute()
}
