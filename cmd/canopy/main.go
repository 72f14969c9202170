// Command canopy runs replicated-tree peers, the websocket relay and the
// scenario harness.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/canopy/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
