// Command mudbridge bridges a replicated world's component updates to a
// host engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/mudbridge/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
