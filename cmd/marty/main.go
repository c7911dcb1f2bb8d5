// Marty compiles declarative Flux applications written in CUE and traces
// every action they dispatch: which store handlers ran, how state changed
// and which views recomputed.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/marty/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "marty:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
