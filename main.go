// Chainlab edits analysis chains: graphs of catalog modules whose typed
// outputs feed typed inputs.
//
// It serves the chain editor over HTTP and MCP and manages committed
// chains from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/Benny93/chainlab/cmd"
)

func main() {
	cli := cmd.NewCLI()

	if err := cli.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
