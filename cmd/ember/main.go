// Command ember is the single entry point for every role this system
// runs under: the Gateway HTTP server, a worker's Phase Runner loop, and
// the operator-facing inspection subcommands (status, tasks:list,
// tasks:create, events:tail, db:migrate).
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, red(err.Error()))
		os.Exit(1)
	}
}
