package main

import (
	"fmt"
	"os"

	"github.com/syncbridge/syncbridge/adapter"
	"github.com/syncbridge/syncbridge/cmd/syncbridge/commands"
)

func main() {
	// Integration builds register their target adapters here; the stock
	// binary ships with an empty registry and is still useful for queue
	// inspection and maintenance.
	registry := adapter.NewRegistry(nil)

	root := commands.NewRootCommand(registry)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
