// Package main provides the snaptrans CLI entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/snaptrans/snaptrans/cmd/snaptrans/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
