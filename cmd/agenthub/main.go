// Package main provides the entry point for the agenthub CLI.
package main

import (
	"fmt"
	"os"

	"github.com/agenthub-ai/agenthub/cmd/agenthub/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
