// =============================================================================
// GOQUEUE CLI - MAIN ENTRY POINT
// =============================================================================
//
// WHAT IS THIS?
// The main entry point for the goqueue command-line producer client.
// This tool drives a pkg/producer.Producer from the terminal.
//
// USAGE:
//   goqueue [command] [flags]
//
// EXAMPLES:
//   goqueue produce orders -m "hello world"   # Publish a message
//   goqueue produce orders -f messages.txt    # Publish messages from a file
//   goqueue version                           # Show CLI version
//
// CONFIGURATION:
//   Env vars: GOQUEUE_ADDRESS
//
// =============================================================================

package main

import (
	"os"

	"goqueue/cmd/goqueue-cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
