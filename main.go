// ./main.go
package main

import (
	"github.com/dmage20/linkedin-job-agent/cmd"
)

// main is the entry point for the linkedin-agent CLI.
func main() {
	// Execute the root command defined in the cmd package.
	// This handles all command-line parsing, configuration, and execution.
	cmd.Execute()
}
