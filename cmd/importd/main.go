package main

// ============================================================================
// importd - application entry point
// ============================================================================
//
// All logic lives in internal/cli; main only executes the command tree and
// contains the top-level panic recovery.
//
// ============================================================================

import (
	"fmt"
	"os"

	"github.com/artisedge/importer/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", r)
			os.Exit(1)
		}
	}()

	if err := cli.BuildCLI().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
