// Package main provides the entry point for the orch CLI.
package main

import (
	"os"

	"github.com/randalmurphal/orch/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
