// Package main provides the cubelsp command.
package main

import (
	"os"

	"github.com/leapstack-labs/cubelsp/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
