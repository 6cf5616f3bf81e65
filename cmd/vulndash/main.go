// Package main is the vulndash command.
package main

import (
	"os"

	"github.com/leapstack-labs/vulndash/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
