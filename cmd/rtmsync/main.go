// Package main provides the entry point for the rtmsync CLI.
package main

import (
	"os"

	"github.com/randalmurphal/rtmsync/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
