// Package main provides the entry point for the xtrc CLI.
package main

import (
	"os"

	"github.com/justafolk/xtrc/cmd/xtrc/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
