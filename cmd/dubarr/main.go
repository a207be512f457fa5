// Package main is the entry point for the dubarr application.
package main

import (
	"os"

	"github.com/jmylchreest/dubarr/cmd/dubarr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
