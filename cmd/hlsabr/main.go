// Package main is the entry point for the hlsabr client.
package main

import (
	"os"

	"github.com/jmylchreest/hlsabr/cmd/hlsabr/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
