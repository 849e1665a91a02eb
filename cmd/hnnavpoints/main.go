package main

import (
	"fmt"
	"os"
)

// BuildDate and Version can be set at build time via ldflags
var (
	Version   = "0.0.1"
	BuildDate = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
