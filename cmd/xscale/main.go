// Command xscale scales and merges integrated diffraction sweeps.
package main

import (
	"fmt"
	"os"

	"github.com/xia2/xia2-sub002/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
