// Package main is the entry point for the cloud-cost-allocation CLI.
package main

import (
	"os"

	"cloud-cost-allocation/cmd/cli/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
