// The main package for the metabocrawl executable.
package main

import (
	"os"

	"github.com/JakeFAU/metabocrawl/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	os.Exit(cmd.Execute())
}
