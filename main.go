// The main package for the docfetcher executable.
package main

import (
	"github.com/JakeFAU/docfetcher/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
