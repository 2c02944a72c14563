// The main package for the urlharvest executable.
package main

import (
	"github.com/JakeFAU/urlharvest/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
