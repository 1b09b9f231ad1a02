// The main package for the researchadmin executable.
package main

import (
	"github.com/JakeFAU/research-admin/cmd"
)

// main defers all execution to the Cobra CLI.
func main() {
	cmd.Execute()
}
