// The main package for the fictionarchiver executable.
package main

import (
	"github.com/JakeFAU/fictionarchiver/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
