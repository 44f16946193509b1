// The main package for the glossarizer executable.
package main

import (
	"github.com/urban-physiology/glossarizer/cmd"
)

// main is the entry point of the application.
// It defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
