// Command automation-core runs the rule-driven automation engine and its
// bounded task-dispatch queue described by this repository: a polling
// loop that matches trigger conditions against watched JSON files, fires
// actions through external tool scripts, and supervises a capped pool of
// worker processes.
package main

import (
	"fmt"
	"os"

	"github.com/ruleforge/automation-core/cmd/automation-core/commands"
)

func main() {
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
