// Command moon is the CLI entrypoint: it only hands argv to internal/cmd
// and exits with the resulting code.
package main

import (
	"os"

	"github.com/moonrepo/moon/internal/cmd"
)

func main() {
	os.Exit(cmd.RunWithArgs(os.Args[1:]))
}
