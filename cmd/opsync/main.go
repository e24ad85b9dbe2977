// Command opsync runs the offline-first status sync engine from the shell.
package main

import (
	"fmt"
	"os"

	"github.com/jackson-sweet/opsapp-sub000/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
