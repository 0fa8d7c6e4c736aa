// Command kudos is the terminal client for the Employee Hub kudos service.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/kudosync/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	err := cmd.ExecuteContext(context.Background())
	if err == nil {
		return
	}

	// Command failures are already reported in the chosen format.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCommandError)
	}
	os.Exit(cli.GetExitCode(err))
}
