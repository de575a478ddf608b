package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/skymap/internal/cli"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run executes the CLI with a context cancelled on SIGINT/SIGTERM and
// returns the process exit code.
func run(args []string) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := cli.NewRootCommand()
	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		// Use stderr directly since the logger may not be initialized yet
		os.Stderr.WriteString("skymap: " + err.Error() + "\n")
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
