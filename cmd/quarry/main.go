// Command quarry checks and inspects databases through a quarry connection
// pool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/syssam/quarry/cmd/quarry/commands"
)

// Version is set via ldflags during build.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := commands.Execute(ctx, Version); err != nil {
		fmt.Fprintln(os.Stderr, "quarry:", err)
		stop()
		os.Exit(1)
	}
}
