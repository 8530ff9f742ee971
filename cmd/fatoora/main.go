// Command fatoora runs the local application server: it validates the
// device against the license authority, maintains the trust state, and
// serves the desktop shell over the loopback HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"fatoora/internal/app"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatoora: %v\n", err)
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatoora: %v\n", err)
		os.Exit(1)
	}
}
