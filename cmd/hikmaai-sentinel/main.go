// ABOUTME: Main entry point for hikmaai-sentinel CLI
// ABOUTME: Initializes cobra root command and executes it with signal-aware context

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Version information (set by ldflags).
var (
	version   = "dev"
	gitSHA    = "unknown"
	buildTime = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd := newRootCmd()
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
