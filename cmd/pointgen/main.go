package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Cancellation is checked between chunks; an in-flight call finishes first.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
