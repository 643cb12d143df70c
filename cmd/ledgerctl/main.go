// Package main provides the entry point for the ledgerctl CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/automlhub/api/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.Execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
