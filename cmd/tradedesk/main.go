package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"tradedesk/internal/cli"
	"tradedesk/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cli.NewRootCmd(logging.NewLogger())
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
