package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/EHPCL/RTHeter/internal/ctxlog"
	"github.com/EHPCL/RTHeter/internal/engine"
	"github.com/EHPCL/RTHeter/internal/simulator"
)

func main() {
	var flagLogLevel string

	cmd := &cobra.Command{
		Use:   "rtsim",
		Short: "Reference execution engine speaking the line protocol on stdin/stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := ctxlog.New(flagLogLevel, "text", os.Stderr)
			ctx, stop := signal.NotifyContext(ctxlog.WithLogger(context.Background(), logger), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return engine.Serve(ctx, os.Stdin, os.Stdout, simulator.New())
		},
		SilenceUsage: true,
	}
	cmd.Flags().StringVar(&flagLogLevel, "log-level", "warn", "Log level for the command log on stderr")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "rtsim: %v\n", err)
		os.Exit(1)
	}
}
