package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "walletctl",
		Short:         "Operator tool for the cookie wallet",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(sweepCmd())
	rootCmd.AddCommand(expireCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(grantCmd())
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}
