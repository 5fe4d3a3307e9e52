// Command paymentctl runs payment service maintenance tasks against the configured
// database and gateway.
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
	defer stop()

	rootCmd := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Operate the payment service: schema, catalog, sweeps and manual reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("log-level", "", "override LOG_LEVEL")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedPackagesCmd())
	rootCmd.AddCommand(sweepExpiredCmd())
	rootCmd.AddCommand(repairCreditsCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(purgeSessionsCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
