package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/smartbin/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "smartbin",
		Short:         "SmartBin recycling rewards server",
		Long:          "SmartBin lets users scan the QR code shown by a bin and collect points for what they recycled.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	config.RegisterFlags(root.PersistentFlags())

	root.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newClaimCmd(),
		newVersionCmd(),
	)
	return root
}
