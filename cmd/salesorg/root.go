package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var g globalOptions
	cmd := &cobra.Command{
		Use:           "salesorg",
		Short:         "Sales organization hierarchy, commission and legacy migration tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&g.store, "store", storePostgres, "Store backend: postgres|memory")
	cmd.PersistentFlags().StringVar(&g.seed, "seed", "", "Legacy fixture YAML migrated into the memory store before the command runs")

	cmd.AddCommand(newSchemaCmd(&g))
	cmd.AddCommand(newMigrateLegacyCmd(&g))
	cmd.AddCommand(newValidateCmd(&g))
	cmd.AddCommand(newTreeCmd(&g))
	cmd.AddCommand(newPreviewCmd(&g))
	return cmd
}

func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		code := exitCode(err)
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(code)
	}
}
