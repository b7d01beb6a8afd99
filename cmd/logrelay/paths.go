package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clarabennett2626/logrelay/internal/wizard"
)

func newPathsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "List saved log locations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := ctx.loadCatalog()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if catalog.Len() == 0 {
				fmt.Fprintf(out, "No saved paths in %s\n", catalog.Path())
				return nil
			}
			fmt.Fprintln(out, wizard.PathsTable(catalog.Entries()))
			return nil
		},
	}
}

func newResolveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <path-name>",
		Short: "Print the newest log file for a saved location",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := ctx.loadCatalog()
			if err != nil {
				return err
			}
			path, err := catalog.Resolve(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
