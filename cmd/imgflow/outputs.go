package main

import (
	"context"

	"github.com/spf13/cobra"
)

var outputsCmd = &cobra.Command{
	Use:   "outputs FOLDER",
	Short: "List the artifacts written under an output folder",
	Long: `List the terminal artifacts of a run. An empty list means the run has
not finished, or stalled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, p, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		return a.RunTask(cmd.Context(), func(ctx context.Context) error {
			locs, err := p.Outputs.ListOutputs(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), locs)
		})
	},
}
