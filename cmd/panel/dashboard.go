package main

import (
	"github.com/spf13/cobra"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Fetch and show dashboard metrics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := panel.Dashboard.Refresh(cmd.Context()); err != nil {
			return err
		}
		snap, _ := panel.Dashboard.Snapshot()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), snap)
		}
		printDashboard(cmd.OutOrStdout(), snap)
		return nil
	},
}
