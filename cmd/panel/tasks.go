package main

import (
	"github.com/spf13/cobra"
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Start the pollers and show their schedule",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := panel.Start(cmd.Context()); err != nil {
			return err
		}
		tasks := panel.Scheduler.Tasks()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), tasks)
		}
		printTasks(cmd.OutOrStdout(), tasks)
		return nil
	},
}
