package main

import (
	"github.com/spf13/cobra"
)

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notif"},
	Short:   "Read the notification feed",
}

var notificationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Fetch and list notifications",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := panel.Notifications.Refresh(cmd.Context()); err != nil {
			return err
		}
		snap := panel.Notifications.Snapshot()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), snap)
		}
		printNotifications(cmd.OutOrStdout(), snap)
		return nil
	},
}

var notificationsReadAllCmd = &cobra.Command{
	Use:   "read-all",
	Short: "Mark every notification as read",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := panel.Notifications.MarkAllRead(cmd.Context()); err != nil {
			return err
		}
		snap := panel.Notifications.Snapshot()
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), snap)
		}
		printNotifications(cmd.OutOrStdout(), snap)
		return nil
	},
}

func init() {
	notificationsCmd.AddCommand(notificationsListCmd, notificationsReadAllCmd)
}
