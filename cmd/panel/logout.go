package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/panelsync/internal/ui"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session: stop polling and clear the local settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := panel.Session.End(cmd.Context()); err != nil {
			return err
		}
		if !jsonOutput {
			fmt.Fprintln(cmd.OutOrStdout(), ui.RenderOK("session ended"))
		}
		return nil
	},
}
