package main

import (
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/panelsync/internal/model"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show and edit the settings record",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the locally stored settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showSettings(cmd, panel.Settings.Get(cmd.Context()))
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change settings on the server and locally",
	Long: `Change settings. Only the flags given are changed. By default the change
is saved to the server first and the server's copy is stored locally;
with --local only the local record is written.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := patchFromFlags(cmd)
		if err != nil {
			return err
		}
		if patch.IsEmpty() {
			return cmd.Help()
		}
		local, _ := cmd.Flags().GetBool("local")

		var s model.Settings
		if local {
			s, err = panel.Settings.Set(cmd.Context(), patch)
		} else {
			s, err = panel.Syncer.Save(cmd.Context(), patch)
		}
		if err != nil {
			return err
		}
		return showSettings(cmd, s)
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the local settings record",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := panel.Settings.Clear(cmd.Context()); err != nil {
			return err
		}
		return showSettings(cmd, panel.Settings.Get(cmd.Context()))
	},
}

var settingsPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Replace the local settings with the server's copy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := panel.Syncer.Pull(cmd.Context())
		if err != nil {
			return err
		}
		return showSettings(cmd, s)
	},
}

func init() {
	f := settingsSetCmd.Flags()
	f.String("name", "", "system name")
	f.String("api-endpoint", "", "API endpoint URL")
	f.Int("refresh-interval", 0, "refresh interval in seconds (at least 1)")
	f.Bool("notifications", true, "enable notification polling")
	f.Bool("auto-refresh", true, "enable dashboard auto refresh")
	f.Bool("local", false, "write only the local record")

	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd, settingsClearCmd, settingsPullCmd)
}

func patchFromFlags(cmd *cobra.Command) (model.SettingsPatch, error) {
	var p model.SettingsPatch
	f := cmd.Flags()
	if f.Changed("name") {
		v, _ := f.GetString("name")
		p.SystemName = &v
	}
	if f.Changed("api-endpoint") {
		v, _ := f.GetString("api-endpoint")
		p.APIEndpoint = &v
	}
	if f.Changed("refresh-interval") {
		v, _ := f.GetInt("refresh-interval")
		p.RefreshIntervalSeconds = &v
	}
	if f.Changed("notifications") {
		v, _ := f.GetBool("notifications")
		p.NotificationsEnabled = &v
	}
	if f.Changed("auto-refresh") {
		v, _ := f.GetBool("auto-refresh")
		p.AutoRefreshEnabled = &v
	}
	return p, nil
}

func showSettings(cmd *cobra.Command, s model.Settings) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), s)
	}
	printSettings(cmd.OutOrStdout(), s)
	return nil
}
