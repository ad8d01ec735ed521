package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/panelsync/internal/app"
	"github.com/alfredjeanlab/panelsync/internal/config"
	"github.com/alfredjeanlab/panelsync/internal/ui"
)

var (
	jsonOutput bool
	noColor    bool

	cfg    *config.Config
	panel  *app.Context
	closer func() error
)

var rootCmd = &cobra.Command{
	Use:          "panel",
	Short:        "Admin panel settings sync and polling client",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			ui.ForceNoColor()
		} else {
			ui.Init()
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		logger, logCloser, err := newLogger(cfg)
		if err != nil {
			return err
		}

		panel, err = app.Open(cmd.Context(), cfg, logger)
		if err != nil {
			logCloser.Close()
			return err
		}
		closer = func() error {
			err := panel.Close()
			logCloser.Close()
			return err
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if closer != nil {
			return closer()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(notificationsCmd)
	rootCmd.AddCommand(dashboardCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(tasksCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
