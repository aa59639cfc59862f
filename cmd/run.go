package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fiffeek/modesetcfg/internal/app"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	watch                bool
	disableAutoHotReload bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured scenario against every panel",
	Long: `Enumerate the panels matching the configuration, drive each one through the scenario and verify the output.
With --watch the service stays up and re-runs on configuration changes or SIGUSR1.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logrus.WithField("version", Version).Debug("Starting modesetcfg")
		ctx, cancel := context.WithCancelCause(context.Background())
		defer cancel(nil)
		app, err := app.NewApplication(&configPath, cancel, &disableAutoHotReload, os.Stdout)
		if err != nil {
			return fmt.Errorf("cant create application: %w", err)
		}

		if !watch {
			if err := app.RunOnce(ctx); err != nil {
				return fmt.Errorf("error while running: %w", err)
			}
			return nil
		}

		return app.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(
		&watch,
		"watch",
		false,
		"Keep running and re-run on configuration changes or SIGUSR1",
	)
	runCmd.Flags().BoolVar(
		&disableAutoHotReload,
		"disable-auto-hot-reload",
		false,
		"Disable automatic hot reload (no file watchers)",
	)
}
