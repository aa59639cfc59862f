package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fiffeek/modesetcfg/internal/config"
	"github.com/fiffeek/modesetcfg/internal/report"
	"github.com/fiffeek/modesetcfg/internal/runner"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var enumerateCmd = &cobra.Command{
	Use:   "enumerate",
	Short: "List the panels the configuration selects",
	Long:  `Enumerate the detected and synthetic panels, and the dual-stream pairs, without touching any pipeline resource.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		cfg, err := config.NewConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		svc := runner.NewService(cfg, nil, runner.SimulatedPlatform, nil)
		result, err := svc.Enumerate(ctx)
		if err != nil {
			return fmt.Errorf("enumeration failed: %w", err)
		}
		defer func() {
			if err := result.Close(ctx); err != nil {
				logrus.WithError(err).Error("cant release synthetic identities")
			}
		}()

		if _, err := fmt.Fprint(os.Stdout, report.RenderCatalog(result)); err != nil {
			return fmt.Errorf("cant write catalog: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(enumerateCmd)
}
