package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/verdantmetrics/greenaccess/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "greenaccess",
	Short: "Per-capita urban greenspace accessibility",
	Long:  "Combines a land-cover grid and a population grid with a distance-decay model to quantify how much nature is reachable from each population cell.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
