package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vertex-labs/crmsync/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "crmsync",
	Short: "Warehouse to CRM reconciliation pipeline",
	Long:  "Extracts candidate contact records from the warehouse, pushes them to the CRM under a burst rate quota, and pulls CRM contacts back into the star schema.",
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
