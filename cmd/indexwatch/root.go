package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/indexwatch/internal/config"
	"github.com/rewired-gh/indexwatch/internal/logger"
)

var (
	configPath string
	cfg        *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "indexwatch",
	Short: "Track index valuations and drawdowns",
	Long: `indexwatch collects daily price and valuation series for a list of stock
indices, keeps them in a local SQLite store and derives percentile ranks and
drawdowns over a trailing window.

Examples:
  indexwatch run
  indexwatch serve --config configs/config.yaml
  indexwatch import data/raw/djeva data/raw/hk_hsi
  indexwatch compute`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if err := loaded.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		cfg = loaded

		logger.Init(cfg.Logging.Level, cfg.Logging.Format)
		logger.Info("Configuration loaded from %s", configPath)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "Path to configuration file")
}
