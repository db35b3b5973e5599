package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/indexwatch/internal/history"
	"github.com/rewired-gh/indexwatch/internal/logger"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Fetch, merge and compute once",
	Long: `Fetches every configured index from its upstream sources, merges the new
points into the store, computes snapshots, writes the dashboard exports and
sends the Telegram digest when enabled.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.runner.Run(ctx)
		a.publish(ctx, res)
		a.notify(res)
		return err
	},
}

var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Recompute snapshots from stored history",
	Long: `Recomputes every snapshot from the stored series without contacting any
upstream source, then rewrites the dashboard exports.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.runner.Compute(ctx)
		a.publish(ctx, res)
		return err
	},
}

var importCompute bool

var importCmd = &cobra.Command{
	Use:   "import PATH...",
	Short: "Merge historical CSV files into the store",
	Long: `Reads previously collected CSV files (single files or directories of
*.csv) and merges them into the store. Supported layouts are valuation feed
exports with an index_code column and per-index files named <code>_<kind>.csv
with a date column.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		batches, err := history.NewImporter(a.indices).ReadPaths(args)
		if err != nil {
			return err
		}
		changed, err := a.runner.Import(ctx, batches)
		if err != nil {
			return err
		}
		logger.Info("Import complete: %d points added or changed", changed)

		if !importCompute {
			return nil
		}
		res, err := a.runner.Compute(ctx)
		a.publish(ctx, res)
		return err
	},
}

func init() {
	importCmd.Flags().BoolVar(&importCompute, "compute", true, "Recompute snapshots after importing")

	rootCmd.AddCommand(runCmd, computeCmd, importCmd)
}
