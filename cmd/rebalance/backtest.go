package main

import (
	"fmt"
	"path/filepath"

	"github.com/opsxjacky/cdar-rebalance/internal/data"
	"github.com/opsxjacky/cdar-rebalance/internal/engine"
	"github.com/opsxjacky/cdar-rebalance/internal/store"
	"github.com/opsxjacky/cdar-rebalance/pkg/types"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	outDir   string
	period   int
	lookback int
	saveRun  bool
)

var backtestCmd = &cobra.Command{
	Use:   "backtest",
	Short: "Run a periodic rebalancing backtest",
	Example: `  rebalance backtest --config configs/financials.yaml
  rebalance backtest --period 21 --lookback -1 --out output/unbounded`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		if cmd.Flags().Changed("period") {
			cfg.Backtest.Period = period
		}
		if cmd.Flags().Changed("lookback") {
			cfg.Backtest.Lookback = lookback
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		out := cfg.GetOutputPath()
		if outDir != "" {
			out = outDir
		}

		bc, err := cfg.ToBacktestConfig()
		if err != nil {
			return err
		}

		var m *types.PriceMatrix
		if cfg.Backtest.PricesFile != "" {
			m, err = data.LoadWideCSV(cfg.Backtest.PricesFile)
		} else {
			var loader data.DataLoader
			if loader, err = newLoader(); err != nil {
				return err
			}
			m, err = loader.LoadMatrix(ctx, bc.Symbols, bc.StartDate, bc.EndDate)
		}
		if err != nil {
			return fmt.Errorf("failed to load prices: %w", err)
		}

		e, err := engine.Build(engine.Options{
			Config:    bc,
			Optimizer: cfg.ToOptimizerConfig(),
			Costs:     cfg.ToCostConfig(),
			Sequence:  cfg.Backtest.Sequence,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		result, err := e.Run(m)
		if err != nil {
			return fmt.Errorf("backtest failed: %w", err)
		}

		if cfg.Output.Summary {
			e.PrintSummary()
		}
		if err := e.ExportResults(filepath.Join(out, "result.json")); err != nil {
			return err
		}
		if cfg.Output.Trajectory {
			if err := e.ExportTrajectoryCSV(filepath.Join(out, "trajectory.csv")); err != nil {
				return err
			}
		}

		if saveRun {
			url := cfg.GetDatabaseURL()
			if url == "" {
				return fmt.Errorf("--save needs DATABASE_URL or server.database_url")
			}
			db, err := store.Connect(ctx, url)
			if err != nil {
				return err
			}
			defer db.Close()
			if err := store.NewPGRepository(db).SaveRun(ctx, result); err != nil {
				return err
			}
			logger.Info("run saved", zap.String("id", result.ID))
		}
		return nil
	},
}

func init() {
	backtestCmd.Flags().StringVar(&outDir, "out", "", "output directory (default: output.path)")
	backtestCmd.Flags().IntVar(&period, "period", 0, "rebalance every N steps")
	backtestCmd.Flags().IntVar(&lookback, "lookback", 0, "lookback rows, negative for all history")
	backtestCmd.Flags().BoolVar(&saveRun, "save", false, "store the run in Postgres")
}
