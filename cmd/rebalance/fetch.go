package main

import (
	"fmt"

	"github.com/opsxjacky/cdar-rebalance/internal/data"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	fetchOut  string
	fetchFeed string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download daily bars from Alpaca into per-symbol CSV files",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		bc, err := cfg.ToBacktestConfig()
		if err != nil {
			return err
		}
		if bc.StartDate.IsZero() || bc.EndDate.IsZero() {
			return fmt.Errorf("fetch needs backtest.start_date and backtest.end_date")
		}

		loader, err := data.NewAlpacaLoaderFromEnv(fetchFeed, logger)
		if err != nil {
			return err
		}
		bars, err := loader.FetchBars(ctx, bc.Symbols, bc.StartDate, bc.EndDate)
		if err != nil {
			return err
		}
		for _, symbol := range bc.Symbols {
			if len(bars[symbol]) == 0 {
				logger.Warn("no bars returned", zap.String("symbol", symbol))
			}
		}

		out := cfg.GetDataDir()
		if fetchOut != "" {
			out = fetchOut
		}
		if err := data.WriteCSV(out, bars); err != nil {
			return err
		}
		logger.Info("bars written", zap.String("dir", out), zap.Int("symbols", len(bars)))
		return nil
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchOut, "out", "", "output directory (default: backtest.data_dir)")
	fetchCmd.Flags().StringVar(&fetchFeed, "feed", "", "alpaca data feed (iex, sip)")
}
