package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/opsxjacky/cdar-rebalance/internal/analysis"
	"github.com/opsxjacky/cdar-rebalance/internal/data"
	"github.com/opsxjacky/cdar-rebalance/pkg/types"
	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
	"go.uber.org/zap"
)

// historyBars 指标计算保留的K线数, 足够 MACD 信号线
const historyBars = 60

var analyzeJSON bool

var analyzeCmd = &cobra.Command{
	Use:   "analyze [SYMBOL...]",
	Short: "Screen symbols for short-term bullish setups",
	Long: `Screen the most recent bars for a bullish candlestick pattern,
SMA5 above SMA10 and volume above its 5-day average, then derive a
target and stop-loss. Defaults to every asset in the config.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		symbols := args
		if len(symbols) == 0 {
			symbols = cfg.Symbols()
		}
		for i := range symbols {
			symbols[i] = strings.ToUpper(symbols[i])
		}

		series, err := loadRecentBars(ctx, symbols)
		if err != nil {
			return err
		}

		params := analysis.Params{
			Days:          cfg.Analysis.Days,
			TargetGain:    cfg.Analysis.TargetGain,
			MinRewardRisk: cfg.Analysis.MinRewardRisk,
		}
		var setups []analysis.Setup
		for _, symbol := range symbols {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s, err := analysis.Analyze(symbol, series[symbol], params)
			if err != nil {
				logger.Warn("analysis skipped", zap.String("symbol", symbol), zap.Error(err))
				continue
			}
			setups = append(setups, s)
		}

		if analyzeJSON {
			raw, err := json.Marshal(setups)
			if err != nil {
				return err
			}
			os.Stdout.Write(pretty.Pretty(raw))
			return nil
		}
		for _, s := range setups {
			printSetup(s)
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print results as JSON")
}

func loadRecentBars(ctx context.Context, symbols []string) (map[string][]types.PriceData, error) {
	series := make(map[string][]types.PriceData, len(symbols))
	if cfg.Backtest.DataSource == "alpaca" {
		loader, err := data.NewAlpacaLoaderFromEnv("", logger)
		if err != nil {
			return nil, err
		}
		end := time.Now().UTC()
		return loader.FetchBars(ctx, symbols, end.AddDate(0, 0, -historyBars*2), end)
	}

	loader := data.NewCSVLoader(cfg.GetDataDir(), logger)
	for _, symbol := range symbols {
		bars, err := loader.LoadBars(symbol, time.Time{}, time.Time{})
		if err != nil {
			return nil, err
		}
		if len(bars) > historyBars {
			bars = bars[len(bars)-historyBars:]
		}
		series[symbol] = bars
	}
	return series, nil
}

func printSetup(s analysis.Setup) {
	fmt.Printf("\n%s (%s) close %.2f\n", s.Symbol, s.Date.Format("2006-01-02"), s.Close)
	fmt.Printf("  SMA5 %.2f  SMA10 %.2f  MACD %.3f  ROC %.2f%%\n",
		float64(s.SMA5), float64(s.SMA10), float64(s.MACD), float64(s.ROC))
	fmt.Printf("  support %.2f  resistance %.2f\n", s.RecentLow, s.RecentHigh)
	if s.Recommended {
		fmt.Printf("  BUY at %.2f, target %.2f, stop-loss %.2f\n", s.Close, s.Target, s.StopLoss)
		return
	}
	fmt.Printf("  no trade: %s\n", strings.Join(s.Reasons, "; "))
}
