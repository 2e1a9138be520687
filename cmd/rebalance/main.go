// rebalance 定期再平衡组合回测工具
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/opsxjacky/cdar-rebalance/internal/config"
	"github.com/opsxjacky/cdar-rebalance/internal/data"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile  string
	logLevel string
	devLog   bool

	cfg    *config.Config
	logger *zap.Logger
)

func main() {
	defer func() {
		if logger != nil {
			logger.Sync()
		}
	}()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Periodic portfolio rebalancing backtester",
	Long: `rebalance runs periodic rebalancing backtests over daily close prices.
Every N steps the weights are recomputed from a trailing window
(CDaR-Sharpe by default) and the book is traded to the new targets.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = newLogger(logLevel, devLog)
		if err != nil {
			return err
		}
		if err := config.LoadEnv(); err != nil {
			return err
		}
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "configs/financials.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&devLog, "dev", false, "human readable development logging")

	rootCmd.AddCommand(backtestCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(serveCmd)
}

// newLogger 创建 zap 日志
func newLogger(level string, dev bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if dev {
		zc = zap.NewDevelopmentConfig()
	}
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zc.Level = lvl
	return zc.Build()
}

// signalContext 收到 SIGINT/SIGTERM 时取消
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// newLoader 按配置选择数据源
func newLoader() (data.DataLoader, error) {
	switch cfg.Backtest.DataSource {
	case "alpaca":
		return data.NewAlpacaLoaderFromEnv("", logger)
	default:
		return data.NewCSVLoader(cfg.GetDataDir(), logger), nil
	}
}
