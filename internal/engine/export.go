package engine

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/opsxjacky/cdar-rebalance/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/tidwall/pretty"
)

// ResultSummary 结果摘要
type ResultSummary struct {
	ID             string                 `json:"id"`
	StrategyName   string                 `json:"strategy_name"`
	StartDate      time.Time              `json:"start_date"`
	EndDate        time.Time              `json:"end_date"`
	InitialCapital float64                `json:"initial_capital"`
	FinalValue     float64                `json:"final_value"`
	TotalReturn    float64                `json:"total_return"`
	TotalTrades    int                    `json:"total_trades"`
	TotalFees      float64                `json:"total_fees"`
	Stats          types.PerformanceStats `json:"stats"`
}

// Summarize 生成结果摘要
func Summarize(r *types.BacktestResult) ResultSummary {
	return ResultSummary{
		ID:             r.ID,
		StrategyName:   r.Strategy,
		StartDate:      r.StartDate,
		EndDate:        r.EndDate,
		InitialCapital: r.Config.InitialCapital,
		FinalValue:     r.FinalValue,
		TotalReturn:    r.TotalReturn,
		TotalTrades:    r.TotalTrades,
		TotalFees:      r.TotalFees,
		Stats:          r.Stats,
	}
}

// ExportResults 导出结果到JSON文件
func (e *BacktestEngine) ExportResults(path string) error {
	if e.result == nil {
		return fmt.Errorf("no results to export, run backtest first")
	}

	output := struct {
		Summary   ResultSummary          `json:"summary"`
		Events    []types.RebalanceEvent `json:"events"`
		Trades    []types.Trade          `json:"trades"`
		Snapshots []types.PortfolioState `json:"snapshots"`
		Config    types.BacktestConfig   `json:"config"`
	}{
		Summary:   Summarize(e.result),
		Events:    e.result.Events,
		Trades:    e.result.Trades,
		Snapshots: e.result.Snapshots,
		Config:    e.result.Config,
	}

	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := os.WriteFile(path, pretty.Pretty(data), 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	e.logger.Sugar().Infof("results exported to %s", path)
	return nil
}

// ExportTrajectoryCSV 导出逐步权益轨迹
// 列: date, step, cash, total_value, cumulative_return, ratio, 以及每个资产的持仓数量
func (e *BacktestEngine) ExportTrajectoryCSV(path string) error {
	if e.result == nil {
		return fmt.Errorf("no results to export, run backtest first")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer f.Close()

	if err := WriteTrajectory(f, e.result); err != nil {
		return err
	}
	return f.Close()
}

// WriteTrajectory 以CSV写出轨迹
func WriteTrajectory(w io.Writer, r *types.BacktestResult) error {
	symbols := append([]string(nil), r.Config.Symbols...)
	sort.Strings(symbols)

	cw := csv.NewWriter(w)
	header := []string{"date", "step", "cash", "total_value", "cumulative_return", "ratio"}
	header = append(header, symbols...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, s := range r.Snapshots {
		row := []string{
			s.Timestamp.Format("2006-01-02"),
			strconv.Itoa(s.Step),
			formatFloat(s.Cash),
			formatFloat(s.TotalValue),
			formatMetric(at(r.Cumulative, i)),
			formatMetric(at(r.Ratios, i)),
		}
		for _, symbol := range symbols {
			row = append(row, formatFloat(s.Holdings[symbol]))
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// PrintSummary 打印回测摘要
func (e *BacktestEngine) PrintSummary() {
	if e.result == nil {
		fmt.Println("No results available")
		return
	}
	WriteSummary(os.Stdout, e.result)
}

// WriteSummary 输出回测摘要
func WriteSummary(w io.Writer, r *types.BacktestResult) {
	s := r.Stats
	fmt.Fprintln(w, "\n========== Backtest Summary ==========")
	fmt.Fprintf(w, "Strategy: %s\n", r.Strategy)
	fmt.Fprintf(w, "Period: %s to %s (%d steps)\n",
		r.StartDate.Format("2006-01-02"),
		r.EndDate.Format("2006-01-02"),
		s.Steps)
	fmt.Fprintf(w, "Initial Capital: $%s\n", money(r.Config.InitialCapital))
	fmt.Fprintf(w, "Final Value: $%s\n", money(r.FinalValue))
	fmt.Fprintf(w, "Total Return: %s\n", percent(s.TotalReturn))
	fmt.Fprintf(w, "Benchmark Return: %s\n", percent(s.BenchmarkReturn))
	fmt.Fprintf(w, "Max Drawdown: %s (%d steps)\n", percent(s.MaxDrawdown), s.MaxDrawdownDuration)
	fmt.Fprintf(w, "Annualized Return: %s\n", percent(s.AnnualizedReturn))
	fmt.Fprintf(w, "Annualized Volatility: %s\n", percent(s.AnnualizedVolatility))
	fmt.Fprintf(w, "Sharpe Ratio: %s\n", ratio(s.SharpeRatio))
	fmt.Fprintf(w, "Sortino Ratio: %s\n", ratio(s.SortinoRatio))
	fmt.Fprintf(w, "Calmar Ratio: %s\n", ratio(s.CalmarRatio))
	fmt.Fprintf(w, "CDaR (5%%): %s\n", percent(s.ConditionalDrawdown))
	fmt.Fprintf(w, "Rebalances: %d (failed %d, skipped %d)\n",
		s.RebalanceCount, s.FailedRebalanceCount, s.SkippedRebalanceCount)
	fmt.Fprintf(w, "Total Trades: %d\n", r.TotalTrades)
	fmt.Fprintf(w, "Total Fees: $%s\n", money(r.TotalFees))
	fmt.Fprintln(w, "========================================")
}

func money(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

func percent(v types.Float) string {
	if !v.Valid() {
		return "NaN"
	}
	return decimal.NewFromFloat(float64(v)).Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

func ratio(v types.Float) string {
	if !v.Valid() {
		return "NaN"
	}
	return decimal.NewFromFloat(float64(v)).StringFixed(3)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatMetric(v types.Float) string {
	if !v.Valid() {
		return ""
	}
	return formatFloat(float64(v))
}

func at(values []types.Float, i int) types.Float {
	if i < len(values) {
		return values[i]
	}
	return types.NaN()
}
