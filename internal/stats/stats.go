// Package stats 计算回测绩效指标
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/opsxjacky/cdar-rebalance/pkg/types"
	"gonum.org/v1/gonum/stat"
)

// DefaultYearFreq 年化天数
const DefaultYearFreq = 252

// cdarAlpha 权益曲线 CDaR 的置信水平
const cdarAlpha = 0.05

// Input 绩效计算输入
type Input struct {
	Dates          []time.Time
	Equity         []float64
	InitialCapital float64
	Benchmark      []float64 // 基准权益曲线, 可为空
	Trades         []types.Trade
	Events         []types.RebalanceEvent
	YearFreq       int
}

// Compute 计算绩效指标
func Compute(in Input) types.PerformanceStats {
	yearFreq := in.YearFreq
	if yearFreq <= 0 {
		yearFreq = DefaultYearFreq
	}

	s := types.PerformanceStats{
		Steps:                len(in.Equity),
		StartValue:           in.InitialCapital,
		TotalReturn:          types.NaN(),
		BenchmarkReturn:      types.NaN(),
		MaxDrawdown:          types.NaN(),
		AnnualizedReturn:     types.NaN(),
		AnnualizedVolatility: types.NaN(),
		SharpeRatio:          types.NaN(),
		SortinoRatio:         types.NaN(),
		CalmarRatio:          types.NaN(),
		ConditionalDrawdown:  types.NaN(),
		TotalTrades:          len(in.Trades),
	}
	for _, t := range in.Trades {
		s.TotalFees += t.Fee
	}
	for _, e := range in.Events {
		switch e.Status {
		case types.StatusRebalanced:
			s.RebalanceCount++
		case types.StatusWeightsFailed:
			s.FailedRebalanceCount++
		case types.StatusInsufficientHistory:
			s.SkippedRebalanceCount++
		}
	}
	if len(in.Dates) > 0 {
		s.Start = in.Dates[0]
		s.End = in.Dates[len(in.Dates)-1]
	}
	if len(in.Equity) == 0 || in.InitialCapital <= 0 {
		return s
	}

	end := in.Equity[len(in.Equity)-1]
	s.EndValue = end
	s.TotalReturn = types.Float(end/in.InitialCapital - 1)
	if len(in.Benchmark) > 0 && in.Benchmark[0] > 0 {
		s.BenchmarkReturn = types.Float(in.Benchmark[len(in.Benchmark)-1]/in.InitialCapital - 1)
	}

	maxDD, duration := MaxDrawdown(in.Equity)
	s.MaxDrawdown = types.Float(maxDD)
	s.MaxDrawdownDuration = duration

	returns := Returns(in.Equity, in.InitialCapital)
	s.ConditionalDrawdown = types.Float(CDaR(returns, cdarAlpha))

	ann := math.Pow(end/in.InitialCapital, float64(yearFreq)/float64(len(in.Equity))) - 1
	s.AnnualizedReturn = types.Float(ann)
	if maxDD > 0 {
		s.CalmarRatio = types.Float(ann / maxDD)
	}

	if len(returns) >= 2 {
		mean, std := stat.MeanStdDev(returns, nil)
		scale := math.Sqrt(float64(yearFreq))
		s.AnnualizedVolatility = types.Float(std * scale)
		if std > 0 {
			s.SharpeRatio = types.Float(mean / std * scale)
		}
		if dd := downsideDeviation(returns); dd > 0 {
			s.SortinoRatio = types.Float(mean / dd * scale)
		}
	}
	return s
}

// Returns 逐步收益率, 第一步相对初始资金
func Returns(equity []float64, initial float64) []float64 {
	out := make([]float64, len(equity))
	prev := initial
	for i, v := range equity {
		if prev == 0 {
			out[i] = 0
		} else {
			out[i] = v/prev - 1
		}
		prev = v
	}
	return out
}

// CumulativeReturns 累计收益率
func CumulativeReturns(equity []float64, initial float64) []float64 {
	out := make([]float64, len(equity))
	for i, v := range equity {
		if initial == 0 {
			out[i] = math.NaN()
			continue
		}
		out[i] = v/initial - 1
	}
	return out
}

// MaxDrawdown 最大回撤 (正数比例) 及其持续步数 (峰值到恢复或结束)
func MaxDrawdown(equity []float64) (float64, int) {
	if len(equity) == 0 {
		return math.NaN(), 0
	}
	peak, peakIdx := equity[0], 0
	maxDD, ddPeak, ddTrough := 0.0, 0, 0
	for i, v := range equity {
		if v > peak {
			peak, peakIdx = v, i
		}
		if peak <= 0 {
			continue
		}
		if dd := 1 - v/peak; dd > maxDD {
			maxDD, ddPeak, ddTrough = dd, peakIdx, i
		}
	}
	if maxDD == 0 {
		return 0, 0
	}

	recovery := len(equity) - 1
	for i := ddTrough; i < len(equity); i++ {
		if equity[i] >= equity[ddPeak] {
			recovery = i
			break
		}
	}
	return maxDD, recovery - ddPeak
}

// Drawdowns 不复利累计收益的回撤序列
func Drawdowns(returns []float64) []float64 {
	dd := make([]float64, len(returns))
	cum, peak := 0.0, 0.0
	for t, r := range returns {
		cum += r
		if cum > peak {
			peak = cum
		}
		dd[t] = peak - cum
	}
	return dd
}

// CDaR 最差 alpha 比例回撤的均值
func CDaR(returns []float64, alpha float64) float64 {
	if len(returns) == 0 {
		return math.NaN()
	}
	dd := Drawdowns(returns)
	sort.Float64s(dd)
	k := WorstCount(len(dd), alpha)
	return stat.Mean(dd[len(dd)-k:], nil)
}

// WorstCount CDaR 计入的最差回撤个数 ceil(alpha*n), 范围 [1, n]
func WorstCount(n int, alpha float64) int {
	k := int(math.Ceil(alpha * float64(n)))
	if k < 1 {
		k = 1
	}
	if k > n {
		k = n
	}
	return k
}

// downsideDeviation 下行偏差 (目标收益0)
func downsideDeviation(returns []float64) float64 {
	sum := 0.0
	for _, r := range returns {
		if r < 0 {
			sum += r * r
		}
	}
	return math.Sqrt(sum / float64(len(returns)))
}

// EqualWeightBenchmark 首日等权买入持有的权益曲线
func EqualWeightBenchmark(m *types.PriceMatrix, initial float64) []float64 {
	if m == nil || m.Len() == 0 || m.NumAssets() == 0 {
		return nil
	}
	n := float64(m.NumAssets())
	qty := make([]float64, m.NumAssets())
	for j, p := range m.Close[0] {
		qty[j] = initial / n / p
	}
	out := make([]float64, m.Len())
	for i, row := range m.Close {
		v := 0.0
		for j, p := range row {
			v += qty[j] * p
		}
		out[i] = v
	}
	return out
}
