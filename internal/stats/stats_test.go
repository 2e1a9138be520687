package stats

import (
	"math"
	"testing"
	"time"

	"github.com/opsxjacky/cdar-rebalance/pkg/types"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMaxDrawdown(t *testing.T) {
	tests := []struct {
		name         string
		equity       []float64
		wantDD       float64
		wantDuration int
	}{
		{"recovered", []float64{100, 120, 90, 130}, 0.25, 2},
		{"not recovered", []float64{100, 80, 90}, 0.2, 2},
		{"monotonic", []float64{100, 101, 102}, 0, 0},
		{"two dips", []float64{100, 95, 100, 110, 77, 120}, 0.3, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dd, duration := MaxDrawdown(tt.equity)
			if !approx(dd, tt.wantDD) {
				t.Errorf("drawdown = %v, want %v", dd, tt.wantDD)
			}
			if duration != tt.wantDuration {
				t.Errorf("duration = %d, want %d", duration, tt.wantDuration)
			}
		})
	}
	if dd, _ := MaxDrawdown(nil); !math.IsNaN(dd) {
		t.Errorf("MaxDrawdown(nil) = %v, want NaN", dd)
	}
}

func TestDrawdownsAndCDaR(t *testing.T) {
	returns := []float64{0.1, -0.05, -0.05, 0.2}
	dd := Drawdowns(returns)
	want := []float64{0, 0.05, 0.1, 0}
	for i := range want {
		if !approx(dd[i], want[i]) {
			t.Errorf("drawdown[%d] = %v, want %v", i, dd[i], want[i])
		}
	}

	tests := []struct {
		alpha float64
		want  float64
	}{
		{0.05, 0.1},  // 最差一个
		{0.5, 0.075}, // 最差两个
		{1, 0.0375},  // 全部
	}
	for _, tt := range tests {
		if got := CDaR(returns, tt.alpha); !approx(got, tt.want) {
			t.Errorf("CDaR(alpha=%v) = %v, want %v", tt.alpha, got, tt.want)
		}
	}
	if got := CDaR(nil, 0.05); !math.IsNaN(got) {
		t.Errorf("CDaR(nil) = %v, want NaN", got)
	}
}

func TestComputeSharpe(t *testing.T) {
	equity := []float64{110, 110, 121, 121}
	s := Compute(Input{Equity: equity, InitialCapital: 100, YearFreq: 252})

	want := 0.05 / math.Sqrt(0.01/3) * math.Sqrt(252)
	if !approx(float64(s.SharpeRatio), want) {
		t.Errorf("sharpe = %v, want %v", s.SharpeRatio, want)
	}
	if !approx(float64(s.TotalReturn), 0.21) {
		t.Errorf("total return = %v, want 0.21", s.TotalReturn)
	}
	if s.MaxDrawdown != 0 || s.CalmarRatio.Valid() {
		t.Errorf("max drawdown = %v calmar = %v, want 0 and undefined", s.MaxDrawdown, s.CalmarRatio)
	}
	if s.SortinoRatio.Valid() {
		t.Errorf("sortino = %v, want undefined without losses", s.SortinoRatio)
	}
}

func TestComputeConstantEquity(t *testing.T) {
	s := Compute(Input{Equity: []float64{100, 100, 100}, InitialCapital: 100})
	if s.SharpeRatio.Valid() {
		t.Errorf("sharpe = %v, want undefined for zero volatility", s.SharpeRatio)
	}
	if float64(s.TotalReturn) != 0 || float64(s.AnnualizedVolatility) != 0 {
		t.Errorf("return/vol = %v/%v, want 0/0", s.TotalReturn, s.AnnualizedVolatility)
	}
}

func TestComputeCountsEvents(t *testing.T) {
	events := []types.RebalanceEvent{
		{Status: types.StatusInsufficientHistory},
		{Status: types.StatusInsufficientHistory},
		{Status: types.StatusWeightsFailed},
		{Status: types.StatusRebalanced},
	}
	trades := []types.Trade{{Fee: 1.5}, {Fee: 2.5}}
	dates := []time.Time{time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)}
	s := Compute(Input{Dates: dates, Equity: []float64{100, 95}, InitialCapital: 100, Events: events, Trades: trades})

	if s.RebalanceCount != 1 || s.FailedRebalanceCount != 1 || s.SkippedRebalanceCount != 2 {
		t.Errorf("counts = %d/%d/%d", s.RebalanceCount, s.FailedRebalanceCount, s.SkippedRebalanceCount)
	}
	if s.TotalTrades != 2 || s.TotalFees != 4 {
		t.Errorf("trades = %d fees = %v", s.TotalTrades, s.TotalFees)
	}
	if !s.Start.Equal(dates[0]) || !s.End.Equal(dates[1]) {
		t.Errorf("range = %v - %v", s.Start, s.End)
	}
	if !approx(float64(s.MaxDrawdown), 0.05) {
		t.Errorf("max drawdown = %v, want 0.05", s.MaxDrawdown)
	}
}

func TestEqualWeightBenchmark(t *testing.T) {
	m := &types.PriceMatrix{
		Symbols: []string{"A", "B"},
		Dates:   []time.Time{time.Now(), time.Now().Add(time.Hour)},
		Close:   [][]float64{{10, 20}, {20, 20}},
	}
	got := EqualWeightBenchmark(m, 100)
	if len(got) != 2 || !approx(got[0], 100) || !approx(got[1], 150) {
		t.Errorf("benchmark = %v, want [100 150]", got)
	}
}

func TestReturns(t *testing.T) {
	got := Returns([]float64{110, 99}, 100)
	if !approx(got[0], 0.1) || !approx(got[1], -0.1) {
		t.Errorf("returns = %v", got)
	}
	cum := CumulativeReturns([]float64{110, 99}, 100)
	if !approx(cum[0], 0.1) || !approx(cum[1], -0.01) {
		t.Errorf("cumulative = %v", cum)
	}
}
