package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/opsxjacky/cdar-rebalance/internal/cost"
	"github.com/opsxjacky/cdar-rebalance/internal/optimizer"
	"github.com/opsxjacky/cdar-rebalance/internal/strategy"
	"github.com/opsxjacky/cdar-rebalance/pkg/types"
)

func wavyMatrix(assets, rows int) *types.PriceMatrix {
	start := time.Date(2010, 1, 4, 0, 0, 0, 0, time.UTC)
	m := &types.PriceMatrix{}
	for j := 0; j < assets; j++ {
		m.Symbols = append(m.Symbols, fmt.Sprintf("A%02d", j))
	}
	for i := 0; i < rows; i++ {
		m.Dates = append(m.Dates, start.AddDate(0, 0, i))
		row := make([]float64, assets)
		for j := range row {
			row[j] = 100*(1+0.1*math.Sin(float64(i)/10+float64(j))) + float64(j) + 0.01*float64(i)
		}
		m.Close = append(m.Close, row)
	}
	return m
}

func constantMatrix(symbol string, price float64, rows int) *types.PriceMatrix {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	m := &types.PriceMatrix{Symbols: []string{symbol}}
	for i := 0; i < rows; i++ {
		m.Dates = append(m.Dates, start.AddDate(0, 0, i))
		m.Close = append(m.Close, []float64{price})
	}
	return m
}

func newEngine(period, lookback int, w strategy.Weigher) *BacktestEngine {
	e := New(types.BacktestConfig{
		InitialCapital: 100000,
		Period:         period,
		Lookback:       lookback,
	})
	e.SetWeigher(w)
	return e
}

func countStatus(events []types.RebalanceEvent, status types.RebalanceStatus) int {
	n := 0
	for _, e := range events {
		if e.Status == status {
			n++
		}
	}
	return n
}

func TestRunLongLookbackScenario(t *testing.T) {
	m := wavyMatrix(10, 1200)
	e := newEngine(30, 1008, optimizer.EqualWeight{})

	result, err := e.Run(m)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var rebalances []int
	for _, ev := range result.Events {
		if ev.Step%30 != 0 || ev.Step == 0 {
			t.Errorf("event at step %d is not a positive multiple of 30", ev.Step)
		}
		switch ev.Status {
		case types.StatusRebalanced:
			rebalances = append(rebalances, ev.Step)
		case types.StatusInsufficientHistory:
			if ev.Step >= 1008 {
				t.Errorf("step %d marked insufficient with 1008 rows of history", ev.Step)
			}
		}
	}

	if len(rebalances) == 0 {
		t.Fatal("expected at least one rebalance")
	}
	if rebalances[0] < 1008 {
		t.Errorf("first rebalance at %d, want >= 1008", rebalances[0])
	}
	if want := (1199 - 1008) / 30; len(rebalances) != want {
		t.Errorf("rebalances = %d (%v), want %d", len(rebalances), rebalances, want)
	}
	if got, want := len(result.Events), (1200-1)/30; got != want {
		t.Errorf("activated steps = %d, want %d", got, want)
	}

	// 首次再平衡前一直是全现金
	for i := 0; i < rebalances[0]; i++ {
		s := result.Snapshots[i]
		if s.Cash != 100000 || len(s.Holdings) != 0 {
			t.Fatalf("step %d: cash=%v holdings=%v, want all cash", i, s.Cash, s.Holdings)
		}
		if !math.IsNaN(float64(result.Ratios[i])) {
			t.Fatalf("step %d: ratio = %v, want NaN", i, result.Ratios[i])
		}
	}
}

func TestRunSkipsWhenLookbackExceedsHistory(t *testing.T) {
	m := wavyMatrix(3, 60)
	calls := 0
	w := strategy.WeightFunc(func(window types.HistoryWindow) (float64, types.WeightVector, error) {
		calls++
		if window.Len() != 20 {
			t.Errorf("window length = %d, want 20", window.Len())
		}
		return 1, types.WeightVector{"A00": 0.5, "A01": 0.5}, nil
	})
	e := newEngine(5, 20, w)

	result, err := e.Run(m)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	for _, ev := range result.Events {
		if ev.Step < 20 && ev.Status != types.StatusInsufficientHistory {
			t.Errorf("step %d status = %s, want %s", ev.Step, ev.Status, types.StatusInsufficientHistory)
		}
		if ev.Step >= 20 && ev.Status != types.StatusRebalanced {
			t.Errorf("step %d status = %s, want %s", ev.Step, ev.Status, types.StatusRebalanced)
		}
	}
	// 激活步: 5..55, 其中 20..55 共 8 次调用
	if calls != 8 {
		t.Errorf("weigher calls = %d, want 8", calls)
	}
	for i := 1; i < 20; i++ {
		prev, cur := result.Snapshots[i-1], result.Snapshots[i]
		if prev.Cash != cur.Cash || !reflect.DeepEqual(prev.Holdings, cur.Holdings) {
			t.Fatalf("state changed at step %d before lookback was available", i)
		}
	}
	for _, tr := range result.Trades {
		if tr.Step < 20 {
			t.Errorf("trade at step %d before lookback was available", tr.Step)
		}
	}
}

func TestRunIsDeterministic(t *testing.T) {
	m := wavyMatrix(4, 300)
	run := func() *types.BacktestResult {
		e := newEngine(21, 100, &optimizer.CDaRSharpe{Samples: 200, Seed: 7})
		r, err := e.Run(m)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return r
	}

	a, b := run(), run()
	if !reflect.DeepEqual(a.Snapshots, b.Snapshots) {
		t.Error("snapshots differ between identical runs")
	}
	if !reflect.DeepEqual(a.Trades, b.Trades) {
		t.Error("trades differ between identical runs")
	}
	if len(a.Ratios) != len(b.Ratios) {
		t.Fatalf("ratio lengths differ: %d vs %d", len(a.Ratios), len(b.Ratios))
	}
	for i := range a.Ratios {
		x, y := float64(a.Ratios[i]), float64(b.Ratios[i])
		if x != y && !(math.IsNaN(x) && math.IsNaN(y)) {
			t.Fatalf("ratio %d differs: %v vs %v", i, x, y)
		}
	}
}

func TestRunIsDeterministicManyAssets(t *testing.T) {
	m := wavyMatrix(10, 400)
	run := func() *types.BacktestResult {
		e := newEngine(20, 60, optimizer.EqualWeight{})
		r, err := e.Run(m)
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		return r
	}

	first := run()
	for k := 1; k < 20; k++ {
		r := run()
		for i := range first.Snapshots {
			if r.Snapshots[i].TotalValue != first.Snapshots[i].TotalValue {
				t.Fatalf("run %d step %d: equity %v vs %v", k, i, r.Snapshots[i].TotalValue, first.Snapshots[i].TotalValue)
			}
		}
		if !reflect.DeepEqual(r.Trades, first.Trades) {
			t.Fatalf("run %d: trades differ", k)
		}
	}
}

func TestRunTradesOnlyConfiguredSymbols(t *testing.T) {
	m := wavyMatrix(3, 60)
	e := New(types.BacktestConfig{
		InitialCapital: 100000,
		Period:         10,
		Symbols:        []string{"A00", "A01"},
	})
	e.SetWeigher(optimizer.EqualWeight{})
	result, err := e.Run(m)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(result.Trades) == 0 {
		t.Fatal("expected trades")
	}
	for _, tr := range result.Trades {
		if tr.Symbol == "A02" {
			t.Fatalf("traded unconfigured symbol: %+v", tr)
		}
	}
	for _, ev := range result.Events {
		if _, ok := ev.Weights["A02"]; ok {
			t.Fatalf("step %d weights include A02", ev.Step)
		}
	}

	var sb strings.Builder
	if err := WriteTrajectory(&sb, result); err != nil {
		t.Fatalf("WriteTrajectory() error = %v", err)
	}
	header := strings.SplitN(sb.String(), "\n", 2)[0]
	if header != "date,step,cash,total_value,cumulative_return,ratio,A00,A01" {
		t.Errorf("header = %q", header)
	}
	if m.NumAssets() != 3 {
		t.Error("input matrix modified")
	}
}

func TestRunSellsBeforeBuys(t *testing.T) {
	m := wavyMatrix(3, 120)
	targets := []types.WeightVector{
		{"A00": 0.7, "A01": 0.2, "A02": 0.1},
		{"A00": 0.1, "A01": 0.2, "A02": 0.7},
		{"A00": 0.2, "A01": 0.7, "A02": 0.1},
	}
	k := 0
	w := strategy.WeightFunc(func(types.HistoryWindow) (float64, types.WeightVector, error) {
		target := targets[k%len(targets)]
		k++
		return 0, target, nil
	})
	e := newEngine(10, 0, w)

	result, err := e.Run(m)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	byStep := make(map[int][]types.Trade)
	for _, tr := range result.Trades {
		byStep[tr.Step] = append(byStep[tr.Step], tr)
	}
	if len(byStep) == 0 {
		t.Fatal("expected trades")
	}
	for step, trades := range byStep {
		seenBuy := false
		for _, tr := range trades {
			if tr.Side == types.SideBuy {
				seenBuy = true
			}
			if tr.Side == types.SideSell && seenBuy {
				t.Errorf("step %d: sell of %s after a buy", step, tr.Symbol)
			}
		}
	}

	// 零成本下, 先卖后买能完全达到目标权重
	last := result.Events[len(result.Events)-1]
	snap := result.Snapshots[last.Step]
	for symbol, target := range last.Weights {
		got := snap.PositionValue(symbol) / snap.Equity()
		if math.Abs(got-target) > 1e-9 {
			t.Errorf("%s weight = %v, want %v", symbol, got, target)
		}
	}
}

func TestRunSurvivesFailingWeigher(t *testing.T) {
	tests := []struct {
		name string
		w    strategy.Weigher
	}{
		{
			name: "error",
			w: strategy.WeightFunc(func(types.HistoryWindow) (float64, types.WeightVector, error) {
				return 0, nil, errors.New("solver did not converge")
			}),
		},
		{
			name: "panic",
			w: strategy.WeightFunc(func(types.HistoryWindow) (float64, types.WeightVector, error) {
				panic("boom")
			}),
		},
		{
			name: "empty vector",
			w: strategy.WeightFunc(func(types.HistoryWindow) (float64, types.WeightVector, error) {
				return 1, types.WeightVector{}, nil
			}),
		},
		{
			name: "nan weight",
			w: strategy.WeightFunc(func(types.HistoryWindow) (float64, types.WeightVector, error) {
				return 1, types.WeightVector{"A00": math.NaN()}, nil
			}),
		},
		{
			name: "unknown symbol",
			w: strategy.WeightFunc(func(types.HistoryWindow) (float64, types.WeightVector, error) {
				return 1, types.WeightVector{"ZZZ": 1}, nil
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := wavyMatrix(2, 50)
			e := newEngine(5, 0, tt.w)

			result, err := e.Run(m)
			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if len(result.Snapshots) != m.Len() {
				t.Fatalf("snapshots = %d, want %d", len(result.Snapshots), m.Len())
			}
			for i, s := range result.Snapshots {
				if s.Cash != 100000 || len(s.Holdings) != 0 || s.TotalValue != 100000 {
					t.Fatalf("step %d: not all cash: %+v", i, s)
				}
				if !math.IsNaN(float64(result.Ratios[i])) {
					t.Fatalf("step %d ratio = %v, want NaN", i, result.Ratios[i])
				}
			}
			if got := countStatus(result.Events, types.StatusWeightsFailed); got != len(result.Events) {
				t.Errorf("failed events = %d, want %d", got, len(result.Events))
			}
			if len(result.Trades) != 0 {
				t.Errorf("trades = %d, want 0", len(result.Trades))
			}
		})
	}
}

func TestRunConstantPriceNoDrift(t *testing.T) {
	m := constantMatrix("SPY", 50, 40)
	e := newEngine(1, 0, optimizer.NewFixed(map[string]float64{"SPY": 1}))

	result, err := e.Run(m)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := len(result.Events); got != 39 {
		t.Errorf("events = %d, want 39", got)
	}
	if got := countStatus(result.Events, types.StatusRebalanced); got != 39 {
		t.Errorf("rebalanced = %d, want 39", got)
	}
	for i, s := range result.Snapshots {
		if math.Abs(s.TotalValue-100000) > 1e-6 {
			t.Fatalf("step %d: equity = %v, want 100000", i, s.TotalValue)
		}
		if i >= 1 && math.Abs(s.Holdings["SPY"]-2000) > 1e-6 {
			t.Fatalf("step %d: holdings = %v, want 2000", i, s.Holdings["SPY"])
		}
	}
	if len(result.Trades) != 1 {
		t.Errorf("trades = %d, want a single initial buy", len(result.Trades))
	}
}

func TestRunPartialFillOnOverAllocation(t *testing.T) {
	m := wavyMatrix(2, 30)
	w := strategy.WeightFunc(func(types.HistoryWindow) (float64, types.WeightVector, error) {
		return 0, types.WeightVector{"A00": 0.8, "A01": 0.8}, nil
	})
	e := newEngine(10, 0, w)

	result, err := e.Run(m)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for i, s := range result.Snapshots {
		if s.Cash < -1e-9 {
			t.Fatalf("step %d: negative cash %v", i, s.Cash)
		}
	}
	if got := countStatus(result.Events, types.StatusRebalanced); got != 2 {
		t.Errorf("rebalanced = %d, want 2", got)
	}
}

func TestRunWithCosts(t *testing.T) {
	m := wavyMatrix(3, 100)
	e := newEngine(20, 0, optimizer.EqualWeight{})
	e.SetCostModel(cost.NewDefaultCostModel(types.CostConfig{CommissionRate: 0.001, SlippageRate: 0.0005}))

	result, err := e.Run(m)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.TotalFees <= 0 {
		t.Errorf("total fees = %v, want > 0", result.TotalFees)
	}
	for i, s := range result.Snapshots {
		if s.Cash < -1e-9 {
			t.Fatalf("step %d: negative cash %v", i, s.Cash)
		}
	}
}

func TestRunRejectsInvalidInput(t *testing.T) {
	good := wavyMatrix(2, 10)

	dup := wavyMatrix(2, 10)
	dup.Symbols[1] = dup.Symbols[0]

	unordered := wavyMatrix(2, 10)
	unordered.Dates[5] = unordered.Dates[3]

	missing := wavyMatrix(2, 10)
	missing.Close[4][1] = math.NaN()

	tests := []struct {
		name string
		m    *types.PriceMatrix
		e    *BacktestEngine
	}{
		{"duplicate columns", dup, newEngine(2, 0, optimizer.EqualWeight{})},
		{"non-monotonic dates", unordered, newEngine(2, 0, optimizer.EqualWeight{})},
		{"missing value", missing, newEngine(2, 0, optimizer.EqualWeight{})},
		{"no weigher", good, newEngine(2, 0, nil)},
		{"zero period", good, newEngine(0, 0, optimizer.EqualWeight{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.e.Run(tt.m); err == nil {
				t.Error("Run() error = nil, want error")
			}
		})
	}
}

func TestExportResults(t *testing.T) {
	m := wavyMatrix(2, 40)
	e := newEngine(10, 15, optimizer.EqualWeight{})
	if _, err := e.Run(m); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "out", "result.json")
	if err := e.ExportResults(jsonPath); err != nil {
		t.Fatalf("ExportResults() error = %v", err)
	}
	raw, err := os.ReadFile(jsonPath)
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Summary ResultSummary          `json:"summary"`
		Events  []types.RebalanceEvent `json:"events"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("exported JSON invalid: %v", err)
	}
	if len(decoded.Events) != 3 {
		t.Errorf("events = %d, want 3", len(decoded.Events))
	}
	if decoded.Events[0].Status != types.StatusInsufficientHistory || decoded.Events[0].Ratio.Valid() {
		t.Errorf("first event = %+v, want insufficient history with null ratio", decoded.Events[0])
	}

	csvPath := filepath.Join(dir, "trajectory.csv")
	if err := e.ExportTrajectoryCSV(csvPath); err != nil {
		t.Fatalf("ExportTrajectoryCSV() error = %v", err)
	}
	data, err := os.ReadFile(csvPath)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 41 {
		t.Errorf("csv lines = %d, want 41", len(lines))
	}
	if !strings.HasPrefix(lines[0], "date,step,cash,total_value") {
		t.Errorf("unexpected header %q", lines[0])
	}
}

func TestWriteSummary(t *testing.T) {
	m := wavyMatrix(2, 40)
	e := newEngine(10, 0, optimizer.EqualWeight{})
	result, err := e.Run(m)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var sb strings.Builder
	WriteSummary(&sb, result)
	out := sb.String()
	for _, want := range []string{"Backtest Summary", "Initial Capital: $100000.00", "Rebalances: 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}
