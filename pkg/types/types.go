package types

import (
	"sort"
	"time"
)

// PriceData 单根K线
type PriceData struct {
	Symbol    string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	AdjClose  float64
}

// Side 交易方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// WeightVector 目标权重 (资产 -> 占总权益比例)
type WeightVector map[string]float64

// Clone 复制权重
func (w WeightVector) Clone() WeightVector {
	if w == nil {
		return nil
	}
	out := make(WeightVector, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

// Order 交易订单
type Order struct {
	Symbol   string  `json:"symbol"`
	Side     Side    `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
}

// Trade 成交记录
type Trade struct {
	Step      int       `json:"step"`
	Timestamp time.Time `json:"timestamp"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Quantity  float64   `json:"quantity"`
	Price     float64   `json:"price"`
	Fee       float64   `json:"fee"`
	Value     float64   `json:"value"` // 成交金额 (不含手续费)
}

// PortfolioState 组合状态
// 由 portfolio.Manager 独占修改, 策略回调只拿到副本
type PortfolioState struct {
	Step       int                `json:"step"`
	Timestamp  time.Time          `json:"timestamp"`
	Cash       float64            `json:"cash"`
	Holdings   map[string]float64 `json:"holdings"`
	LastPrice  map[string]float64 `json:"last_price"`
	TotalValue float64            `json:"total_value"`
}

// NewPortfolioState 创建全现金组合
func NewPortfolioState(initialCash float64) PortfolioState {
	return PortfolioState{
		Step:       -1,
		Cash:       initialCash,
		Holdings:   make(map[string]float64),
		LastPrice:  make(map[string]float64),
		TotalValue: initialCash,
	}
}

// Clone 深拷贝
func (s PortfolioState) Clone() PortfolioState {
	out := s
	out.Holdings = make(map[string]float64, len(s.Holdings))
	for k, v := range s.Holdings {
		out.Holdings[k] = v
	}
	out.LastPrice = make(map[string]float64, len(s.LastPrice))
	for k, v := range s.LastPrice {
		out.LastPrice[k] = v
	}
	return out
}

// Equity 按最新估值价计算总权益
// 按代码排序累加, 同样的持仓总得到同样的浮点结果
func (s PortfolioState) Equity() float64 {
	total := s.Cash
	for _, symbol := range s.Symbols() {
		total += s.Holdings[symbol] * s.LastPrice[symbol]
	}
	return total
}

// Symbols 持仓代码, 升序
func (s PortfolioState) Symbols() []string {
	symbols := make([]string, 0, len(s.Holdings))
	for symbol := range s.Holdings {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// PositionValue 单个资产持仓市值
func (s PortfolioState) PositionValue(symbol string) float64 {
	return s.Holdings[symbol] * s.LastPrice[symbol]
}

// Weights 当前权重
func (s PortfolioState) Weights() map[string]float64 {
	weights := make(map[string]float64)
	equity := s.Equity()
	if equity == 0 {
		return weights
	}
	for _, symbol := range s.Symbols() {
		weights[symbol] = s.PositionValue(symbol) / equity
	}
	weights["CASH"] = s.Cash / equity
	return weights
}

// RebalanceStatus 再平衡步骤结果
type RebalanceStatus string

const (
	StatusRebalanced          RebalanceStatus = "rebalanced"
	StatusInsufficientHistory RebalanceStatus = "insufficient_history"
	StatusWeightsFailed       RebalanceStatus = "weights_failed"
)

// RebalanceEvent 激活步骤的诊断记录
type RebalanceEvent struct {
	Step      int             `json:"step"`
	Timestamp time.Time       `json:"timestamp"`
	Status    RebalanceStatus `json:"status"`
	Ratio     Float           `json:"ratio"`
	Weights   WeightVector    `json:"weights,omitempty"`
	Sequence  []string        `json:"sequence,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// BacktestConfig 回测配置
type BacktestConfig struct {
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
	InitialCapital float64   `json:"initial_capital"`
	Symbols        []string  `json:"symbols"`
	Period         int       `json:"period"`   // 再平衡周期 (步数)
	Lookback       int       `json:"lookback"` // 回看窗口, <=0 表示从头开始的全部历史
	YearFreq       int       `json:"year_freq"`
}

// UnboundedLookback 是否使用全部历史
func (c BacktestConfig) UnboundedLookback() bool {
	return c.Lookback <= 0
}

// PerformanceStats 绩效统计
type PerformanceStats struct {
	Start                 time.Time `json:"start"`
	End                   time.Time `json:"end"`
	Steps                 int       `json:"steps"`
	StartValue            float64   `json:"start_value"`
	EndValue              float64   `json:"end_value"`
	TotalReturn           Float     `json:"total_return"`
	BenchmarkReturn       Float     `json:"benchmark_return"`
	MaxDrawdown           Float     `json:"max_drawdown"`
	MaxDrawdownDuration   int       `json:"max_drawdown_duration"`
	AnnualizedReturn      Float     `json:"annualized_return"`
	AnnualizedVolatility  Float     `json:"annualized_volatility"`
	SharpeRatio           Float     `json:"sharpe_ratio"`
	SortinoRatio          Float     `json:"sortino_ratio"`
	CalmarRatio           Float     `json:"calmar_ratio"`
	ConditionalDrawdown   Float     `json:"cdar"`
	TotalTrades           int       `json:"total_trades"`
	TotalFees             float64   `json:"total_fees"`
	RebalanceCount        int       `json:"rebalance_count"`
	FailedRebalanceCount  int       `json:"failed_rebalance_count"`
	SkippedRebalanceCount int       `json:"skipped_rebalance_count"`
}

// BacktestResult 回测结果
type BacktestResult struct {
	ID          string           `json:"id"`
	Strategy    string           `json:"strategy"`
	Config      BacktestConfig   `json:"config"`
	Snapshots   []PortfolioState `json:"snapshots"`
	Trades      []Trade          `json:"trades"`
	Ratios      []Float          `json:"ratios"`
	Events      []RebalanceEvent `json:"events"`
	Cumulative  []Float          `json:"cumulative_returns"`
	Stats       PerformanceStats `json:"stats"`
	FinalValue  float64          `json:"final_value"`
	TotalReturn float64          `json:"total_return"`
	TotalTrades int              `json:"total_trades"`
	TotalFees   float64          `json:"total_fees"`
	StartDate   time.Time        `json:"start_date"`
	EndDate     time.Time        `json:"end_date"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Equity 权益曲线
func (r *BacktestResult) Equity() []float64 {
	out := make([]float64, len(r.Snapshots))
	for i, s := range r.Snapshots {
		out[i] = s.TotalValue
	}
	return out
}

// CostConfig 成本配置
type CostConfig struct {
	CommissionRate float64 `json:"commission_rate"` // 佣金率
	MinCommission  float64 `json:"min_commission"`  // 最低佣金
	SlippageRate   float64 `json:"slippage_rate"`   // 滑点率
	TaxRate        float64 `json:"tax_rate"`        // 税率
}

// OptimizerConfig 权重计算配置
type OptimizerConfig struct {
	Type          string             `json:"type"`
	Samples       int                `json:"samples"`
	Alpha         float64            `json:"alpha"`
	RiskFree      float64            `json:"risk_free"`
	Seed          int64              `json:"seed"`
	TargetWeights map[string]float64 `json:"target_weights,omitempty"`
}

// DefaultOptimizerConfig 默认参数 (2000 组随机组合, CDaR 5%)
func DefaultOptimizerConfig() OptimizerConfig {
	return OptimizerConfig{
		Type:    "cdar_sharpe",
		Samples: 2000,
		Alpha:   0.05,
		Seed:    42,
	}
}
