package engine

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/opsxjacky/cdar-rebalance/internal/cost"
	"github.com/opsxjacky/cdar-rebalance/internal/portfolio"
	"github.com/opsxjacky/cdar-rebalance/internal/stats"
	"github.com/opsxjacky/cdar-rebalance/internal/strategy"
	"github.com/opsxjacky/cdar-rebalance/pkg/types"
	"go.uber.org/zap"
)

var (
	// ErrInsufficientHistory 固定回看窗口超出可用历史
	ErrInsufficientHistory = errors.New("insufficient history for lookback window")
	// ErrInvalidWeights 权重为空或包含非法值
	ErrInvalidWeights = errors.New("invalid weight vector")
	// ErrWeightsFailed 权重计算失败 (错误或 panic)
	ErrWeightsFailed = errors.New("weight computation failed")
)

// BacktestEngine 定期再平衡回测引擎
type BacktestEngine struct {
	config     types.BacktestConfig
	name       string
	activation strategy.Activation
	weigher    strategy.Weigher
	sequencer  strategy.Sequencer
	costModel  cost.CostModel
	logger     *zap.Logger
	result     *types.BacktestResult
}

// New 创建回测引擎
func New(config types.BacktestConfig) *BacktestEngine {
	if config.YearFreq <= 0 {
		config.YearFreq = stats.DefaultYearFreq
	}
	return &BacktestEngine{
		config:    config,
		sequencer: strategy.SellFirst{},
		costModel: cost.NewZeroCostModel(),
		logger:    zap.NewNop(),
	}
}

// SetName 设置策略名称
func (e *BacktestEngine) SetName(name string) {
	e.name = name
}

// SetActivation 设置激活策略, 默认按 Period 定期激活
func (e *BacktestEngine) SetActivation(a strategy.Activation) {
	e.activation = a
}

// SetWeigher 设置权重计算
func (e *BacktestEngine) SetWeigher(w strategy.Weigher) {
	e.weigher = w
}

// SetSequencer 设置下单顺序
func (e *BacktestEngine) SetSequencer(s strategy.Sequencer) {
	e.sequencer = s
}

// SetCostModel 设置成本模型
func (e *BacktestEngine) SetCostModel(model cost.CostModel) {
	e.costModel = model
}

// SetLogger 设置日志
func (e *BacktestEngine) SetLogger(logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	e.logger = logger
}

// Run 在给定价格矩阵上运行回测
// 只有配置和矩阵错误会返回 error, 单步失败只记录在事件中
func (e *BacktestEngine) Run(m *types.PriceMatrix) (*types.BacktestResult, error) {
	if err := e.validate(m); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	if len(e.config.Symbols) == 0 {
		e.config.Symbols = append([]string(nil), m.Symbols...)
	}
	// 只交易配置中的资产, 多余的列不参与回测
	m, err := m.Select(e.config.Symbols)
	if err == nil {
		err = m.Validate()
	}
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	activation := e.activation
	if activation == nil {
		activation = strategy.NewPeriodic(e.config.Period)
	}
	mask := strategy.Mask(activation, m.Len())

	mgr := portfolio.NewManager(e.config.InitialCapital, e.costModel)
	snapshots := make([]types.PortfolioState, 0, m.Len())
	ratios := make([]types.Float, m.Len())
	events := make([]types.RebalanceEvent, 0)

	e.logger.Info("running backtest",
		zap.String("strategy", e.strategyName()),
		zap.Int("steps", m.Len()),
		zap.Int("assets", m.NumAssets()),
		zap.Int("period", e.config.Period),
		zap.Int("lookback", e.config.Lookback),
		zap.Time("start", m.Dates[0]),
		zap.Time("end", m.Dates[m.Len()-1]),
	)

	for i := 0; i < m.Len(); i++ {
		ratios[i] = types.NaN()

		// 估值价更新为当步收盘价, 下单前必须完成
		mgr.UpdatePrices(i, m.PricesAt(i), m.Dates[i])

		if mask[i] {
			event := e.rebalance(i, m, mgr)
			ratios[i] = event.Ratio
			events = append(events, event)
		}

		snapshot := mgr.TakeSnapshot()
		snapshots = append(snapshots, snapshot)

		if (i+1)%100 == 0 || i == m.Len()-1 {
			e.logger.Debug("progress",
				zap.Int("step", i+1),
				zap.Int("steps", m.Len()),
				zap.Float64("value", snapshot.TotalValue),
			)
		}
	}

	e.result = e.generateResult(m, mgr, snapshots, ratios, events)
	return e.result, nil
}

// rebalance 处理一个激活步: 取窗口, 算权重, 排序, 逐笔下单
func (e *BacktestEngine) rebalance(i int, m *types.PriceMatrix, mgr *portfolio.Manager) types.RebalanceEvent {
	date := m.Dates[i]
	event := types.RebalanceEvent{Step: i, Timestamp: date, Ratio: types.NaN()}

	from := 0
	if !e.config.UnboundedLookback() {
		if i < e.config.Lookback {
			event.Status = types.StatusInsufficientHistory
			event.Error = ErrInsufficientHistory.Error()
			return event
		}
		from = i - e.config.Lookback
	}
	window := m.Window(from, i)
	if window.Len() == 0 {
		event.Status = types.StatusInsufficientHistory
		event.Error = ErrInsufficientHistory.Error()
		return event
	}

	ratio, weights, err := e.computeWeights(window)
	if err == nil {
		err = validateWeights(weights, m)
	}
	if err != nil {
		event.Status = types.StatusWeightsFailed
		event.Error = err.Error()
		e.logger.Warn("weight computation failed, skipping step",
			zap.Int("step", i),
			zap.Time("date", date),
			zap.Error(err),
		)
		return event
	}
	event.Ratio = types.Float(ratio)
	event.Weights = weights.Clone()

	sequence := e.sequencer.Sequence(mgr.State(), weights, m.Symbols)
	event.Sequence = sequence
	for _, symbol := range sequence {
		order, ok := mgr.OrderTargetPercent(symbol, weights[symbol])
		if !ok {
			continue
		}
		if _, err := mgr.ExecuteOrder(order, i, date); err != nil {
			// 记录错误但继续执行
			e.logger.Warn("failed to execute order",
				zap.Int("step", i),
				zap.String("symbol", order.Symbol),
				zap.String("side", string(order.Side)),
				zap.Float64("quantity", order.Quantity),
				zap.Error(err),
			)
		}
	}

	event.Status = types.StatusRebalanced
	return event
}

// computeWeights 调用外部权重计算, panic 转为错误
func (e *BacktestEngine) computeWeights(window types.HistoryWindow) (ratio float64, weights types.WeightVector, err error) {
	defer func() {
		if r := recover(); r != nil {
			ratio, weights, err = math.NaN(), nil, fmt.Errorf("%w: panic: %v", ErrWeightsFailed, r)
		}
	}()

	ratio, weights, err = e.weigher.Weights(window)
	if err != nil {
		return math.NaN(), nil, fmt.Errorf("%w: %v", ErrWeightsFailed, err)
	}
	return ratio, weights, nil
}

// validateWeights 权重非空, 资产在矩阵中, 数值有限
func validateWeights(weights types.WeightVector, m *types.PriceMatrix) error {
	if len(weights) == 0 {
		return fmt.Errorf("%w: empty", ErrInvalidWeights)
	}
	for symbol, w := range weights {
		if m.Column(symbol) < 0 {
			return fmt.Errorf("%w: unknown symbol %s", ErrInvalidWeights, symbol)
		}
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: %s=%v", ErrInvalidWeights, symbol, w)
		}
	}
	return nil
}

// validate 验证配置
func (e *BacktestEngine) validate(m *types.PriceMatrix) error {
	if e.weigher == nil {
		return fmt.Errorf("weigher not set")
	}
	if e.sequencer == nil {
		return fmt.Errorf("sequencer not set")
	}
	if e.costModel == nil {
		return fmt.Errorf("cost model not set")
	}
	if e.config.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive")
	}
	if e.activation == nil && e.config.Period <= 0 {
		return fmt.Errorf("rebalance period must be positive")
	}
	if err := m.Validate(); err != nil {
		return err
	}
	for _, symbol := range e.config.Symbols {
		if m.Column(symbol) < 0 {
			return fmt.Errorf("symbol %s not in price matrix", symbol)
		}
	}
	return nil
}

func (e *BacktestEngine) strategyName() string {
	if e.name != "" {
		return e.name
	}
	if e.weigher != nil {
		return e.weigher.Name()
	}
	return "PeriodicRebalance"
}

// generateResult 生成回测结果
func (e *BacktestEngine) generateResult(
	m *types.PriceMatrix,
	mgr *portfolio.Manager,
	snapshots []types.PortfolioState,
	ratios []types.Float,
	events []types.RebalanceEvent,
) *types.BacktestResult {
	trades := mgr.GetTrades()

	result := &types.BacktestResult{
		ID:          uuid.NewString(),
		Strategy:    e.strategyName(),
		Config:      e.config,
		Snapshots:   snapshots,
		Trades:      trades,
		Ratios:      ratios,
		Events:      events,
		TotalTrades: len(trades),
		StartDate:   m.Dates[0],
		EndDate:     m.Dates[m.Len()-1],
		CreatedAt:   time.Now().UTC(),
	}

	equity := result.Equity()
	result.Cumulative = types.Floats(stats.CumulativeReturns(equity, e.config.InitialCapital))
	result.Stats = stats.Compute(stats.Input{
		Dates:          m.Dates,
		Equity:         equity,
		InitialCapital: e.config.InitialCapital,
		Benchmark:      stats.EqualWeightBenchmark(m, e.config.InitialCapital),
		Trades:         trades,
		Events:         events,
		YearFreq:       e.config.YearFreq,
	})
	result.FinalValue = result.Stats.EndValue
	result.TotalReturn = (result.FinalValue - e.config.InitialCapital) / e.config.InitialCapital
	result.TotalFees = result.Stats.TotalFees

	return result
}

// GetResult 获取回测结果
func (e *BacktestEngine) GetResult() *types.BacktestResult {
	return e.result
}
