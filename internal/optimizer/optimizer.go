package optimizer

import (
	"errors"
	"fmt"
	"math"

	"github.com/opsxjacky/cdar-rebalance/internal/strategy"
	"github.com/opsxjacky/cdar-rebalance/pkg/types"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	// ErrInsufficientData 窗口不足两行, 无法计算收益率
	ErrInsufficientData = errors.New("optimizer: need at least two price rows")
	// ErrNoAssets 窗口没有资产
	ErrNoAssets = errors.New("optimizer: window has no assets")
	// ErrNoFeasible 所有候选组合的比率都未定义
	ErrNoFeasible = errors.New("optimizer: no candidate portfolio has a defined ratio")
)

// 支持的类型
const (
	TypeCDaRSharpe   = "cdar_sharpe"
	TypeMeanVariance = "mean_variance"
	TypeEqualWeight  = "equal_weight"
	TypeFixed        = "fixed"
)

// New 按配置创建权重计算器
func New(cfg types.OptimizerConfig) (strategy.Weigher, error) {
	switch cfg.Type {
	case "", TypeCDaRSharpe:
		// 0 表示默认值
		if cfg.Alpha < 0 || cfg.Alpha >= 1 {
			return nil, fmt.Errorf("optimizer alpha %v must be in (0, 1)", cfg.Alpha)
		}
		return &CDaRSharpe{Samples: cfg.Samples, Alpha: cfg.Alpha, RiskFree: cfg.RiskFree, Seed: cfg.Seed}, nil
	case TypeMeanVariance:
		return &MeanVariance{Samples: cfg.Samples, RiskFree: cfg.RiskFree, Seed: cfg.Seed}, nil
	case TypeEqualWeight:
		return EqualWeight{}, nil
	case TypeFixed:
		if len(cfg.TargetWeights) == 0 {
			return nil, fmt.Errorf("optimizer %q requires target_weights", cfg.Type)
		}
		return NewFixed(cfg.TargetWeights), nil
	default:
		return nil, fmt.Errorf("unknown optimizer type %q", cfg.Type)
	}
}

// windowReturns 校验窗口并返回收益率矩阵
func windowReturns(window types.HistoryWindow) ([][]float64, error) {
	if len(window.Symbols) == 0 {
		return nil, ErrNoAssets
	}
	if window.Len() < 2 {
		return nil, ErrInsufficientData
	}
	return window.Returns(), nil
}

// portfolioReturns 组合逐期收益
func portfolioReturns(returns [][]float64, w []float64) []float64 {
	out := make([]float64, len(returns))
	for t, row := range returns {
		out[t] = floats.Dot(row, w)
	}
	return out
}

// sharpe 逐期夏普 (不年化), 波动为0时未定义
func sharpe(rp []float64, riskFree float64) float64 {
	if len(rp) < 2 {
		return math.NaN()
	}
	mean, std := stat.MeanStdDev(rp, nil)
	if std == 0 || math.IsNaN(std) {
		return math.NaN()
	}
	return (mean - riskFree) / std
}

// toVector 列顺序权重转为 WeightVector
func toVector(symbols []string, w []float64) types.WeightVector {
	out := make(types.WeightVector, len(symbols))
	for j, s := range symbols {
		out[s] = w[j]
	}
	return out
}

// best 在候选组合中选取得分最高者, score 返回 (比率, 超额收益)
// 比率相同 (包括都为 +Inf) 时取超额收益更高者, 仍相同保留先出现的
func best(candidates [][]float64, score func(w []float64) (float64, float64)) ([]float64, float64, error) {
	bestScore, bestExcess := math.Inf(-1), math.Inf(-1)
	var bestW []float64
	for _, w := range candidates {
		s, excess := score(w)
		if math.IsNaN(s) {
			continue
		}
		if bestW == nil || s > bestScore || (s == bestScore && excess > bestExcess) {
			bestScore, bestExcess = s, excess
			bestW = w
		}
	}
	if bestW == nil {
		return nil, math.NaN(), ErrNoFeasible
	}
	return bestW, bestScore, nil
}
