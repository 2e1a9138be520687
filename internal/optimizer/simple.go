package optimizer

import (
	"math"

	"github.com/opsxjacky/cdar-rebalance/pkg/types"
)

// EqualWeight 等权组合, 不依赖历史长度
type EqualWeight struct{}

// Name 返回名称
func (EqualWeight) Name() string {
	return "EqualWeight"
}

// Weights 返回 1/n 权重, 比率为窗口内等权组合的夏普
func (EqualWeight) Weights(window types.HistoryWindow) (float64, types.WeightVector, error) {
	n := len(window.Symbols)
	if n == 0 {
		return math.NaN(), nil, ErrNoAssets
	}
	w := make([]float64, n)
	for j := range w {
		w[j] = 1 / float64(n)
	}
	return windowSharpe(window, w), toVector(window.Symbols, w), nil
}

// Fixed 固定目标权重
type Fixed struct {
	targetWeights types.WeightVector
}

// NewFixed 创建固定权重计算器
func NewFixed(weights map[string]float64) *Fixed {
	return &Fixed{targetWeights: types.WeightVector(weights).Clone()}
}

// Name 返回名称
func (f *Fixed) Name() string {
	return "FixedWeight"
}

// Weights 返回配置的目标权重, 比率为该组合在窗口内的夏普
func (f *Fixed) Weights(window types.HistoryWindow) (float64, types.WeightVector, error) {
	w := make([]float64, len(window.Symbols))
	for j, s := range window.Symbols {
		w[j] = f.targetWeights[s]
	}
	return windowSharpe(window, w), f.targetWeights.Clone(), nil
}

// windowSharpe 历史不足时返回 NaN
func windowSharpe(window types.HistoryWindow, w []float64) float64 {
	if window.Len() < 3 {
		return math.NaN()
	}
	return sharpe(portfolioReturns(window.Returns(), w), 0)
}
