package strategy

import (
	"github.com/opsxjacky/cdar-rebalance/pkg/types"
)

// Activation 决定哪些时间步参与再平衡
type Activation interface {
	// Active 第 step 步是否评估再平衡
	Active(step int) bool
}

// Weigher 由历史窗口计算目标权重
type Weigher interface {
	// Name 名称
	Name() string

	// Weights 返回诊断比率与目标权重, 失败时返回 error
	Weights(window types.HistoryWindow) (float64, types.WeightVector, error)
}

// Sequencer 决定同一步内各资产下单顺序
type Sequencer interface {
	// Sequence 返回资产执行顺序
	Sequence(state types.PortfolioState, targets types.WeightVector, symbols []string) []string
}

// WeightFunc 函数适配为 Weigher
type WeightFunc func(window types.HistoryWindow) (float64, types.WeightVector, error)

// Name 返回名称
func (f WeightFunc) Name() string {
	return "custom"
}

// Weights 调用 f
func (f WeightFunc) Weights(window types.HistoryWindow) (float64, types.WeightVector, error) {
	return f(window)
}

// Mask 生成激活掩码
func Mask(a Activation, steps int) []bool {
	mask := make([]bool, steps)
	for i := range mask {
		mask[i] = a.Active(i)
	}
	return mask
}
