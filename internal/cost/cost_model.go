package cost

import (
	"math"

	"github.com/opsxjacky/cdar-rebalance/pkg/types"
)

// CostModel 成本模型接口
type CostModel interface {
	// CalculateCost 计算交易成本
	CalculateCost(trade types.Trade) float64

	// CalculateSlippage 计算滑点
	CalculateSlippage(price float64, side types.Side) float64

	// MaxBuyQuantity 给定现金可买入的最大数量 (含费用)
	MaxBuyQuantity(cash, price float64) float64
}

// DefaultCostModel 默认成本模型
type DefaultCostModel struct {
	CommissionRate float64 // 佣金率
	MinCommission  float64 // 最低佣金
	SlippageRate   float64 // 滑点率
	TaxRate        float64 // 税率 (卖出时收取)
}

// NewDefaultCostModel 创建默认成本模型
func NewDefaultCostModel(config types.CostConfig) *DefaultCostModel {
	return &DefaultCostModel{
		CommissionRate: config.CommissionRate,
		MinCommission:  config.MinCommission,
		SlippageRate:   config.SlippageRate,
		TaxRate:        config.TaxRate,
	}
}

// NewZeroCostModel 创建零成本模型
func NewZeroCostModel() *DefaultCostModel {
	return &DefaultCostModel{}
}

// CalculateCost 计算交易成本
func (m *DefaultCostModel) CalculateCost(trade types.Trade) float64 {
	tradeValue := math.Abs(trade.Quantity * trade.Price)

	// 佣金
	commission := tradeValue * m.CommissionRate
	if commission < m.MinCommission && tradeValue > 0 {
		commission = m.MinCommission
	}

	// 税费 (仅卖出时收取)
	var tax float64
	if trade.Side == types.SideSell {
		tax = tradeValue * m.TaxRate
	}

	return commission + tax
}

// CalculateSlippage 计算滑点调整后的价格
func (m *DefaultCostModel) CalculateSlippage(price float64, side types.Side) float64 {
	if side == types.SideBuy {
		return price * (1 + m.SlippageRate)
	}
	return price * (1 - m.SlippageRate)
}

// MaxBuyQuantity 部分成交时按可用现金反推数量
func (m *DefaultCostModel) MaxBuyQuantity(cash, price float64) float64 {
	if cash <= 0 || price <= 0 {
		return 0
	}
	execPrice := m.CalculateSlippage(price, types.SideBuy)
	// 费用 = max(金额*佣金率, 最低佣金), 两个约束同时满足
	qty := cash / (execPrice * (1 + m.CommissionRate))
	if m.MinCommission > 0 {
		qty = math.Min(qty, (cash-m.MinCommission)/execPrice)
	}
	if qty < 0 {
		return 0
	}
	return qty
}
