package portfolio

import (
	"fmt"
	"math"
	"time"

	"github.com/opsxjacky/cdar-rebalance/internal/cost"
	"github.com/opsxjacky/cdar-rebalance/pkg/types"
)

// dustQuantity 低于该数量视为清仓
const dustQuantity = 1e-9

// minOrderValue 低于该金额的订单视为空单
const minOrderValue = 1e-6

// Manager 投资组合管理器, 独占 PortfolioState
type Manager struct {
	state     types.PortfolioState
	costModel cost.CostModel
	trades    []types.Trade
}

// NewManager 创建投资组合管理器
func NewManager(initialCash float64, costModel cost.CostModel) *Manager {
	if costModel == nil {
		costModel = cost.NewZeroCostModel()
	}
	return &Manager{
		state:     types.NewPortfolioState(initialCash),
		costModel: costModel,
		trades:    make([]types.Trade, 0),
	}
}

// State 返回当前状态的副本
func (m *Manager) State() types.PortfolioState {
	return m.state.Clone()
}

// GetTrades 获取所有交易记录
func (m *Manager) GetTrades() []types.Trade {
	return m.trades
}

// UpdatePrices 更新估值价格并重新计算总值
func (m *Manager) UpdatePrices(step int, prices map[string]float64, timestamp time.Time) {
	m.state.Step = step
	m.state.Timestamp = timestamp
	for symbol, price := range prices {
		m.state.LastPrice[symbol] = price
	}
	m.state.TotalValue = m.state.Equity()
}

// OrderTargetPercent 生成把 symbol 市值调整到 pct*总权益 的订单
// 按当前现金与持仓即时计算, 买入受现金约束部分成交, 卖出不超过持仓
func (m *Manager) OrderTargetPercent(symbol string, pct float64) (types.Order, bool) {
	price := m.state.LastPrice[symbol]
	if price <= 0 || math.IsNaN(pct) || math.IsInf(pct, 0) {
		return types.Order{}, false
	}
	if pct < 0 {
		pct = 0
	}

	equity := m.state.Equity()
	if equity <= 0 {
		return types.Order{}, false
	}

	held := m.state.Holdings[symbol]
	delta := pct*equity/price - held
	if math.Abs(delta)*price < minOrderValue {
		return types.Order{}, false
	}

	if delta < 0 {
		qty := math.Min(-delta, held)
		if qty <= 0 {
			return types.Order{}, false
		}
		return types.Order{Symbol: symbol, Side: types.SideSell, Quantity: qty, Price: price}, true
	}

	qty := delta
	maxQty := m.costModel.MaxBuyQuantity(m.state.Cash, price)
	if qty > maxQty {
		qty = maxQty
	}
	if qty*price < minOrderValue {
		return types.Order{}, false
	}
	return types.Order{Symbol: symbol, Side: types.SideBuy, Quantity: qty, Price: price}, true
}

// ExecuteOrder 执行订单
func (m *Manager) ExecuteOrder(order types.Order, step int, timestamp time.Time) (types.Trade, error) {
	// 计算滑点调整后的价格
	executionPrice := m.costModel.CalculateSlippage(order.Price, order.Side)

	trade := types.Trade{
		Step:      step,
		Timestamp: timestamp,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Quantity:  order.Quantity,
		Price:     executionPrice,
		Value:     order.Quantity * executionPrice,
	}
	trade.Fee = m.costModel.CalculateCost(trade)

	var err error
	if order.Side == types.SideBuy {
		err = m.executeBuy(trade)
	} else {
		err = m.executeSell(trade)
	}
	if err != nil {
		return types.Trade{}, err
	}

	m.state.TotalValue = m.state.Equity()
	m.trades = append(m.trades, trade)
	return trade, nil
}

// executeBuy 执行买入
func (m *Manager) executeBuy(trade types.Trade) error {
	totalCost := trade.Value + trade.Fee

	// 允许浮点误差
	if m.state.Cash < totalCost-1e-9 {
		return fmt.Errorf("insufficient cash: need %.2f, have %.2f", totalCost, m.state.Cash)
	}

	m.state.Cash -= totalCost
	if m.state.Cash < 0 {
		m.state.Cash = 0
	}
	m.state.Holdings[trade.Symbol] += trade.Quantity
	return nil
}

// executeSell 执行卖出
func (m *Manager) executeSell(trade types.Trade) error {
	held, exists := m.state.Holdings[trade.Symbol]
	if !exists {
		return fmt.Errorf("no position in %s", trade.Symbol)
	}
	if held < trade.Quantity-dustQuantity {
		return fmt.Errorf("insufficient shares: need %.4f, have %.4f", trade.Quantity, held)
	}

	m.state.Cash += trade.Value - trade.Fee

	held -= trade.Quantity
	if held < dustQuantity {
		delete(m.state.Holdings, trade.Symbol)
	} else {
		m.state.Holdings[trade.Symbol] = held
	}
	return nil
}

// TakeSnapshot 创建快照
func (m *Manager) TakeSnapshot() types.PortfolioState {
	return m.state.Clone()
}
