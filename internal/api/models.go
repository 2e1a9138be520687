package api

import (
	"fmt"
	"time"

	"github.com/opsxjacky/cdar-rebalance/internal/engine"
	"github.com/opsxjacky/cdar-rebalance/pkg/types"
)

// BacktestRequest POST /api/v1/backtests 请求体
type BacktestRequest struct {
	Symbols        []string               `json:"symbols" binding:"required,min=1"`
	StartDate      string                 `json:"start_date"`
	EndDate        string                 `json:"end_date"`
	Period         int                    `json:"period"`
	Lookback       *int                   `json:"lookback"` // 缺省用服务默认值, 负数表示全部历史
	InitialCapital float64                `json:"initial_capital"`
	Sequence       string                 `json:"sequence"`
	Optimizer      *types.OptimizerConfig `json:"optimizer"`
	Costs          *types.CostConfig      `json:"costs"`
	Prices         *PricesPayload         `json:"prices"`
}

// PricesPayload 内联价格矩阵, 列顺序与 symbols 一致
type PricesPayload struct {
	Dates []string    `json:"dates"`
	Close [][]float64 `json:"close"`
}

// ToMatrix 转为价格矩阵并校验
func (p *PricesPayload) ToMatrix(symbols []string) (*types.PriceMatrix, error) {
	m := &types.PriceMatrix{
		Symbols: append([]string(nil), symbols...),
		Close:   p.Close,
		Dates:   make([]time.Time, len(p.Dates)),
	}
	for i, d := range p.Dates {
		t, err := time.Parse("2006-01-02", d)
		if err != nil {
			return nil, fmt.Errorf("%w: date %q: %v", types.ErrMalformedMatrix, d, err)
		}
		m.Dates[i] = t
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// BacktestResponse 创建回测的响应
type BacktestResponse struct {
	ID      string               `json:"id"`
	Summary engine.ResultSummary `json:"summary"`
}

// TradesResponse 成交列表
type TradesResponse struct {
	ID     string        `json:"id"`
	Trades []types.Trade `json:"trades"`
}

// StreamFrame websocket 推送的单步状态
type StreamFrame struct {
	Step       int                `json:"step"`
	Date       string             `json:"date"`
	Cash       float64            `json:"cash"`
	TotalValue float64            `json:"total_value"`
	Holdings   map[string]float64 `json:"holdings"`
	Ratio      types.Float        `json:"ratio"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail 错误信息
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
