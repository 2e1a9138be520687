// Package store 保存回测结果
package store

import (
	"context"
	"errors"
	"time"

	"github.com/opsxjacky/cdar-rebalance/pkg/types"
)

// ErrNotFound 回测记录不存在
var ErrNotFound = errors.New("backtest run not found")

// DefaultListLimit 列表默认条数
const DefaultListLimit = 100

// Repository 回测结果仓储
type Repository interface {
	SaveRun(ctx context.Context, r *types.BacktestResult) error
	GetRun(ctx context.Context, id string) (*types.BacktestResult, error)
	ListRuns(ctx context.Context, limit, offset int) ([]RunSummary, error)
}

// RunSummary 列表中的一条记录
type RunSummary struct {
	ID          string    `json:"id"`
	Strategy    string    `json:"strategy"`
	CreatedAt   time.Time `json:"created_at"`
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	FinalValue  float64   `json:"final_value"`
	TotalReturn float64   `json:"total_return"`
}

// SummaryOf 从完整结果提取摘要
func SummaryOf(r *types.BacktestResult) RunSummary {
	return RunSummary{
		ID:          r.ID,
		Strategy:    r.Strategy,
		CreatedAt:   r.CreatedAt,
		StartDate:   r.StartDate,
		EndDate:     r.EndDate,
		FinalValue:  r.FinalValue,
		TotalReturn: r.TotalReturn,
	}
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
