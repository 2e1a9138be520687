package store

import (
	"context"
	"errors"
	"sync"

	"github.com/opsxjacky/cdar-rebalance/pkg/types"
)

// MemoryRepository 进程内仓储, 按写入顺序列出
type MemoryRepository struct {
	mu    sync.RWMutex
	runs  map[string]*types.BacktestResult
	order []string
}

// NewMemoryRepository 创建内存仓储
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{runs: make(map[string]*types.BacktestResult)}
}

// SaveRun 保存结果, 相同ID覆盖
func (m *MemoryRepository) SaveRun(ctx context.Context, r *types.BacktestResult) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r == nil || r.ID == "" {
		return errors.New("run has no id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[r.ID]; !ok {
		m.order = append(m.order, r.ID)
	}
	m.runs[r.ID] = r
	return nil
}

// GetRun 按ID读取
func (m *MemoryRepository) GetRun(ctx context.Context, id string) (*types.BacktestResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return r, nil
}

// ListRuns 分页列出摘要
func (m *MemoryRepository) ListRuns(ctx context.Context, limit, offset int) ([]RunSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit, offset = normalizePage(limit, offset)

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]RunSummary, 0)
	for i := offset; i < len(m.order) && len(out) < limit; i++ {
		out = append(out, SummaryOf(m.runs[m.order[i]]))
	}
	return out, nil
}
