package types

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMalformedMatrix 价格矩阵不满足加载约束
var ErrMalformedMatrix = errors.New("malformed price matrix")

// PriceMatrix 收盘价矩阵, 行为时间步, 列为资产
// 构造后不可修改
type PriceMatrix struct {
	Dates   []time.Time `json:"dates"`
	Symbols []string    `json:"symbols"`
	Close   [][]float64 `json:"close"`
}

// Len 时间步数量
func (m *PriceMatrix) Len() int {
	return len(m.Close)
}

// NumAssets 资产数量
func (m *PriceMatrix) NumAssets() int {
	return len(m.Symbols)
}

// Validate 检查矩阵: 时间严格递增, 列不重复, 无缺失/非正价格
func (m *PriceMatrix) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil matrix", ErrMalformedMatrix)
	}
	if len(m.Symbols) == 0 {
		return fmt.Errorf("%w: no symbols", ErrMalformedMatrix)
	}
	if len(m.Close) == 0 {
		return fmt.Errorf("%w: no rows", ErrMalformedMatrix)
	}
	if len(m.Dates) != len(m.Close) {
		return fmt.Errorf("%w: %d dates for %d rows", ErrMalformedMatrix, len(m.Dates), len(m.Close))
	}

	seen := make(map[string]bool, len(m.Symbols))
	for _, s := range m.Symbols {
		if s == "" {
			return fmt.Errorf("%w: empty symbol", ErrMalformedMatrix)
		}
		if seen[s] {
			return fmt.Errorf("%w: duplicate symbol %s", ErrMalformedMatrix, s)
		}
		seen[s] = true
	}

	for i, row := range m.Close {
		if len(row) != len(m.Symbols) {
			return fmt.Errorf("%w: row %d has %d values, want %d", ErrMalformedMatrix, i, len(row), len(m.Symbols))
		}
		if i > 0 && !m.Dates[i].After(m.Dates[i-1]) {
			return fmt.Errorf("%w: dates not increasing at row %d", ErrMalformedMatrix, i)
		}
		for j, p := range row {
			if math.IsNaN(p) || math.IsInf(p, 0) || p <= 0 {
				return fmt.Errorf("%w: bad price %v for %s at row %d", ErrMalformedMatrix, p, m.Symbols[j], i)
			}
		}
	}
	return nil
}

// Column 资产所在列, 不存在返回 -1
func (m *PriceMatrix) Column(symbol string) int {
	for j, s := range m.Symbols {
		if s == symbol {
			return j
		}
	}
	return -1
}

// PricesAt 第 i 步的收盘价
func (m *PriceMatrix) PricesAt(i int) map[string]float64 {
	prices := make(map[string]float64, len(m.Symbols))
	for j, s := range m.Symbols {
		prices[s] = m.Close[i][j]
	}
	return prices
}

// Window 返回 [from, to) 行的只读视图
func (m *PriceMatrix) Window(from, to int) HistoryWindow {
	if from < 0 {
		from = 0
	}
	if to > len(m.Close) {
		to = len(m.Close)
	}
	if to < from {
		to = from
	}
	return HistoryWindow{
		Symbols: m.Symbols,
		Dates:   m.Dates[from:to],
		Close:   m.Close[from:to],
	}
}

// HistoryWindow 历史窗口, 与 PriceMatrix 共享底层数组, 调用方不得修改
type HistoryWindow struct {
	Symbols []string
	Dates   []time.Time
	Close   [][]float64
}

// Len 窗口行数
func (w HistoryWindow) Len() int {
	return len(w.Close)
}

// Returns 简单收益率 p[t]/p[t-1]-1, 共 Len()-1 行
func (w HistoryWindow) Returns() [][]float64 {
	if len(w.Close) < 2 {
		return nil
	}
	out := make([][]float64, len(w.Close)-1)
	for t := 1; t < len(w.Close); t++ {
		row := make([]float64, len(w.Symbols))
		for j := range w.Symbols {
			row[j] = w.Close[t][j]/w.Close[t-1][j] - 1
		}
		out[t-1] = row
	}
	return out
}

// Select 按给定顺序取出部分列, 生成新矩阵
func (m *PriceMatrix) Select(symbols []string) (*PriceMatrix, error) {
	cols := make([]int, len(symbols))
	for k, s := range symbols {
		if cols[k] = m.Column(s); cols[k] < 0 {
			return nil, fmt.Errorf("%w: symbol %s not in matrix", ErrMalformedMatrix, s)
		}
	}
	out := &PriceMatrix{
		Dates:   m.Dates,
		Symbols: append([]string(nil), symbols...),
		Close:   make([][]float64, len(m.Close)),
	}
	for i, row := range m.Close {
		sel := make([]float64, len(cols))
		for k, j := range cols {
			sel[k] = row[j]
		}
		out.Close[i] = sel
	}
	return out, nil
}
