package data

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opsxjacky/cdar-rebalance/pkg/types"
)

// DataLoader 数据加载器接口
type DataLoader interface {
	// LoadMatrix 加载对齐后的收盘价矩阵
	LoadMatrix(ctx context.Context, symbols []string, start, end time.Time) (*types.PriceMatrix, error)

	// SourceType 支持的数据源类型
	SourceType() string
}

// BuildMatrix 把各标的K线按共同交易日对齐, 任一资产缺失的日期整行丢弃
func BuildMatrix(series map[string][]types.PriceData, symbols []string) (*types.PriceMatrix, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols", types.ErrMalformedMatrix)
	}

	closes := make([]map[time.Time]float64, len(symbols))
	for j, symbol := range symbols {
		bars, ok := series[symbol]
		if !ok || len(bars) == 0 {
			return nil, fmt.Errorf("no data for symbol %s", symbol)
		}
		byDate := make(map[time.Time]float64, len(bars))
		for _, bar := range bars {
			if math.IsNaN(bar.Close) || bar.Close <= 0 {
				continue
			}
			byDate[dayOf(bar.Timestamp)] = bar.Close
		}
		closes[j] = byDate
	}

	// 以第一个资产的日期为候选, 保留所有资产都有值的日期
	dates := make([]time.Time, 0, len(closes[0]))
	for d := range closes[0] {
		complete := true
		for j := 1; j < len(closes); j++ {
			if _, ok := closes[j][d]; !ok {
				complete = false
				break
			}
		}
		if complete {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool {
		return dates[i].Before(dates[j])
	})

	m := &types.PriceMatrix{
		Dates:   dates,
		Symbols: append([]string(nil), symbols...),
		Close:   make([][]float64, len(dates)),
	}
	for i, d := range dates {
		row := make([]float64, len(symbols))
		for j := range symbols {
			row[j] = closes[j][d]
		}
		m.Close[i] = row
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// dayOf 归一化为UTC零点, 便于不同数据源对齐
func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// inRange 闭区间过滤, 零值表示不限
func inRange(t, start, end time.Time) bool {
	if !start.IsZero() && t.Before(dayOf(start)) {
		return false
	}
	if !end.IsZero() && t.After(dayOf(end)) {
		return false
	}
	return true
}
