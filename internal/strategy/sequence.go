package strategy

import (
	"fmt"
	"sort"

	"github.com/opsxjacky/cdar-rebalance/pkg/types"
)

// SellFirst 按预估下单金额升序执行, 先卖后买以释放现金
type SellFirst struct{}

// Sequence 返回执行顺序, 金额相同按列顺序
func (SellFirst) Sequence(state types.PortfolioState, targets types.WeightVector, symbols []string) []string {
	equity := state.Equity()
	values := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		w := targets[symbol]
		if w < 0 {
			w = 0
		}
		values[symbol] = w*equity - state.PositionValue(symbol)
	}

	order := append([]string(nil), symbols...)
	sort.SliceStable(order, func(i, j int) bool {
		return values[order[i]] < values[order[j]]
	})
	return order
}

// TargetAscending 按目标权重升序执行
type TargetAscending struct{}

// Sequence 返回执行顺序
func (TargetAscending) Sequence(_ types.PortfolioState, targets types.WeightVector, symbols []string) []string {
	order := append([]string(nil), symbols...)
	sort.SliceStable(order, func(i, j int) bool {
		return targets[order[i]] < targets[order[j]]
	})
	return order
}

// 下单顺序名称
const (
	SequenceSellFirst       = "sell_first"
	SequenceTargetAscending = "target_ascending"
)

// NewSequencer 按名称创建下单顺序, 空名称为 SellFirst
func NewSequencer(name string) (Sequencer, error) {
	switch name {
	case "", SequenceSellFirst:
		return SellFirst{}, nil
	case SequenceTargetAscending:
		return TargetAscending{}, nil
	default:
		return nil, fmt.Errorf("unknown sequence %q", name)
	}
}
