package engine

import (
	"fmt"

	"github.com/opsxjacky/cdar-rebalance/internal/cost"
	"github.com/opsxjacky/cdar-rebalance/internal/optimizer"
	"github.com/opsxjacky/cdar-rebalance/internal/strategy"
	"github.com/opsxjacky/cdar-rebalance/pkg/types"
	"go.uber.org/zap"
)

// Options 组装引擎所需的全部参数
type Options struct {
	Config    types.BacktestConfig
	Optimizer types.OptimizerConfig
	Costs     types.CostConfig
	Sequence  string
	Logger    *zap.Logger
}

// Build 按参数创建引擎: 定期激活, 优化器权重, 指定下单顺序和成本模型
func Build(opts Options) (*BacktestEngine, error) {
	weigher, err := optimizer.New(opts.Optimizer)
	if err != nil {
		return nil, err
	}
	sequencer, err := strategy.NewSequencer(opts.Sequence)
	if err != nil {
		return nil, err
	}
	if opts.Config.Period <= 0 {
		return nil, fmt.Errorf("rebalance period must be positive, got %d", opts.Config.Period)
	}

	e := New(opts.Config)
	e.SetWeigher(weigher)
	e.SetSequencer(sequencer)
	e.SetActivation(strategy.NewPeriodic(opts.Config.Period))
	e.SetCostModel(cost.NewDefaultCostModel(opts.Costs))
	e.SetLogger(opts.Logger)
	return e, nil
}
