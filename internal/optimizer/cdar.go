package optimizer

import (
	"math"

	"github.com/opsxjacky/cdar-rebalance/internal/stats"
	"github.com/opsxjacky/cdar-rebalance/pkg/types"
	"gonum.org/v1/gonum/stat"
)

// defaultAlpha CDaR 置信水平
const defaultAlpha = 0.05

// CDaRSharpe 最大化 (均值-无风险利率)/CDaR 的多头满仓组合
// 使用历史收益率, 回撤按累计收益 (不复利) 计算
// 先找回撤恒为 0 的最高收益组合, 否则用割平面线性规划求解;
// 没有资产超额收益为正或求解失败时退回随机组合搜索
type CDaRSharpe struct {
	Samples  int
	Alpha    float64
	RiskFree float64
	Seed     int64
}

// Name 返回名称
func (o *CDaRSharpe) Name() string {
	return "CDaRSharpe"
}

// Weights 计算目标权重, 返回的比率为最优组合的 CDaR 夏普
func (o *CDaRSharpe) Weights(window types.HistoryWindow) (float64, types.WeightVector, error) {
	returns, err := windowReturns(window)
	if err != nil {
		return math.NaN(), nil, err
	}

	alpha := o.Alpha
	if alpha <= 0 || alpha >= 1 {
		alpha = defaultAlpha
	}
	score := func(w []float64) (float64, float64) {
		rp := portfolioReturns(returns, w)
		excess := stat.Mean(rp, nil) - o.RiskFree
		return riskAdjusted(excess, stats.CDaR(rp, alpha)), excess
	}

	n := len(window.Symbols)
	p := newCDaRProblem(returns, alpha)
	if w, ok := p.maxReturnNoDrawdown(); ok {
		if ratio, _ := score(w); math.IsInf(ratio, 1) {
			return ratio, toVector(window.Symbols, w), nil
		}
	}

	var cands [][]float64
	if w, err := p.minCDaR(o.RiskFree); err == nil {
		cands = append([][]float64{w}, baseCandidates(n)...)
	} else {
		cands = candidates(n, o.Samples, o.Seed)
	}
	w, ratio, err := best(cands, score)
	if err != nil {
		return math.NaN(), nil, err
	}
	return ratio, toVector(window.Symbols, w), nil
}

// riskAdjusted 超额收益/风险; 风险为0时正收益记为 +Inf, 否则为 0
func riskAdjusted(excess, risk float64) float64 {
	if math.IsNaN(excess) || math.IsNaN(risk) {
		return math.NaN()
	}
	if risk <= 1e-12 {
		if excess > 0 {
			return math.Inf(1)
		}
		return 0
	}
	return excess / risk
}
