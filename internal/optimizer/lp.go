package optimizer

import (
	"errors"
	"math"
	"sort"

	"github.com/opsxjacky/cdar-rebalance/internal/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	// maxCuts 割平面迭代上限
	maxCuts = 200
	// cutGap 上下界相对差距低于该值时停止
	cutGap = 1e-9
	lpTol  = 1e-10
)

var errNoExcess = errors.New("optimizer: no asset has a positive excess return")

// cdarProblem 历史收益率上的 CDaR 最优化
// CDaR 取最差 k 个不复利回撤的均值, 是 w 的凸分段线性函数
type cdarProblem struct {
	returns [][]float64 // T×n 逐期收益
	cum     [][]float64 // T×n 各资产累计收益
	mu      []float64   // 各资产平均收益
	k       int
}

func newCDaRProblem(returns [][]float64, alpha float64) *cdarProblem {
	n := len(returns[0])
	p := &cdarProblem{
		returns: returns,
		cum:     make([][]float64, len(returns)),
		mu:      make([]float64, n),
		k:       stats.WorstCount(len(returns), alpha),
	}
	running := make([]float64, n)
	for t, row := range returns {
		floats.Add(running, row)
		p.cum[t] = append([]float64(nil), running...)
	}
	floats.ScaleTo(p.mu, 1/float64(len(returns)), running)
	return p
}

// cut 返回 w 处的 CDaR 及其次梯度 g, 满足 g·w = CDaR(w) 且处处 g·v <= CDaR(v)
func (p *cdarProblem) cut(w []float64) (float64, []float64) {
	dd := make([]float64, len(p.cum))
	peakAt := make([]int, len(p.cum))
	peak, at := 0.0, -1
	for t, row := range p.cum {
		c := floats.Dot(row, w)
		if c > peak {
			peak, at = c, t
		}
		dd[t] = peak - c
		peakAt[t] = at
	}

	idx := make([]int, len(dd))
	for t := range idx {
		idx[t] = t
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return dd[idx[a]] > dd[idx[b]]
	})

	grad := make([]float64, len(w))
	value := 0.0
	for _, t := range idx[:p.k] {
		value += dd[t]
		if s := peakAt[t]; s >= 0 {
			floats.Add(grad, p.cum[s])
		}
		floats.Sub(grad, p.cum[t])
	}
	floats.Scale(1/float64(p.k), grad)
	return value / float64(p.k), grad
}

// maxReturnNoDrawdown 在每期收益都非负 (回撤恒为 0) 的满仓组合中最大化均值
// 约束按需加入, 每轮只加当前解下收益最差的一期; 不存在这样的组合时返回 false
func (p *cdarProblem) maxReturnNoDrawdown() ([]float64, bool) {
	var active [][]float64
	for iter := 0; iter <= maxCuts; iter++ {
		w, err := solveNoDrawdown(p.mu, active)
		if err != nil {
			return nil, false
		}
		worst, at := -1e-12, -1
		for t, row := range p.returns {
			if r := floats.Dot(row, w); r < worst {
				worst, at = r, t
			}
		}
		if at < 0 {
			return w, true
		}
		active = append(active, p.returns[at])
	}
	return nil, false
}

// minCDaR 在 (mu-rf)·w = 1, w >= 0 上最小化 CDaR (Charnes-Cooper 变换后的最大 CDaR 夏普)
// Kelley 割平面法: 每轮解一个小线性规划, 再加入当前解处的支撑超平面
// 返回归一化到满仓的权重
func (p *cdarProblem) minCDaR(riskFree float64) ([]float64, error) {
	n := len(p.mu)
	excess := make([]float64, n)
	positive := false
	for j, m := range p.mu {
		excess[j] = m - riskFree
		if excess[j] > 0 {
			positive = true
		}
	}
	if !positive {
		return nil, errNoExcess
	}

	cuts := make([][]float64, 0, n+1+maxCuts)
	for _, w := range baseCandidates(n) {
		_, g := p.cut(w)
		cuts = append(cuts, g)
	}

	var bestW []float64
	bestVal := math.Inf(1)
	for iter := 0; iter < maxCuts; iter++ {
		w, lower, err := solveCuts(excess, cuts)
		if err != nil {
			break
		}
		val, g := p.cut(w)
		if val < bestVal {
			bestVal, bestW = val, w
		}
		if bestVal-lower <= cutGap*math.Max(1, math.Abs(bestVal)) {
			break
		}
		if floats.Equal(g, cuts[len(cuts)-1]) {
			break
		}
		cuts = append(cuts, g)
	}
	if bestW == nil {
		return nil, ErrNoFeasible
	}

	sum := floats.Sum(bestW)
	if sum <= 0 {
		return nil, ErrNoFeasible
	}
	floats.Scale(1/sum, bestW)
	return bestW, nil
}

// solveCuts 解 min θ  s.t. excess·w = 1, g·w <= θ (每个割), w >= 0, θ >= 0
// 标准型: 每个割一个松弛变量 s = θ - g·w
func solveCuts(excess []float64, cuts [][]float64) ([]float64, float64, error) {
	n := len(excess)
	// 全零列会让单纯形报错, 这样的资产权重固定为 0
	var cols []int
	for j := 0; j < n; j++ {
		if excess[j] != 0 || nonZeroColumn(cuts, j) {
			cols = append(cols, j)
		}
	}
	m := len(cols)
	rows, vars := 1+len(cuts), m+1+len(cuts)

	A := mat.NewDense(rows, vars, nil)
	b := make([]float64, rows)
	c := make([]float64, vars)
	b[0] = 1
	c[m] = 1
	for k, j := range cols {
		A.Set(0, k, excess[j])
	}
	for r, g := range cuts {
		for k, j := range cols {
			A.Set(r+1, k, g[j])
		}
		A.Set(r+1, m, -1)
		A.Set(r+1, m+1+r, 1)
	}

	_, x, err := lp.Simplex(c, A, b, lpTol, nil)
	if err != nil {
		return nil, math.NaN(), err
	}
	w := make([]float64, n)
	for k, j := range cols {
		w[j] = math.Max(x[k], 0)
	}
	return w, x[m], nil
}

// solveNoDrawdown 解 max mu·w  s.t. Σw = 1, r·w >= 0 (每个约束期), w >= 0
func solveNoDrawdown(mu []float64, periods [][]float64) ([]float64, error) {
	n := len(mu)
	rows, vars := 1+len(periods), n+len(periods)

	A := mat.NewDense(rows, vars, nil)
	b := make([]float64, rows)
	c := make([]float64, vars)
	b[0] = 1
	for j := 0; j < n; j++ {
		A.Set(0, j, 1)
		c[j] = -mu[j]
	}
	for r, row := range periods {
		for j, v := range row {
			A.Set(r+1, j, v)
		}
		A.Set(r+1, n+r, -1)
	}

	_, x, err := lp.Simplex(c, A, b, lpTol, nil)
	if err != nil {
		return nil, err
	}
	w := make([]float64, n)
	for j := range w {
		w[j] = math.Max(x[j], 0)
	}
	return w, nil
}

func nonZeroColumn(rows [][]float64, j int) bool {
	for _, row := range rows {
		if row[j] != 0 {
			return true
		}
	}
	return false
}
