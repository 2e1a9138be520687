package optimizer

import (
	"math"

	"github.com/opsxjacky/cdar-rebalance/pkg/types"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// MeanVariance 最大化均值方差夏普的多头满仓组合
type MeanVariance struct {
	Samples  int
	RiskFree float64
	Seed     int64
}

// Name 返回名称
func (o *MeanVariance) Name() string {
	return "MeanVariance"
}

// Weights 计算目标权重
func (o *MeanVariance) Weights(window types.HistoryWindow) (float64, types.WeightVector, error) {
	returns, err := windowReturns(window)
	if err != nil {
		return math.NaN(), nil, err
	}
	if len(returns) < 2 {
		return math.NaN(), nil, ErrInsufficientData
	}

	n := len(window.Symbols)
	x := mat.NewDense(len(returns), n, nil)
	for t, row := range returns {
		x.SetRow(t, row)
	}

	mu := make([]float64, n)
	for j := 0; j < n; j++ {
		mu[j] = stat.Mean(mat.Col(nil, j, x), nil)
	}
	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, x, nil)

	cands := candidates(n, o.Samples, o.Seed)
	w, ratio, err := best(cands, func(w []float64) (float64, float64) {
		wv := mat.NewVecDense(n, w)
		variance := mat.Inner(wv, cov, wv)
		if variance < 0 {
			variance = 0
		}
		excess := mat.Dot(wv, mat.NewVecDense(n, mu)) - o.RiskFree
		return riskAdjusted(excess, math.Sqrt(variance)), excess
	})
	if err != nil {
		return math.NaN(), nil, err
	}
	return ratio, toVector(window.Symbols, w), nil
}
