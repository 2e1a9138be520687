package optimizer

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// defaultSamples 随机组合数量
const defaultSamples = 2000

// baseCandidates 等权组合和每个单资产组合
func baseCandidates(n int) [][]float64 {
	out := make([][]float64, 0, 1+n)
	equal := make([]float64, n)
	for j := range equal {
		equal[j] = 1 / float64(n)
	}
	out = append(out, equal)

	for j := 0; j < n; j++ {
		corner := make([]float64, n)
		corner[j] = 1
		out = append(out, corner)
	}
	return out
}

// candidates 生成多头满仓候选: 等权, 单资产, 以及 Dirichlet(1) 随机组合
// 每次调用使用相同种子, 同样输入得到同样结果
func candidates(n, samples int, seed int64) [][]float64 {
	if samples <= 0 {
		samples = defaultSamples
	}
	out := append(make([][]float64, 0, 1+n+samples), baseCandidates(n)...)

	rng := rand.New(rand.NewSource(seed))
	for k := 0; k < samples; k++ {
		w := make([]float64, n)
		for j := range w {
			w[j] = rng.ExpFloat64()
		}
		floats.Scale(1/floats.Sum(w), w)
		out = append(out, w)
	}
	return out
}
