package analysis

import (
	"math"

	talib "github.com/markcheno/go-talib"
)

// talib 在预热期输出 0, 这里统一换成 NaN
// 输入短于所需长度时 talib 会越界, 直接返回全 NaN

// SMA 简单移动平均, 前 n-1 个值为 NaN
func SMA(values []float64, n int) []float64 {
	if n <= 0 || len(values) < n {
		return nanSlice(len(values))
	}
	return maskWarmup(talib.Sma(values, n), n-1)
}

// EMA 指数移动平均, 以前 n 个值的均值作为种子
func EMA(values []float64, n int) []float64 {
	if n <= 0 || len(values) < n {
		return nanSlice(len(values))
	}
	return maskWarmup(talib.Ema(values, n), n-1)
}

// MACD 返回 MACD 线, 信号线和柱, 三者都从第 slow+signal-2 根开始有值
func MACD(values []float64, fast, slow, signal int) (line, sig, hist []float64) {
	if fast <= 0 || slow <= 0 || signal <= 0 {
		return nanSlice(len(values)), nanSlice(len(values)), nanSlice(len(values))
	}
	if slow < fast {
		fast, slow = slow, fast
	}
	lookback := (slow - 1) + (signal - 1)
	if len(values) <= lookback {
		return nanSlice(len(values)), nanSlice(len(values)), nanSlice(len(values))
	}
	line, sig, hist = talib.Macd(values, fast, slow, signal)
	return maskWarmup(line, lookback), maskWarmup(sig, lookback), maskWarmup(hist, lookback)
}

// ROC 变动率 (百分比), 基期价格为 0 时为 NaN
func ROC(values []float64, n int) []float64 {
	if n <= 0 || len(values) <= n {
		return nanSlice(len(values))
	}
	out := maskWarmup(talib.Roc(values, n), n)
	for i := n; i < len(values); i++ {
		if values[i-n] == 0 {
			out[i] = math.NaN()
		}
	}
	return out
}

func maskWarmup(out []float64, lookback int) []float64 {
	for i := 0; i < lookback && i < len(out); i++ {
		out[i] = math.NaN()
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// Candle 单根K线的形态判断所需字段
type Candle struct {
	Open, High, Low, Close float64
}

func (c Candle) body() float64  { return math.Abs(c.Close - c.Open) }
func (c Candle) span() float64  { return c.High - c.Low }
func (c Candle) upper() float64 { return c.High - math.Max(c.Open, c.Close) }
func (c Candle) lower() float64 { return math.Min(c.Open, c.Close) - c.Low }

// IsHammer 小实体, 下影线至少两倍实体, 上影线很短
func IsHammer(c Candle) bool {
	span := c.span()
	if span <= 0 {
		return false
	}
	body := c.body()
	return body <= 0.35*span && c.lower() >= 2*body && c.upper() <= 0.1*span && c.lower() > 0
}

// IsDoji 实体不超过振幅的 10%
func IsDoji(c Candle) bool {
	span := c.span()
	return span > 0 && c.body() <= 0.1*span
}

// Engulfing 看涨吞没返回 1, 看跌吞没返回 -1, 否则 0
func Engulfing(prev, cur Candle) int {
	switch {
	case prev.Close < prev.Open && cur.Close > cur.Open &&
		cur.Open <= prev.Close && cur.Close >= prev.Open:
		return 1
	case prev.Close > prev.Open && cur.Close < cur.Open &&
		cur.Open >= prev.Close && cur.Close <= prev.Open:
		return -1
	}
	return 0
}
