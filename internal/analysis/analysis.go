// Package analysis 实现与回测无关的短线技术面筛选
package analysis

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/opsxjacky/cdar-rebalance/pkg/types"
)

// ErrNotEnoughBars K线数量不足以计算均线
var ErrNotEnoughBars = errors.New("not enough bars")

// Params 筛选参数
type Params struct {
	Days          int     // 形态与支撑阻力使用的最近K线数
	TargetGain    float64 // 目标涨幅
	MinRewardRisk float64 // 最低盈亏比
}

// DefaultParams 默认参数: 14 根K线, 3% 目标, 盈亏比 2
func DefaultParams() Params {
	return Params{Days: 14, TargetGain: 0.03, MinRewardRisk: 2}
}

// Setup 单个标的的筛选结果
type Setup struct {
	Symbol string    `json:"symbol"`
	Date   time.Time `json:"date"`
	Close  float64   `json:"close"`

	SMA5       types.Float `json:"sma5"`
	SMA10      types.Float `json:"sma10"`
	MACD       types.Float `json:"macd"`
	MACDSignal types.Float `json:"macd_signal"`
	ROC        types.Float `json:"roc"`
	Volume     float64     `json:"volume"`
	VolumeAvg  types.Float `json:"volume_avg"`

	Hammer           bool `json:"hammer"`
	BullishEngulfing bool `json:"bullish_engulfing"`
	BearishEngulfing bool `json:"bearish_engulfing"`
	Doji             bool `json:"doji"`

	RecentHigh float64     `json:"recent_high"`
	RecentLow  float64     `json:"recent_low"`
	Target     float64     `json:"target"`
	StopLoss   float64     `json:"stop_loss"`
	RewardRisk types.Float `json:"reward_risk"`

	Recommended bool     `json:"recommended"`
	Reasons     []string `json:"reasons,omitempty"`
}

// Bullish 最后一根K线出现看涨形态
func (s Setup) Bullish() bool {
	return s.Hammer || s.BullishEngulfing
}

// Bearish 最后一根K线出现看跌形态
func (s Setup) Bearish() bool {
	return s.BearishEngulfing || s.Doji
}

// Analyze 对按日期升序的K线做短线筛选
// 指标在全部K线上计算, 形态和支撑阻力只看最近 Days 根
func Analyze(symbol string, bars []types.PriceData, p Params) (Setup, error) {
	if p.Days <= 0 {
		p.Days = DefaultParams().Days
	}
	if len(bars) < 10 {
		return Setup{}, fmt.Errorf("%w: %s has %d, need 10", ErrNotEnoughBars, symbol, len(bars))
	}

	closes := make([]float64, len(bars))
	volumes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}
	last := len(bars) - 1

	sma5 := SMA(closes, 5)
	sma10 := SMA(closes, 10)
	volAvg := SMA(volumes, 5)
	macd, signal, _ := MACD(closes, 12, 26, 9)
	roc := ROC(closes, 10)

	s := Setup{
		Symbol:     symbol,
		Date:       bars[last].Timestamp,
		Close:      closes[last],
		SMA5:       types.Float(sma5[last]),
		SMA10:      types.Float(sma10[last]),
		MACD:       types.Float(macd[last]),
		MACDSignal: types.Float(signal[last]),
		ROC:        types.Float(roc[last]),
		Volume:     volumes[last],
		VolumeAvg:  types.Float(volAvg[last]),
		RewardRisk: types.NaN(),
	}

	cur := candleOf(bars[last])
	s.Hammer = IsHammer(cur)
	s.Doji = IsDoji(cur)
	switch Engulfing(candleOf(bars[last-1]), cur) {
	case 1:
		s.BullishEngulfing = true
	case -1:
		s.BearishEngulfing = true
	}

	from := len(bars) - p.Days
	if from < 0 {
		from = 0
	}
	s.RecentHigh, s.RecentLow = math.Inf(-1), math.Inf(1)
	for _, b := range bars[from:] {
		s.RecentHigh = math.Max(s.RecentHigh, b.High)
		s.RecentLow = math.Min(s.RecentLow, b.Low)
	}

	gain := p.TargetGain * s.Close
	s.Target = s.Close + gain
	s.StopLoss = s.Close - 0.5*gain
	// 止损不低于近期低点
	if s.StopLoss < s.RecentLow {
		s.StopLoss = s.RecentLow
	}
	risk := s.Close - s.StopLoss
	if risk > 0 {
		s.RewardRisk = types.Float((s.Target - s.Close) / risk)
	}

	if !s.Bullish() {
		s.Reasons = append(s.Reasons, "no bullish candlestick pattern")
	}
	if !(sma5[last] > sma10[last]) {
		s.Reasons = append(s.Reasons, "SMA5 not above SMA10")
	}
	if !(volumes[last] > volAvg[last]) {
		s.Reasons = append(s.Reasons, "volume below its 5-day average")
	}
	if len(s.Reasons) == 0 {
		if !s.RewardRisk.Valid() || float64(s.RewardRisk) < p.MinRewardRisk-1e-9 {
			s.Reasons = append(s.Reasons, "insufficient reward/risk")
		} else {
			s.Recommended = true
		}
	}
	return s, nil
}

func candleOf(b types.PriceData) Candle {
	return Candle{Open: b.Open, High: b.High, Low: b.Low, Close: b.Close}
}
