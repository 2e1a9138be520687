package types

import (
	"encoding/json"
	"math"
	"strconv"
)

// Float 可能为 NaN/Inf 的数值, JSON 中编码为 null
type Float float64

// NaN 未定义值
func NaN() Float {
	return Float(math.NaN())
}

// Valid 是否为有限值
func (f Float) Valid() bool {
	v := float64(f)
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// MarshalJSON 实现 json.Marshaler
func (f Float) MarshalJSON() ([]byte, error) {
	if !f.Valid() {
		return []byte("null"), nil
	}
	return strconv.AppendFloat(nil, float64(f), 'g', -1, 64), nil
}

// UnmarshalJSON 实现 json.Unmarshaler
func (f *Float) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = NaN()
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

// Floats 批量转换
func Floats(values []float64) []Float {
	out := make([]Float, len(values))
	for i, v := range values {
		out[i] = Float(v)
	}
	return out
}
