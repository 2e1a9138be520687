package strategy

// Periodic 定期再平衡: 第 N, 2N, 3N ... 步激活, 前 N-1 步和第 0 步不激活
type Periodic struct {
	Every int
}

// NewPeriodic 创建定期激活策略
func NewPeriodic(every int) Periodic {
	if every <= 0 {
		every = 30 // 默认30天
	}
	return Periodic{Every: every}
}

// Active 判断是否激活
func (p Periodic) Active(step int) bool {
	if p.Every <= 0 || step <= 0 {
		return false
	}
	return step%p.Every == 0
}
