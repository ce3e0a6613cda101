package market

import "time"

// Quote 是券商/交易所返回的带时间戳报价。缺失时间戳的报价一律按不可用处理，
// 绝不回退到入场价或上一次的值。
type Quote struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	At     time.Time `json:"at"`
}

func (q Quote) Age(now time.Time) time.Duration {
	if q.At.IsZero() {
		return 0
	}
	return now.Sub(q.At)
}

// Fresh 判断报价是否仍在允许时延内。
func (q Quote) Fresh(now time.Time, limit time.Duration) bool {
	if q.At.IsZero() || limit <= 0 {
		return false
	}
	return now.Sub(q.At) <= limit
}
