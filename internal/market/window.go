package market

// Window 是传给策略评估的一段行情切片：历史 K 线加当前报价。
// 策略只读 Window，不持有引用。
type Window struct {
	Symbol   string
	Interval string
	Candles  []Candle
	Last     Quote
}

func (w Window) Closes() []float64 { return Closes(w.Candles) }

func (w Window) Len() int { return len(w.Candles) }
