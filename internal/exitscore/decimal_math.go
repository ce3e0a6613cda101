package exitscore

import (
	"math"

	"github.com/shopspring/decimal"

	"quorum/internal/strategy"
)

// decFromFloat 把 float64 转成 decimal,NaN/Inf 按零处理。
func decFromFloat(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

func decToFloat(d decimal.Decimal) float64 {
	v, _ := d.Float64()
	return v
}

// grossMove 返回按方向调整后的每单位盈亏,正值代表有利变动。
func grossMove(side strategy.Direction, entry, price float64) decimal.Decimal {
	e := decFromFloat(entry)
	p := decFromFloat(price)
	if side == strategy.Sell {
		return e.Sub(p)
	}
	return p.Sub(e)
}

// moveRatio 返回按方向调整后的相对变动,正值代表有利。
func moveRatio(side strategy.Direction, entry, price float64) float64 {
	if entry <= 0 {
		return 0
	}
	return decToFloat(grossMove(side, entry, price).Div(decFromFloat(entry)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// linearScore 把 v 在 [lo,hi] 上线性映射到 [scoreLo,scoreHi]。
// lo==hi 时直接给高档分。
func linearScore(v, lo, hi, scoreLo, scoreHi float64) float64 {
	if hi <= lo {
		return scoreHi
	}
	frac := clamp((v-lo)/(hi-lo), 0, 1)
	return scoreLo + frac*(scoreHi-scoreLo)
}
