// Package risk 把一个非 HOLD 的共识信号变成一笔具体的开仓请求:
// 先过闸门(置信度、持仓数、当日频次、板块敞口、当日亏损熔断),
// 再按资金、风险预算与置信度算出仓位大小。任何一道闸门不过都返回
// RejectedError,原因串进入日志与审计。
package risk

import (
	"github.com/shopspring/decimal"
)

// Mode 区分运行模式,置信度门槛实盘最严格。
type Mode string

const (
	ModeLive     Mode = "live"
	ModePaper    Mode = "paper"
	ModeBacktest Mode = "backtest"
)

func (m Mode) defaultFloor() float64 {
	switch m {
	case ModeLive:
		return 0.70
	case ModePaper:
		return 0.60
	default:
		return 0.50
	}
}

// Config 聚合全部闸门与仓位参数。比率为小数,计数上限 0 表示不限。
type Config struct {
	Mode            Mode    `mapstructure:"mode"`
	ConfidenceFloor float64 `mapstructure:"confidence_floor"` // 0 = 按模式默认

	RiskPerTradePct float64 `mapstructure:"risk_per_trade_pct"`
	MinPositionPct  float64 `mapstructure:"min_position_pct"`
	MaxPositionPct  float64 `mapstructure:"max_position_pct"`

	MaxOpenPositions         int     `mapstructure:"max_open_positions"`
	MaxTradesPerSymbolPerDay int     `mapstructure:"max_trades_per_symbol_per_day"`
	MaxSectorExposure        int     `mapstructure:"max_sector_exposure"`
	MaxDailyLoss             float64 `mapstructure:"max_daily_loss"` // 当日实现亏损额,达到后只出不进
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModePaper
	}
	if c.RiskPerTradePct <= 0 {
		c.RiskPerTradePct = 0.02
	}
	if c.MinPositionPct <= 0 {
		c.MinPositionPct = 0.01
	}
	if c.MaxPositionPct <= 0 {
		c.MaxPositionPct = 0.10
	}
	if c.MaxOpenPositions <= 0 {
		c.MaxOpenPositions = 10
	}
}

// sizeFor 计算目标仓位金额: equity * risk_per_trade_pct * 置信度,
// 再夹进 [min_position_pct, max_position_pct] * equity。
func (c Config) sizeFor(equity, confidence float64) float64 {
	e := decimal.NewFromFloat(equity)
	value := e.Mul(decimal.NewFromFloat(c.RiskPerTradePct)).Mul(decimal.NewFromFloat(confidence))
	lo := e.Mul(decimal.NewFromFloat(c.MinPositionPct))
	hi := e.Mul(decimal.NewFromFloat(c.MaxPositionPct))
	if value.LessThan(lo) {
		value = lo
	}
	if value.GreaterThan(hi) {
		value = hi
	}
	v, _ := value.Float64()
	return v
}

// quantityFor 按目标金额与现价折算数量,截断到 8 位小数。
func quantityFor(value, price float64) float64 {
	q := decimal.NewFromFloat(value).Div(decimal.NewFromFloat(price)).Truncate(8)
	v, _ := q.Float64()
	return v
}
