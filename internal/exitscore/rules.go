package exitscore

import (
	"fmt"
	"time"

	"quorum/internal/ledger"
	"quorum/internal/strategy"
)

// Context 携带单条规则无法自行得出的市场环境判断,由调用方在每个
// 周期计算一次后对该周期内的所有持仓复用。
type Context struct {
	Now            time.Time
	HighVolatility bool
	Trend          strategy.Direction // 强趋势方向,没有明确趋势时为 Hold
}

// RuleScore 是单条规则的评估结果。Score 为 0 且未强制时视为未激活。
type RuleScore struct {
	Score    float64
	MustExit bool
	Reason   string
}

// Rule 独立评估一个平仓维度,互相之间不感知。
type Rule interface {
	ID() string
	Evaluate(pos ledger.Position, rc Context) RuleScore
}

// Config 聚合全部规则的阈值。比率字段为小数(0.25 = 25%)。
type Config struct {
	Threshold float64 `mapstructure:"threshold"`

	HighTarget float64 `mapstructure:"high_target"` // 绝对净利,达到即强制平仓
	LowTarget  float64 `mapstructure:"low_target"`  // 绝对净利,进入 60-80 线性区的下沿

	PctTarget     float64 `mapstructure:"pct_target"`      // 相对涨幅目标
	PctHardTarget float64 `mapstructure:"pct_hard_target"` // 相对涨幅强制线

	GivebackSoft float64 `mapstructure:"giveback_soft"` // 回吐峰值利润的软阈值
	GivebackHard float64 `mapstructure:"giveback_hard"` // 回吐强制线

	SoftStopPct float64       `mapstructure:"soft_stop_pct"`
	HardStopPct float64       `mapstructure:"hard_stop_pct"`
	GracePeriod time.Duration `mapstructure:"grace_period"` // 开仓后软止损的静默期

	StagnationAfter time.Duration `mapstructure:"stagnation_after"`
	StagnationBand  float64       `mapstructure:"stagnation_band"` // 横盘净利带,相对开仓金额

	DecayWindow time.Duration `mapstructure:"decay_window"` // 距到期多久进入时间衰竭评分

	Fees FeeModel `mapstructure:"fees"`
}

func (c *Config) applyDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = 60
	}
	if c.HighTarget <= 0 {
		c.HighTarget = 5_000
	}
	if c.LowTarget <= 0 {
		c.LowTarget = 2_000
	}
	if c.PctTarget <= 0 {
		c.PctTarget = 0.25
	}
	if c.PctHardTarget <= 0 {
		c.PctHardTarget = 0.40
	}
	if c.GivebackSoft <= 0 {
		c.GivebackSoft = 0.30
	}
	if c.GivebackHard <= 0 {
		c.GivebackHard = 0.60
	}
	if c.SoftStopPct <= 0 {
		c.SoftStopPct = 0.05
	}
	if c.HardStopPct <= 0 {
		c.HardStopPct = 0.10
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = 30 * time.Minute
	}
	if c.StagnationAfter <= 0 {
		c.StagnationAfter = 48 * time.Hour
	}
	if c.StagnationBand <= 0 {
		c.StagnationBand = 0.005
	}
	if c.DecayWindow <= 0 {
		c.DecayWindow = 72 * time.Hour
	}
}

// ---- net_profit ----

// 绝对净利规则:达到高目标强制离场,低目标与高目标之间按 60-80 线性给分。
type netProfitRule struct{ cfg Config }

func (r netProfitRule) ID() string { return "net_profit" }

func (r netProfitRule) Evaluate(pos ledger.Position, _ Context) RuleScore {
	net := NetProfit(pos, r.cfg.Fees)
	switch {
	case net >= r.cfg.HighTarget:
		return RuleScore{
			Score:    100,
			MustExit: true,
			Reason:   fmt.Sprintf("net_profit=%.2f >= high_target=%.2f", net, r.cfg.HighTarget),
		}
	case net >= r.cfg.LowTarget:
		return RuleScore{
			Score:  linearScore(net, r.cfg.LowTarget, r.cfg.HighTarget, 60, 80),
			Reason: fmt.Sprintf("net_profit=%.2f in [low_target=%.2f, high_target=%.2f)", net, r.cfg.LowTarget, r.cfg.HighTarget),
		}
	}
	return RuleScore{}
}

// ---- pct_profit ----

// 相对涨幅规则,与绝对净利规则互相独立,各自给分后由引擎取最大值。
type pctProfitRule struct{ cfg Config }

func (r pctProfitRule) ID() string { return "pct_profit" }

func (r pctProfitRule) Evaluate(pos ledger.Position, _ Context) RuleScore {
	ratio := moveRatio(pos.Side, pos.EntryPrice, pos.CurrentPrice)
	switch {
	case ratio >= r.cfg.PctHardTarget:
		return RuleScore{
			Score:    100,
			MustExit: true,
			Reason:   fmt.Sprintf("pct_profit=%.2f%% >= hard_target=%.2f%%", ratio*100, r.cfg.PctHardTarget*100),
		}
	case ratio >= r.cfg.PctTarget:
		return RuleScore{
			Score:  linearScore(ratio, r.cfg.PctTarget, r.cfg.PctHardTarget, 65, 90),
			Reason: fmt.Sprintf("pct_profit=%.2f%% >= target=%.2f%%", ratio*100, r.cfg.PctTarget*100),
		}
	}
	return RuleScore{}
}

// ---- trailing_giveback ----

// 利润回吐规则:持仓曾经到达的净利峰值回吐超过软阈值开始给分,
// 超过硬阈值强制离场。从未盈利过的持仓不参与。
type trailingGivebackRule struct{ cfg Config }

func (r trailingGivebackRule) ID() string { return "trailing_giveback" }

func (r trailingGivebackRule) Evaluate(pos ledger.Position, _ Context) RuleScore {
	peak := netAtPrice(pos, pos.MaxFavorablePrice, r.cfg.Fees)
	if peak <= 0 {
		return RuleScore{}
	}
	cur := NetProfit(pos, r.cfg.Fees)
	giveback := clamp((peak-cur)/peak, 0, 1)
	switch {
	case giveback >= r.cfg.GivebackHard:
		return RuleScore{
			Score:    100,
			MustExit: true,
			Reason:   fmt.Sprintf("giveback=%.0f%% of peak_net=%.2f >= hard=%.0f%%", giveback*100, peak, r.cfg.GivebackHard*100),
		}
	case giveback >= r.cfg.GivebackSoft:
		return RuleScore{
			Score:  linearScore(giveback, r.cfg.GivebackSoft, r.cfg.GivebackHard, 60, 90),
			Reason: fmt.Sprintf("giveback=%.0f%% of peak_net=%.2f >= soft=%.0f%%", giveback*100, peak, r.cfg.GivebackSoft*100),
		}
	}
	return RuleScore{}
}

// ---- time_decay ----

// 时间衰竭规则:带到期日的持仓在临近到期且不赚钱时加速给分,
// 到期当日仍在亏损则强制离场。盈利中的持仓交给利润规则处理。
type timeDecayRule struct{ cfg Config }

func (r timeDecayRule) ID() string { return "time_decay" }

func (r timeDecayRule) Evaluate(pos ledger.Position, rc Context) RuleScore {
	if pos.Expiry.IsZero() {
		return RuleScore{}
	}
	left := pos.Expiry.Sub(rc.Now)
	if left > r.cfg.DecayWindow {
		return RuleScore{}
	}
	net := NetProfit(pos, r.cfg.Fees)
	if net > r.cfg.StagnationBand*pos.EntryValue() {
		return RuleScore{}
	}
	if net < 0 && (left <= 0 || sameUTCDay(rc.Now, pos.Expiry)) {
		return RuleScore{
			Score:    100,
			MustExit: true,
			Reason:   fmt.Sprintf("expiring today with net=%.2f", net),
		}
	}
	frac := clamp(1-left.Seconds()/r.cfg.DecayWindow.Seconds(), 0, 1)
	return RuleScore{
		Score:  40 + 55*frac,
		Reason: fmt.Sprintf("expiry in %s with net=%.2f", left.Round(time.Minute), net),
	}
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}

// ---- stop_loss ----

// 止损规则:硬止损无条件强制离场;软止损在宽限期内、高波动环境下
// 或强趋势仍与持仓同向时保持沉默,其余情况给高分。
type stopLossRule struct{ cfg Config }

func (r stopLossRule) ID() string { return "stop_loss" }

func (r stopLossRule) Evaluate(pos ledger.Position, rc Context) RuleScore {
	loss := -moveRatio(pos.Side, pos.EntryPrice, pos.CurrentPrice)
	if loss >= r.cfg.HardStopPct {
		return RuleScore{
			Score:    100,
			MustExit: true,
			Reason:   fmt.Sprintf("loss=%.2f%% >= hard_stop=%.2f%%", loss*100, r.cfg.HardStopPct*100),
		}
	}
	if loss < r.cfg.SoftStopPct {
		return RuleScore{}
	}
	switch {
	case rc.Now.Sub(pos.EntryTime) <= r.cfg.GracePeriod:
		return RuleScore{} // 开仓初期的波动不触发软止损
	case rc.HighVolatility:
		return RuleScore{} // 高波动环境下软止损容易被甩出去
	case rc.Trend != strategy.Hold && rc.Trend == pos.Side:
		return RuleScore{} // 趋势仍与持仓同向,给行情空间
	}
	return RuleScore{
		Score:  linearScore(loss, r.cfg.SoftStopPct, r.cfg.HardStopPct, 70, 95),
		Reason: fmt.Sprintf("loss=%.2f%% >= soft_stop=%.2f%%", loss*100, r.cfg.SoftStopPct*100),
	}
}

// ---- stagnation ----

// 横盘规则:持仓超过观察期仍贴着开仓价不动,按机会成本给中档分,
// 横盘越久分数越高。
type stagnationRule struct{ cfg Config }

func (r stagnationRule) ID() string { return "stagnation" }

func (r stagnationRule) Evaluate(pos ledger.Position, rc Context) RuleScore {
	held := rc.Now.Sub(pos.EntryTime)
	if held < r.cfg.StagnationAfter {
		return RuleScore{}
	}
	net := NetProfit(pos, r.cfg.Fees)
	band := r.cfg.StagnationBand * pos.EntryValue()
	if net > band || net < -band {
		return RuleScore{}
	}
	extra := held - r.cfg.StagnationAfter
	bonus := clamp(25*extra.Seconds()/r.cfg.StagnationAfter.Seconds(), 0, 25)
	return RuleScore{
		Score:  50 + bonus,
		Reason: fmt.Sprintf("held %s with |net|=%.2f within band=%.2f", held.Round(time.Hour), net, band),
	}
}
