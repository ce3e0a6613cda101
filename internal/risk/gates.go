package risk

import (
	"fmt"

	"quorum/internal/apperr"
	"quorum/internal/decision"
	"quorum/internal/ledger"
	"quorum/internal/strategy"
)

// Portfolio 是风控需要的台账只读视图,由 *ledger.Ledger 满足。
type Portfolio interface {
	Equity() float64
	Cash() float64
	OpenCount() int
	TradesToday(symbol string) int
	SectorCount(sector string) int
	DailyPnL() float64
}

type Engine struct {
	cfg   Config
	floor float64
}

func NewEngine(cfg Config) *Engine {
	cfg.applyDefaults()
	floor := cfg.ConfidenceFloor
	if floor <= 0 {
		floor = cfg.Mode.defaultFloor()
	}
	return &Engine{cfg: cfg, floor: floor}
}

// Floor 返回生效的加权置信度门槛。
func (e *Engine) Floor() float64 { return e.floor }

// Approve 对共识信号依次过闸门,全部通过后给出可直接提交台账的
// 开仓请求。闸门只读计数器,真正的递增发生在台账确认开仓时,
// 重试路径不会重复计数。
func (e *Engine) Approve(agg decision.AggregatedSignal, sector string, price float64, book Portfolio) (ledger.OpenRequest, error) {
	if agg.Consensus == strategy.Hold {
		return ledger.OpenRequest{}, apperr.Validationf("HOLD 共识不应进入风控")
	}
	if price <= 0 {
		return ledger.OpenRequest{}, apperr.Validationf("无效的参考价格: %v", price)
	}

	if agg.WeightedConfidence < e.floor {
		return ledger.OpenRequest{}, reject(agg.Symbol,
			"置信度 %.2f 低于 %s 模式门槛 %.2f", agg.WeightedConfidence, e.cfg.Mode, e.floor)
	}
	if open := book.OpenCount(); open >= e.cfg.MaxOpenPositions {
		return ledger.OpenRequest{}, reject(agg.Symbol,
			"持仓数已达上限 %d", e.cfg.MaxOpenPositions)
	}
	if limit := e.cfg.MaxTradesPerSymbolPerDay; limit > 0 {
		if n := book.TradesToday(agg.Symbol); n >= limit {
			return ledger.OpenRequest{}, reject(agg.Symbol,
				"当日交易次数 %d 已达单标的上限 %d", n, limit)
		}
	}
	if limit := e.cfg.MaxSectorExposure; limit > 0 && sector != "" {
		if n := book.SectorCount(sector); n >= limit {
			return ledger.OpenRequest{}, reject(agg.Symbol,
				"板块 %s 敞口 %d 已达上限 %d", sector, n, limit)
		}
	}
	if limit := e.cfg.MaxDailyLoss; limit > 0 {
		if pnl := book.DailyPnL(); pnl <= -limit {
			return ledger.OpenRequest{}, reject(agg.Symbol,
				"当日已实现亏损 %.2f 触发熔断(上限 %.2f),今日停止新开仓", pnl, limit)
		}
	}

	value := e.cfg.sizeFor(book.Equity(), agg.WeightedConfidence)
	if cash := book.Cash(); value > cash {
		return ledger.OpenRequest{}, reject(agg.Symbol,
			"目标仓位 %.2f 超过可用资金 %.2f", value, cash)
	}
	qty := quantityFor(value, price)
	if qty <= 0 {
		return ledger.OpenRequest{}, reject(agg.Symbol, "折算数量为零(价格 %.4f)", price)
	}

	return ledger.OpenRequest{
		Symbol:      agg.Symbol,
		Side:        agg.Consensus,
		Quantity:    qty,
		Price:       price,
		Sector:      sector,
		StrategySet: agg.Contributing,
	}, nil
}

func reject(symbol, format string, args ...any) error {
	return &apperr.RejectedError{Symbol: symbol, Reason: fmt.Sprintf(format, args...)}
}
