package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"quorum/internal/apperr"
	"quorum/internal/gateway/broker"
	"quorum/internal/gateway/notifier"
	"quorum/internal/ledger"
	"quorum/internal/logger"
	"quorum/internal/market"
	"quorum/internal/store/auditlog"
)

// entryPass 在离场处理完之后评估新开仓。只考察配置内的标的,
// 过门槛的共识交给风控闸门,放行后才碰台账与下单通道。
func (e *Engine) entryPass(ctx context.Context, traceID string, cycle int64, states map[string]*symbolState, errCount *atomic.Int32) int {
	opened := 0
	for _, sym := range e.symbols {
		if e.cfg.MaxOpensPerCycle > 0 && opened >= e.cfg.MaxOpensPerCycle {
			logger.Debugf("本轮开仓数已达上限 %d,余下标的顺延", e.cfg.MaxOpensPerCycle)
			break
		}
		st := states[sym]
		if st == nil || st.aggErr != nil || len(st.signals) == 0 {
			continue
		}
		// 陈旧报价既不平仓也不开仓
		if !st.fresh {
			continue
		}
		if _, held := e.book.Get(sym); held {
			continue
		}
		if !e.thresholds.EntryEligible(st.agg) {
			continue
		}

		e.audit(ctx, auditlog.Entry{
			TraceID: traceID, Cycle: cycle, Symbol: sym,
			Kind: auditlog.KindEntrySignal,
			Summary: fmt.Sprintf("共识 %s 一致率 %.2f 置信度 %.2f (%d 路信号)",
				st.agg.Consensus, st.agg.AgreementRatio, st.agg.WeightedConfidence, st.agg.TotalSignals),
			Detail: marshalDetail(st.agg),
		})

		req, err := e.risk.Approve(st.agg, st.sector, st.quote.Price, e.book)
		if err != nil {
			var rej *apperr.RejectedError
			if errors.As(err, &rej) {
				logger.Infof("风控拒绝 %s: %s", sym, rej.Reason)
				e.audit(ctx, auditlog.Entry{
					TraceID: traceID, Cycle: cycle, Symbol: sym,
					Kind: auditlog.KindEntryRejected, Summary: rej.Reason,
				})
			} else {
				errCount.Add(1)
				logger.Warnf("风控评估 %s 失败: %v", sym, err)
			}
			continue
		}
		if e.cfg.MaxHold > 0 {
			req.Expiry = e.nowFn().Add(e.cfg.MaxHold)
		}

		if e.openPosition(ctx, traceID, cycle, req, st, errCount) {
			opened++
		}
	}
	return opened
}

// openPosition 走完 预占资金 -> 下单 -> 确认 的开仓三段。下单失败时
// 回退为 REJECTED,资金解冻,当日计数不受影响。
func (e *Engine) openPosition(ctx context.Context, traceID string, cycle int64, req ledger.OpenRequest, st *symbolState, errCount *atomic.Int32) bool {
	if _, err := e.book.BeginEntry(req); err != nil {
		errCount.Add(1)
		logger.Warnf("预占资金失败 %s: %v", req.Symbol, err)
		return false
	}

	fill, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		if apperr.IsCircuitOpen(err) {
			logger.Warnf("开仓通道熔断中,放弃 %s 本轮开仓", req.Symbol)
		} else {
			errCount.Add(1)
			logger.Errorf("开仓下单失败 %s: %v", req.Symbol, err)
		}
		if rerr := e.book.RejectEntry(req.Symbol, err.Error()); rerr != nil {
			logger.Warnf("回退预占资金失败 %s: %v", req.Symbol, rerr)
		}
		e.audit(ctx, auditlog.Entry{
			TraceID: traceID, Cycle: cycle, Symbol: req.Symbol,
			Kind: auditlog.KindEntryRejected, Summary: "下单失败: " + err.Error(),
		})
		return false
	}

	pos, err := e.book.ConfirmEntry(req.Symbol, fill.OrderID)
	if err != nil {
		errCount.Add(1)
		logger.Errorf("确认开仓失败 %s: %v", req.Symbol, err)
		return false
	}
	// 成交价偏离参考价时现价先对齐成交回报
	if uerr := e.book.UpdatePrice(pos.Symbol, market.Quote{Symbol: pos.Symbol, Price: fill.Price, At: fill.At}); uerr != nil {
		logger.Warnf("刷新 %s 开仓现价失败: %v", pos.Symbol, uerr)
	}

	logger.Infof("开仓完成 %s %s qty=%v @ %.4f order=%s sector=%s",
		pos.Symbol, pos.Side, pos.Quantity, fill.Price, fill.OrderID, pos.Sector)
	notifier.Notify(e.notifier, "entry_fill", entryFilledMessage(pos, fill, st.agg, e.nowFn()))
	return true
}
