package engine

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync/atomic"

	"quorum/internal/gateway/broker"
	"quorum/internal/gateway/notifier"
	"quorum/internal/ledger"
	"quorum/internal/logger"
	"quorum/internal/store/auditlog"

	"quorum/internal/exitscore"
)

// exitPass 处理全部在持与平仓中的持仓,先于进场执行。
// 行情陈旧的持仓本轮跳过并累计陈旧计数;PENDING_EXIT 无条件重试下单,
// 平仓腿走独立熔断器,开仓通道熔断不影响离场。
func (e *Engine) exitPass(ctx context.Context, traceID string, cycle int64, states map[string]*symbolState, errCount *atomic.Int32) int {
	positions := e.book.ActivePositions()
	sort.Slice(positions, func(i, j int) bool { return positions[i].Symbol < positions[j].Symbol })

	closed := 0
	for _, pos := range positions {
		st := states[pos.Symbol]
		if st == nil || !st.fresh {
			n := e.book.MarkStale(pos.Symbol)
			reason := staleness(st, e.cfg.StaleLimit)
			logger.Warnf("行情过期,跳过 %s 本轮离场评估(连续 %d 轮): %s", pos.Symbol, n, reason)
			e.audit(ctx, auditlog.Entry{
				TraceID: traceID, Cycle: cycle, Symbol: pos.Symbol,
				Kind: auditlog.KindStaleSkip, Summary: reason,
			})
			if n == e.cfg.StaleCycleAlert {
				notifier.Notify(e.notifier, "stale_review", staleReviewMessage(pos, n, e.nowFn()))
			}
			continue
		}

		if err := e.book.UpdatePrice(pos.Symbol, st.quote); err != nil {
			errCount.Add(1)
			logger.Warnf("刷新 %s 持仓价格失败: %v", pos.Symbol, err)
			continue
		}
		pos, _ = e.book.Get(pos.Symbol)

		dec := e.exits.Evaluate(pos, exitscore.Context{
			Now:            e.nowFn(),
			HighVolatility: st.highVol,
			Trend:          e.trendFor(st, pos.Side),
		})

		switch {
		case pos.Status == ledger.StatusPendingExit:
			// 已进入平仓流程的持仓不回头,继续把单子打出去
			if strings.TrimSpace(dec.Reason) == "" {
				dec.Reason = "重试平仓"
			}
			if e.closePosition(ctx, traceID, cycle, pos, st, dec, errCount) {
				closed++
			}
		case dec.Exit:
			if _, err := e.book.BeginExit(pos.Symbol); err != nil {
				errCount.Add(1)
				logger.Warnf("发起平仓失败 %s: %v", pos.Symbol, err)
				continue
			}
			e.audit(ctx, auditlog.Entry{
				TraceID: traceID, Cycle: cycle, Symbol: pos.Symbol,
				Kind:    auditlog.KindExitDecision,
				Summary: dec.Reason,
				Detail:  marshalDetail(dec),
			})
			if e.closePosition(ctx, traceID, cycle, pos, st, dec, errCount) {
				closed++
			}
		}
	}
	return closed
}

// closePosition 下平仓单并在台账确认结算。下单失败只标记人工复核,
// 持仓保持 PENDING_EXIT,下个周期继续重试。
func (e *Engine) closePosition(ctx context.Context, traceID string, cycle int64, pos ledger.Position, st *symbolState, dec exitscore.Decision, errCount *atomic.Int32) bool {
	fill, err := e.broker.PlaceOrder(ctx, broker.OrderRequest{
		Symbol:   pos.Symbol,
		Side:     pos.Side.Opposite(),
		Quantity: pos.Quantity,
		Price:    st.quote.Price,
		Exit:     true,
	})
	if err != nil {
		errCount.Add(1)
		logger.Errorf("平仓下单失败 %s: %v,已标记人工复核", pos.Symbol, err)
		if ferr := e.book.FlagExitFailed(pos.Symbol); ferr != nil {
			logger.Warnf("标记 %s 人工复核失败: %v", pos.Symbol, ferr)
		}
		e.audit(ctx, auditlog.Entry{
			TraceID: traceID, Cycle: cycle, Symbol: pos.Symbol,
			Kind:    auditlog.KindExitDecision,
			Summary: "平仓下单失败: " + err.Error(),
		})
		notifier.Notify(e.notifier, "exit_fail", exitFailedMessage(pos, dec, err, e.nowFn()))
		return false
	}

	fees := e.exits.Fees().RoundTrip(pos.EntryValue(), fill.Price*pos.Quantity)
	trade, err := e.book.ConfirmExit(pos.Symbol, fill.Price, fees, dec.Reason)
	if err != nil {
		errCount.Add(1)
		logger.Errorf("确认平仓失败 %s: %v", pos.Symbol, err)
		return false
	}

	logger.Infof("平仓完成 %s %s qty=%v exit=%.4f net=%.2f score=%.1f reason=%s",
		trade.Symbol, trade.Side, trade.Quantity, trade.ExitPrice, trade.NetPnL, dec.Score, dec.Reason)

	if e.trades != nil {
		if err := e.trades.RecordClosed(ctx, trade); err != nil {
			logger.Warnf("写入成交流水失败 %s: %v", trade.Symbol, err)
		}
	}
	notifier.Notify(e.notifier, "exit_fill", exitFilledMessage(trade, dec))
	return true
}

func marshalDetail(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
