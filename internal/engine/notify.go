package engine

import (
	"fmt"
	"math"
	"strings"
	"time"

	"quorum/internal/decision"
	"quorum/internal/exitscore"
	"quorum/internal/gateway/broker"
	"quorum/internal/gateway/notifier"
	"quorum/internal/ledger"
	"quorum/internal/pkg/circuit"
)

func entryFilledMessage(pos ledger.Position, fill broker.Fill, agg decision.AggregatedSignal, now time.Time) notifier.StructuredMessage {
	msg := notifier.StructuredMessage{
		Icon:      "🚀",
		Title:     fmt.Sprintf("开仓完成：%s", pos.Symbol),
		Timestamp: now.UTC(),
	}
	msg.AddSection("执行明细",
		fmt.Sprintf("方向 %s", pos.Side),
		fmt.Sprintf("成交价 %.4f", fill.Price),
		fmt.Sprintf("数量 %.4f", pos.Quantity),
		fmt.Sprintf("仓位金额 %.2f USDT", pos.EntryValue()),
		fmt.Sprintf("板块 %s", pos.Sector),
	)
	lines := []string{
		fmt.Sprintf("一致率 %.2f · 置信度 %.2f", agg.AgreementRatio, agg.WeightedConfidence),
	}
	if len(agg.Contributing) > 0 {
		lines = append(lines, "参与策略 "+strings.Join(agg.Contributing, ", "))
	}
	msg.AddSection("信号共识", lines...)
	return msg
}

func exitFilledMessage(trade ledger.ClosedTrade, dec exitscore.Decision) notifier.StructuredMessage {
	msg := notifier.StructuredMessage{
		Icon:      "🏁",
		Title:     fmt.Sprintf("平仓完成：%s", trade.Symbol),
		Timestamp: trade.ExitTime.UTC(),
	}
	lines := []string{
		fmt.Sprintf("成交价 %.4f", trade.ExitPrice),
		formatPnLLine(trade),
	}
	if held := trade.ExitTime.Sub(trade.EntryTime); held > 0 {
		lines = append(lines, fmt.Sprintf("持仓时长 %s", held.Truncate(time.Second)))
	}
	msg.AddSection("执行明细", lines...)

	detail := []string{fmt.Sprintf("评分 %.1f", dec.Score)}
	if dec.Forced {
		detail = append(detail, "强制离场")
	}
	if reason := strings.TrimSpace(dec.Reason); reason != "" {
		detail = append(detail, "依据 "+reason)
	}
	msg.AddSection("离场评分", detail...)
	return msg
}

func exitFailedMessage(pos ledger.Position, dec exitscore.Decision, err error, now time.Time) notifier.StructuredMessage {
	msg := notifier.StructuredMessage{
		Icon:      "⚠️",
		Title:     fmt.Sprintf("平仓失败：%s", pos.Symbol),
		Timestamp: now.UTC(),
	}
	msg.AddSection("故障详情",
		fmt.Sprintf("原因 %v", err),
		fmt.Sprintf("评分 %.1f", dec.Score),
		"已标记人工复核,下个周期继续重试",
	)
	return msg
}

func staleReviewMessage(pos ledger.Position, cycles int, now time.Time) notifier.StructuredMessage {
	msg := notifier.StructuredMessage{
		Icon:      "⏱️",
		Title:     fmt.Sprintf("行情陈旧：%s", pos.Symbol),
		Timestamp: now.UTC(),
	}
	msg.AddSection("持仓状态",
		fmt.Sprintf("连续 %d 轮未获得新鲜报价", cycles),
		fmt.Sprintf("现价停留在 %.4f (%s)", pos.CurrentPrice, pos.PriceAt.UTC().Format("15:04:05 MST")),
		"离场评估暂停,持仓保持原状",
	)
	return msg
}

func breakerMessage(name string, from, to circuit.State, now time.Time) notifier.StructuredMessage {
	icon, verb := "✅", "恢复"
	if to == circuit.StateOpen {
		icon, verb = "⛔", "打开"
	}
	msg := notifier.StructuredMessage{
		Icon:      icon,
		Title:     fmt.Sprintf("熔断器%s：%s", verb, name),
		Timestamp: now.UTC(),
	}
	msg.AddSection("状态迁移", fmt.Sprintf("%s -> %s", from, to))
	return msg
}

// formatPnLLine 输出 "盈亏 +12.34 USDT · +5.67%" 形式的盈亏行。
func formatPnLLine(trade ledger.ClosedTrade) string {
	pct := 0.0
	if ev := trade.Quantity * trade.EntryPrice; ev > 0 {
		pct = trade.NetPnL / ev * 100
	}
	return fmt.Sprintf("盈亏 %s · %s", formatSignedValue(trade.NetPnL), formatSignedPercent(pct))
}

func formatSignedValue(v float64) string {
	if math.Abs(v) < 1e-9 {
		return "0.00 USDT"
	}
	sign := ""
	if v > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f USDT", sign, v)
}

func formatSignedPercent(v float64) string {
	if math.Abs(v) < 1e-9 {
		return "0.00%"
	}
	sign := ""
	if v > 0 {
		sign = "+"
	}
	return fmt.Sprintf("%s%.2f%%", sign, v)
}
