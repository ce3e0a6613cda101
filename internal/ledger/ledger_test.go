package ledger

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/apperr"
	"quorum/internal/market"
	"quorum/internal/strategy"
)

func testLedger(cash float64, now time.Time) *Ledger {
	l := New(cash)
	l.nowFn = func() time.Time { return now }
	l.day = dayOf(now)
	return l
}

func openPosition(t *testing.T, l *Ledger, symbol string, side strategy.Direction, qty, price float64, sector string) Position {
	t.Helper()
	_, err := l.BeginEntry(OpenRequest{
		Symbol: symbol, Side: side, Quantity: qty, Price: price,
		Sector: sector, StrategySet: []string{"ema_trend", "rsi_reversion"},
	})
	require.NoError(t, err)
	p, err := l.ConfirmEntry(symbol, "ord-"+symbol)
	require.NoError(t, err)
	return p
}

func TestEntryLifecycle(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	l := testLedger(100_000, now)

	pending, err := l.BeginEntry(OpenRequest{Symbol: "BTCUSDT", Side: strategy.Buy, Quantity: 0.5, Price: 40_000, Sector: "l1"})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingEntry, pending.Status)
	assert.InDelta(t, 80_000, l.Cash(), 1e-9, "待确认仓位应占用资金")
	assert.Equal(t, 0, l.TradesToday("BTCUSDT"), "确认前计数器不得递增")

	open, err := l.ConfirmEntry("BTCUSDT", "ord-1")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, open.Status)
	assert.Equal(t, "ord-1", open.OrderID)
	assert.InDelta(t, 80_000, l.Cash(), 1e-9)
	assert.Equal(t, 1, l.TradesToday("BTCUSDT"))
	assert.Equal(t, 1, l.SectorCount("l1"))
	assert.Equal(t, 1, l.OpenCount())
}

func TestRejectReleasesFundsAndLeavesNoTrace(t *testing.T) {
	l := testLedger(50_000, time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))

	_, err := l.BeginEntry(OpenRequest{Symbol: "ETHUSDT", Side: strategy.Buy, Quantity: 10, Price: 2_500, Sector: "l1"})
	require.NoError(t, err)
	require.InDelta(t, 25_000, l.Cash(), 1e-9)

	require.NoError(t, l.RejectEntry("ETHUSDT", "经纪拒单"))
	assert.InDelta(t, 50_000, l.Cash(), 1e-9, "拒单后资金必须全额释放")
	assert.Equal(t, 0, l.TradesToday("ETHUSDT"))
	assert.Equal(t, 0, l.SectorCount("l1"))
	_, found := l.Get("ETHUSDT")
	assert.False(t, found, "被拒仓位不得留在台账中")

	// 同一 symbol 此后可以重新开仓
	_, err = l.BeginEntry(OpenRequest{Symbol: "ETHUSDT", Side: strategy.Buy, Quantity: 1, Price: 2_500})
	assert.NoError(t, err)
}

func TestInsufficientFundsRejected(t *testing.T) {
	l := testLedger(10_000, time.Now())
	_, err := l.BeginEntry(OpenRequest{Symbol: "BTCUSDT", Side: strategy.Buy, Quantity: 1, Price: 40_000})
	require.Error(t, err)
	var rej *apperr.RejectedError
	assert.ErrorAs(t, err, &rej)
	assert.InDelta(t, 10_000, l.Cash(), 1e-9, "拒单不得占用资金")
}

func TestExitSettlesCashAndCounters(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	l := testLedger(100_000, now)
	openPosition(t, l, "SOLUSDT", strategy.Buy, 100, 150, "l1")
	require.InDelta(t, 85_000, l.Cash(), 1e-9)

	_, err := l.BeginExit("SOLUSDT")
	require.NoError(t, err)

	trade, err := l.ConfirmExit("SOLUSDT", 200, 300, "net_profit=4700.00 >= high_target=4500.00")
	require.NoError(t, err)
	assert.InDelta(t, 4_700, trade.NetPnL, 1e-9)
	assert.InDelta(t, 300, trade.Fees, 1e-9)
	assert.Equal(t, strategy.Buy, trade.Side)

	assert.InDelta(t, 104_700, l.Cash(), 1e-9, "平仓后资金 = 本金 + 净盈亏")
	assert.InDelta(t, 4_700, l.DailyPnL(), 1e-9)
	assert.Equal(t, 0, l.SectorCount("l1"))
	assert.Equal(t, 0, l.OpenCount())
	_, found := l.Get("SOLUSDT")
	assert.False(t, found)
}

func TestShortPositionSettlement(t *testing.T) {
	l := testLedger(100_000, time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC))
	openPosition(t, l, "BNBUSDT", strategy.Sell, 50, 600, "l1")

	_, err := l.BeginExit("BNBUSDT")
	require.NoError(t, err)
	trade, err := l.ConfirmExit("BNBUSDT", 540, 100, "止盈")
	require.NoError(t, err)
	assert.InDelta(t, 2_900, trade.NetPnL, 1e-9, "空头盈亏 = (开仓价-平仓价)*数量 - 费用")
}

func TestIllegalTransitions(t *testing.T) {
	l := testLedger(100_000, time.Now())
	openPosition(t, l, "BTCUSDT", strategy.Buy, 1, 40_000, "")

	// OPEN 不能直接 CLOSED
	_, err := l.ConfirmExit("BTCUSDT", 41_000, 0, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// OPEN 不能再次确认
	_, err = l.ConfirmEntry("BTCUSDT", "ord-x")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	// 同 symbol 不允许第二笔活跃仓位
	_, err = l.BeginEntry(OpenRequest{Symbol: "BTCUSDT", Side: strategy.Buy, Quantity: 1, Price: 40_000})
	var rej *apperr.RejectedError
	assert.ErrorAs(t, err, &rej)

	// PENDING_EXIT 之后不允许重复发起
	_, err = l.BeginExit("BTCUSDT")
	require.NoError(t, err)
	_, err = l.BeginExit("BTCUSDT")
	assert.ErrorIs(t, err, apperr.ErrValidation)

	require.NoError(t, l.FlagExitFailed("BTCUSDT"))
	p, _ := l.Get("BTCUSDT")
	assert.True(t, p.ReviewRequired)
	assert.Equal(t, StatusPendingExit, p.Status, "平仓失败标记不改变状态")
}

func TestUpdatePriceTracksFavorableExtreme(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	l := testLedger(200_000, now)
	openPosition(t, l, "BTCUSDT", strategy.Buy, 1, 40_000, "")
	openPosition(t, l, "ETHUSDT", strategy.Sell, 10, 2_500, "")

	require.NoError(t, l.UpdatePrice("BTCUSDT", market.Quote{Symbol: "BTCUSDT", Price: 42_000, At: now.Add(time.Minute)}))
	require.NoError(t, l.UpdatePrice("BTCUSDT", market.Quote{Symbol: "BTCUSDT", Price: 41_000, At: now.Add(2 * time.Minute)}))
	p, _ := l.Get("BTCUSDT")
	assert.InDelta(t, 42_000, p.MaxFavorablePrice, 1e-9, "多头记最高价")
	assert.InDelta(t, 41_000, p.CurrentPrice, 1e-9)

	require.NoError(t, l.UpdatePrice("ETHUSDT", market.Quote{Symbol: "ETHUSDT", Price: 2_300, At: now.Add(time.Minute)}))
	require.NoError(t, l.UpdatePrice("ETHUSDT", market.Quote{Symbol: "ETHUSDT", Price: 2_400, At: now.Add(2 * time.Minute)}))
	p, _ = l.Get("ETHUSDT")
	assert.InDelta(t, 2_300, p.MaxFavorablePrice, 1e-9, "空头记最低价")

	// 无时间戳的报价必须拒绝
	err := l.UpdatePrice("BTCUSDT", market.Quote{Symbol: "BTCUSDT", Price: 45_000})
	assert.True(t, apperr.IsStale(err))
	p, _ = l.Get("BTCUSDT")
	assert.InDelta(t, 41_000, p.CurrentPrice, 1e-9, "陈旧报价不得污染现价")

	assert.Equal(t, 1, l.MarkStale("BTCUSDT"))
	assert.Equal(t, 2, l.MarkStale("BTCUSDT"))
	require.NoError(t, l.UpdatePrice("BTCUSDT", market.Quote{Symbol: "BTCUSDT", Price: 41_500, At: now.Add(3 * time.Minute)}))
	p, _ = l.Get("BTCUSDT")
	assert.Equal(t, 0, p.StaleCycles, "新鲜报价清零陈旧计数")
}

// 快照经 Restore 后必须得到完全一致的台账视图。
func TestSnapshotRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	l := testLedger(500_000, now)
	openPosition(t, l, "BTCUSDT", strategy.Buy, 1, 40_000, "l1")
	openPosition(t, l, "ETHUSDT", strategy.Sell, 10, 2_500, "l1")
	openPosition(t, l, "SOLUSDT", strategy.Buy, 100, 150, "alt")
	require.NoError(t, l.UpdatePrice("BTCUSDT", market.Quote{Symbol: "BTCUSDT", Price: 42_000, At: now.Add(time.Minute)}))
	_, err := l.BeginExit("SOLUSDT")
	require.NoError(t, err)

	// 留一笔未确认仓位,验证瞬态不进快照
	_, err = l.BeginEntry(OpenRequest{Symbol: "BNBUSDT", Side: strategy.Buy, Quantity: 1, Price: 600})
	require.NoError(t, err)

	st := l.Snapshot()
	assert.Equal(t, SchemaVersion, st.SchemaVersion)
	assert.Len(t, st.Positions, 3, "PENDING_ENTRY 不进入快照")

	restored := testLedger(0, now)
	require.NoError(t, restored.Restore(st))

	assert.Equal(t, l.Snapshot().Positions, restored.Snapshot().Positions)
	assert.InDelta(t, st.Cash, restored.Snapshot().Cash, 1e-9)
	assert.Equal(t, 1, restored.TradesToday("BTCUSDT"))
	assert.Equal(t, 2, restored.SectorCount("l1"))
	assert.Equal(t, 3, restored.OpenCount())

	p, found := restored.Get("BTCUSDT")
	require.True(t, found)
	assert.InDelta(t, 42_000, p.CurrentPrice, 1e-9)
	assert.InDelta(t, 42_000, p.MaxFavorablePrice, 1e-9)

	pe := restored.PendingExits()
	require.Len(t, pe, 1)
	assert.Equal(t, "SOLUSDT", pe[0].Symbol)
}

func TestRestoreRejectsIllegalStatus(t *testing.T) {
	l := testLedger(0, time.Now())
	err := l.Restore(State{Positions: []Position{{Symbol: "BTCUSDT", Status: StatusClosed}}})
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestDailyCountersRollOver(t *testing.T) {
	day1 := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	l := testLedger(100_000, day1)
	openPosition(t, l, "BTCUSDT", strategy.Buy, 1, 40_000, "")
	_, err := l.BeginExit("BTCUSDT")
	require.NoError(t, err)
	_, err = l.ConfirmExit("BTCUSDT", 39_000, 50, "止损")
	require.NoError(t, err)
	require.Equal(t, 1, l.TradesToday("BTCUSDT"))
	require.InDelta(t, -1_050, l.DailyPnL(), 1e-9)

	l.nowFn = func() time.Time { return day1.Add(24 * time.Hour) }
	assert.Equal(t, 0, l.TradesToday("BTCUSDT"), "跨日后当日计数清零")
	assert.InDelta(t, 0, l.DailyPnL(), 1e-9)
}

func TestConcurrentEntriesConserveCash(t *testing.T) {
	l := testLedger(1_000_000, time.Now())
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sym := fmt.Sprintf("SYM%02dUSDT", i)
			if _, err := l.BeginEntry(OpenRequest{Symbol: sym, Side: strategy.Buy, Quantity: 1, Price: 1_000}); err != nil {
				return
			}
			if i%4 == 0 {
				_ = l.RejectEntry(sym, "测试拒单")
				return
			}
			_, _ = l.ConfirmEntry(sym, "ord")
		}(i)
	}
	wg.Wait()

	confirmed := l.OpenCount()
	assert.Equal(t, 30, confirmed)
	assert.InDelta(t, 1_000_000-float64(confirmed)*1_000, l.Cash(), 1e-9, "并发路径下资金守恒")
}
