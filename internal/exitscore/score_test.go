package exitscore

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/ledger"
	"quorum/internal/strategy"
)

var testNow = time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)

// profitCfg 关闭相对涨幅与其他规则的干扰,专注绝对净利维度。
func profitCfg(highTarget float64) Config {
	return Config{
		HighTarget:    highTarget,
		LowTarget:     2_000,
		PctTarget:     10,
		PctHardTarget: 20,
		Fees:          FeeModel{BrokerageRate: 0.02, BrokerageCap: 150},
	}
}

func longPosition(entry, current, qty float64, entryAge time.Duration) ledger.Position {
	maxFav := current
	if entry > maxFav {
		maxFav = entry
	}
	return ledger.Position{
		Symbol:            "SOLUSDT",
		Side:              strategy.Buy,
		Quantity:          qty,
		EntryPrice:        entry,
		EntryTime:         testNow.Add(-entryAge),
		CurrentPrice:      current,
		PriceAt:           testNow,
		MaxFavorablePrice: maxFav,
		Status:            ledger.StatusOpen,
	}
}

// 净利 4700 的持仓:高目标 5000 时只是常规离场,降到 4500 必须强制。
func TestNetProfitTargetBoundary(t *testing.T) {
	pos := longPosition(100, 150, 100, time.Hour)

	d := NewEngine(profitCfg(5_000)).Evaluate(pos, Context{Now: testNow})
	assert.False(t, d.Forced, "净利 4700 未达 5000,不得强制")
	assert.True(t, d.Exit, "78 分已过阈值,常规离场")
	assert.InDelta(t, 78, d.Score, 1e-9)
	require.Len(t, d.Triggered, 1)
	assert.Equal(t, "net_profit", d.Triggered[0].Rule)

	d = NewEngine(profitCfg(4_500)).Evaluate(pos, Context{Now: testNow})
	assert.True(t, d.Forced, "净利 4700 已达 4500,必须强制")
	assert.True(t, d.Exit)
	assert.InDelta(t, 100, d.Score, 1e-9)
	assert.Contains(t, d.Reason, "high_target")
}

func TestScoreIsMaxNotSum(t *testing.T) {
	cfg := Config{
		HighTarget:    5_000,
		LowTarget:     2_000,
		PctTarget:     0.25,
		PctHardTarget: 0.40,
	}
	pos := longPosition(100, 130, 100, time.Hour)

	d := NewEngine(cfg).Evaluate(pos, Context{Now: testNow})
	require.Len(t, d.Triggered, 2, "净利与涨幅两条规则同时激活")
	assert.Equal(t, "net_profit", d.Triggered[0].Rule)
	assert.Equal(t, "pct_profit", d.Triggered[1].Rule)
	// max(66.67, 73.33) 而不是求和
	assert.InDelta(t, 73.3333, d.Score, 1e-3)
	assert.Contains(t, d.Reason, "pct_profit", "理由归属最高分规则")
	assert.True(t, d.Exit)
	assert.False(t, d.Forced)
}

// 相同的持仓快照与环境,重复评估必须得到完全一致的结果。
func TestEvaluateIdempotent(t *testing.T) {
	eng := NewEngine(Config{Fees: FeeModel{BrokerageRate: 0.001, BrokerageCap: 20, TaxRate: 0.18}})
	pos := longPosition(100, 93, 10, 2*time.Hour)
	rc := Context{Now: testNow}

	first := eng.Evaluate(pos, rc)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, eng.Evaluate(pos, rc))
	}
}

func TestStopLossContext(t *testing.T) {
	cfg := Config{SoftStopPct: 0.05, HardStopPct: 0.10, GracePeriod: 30 * time.Minute}
	eng := NewEngine(cfg)

	t.Run("正常环境软止损给高分", func(t *testing.T) {
		d := eng.Evaluate(longPosition(100, 93, 1, 2*time.Hour), Context{Now: testNow})
		require.Len(t, d.Triggered, 1)
		assert.Equal(t, "stop_loss", d.Triggered[0].Rule)
		assert.InDelta(t, 80, d.Score, 1e-9)
		assert.True(t, d.Exit)
		assert.False(t, d.Forced)
	})

	t.Run("宽限期内沉默", func(t *testing.T) {
		d := eng.Evaluate(longPosition(100, 93, 1, 10*time.Minute), Context{Now: testNow})
		assert.Empty(t, d.Triggered)
		assert.False(t, d.Exit)
	})

	t.Run("高波动环境沉默", func(t *testing.T) {
		d := eng.Evaluate(longPosition(100, 93, 1, 2*time.Hour), Context{Now: testNow, HighVolatility: true})
		assert.False(t, d.Exit)
	})

	t.Run("趋势同向沉默", func(t *testing.T) {
		d := eng.Evaluate(longPosition(100, 93, 1, 2*time.Hour), Context{Now: testNow, Trend: strategy.Buy})
		assert.False(t, d.Exit)
	})

	t.Run("趋势反向不保护", func(t *testing.T) {
		d := eng.Evaluate(longPosition(100, 93, 1, 2*time.Hour), Context{Now: testNow, Trend: strategy.Sell})
		assert.True(t, d.Exit)
	})

	t.Run("硬止损无视环境", func(t *testing.T) {
		d := eng.Evaluate(longPosition(100, 89, 1, time.Minute), Context{Now: testNow, HighVolatility: true, Trend: strategy.Buy})
		assert.True(t, d.Forced, "硬止损不受宽限期/波动/趋势抑制")
		assert.InDelta(t, 100, d.Score, 1e-9)
		assert.Contains(t, d.Reason, "hard_stop")
	})
}

func TestTrailingGiveback(t *testing.T) {
	// 抬高涨幅阈值,避免 pct_profit 在高位样本上抢先激活
	cfg := Config{GivebackSoft: 0.30, GivebackHard: 0.60, PctTarget: 10, PctHardTarget: 20}
	eng := NewEngine(cfg)
	base := longPosition(100, 0, 10, 5*time.Hour)
	base.MaxFavorablePrice = 130 // 峰值净利 300

	t.Run("回吐过硬阈值强制", func(t *testing.T) {
		pos := base
		pos.CurrentPrice = 112 // 回吐 (300-120)/300 = 60%
		d := eng.Evaluate(pos, Context{Now: testNow})
		assert.True(t, d.Forced)
		assert.Contains(t, d.Reason, "giveback")
	})

	t.Run("回吐到软阈值给分", func(t *testing.T) {
		pos := base
		pos.CurrentPrice = 121 // 回吐 30%
		d := eng.Evaluate(pos, Context{Now: testNow})
		require.Len(t, d.Triggered, 1)
		assert.Equal(t, "trailing_giveback", d.Triggered[0].Rule)
		assert.InDelta(t, 60, d.Score, 1e-9)
		assert.True(t, d.Exit)
		assert.False(t, d.Forced)
	})

	t.Run("小幅回吐不激活", func(t *testing.T) {
		pos := base
		pos.CurrentPrice = 127 // 回吐 10%
		d := eng.Evaluate(pos, Context{Now: testNow})
		assert.Empty(t, d.Triggered)
		assert.False(t, d.Exit)
	})

	t.Run("从未盈利不参与", func(t *testing.T) {
		pos := longPosition(100, 97, 10, 5*time.Hour) // maxFav=100,峰值净利 0
		d := eng.Evaluate(pos, Context{Now: testNow})
		for _, r := range d.Triggered {
			assert.NotEqual(t, "trailing_giveback", r.Rule)
		}
	})
}

func TestTimeDecay(t *testing.T) {
	eng := NewEngine(Config{DecayWindow: 72 * time.Hour, StagnationBand: 0.005})

	t.Run("窗口外不参与", func(t *testing.T) {
		pos := longPosition(100, 100, 10, time.Hour)
		pos.Expiry = testNow.Add(100 * time.Hour)
		d := eng.Evaluate(pos, Context{Now: testNow})
		assert.Empty(t, d.Triggered)
	})

	t.Run("窗口中部横盘给分", func(t *testing.T) {
		pos := longPosition(100, 100, 10, time.Hour)
		pos.Expiry = testNow.Add(36 * time.Hour)
		d := eng.Evaluate(pos, Context{Now: testNow})
		require.Len(t, d.Triggered, 1)
		assert.Equal(t, "time_decay", d.Triggered[0].Rule)
		assert.InDelta(t, 67.5, d.Score, 1e-9) // 40 + 55*0.5
		assert.True(t, d.Exit)
	})

	t.Run("到期日亏损强制", func(t *testing.T) {
		pos := longPosition(100, 98, 10, time.Hour)
		pos.Expiry = testNow.Add(2 * time.Hour) // 同一个 UTC 日
		d := eng.Evaluate(pos, Context{Now: testNow})
		assert.True(t, d.Forced)
		assert.Contains(t, d.Reason, "expiring today")
	})

	t.Run("盈利中的持仓不参与", func(t *testing.T) {
		pos := longPosition(100, 103, 10, time.Hour)
		pos.Expiry = testNow.Add(36 * time.Hour)
		d := eng.Evaluate(pos, Context{Now: testNow})
		assert.Empty(t, d.Triggered)
	})
}

func TestStagnation(t *testing.T) {
	eng := NewEngine(Config{StagnationAfter: 48 * time.Hour, StagnationBand: 0.005})

	t.Run("长期横盘给中档分", func(t *testing.T) {
		d := eng.Evaluate(longPosition(100, 100.2, 10, 72*time.Hour), Context{Now: testNow})
		require.Len(t, d.Triggered, 1)
		assert.Equal(t, "stagnation", d.Triggered[0].Rule)
		assert.InDelta(t, 62.5, d.Score, 1e-9) // 50 + 25*(24h/48h)
		assert.True(t, d.Exit)
	})

	t.Run("观察期内不参与", func(t *testing.T) {
		d := eng.Evaluate(longPosition(100, 100.2, 10, 36*time.Hour), Context{Now: testNow})
		assert.Empty(t, d.Triggered)
	})

	t.Run("脱离横盘带不参与", func(t *testing.T) {
		d := eng.Evaluate(longPosition(100, 103, 10, 72*time.Hour), Context{Now: testNow})
		for _, r := range d.Triggered {
			assert.False(t, strings.HasPrefix(r.Rule, "stagnation"))
		}
	})
}
