package decision

import (
	"testing"
	"time"

	"quorum/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sig(id string, dir strategy.Direction, conf float64) strategy.Signal {
	return strategy.Signal{
		Symbol:     "BTCUSDT",
		StrategyID: id,
		Direction:  dir,
		Confidence: conf,
		At:         time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestAggregateMajority(t *testing.T) {
	a := NewAggregator(nil)
	agg, err := a.Aggregate("BTCUSDT", map[string]strategy.Signal{
		"ema":  sig("ema", strategy.Buy, 0.8),
		"macd": sig("macd", strategy.Buy, 0.6),
		"rsi":  sig("rsi", strategy.Sell, 0.9),
	})
	require.NoError(t, err)

	assert.Equal(t, strategy.Buy, agg.Consensus)
	assert.InDelta(t, 2.0/3.0, agg.AgreementRatio, 1e-9)
	assert.InDelta(t, 0.7, agg.WeightedConfidence, 1e-9, "mean confidence of agreeing signals")
	assert.Equal(t, []string{"ema", "macd"}, agg.Contributing)
	assert.Equal(t, 3, agg.TotalSignals)
}

func TestAggregateTieBreaksOnConfidence(t *testing.T) {
	a := NewAggregator(nil)
	agg, err := a.Aggregate("BTCUSDT", map[string]strategy.Signal{
		"bull": sig("bull", strategy.Buy, 0.9),
		"bear": sig("bear", strategy.Sell, 0.5),
	})
	require.NoError(t, err)
	assert.Equal(t, strategy.Buy, agg.Consensus)
}

func TestAggregateFullTieHolds(t *testing.T) {
	a := NewAggregator(nil)
	agg, err := a.Aggregate("BTCUSDT", map[string]strategy.Signal{
		"bull": sig("bull", strategy.Buy, 0.7),
		"bear": sig("bear", strategy.Sell, 0.7),
	})
	require.NoError(t, err)
	assert.Equal(t, strategy.Hold, agg.Consensus)
}

// 同一比例对开仓与退出是两种结论：1/3 的反向票足以触发退出评估，
// 却不够格开新仓。
func TestEntryExitThresholdsDiffer(t *testing.T) {
	a := NewAggregator(nil)
	agg, err := a.Aggregate("BTCUSDT", map[string]strategy.Signal{
		"s1": sig("s1", strategy.Sell, 0.8),
		"s2": sig("s2", strategy.Hold, 0.3),
		"s3": sig("s3", strategy.Hold, 0.3),
	})
	require.NoError(t, err)
	assert.InDelta(t, 1.0/3.0, agg.Shares[strategy.Sell], 1e-9)

	th := Thresholds{Entry: 0.40, Exit: 0.33}
	assert.True(t, th.ExitTriggered(agg, strategy.Buy), "one dissenting vote must trigger exit evaluation")
	assert.False(t, th.EntryEligible(agg))

	// 即便共识是 SELL（平票时置信度最高者胜出），1/3 的一致度也不够开空
	aggSell, err := a.Aggregate("BTCUSDT", map[string]strategy.Signal{
		"s1": sig("s1", strategy.Sell, 0.8),
		"s2": sig("s2", strategy.Buy, 0.4),
		"s3": sig("s3", strategy.Hold, 0.6),
	})
	require.NoError(t, err)
	require.Equal(t, strategy.Sell, aggSell.Consensus)
	assert.False(t, th.EntryEligible(aggSell))
}

func TestExitFloorDefaultsToOneOverN(t *testing.T) {
	a := NewAggregator(nil)
	agg, err := a.Aggregate("BTCUSDT", map[string]strategy.Signal{
		"s1": sig("s1", strategy.Sell, 0.8),
		"s2": sig("s2", strategy.Buy, 0.7),
		"s3": sig("s3", strategy.Buy, 0.6),
		"s4": sig("s4", strategy.Hold, 0.2),
	})
	require.NoError(t, err)

	th := Thresholds{Entry: 0.40, Exit: 0}
	assert.True(t, th.ExitTriggered(agg, strategy.Buy), "1/4 sell share meets the 1/N floor")
	assert.True(t, th.ExitTriggered(agg, strategy.Sell), "买方票占半数，对空头同样触发评估")
}

func TestAggregateAppliesWeights(t *testing.T) {
	a := NewAggregator(map[string]float64{"whale": 3})
	agg, err := a.Aggregate("BTCUSDT", map[string]strategy.Signal{
		"whale": sig("whale", strategy.Sell, 0.6),
		"s2":    sig("s2", strategy.Buy, 0.9),
		"s3":    sig("s3", strategy.Buy, 0.9),
	})
	require.NoError(t, err)
	assert.Equal(t, strategy.Sell, agg.Consensus)
	assert.InDelta(t, 0.6, agg.AgreementRatio, 1e-9)
}

func TestAggregateDeterministic(t *testing.T) {
	a := NewAggregator(nil)
	in := map[string]strategy.Signal{
		"ema":  sig("ema", strategy.Buy, 0.8),
		"macd": sig("macd", strategy.Sell, 0.8),
		"rsi":  sig("rsi", strategy.Hold, 0.3),
	}
	first, err := a.Aggregate("BTCUSDT", in)
	require.NoError(t, err)
	second, err := a.Aggregate("BTCUSDT", in)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAggregateEmptyInput(t *testing.T) {
	a := NewAggregator(nil)
	_, err := a.Aggregate("BTCUSDT", nil)
	assert.Error(t, err)
}
