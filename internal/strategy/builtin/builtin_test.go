package builtin

import (
	"context"
	"math"
	"testing"
	"time"

	"quorum/internal/market"
	"quorum/internal/strategy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func windowFrom(symbol string, closes []float64) market.Window {
	base := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	candles := make([]market.Candle, len(closes))
	for i, c := range closes {
		open := base.Add(time.Duration(i) * time.Hour)
		candles[i] = market.Candle{
			OpenTime:  open.UnixMilli(),
			CloseTime: open.Add(time.Hour).UnixMilli(),
			Open:      c,
			High:      c * 1.002,
			Low:       c * 0.998,
			Close:     c,
			Volume:    1000,
		}
	}
	last := closes[len(closes)-1]
	return market.Window{
		Symbol:   symbol,
		Interval: "1h",
		Candles:  candles,
		Last:     market.Quote{Symbol: symbol, Price: last, At: base.Add(time.Duration(len(closes)) * time.Hour)},
	}
}

func linear(n int, start, step float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func geometric(n int, start, ratio float64) []float64 {
	out := make([]float64, n)
	v := start
	for i := range out {
		out[i] = v
		v *= ratio
	}
	return out
}

func TestEMATrendFollowsDirection(t *testing.T) {
	s := NewEMATrend(EMATrendConfig{})
	ctx := context.Background()

	up, err := s.Evaluate(ctx, "BTCUSDT", windowFrom("BTCUSDT", linear(60, 100, 1)))
	require.NoError(t, err)
	assert.Equal(t, strategy.Buy, up.Direction)
	assert.GreaterOrEqual(t, up.Confidence, 0.5)

	down, err := s.Evaluate(ctx, "BTCUSDT", windowFrom("BTCUSDT", linear(60, 160, -1)))
	require.NoError(t, err)
	assert.Equal(t, strategy.Sell, down.Direction)
}

func TestEMATrendInsufficientCandles(t *testing.T) {
	s := NewEMATrend(EMATrendConfig{})
	_, err := s.Evaluate(context.Background(), "BTCUSDT", windowFrom("BTCUSDT", linear(10, 100, 1)))
	assert.Error(t, err)
}

func TestRSIReversionExtremes(t *testing.T) {
	s := NewRSIReversion(RSIReversionConfig{})
	ctx := context.Background()

	// 单边上涨 RSI 贴近 100，均值回归应给出 SELL
	over, err := s.Evaluate(ctx, "ETHUSDT", windowFrom("ETHUSDT", linear(40, 100, 1)))
	require.NoError(t, err)
	assert.Equal(t, strategy.Sell, over.Direction)
	assert.Greater(t, over.Confidence, 0.5)

	under, err := s.Evaluate(ctx, "ETHUSDT", windowFrom("ETHUSDT", linear(40, 140, -1)))
	require.NoError(t, err)
	assert.Equal(t, strategy.Buy, under.Direction)

	flat := make([]float64, 40)
	for i := range flat {
		flat[i] = 100 + 0.1*math.Pow(-1, float64(i))
	}
	hold, err := s.Evaluate(ctx, "ETHUSDT", windowFrom("ETHUSDT", flat))
	require.NoError(t, err)
	assert.Equal(t, strategy.Hold, hold.Direction)
}

func TestMACDMomentumFollowsAcceleration(t *testing.T) {
	s := NewMACDMomentum(MACDMomentumConfig{})
	ctx := context.Background()

	up, err := s.Evaluate(ctx, "SOLUSDT", windowFrom("SOLUSDT", geometric(60, 100, 1.01)))
	require.NoError(t, err)
	assert.Equal(t, strategy.Buy, up.Direction)

	down, err := s.Evaluate(ctx, "SOLUSDT", windowFrom("SOLUSDT", geometric(60, 100, 0.99)))
	require.NoError(t, err)
	assert.Equal(t, strategy.Sell, down.Direction)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	win := windowFrom("BTCUSDT", linear(60, 100, 1))
	for _, s := range []strategy.Strategy{
		NewEMATrend(EMATrendConfig{}),
		NewRSIReversion(RSIReversionConfig{}),
		NewMACDMomentum(MACDMomentumConfig{}),
	} {
		first, err := s.Evaluate(context.Background(), "BTCUSDT", win)
		require.NoError(t, err)
		second, err := s.Evaluate(context.Background(), "BTCUSDT", win)
		require.NoError(t, err)
		assert.Equal(t, first, second, "strategy %s must be pure", s.ID())
	}
}

func TestBuildFactory(t *testing.T) {
	t.Run("known kinds", func(t *testing.T) {
		s, err := Build("ema_fast", "ema_trend", map[string]any{"fast": 5, "slow": 20})
		require.NoError(t, err)
		assert.Equal(t, "ema_fast", s.ID())
	})

	t.Run("weakly typed params", func(t *testing.T) {
		s, err := Build("rsi", "rsi_reversion", map[string]any{"period": "10"})
		require.NoError(t, err)
		assert.Equal(t, "rsi", s.ID())
	})

	t.Run("unknown kind", func(t *testing.T) {
		_, err := Build("x", "lunar_phase", nil)
		assert.Error(t, err)
	})
}
