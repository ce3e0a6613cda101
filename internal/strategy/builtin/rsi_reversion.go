package builtin

import (
	"context"
	"fmt"
	"math"

	"quorum/internal/market"
	"quorum/internal/strategy"

	talib "github.com/markcheno/go-talib"
)

// RSIReversionConfig 控制 RSI 参数。
type RSIReversionConfig struct {
	ID         string  `mapstructure:"-"`
	Period     int     `mapstructure:"period"`
	Overbought float64 `mapstructure:"overbought"`
	Oversold   float64 `mapstructure:"oversold"`
}

// RSIReversion 超卖做多、超买做空的均值回归策略。
// 越深入极值区置信度越高。
type RSIReversion struct {
	id         string
	period     int
	overbought float64
	oversold   float64
}

func NewRSIReversion(cfg RSIReversionConfig) *RSIReversion {
	if cfg.Period <= 0 {
		cfg.Period = 14
	}
	if cfg.Overbought <= 0 {
		cfg.Overbought = 70
	}
	if cfg.Oversold <= 0 {
		cfg.Oversold = 30
	}
	id := cfg.ID
	if id == "" {
		id = "rsi_reversion"
	}
	return &RSIReversion{id: id, period: cfg.Period, overbought: cfg.Overbought, oversold: cfg.Oversold}
}

func (s *RSIReversion) ID() string { return s.id }

func (s *RSIReversion) Evaluate(ctx context.Context, symbol string, win market.Window) (strategy.Signal, error) {
	closes := win.Closes()
	need := s.period + 1
	if len(closes) < need {
		return strategy.Signal{}, fmt.Errorf("rsi_reversion: insufficient candles for %s need %d got %d", symbol, need, len(closes))
	}
	series := talib.Rsi(closes, s.period)
	if len(series) == 0 {
		return strategy.Signal{}, fmt.Errorf("rsi_reversion: talib output empty for %s", symbol)
	}
	val := series[len(series)-1]

	sig := strategy.Signal{Symbol: symbol, StrategyID: s.id, At: signalTime(win)}
	switch {
	case val <= s.oversold:
		sig.Direction = strategy.Buy
		depth := (s.oversold - val) / math.Max(s.oversold, 1)
		sig.Confidence = clamp01(math.Min(0.5+depth, 0.95))
	case val >= s.overbought:
		sig.Direction = strategy.Sell
		depth := (val - s.overbought) / math.Max(100-s.overbought, 1)
		sig.Confidence = clamp01(math.Min(0.5+depth, 0.95))
	default:
		sig.Direction = strategy.Hold
		sig.Confidence = 0.3
	}
	return sig, nil
}
