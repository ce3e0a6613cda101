package builtin

import (
	"context"
	"fmt"
	"math"

	"quorum/internal/market"
	"quorum/internal/strategy"

	talib "github.com/markcheno/go-talib"
)

// MACDMomentumConfig 控制 MACD 参数。
type MACDMomentumConfig struct {
	ID     string `mapstructure:"-"`
	Fast   int    `mapstructure:"fast"`
	Slow   int    `mapstructure:"slow"`
	Signal int    `mapstructure:"signal"`
}

// MACDMomentum 以柱状图方向定多空，柱体相对价格的幅度定置信度；
// 信号线刚被穿越时置信度加成。
type MACDMomentum struct {
	id     string
	fast   int
	slow   int
	signal int
}

const macdFlatRatio = 1e-5

func NewMACDMomentum(cfg MACDMomentumConfig) *MACDMomentum {
	if cfg.Fast <= 0 {
		cfg.Fast = 12
	}
	if cfg.Slow <= cfg.Fast {
		cfg.Slow = 26
	}
	if cfg.Signal <= 0 {
		cfg.Signal = 9
	}
	id := cfg.ID
	if id == "" {
		id = "macd_momentum"
	}
	return &MACDMomentum{id: id, fast: cfg.Fast, slow: cfg.Slow, signal: cfg.Signal}
}

func (s *MACDMomentum) ID() string { return s.id }

func (s *MACDMomentum) Evaluate(ctx context.Context, symbol string, win market.Window) (strategy.Signal, error) {
	closes := win.Closes()
	need := s.slow + s.signal + 2
	if len(closes) < need {
		return strategy.Signal{}, fmt.Errorf("macd_momentum: insufficient candles for %s need %d got %d", symbol, need, len(closes))
	}
	_, _, hist := talib.Macd(closes, s.fast, s.slow, s.signal)
	n := len(hist)
	cur, prev := hist[n-1], hist[n-2]
	price := closes[len(closes)-1]
	if price <= 0 {
		return strategy.Signal{}, fmt.Errorf("macd_momentum: non-positive close for %s", symbol)
	}

	ratio := cur / price
	sig := strategy.Signal{Symbol: symbol, StrategyID: s.id, At: signalTime(win)}
	if math.Abs(ratio) < macdFlatRatio {
		sig.Direction = strategy.Hold
		sig.Confidence = 0.25
		return sig, nil
	}

	conf := 0.5 + math.Min(math.Abs(ratio)*200, 0.3)
	if cur > 0 {
		sig.Direction = strategy.Buy
		if prev <= 0 {
			conf += 0.15
		}
	} else {
		sig.Direction = strategy.Sell
		if prev >= 0 {
			conf += 0.15
		}
	}
	sig.Confidence = clamp01(math.Min(conf, 0.95))
	return sig, nil
}
