package builtin

import (
	"context"
	"fmt"
	"math"

	"quorum/internal/market"
	"quorum/internal/strategy"

	talib "github.com/markcheno/go-talib"
)

// EMATrendConfig 控制快慢均线参数。
type EMATrendConfig struct {
	ID   string `mapstructure:"-"`
	Fast int    `mapstructure:"fast"`
	Slow int    `mapstructure:"slow"`
}

// EMATrend 依据快慢 EMA 的相对位置输出趋势方向；
// 刚发生的交叉会提高置信度。
type EMATrend struct {
	id   string
	fast int
	slow int
}

const emaFlatBand = 0.0005

func NewEMATrend(cfg EMATrendConfig) *EMATrend {
	if cfg.Fast <= 0 {
		cfg.Fast = 12
	}
	if cfg.Slow <= cfg.Fast {
		cfg.Slow = 26
	}
	id := cfg.ID
	if id == "" {
		id = "ema_trend"
	}
	return &EMATrend{id: id, fast: cfg.Fast, slow: cfg.Slow}
}

func (s *EMATrend) ID() string { return s.id }

func (s *EMATrend) Evaluate(ctx context.Context, symbol string, win market.Window) (strategy.Signal, error) {
	closes := win.Closes()
	need := s.slow + 2
	if len(closes) < need {
		return strategy.Signal{}, fmt.Errorf("ema_trend: insufficient candles for %s need %d got %d", symbol, need, len(closes))
	}
	fastSeries := talib.Ema(closes, s.fast)
	slowSeries := talib.Ema(closes, s.slow)
	n := len(closes)
	curFast, curSlow := fastSeries[n-1], slowSeries[n-1]
	prevFast, prevSlow := fastSeries[n-2], slowSeries[n-2]
	if curSlow == 0 {
		return strategy.Signal{}, fmt.Errorf("ema_trend: empty slow ema for %s", symbol)
	}

	spread := (curFast - curSlow) / curSlow
	sig := strategy.Signal{Symbol: symbol, StrategyID: s.id, At: signalTime(win)}
	if math.Abs(spread) < emaFlatBand {
		sig.Direction = strategy.Hold
		sig.Confidence = 0.25
		return sig, nil
	}

	conf := 0.5 + math.Min(math.Abs(spread)*40, 0.3)
	if spread > 0 {
		sig.Direction = strategy.Buy
		if prevFast <= prevSlow {
			conf += 0.15
		}
	} else {
		sig.Direction = strategy.Sell
		if prevFast >= prevSlow {
			conf += 0.15
		}
	}
	sig.Confidence = clamp01(math.Min(conf, 0.95))
	return sig, nil
}
