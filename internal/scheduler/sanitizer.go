package scheduler

import (
	"time"

	"quorum/internal/market"
)

const DefaultKlineGrace = 10 * time.Second

// DropUnclosedCandle drops the last element if it is still in-progress.
// Exchange REST kline endpoints include the current, not-yet-closed candle
// as the final element; feeding it to indicators makes signals repaint.
//
// Candle times are expected to be in milliseconds since epoch.
func DropUnclosedCandle(candles []market.Candle, interval time.Duration) []market.Candle {
	return dropUnclosedCandleAt(candles, interval, time.Now().UTC(), DefaultKlineGrace)
}

func dropUnclosedCandleAt(candles []market.Candle, interval time.Duration, now time.Time, grace time.Duration) []market.Candle {
	if len(candles) == 0 {
		return candles
	}
	if interval <= 0 {
		return candles
	}
	if grace < 0 {
		grace = 0
	}
	last := candles[len(candles)-1]
	if last.OpenTime <= 0 {
		return candles
	}
	closeTimeMs := last.OpenTime + interval.Milliseconds()
	cutoffMs := closeTimeMs + grace.Milliseconds()
	if now.UnixMilli() < cutoffMs {
		return candles[:len(candles)-1]
	}
	return candles
}
