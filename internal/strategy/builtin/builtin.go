// Package builtin 提供基于技术指标的内置策略实现。
// 每个策略都是 Window 的纯函数：相同输入必然产生相同 Signal。
package builtin

import (
	"fmt"
	"time"

	"quorum/internal/market"
	"quorum/internal/strategy"

	"github.com/mitchellh/mapstructure"
)

// Build 根据 pack 配置实例化内置策略。kind 不认识时报错，由上层决定跳过或终止。
func Build(id, kind string, params map[string]any) (strategy.Strategy, error) {
	switch kind {
	case "ema_trend":
		var cfg EMATrendConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, fmt.Errorf("ema_trend params: %w", err)
		}
		cfg.ID = id
		return NewEMATrend(cfg), nil
	case "rsi_reversion":
		var cfg RSIReversionConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, fmt.Errorf("rsi_reversion params: %w", err)
		}
		cfg.ID = id
		return NewRSIReversion(cfg), nil
	case "macd_momentum":
		var cfg MACDMomentumConfig
		if err := decodeParams(params, &cfg); err != nil {
			return nil, fmt.Errorf("macd_momentum params: %w", err)
		}
		cfg.ID = id
		return NewMACDMomentum(cfg), nil
	default:
		return nil, fmt.Errorf("unknown strategy kind %q", kind)
	}
}

// ParamSchema 返回各 kind 的参数 JSON Schema，pack 加载时据此校验配置。
func ParamSchema(kind string) map[string]any {
	switch kind {
	case "ema_trend":
		return map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"fast": map[string]any{"type": "integer", "minimum": 2},
				"slow": map[string]any{"type": "integer", "minimum": 3},
			},
		}
	case "rsi_reversion":
		return map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"period":     map[string]any{"type": "integer", "minimum": 2},
				"overbought": map[string]any{"type": "number", "minimum": 50, "maximum": 100},
				"oversold":   map[string]any{"type": "number", "minimum": 0, "maximum": 50},
			},
		}
	case "macd_momentum":
		return map[string]any{
			"type":                 "object",
			"additionalProperties": false,
			"properties": map[string]any{
				"fast":   map[string]any{"type": "integer", "minimum": 2},
				"slow":   map[string]any{"type": "integer", "minimum": 3},
				"signal": map[string]any{"type": "integer", "minimum": 1},
			},
		}
	default:
		return nil
	}
}

func decodeParams(params map[string]any, out any) error {
	if len(params) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(params)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// signalTime 取窗口内最新的确定时间，保证策略输出不依赖壁钟。
func signalTime(win market.Window) time.Time {
	if !win.Last.At.IsZero() {
		return win.Last.At
	}
	if n := len(win.Candles); n > 0 {
		if ts := win.Candles[n-1].CloseTime; ts > 0 {
			return time.UnixMilli(ts).UTC()
		}
	}
	return time.Time{}
}
