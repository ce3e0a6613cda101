package market

import "context"

// Source 是引擎消费行情的唯一入口，实现方负责传输与重试细节。
// 所有调用都必须带 ctx，超时由调用方控制。
type Source interface {
	FetchQuote(ctx context.Context, symbol string) (Quote, error)

	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	Close() error
}
