// Package exchange 基于 go-binance 的合约行情源与实盘下单通道。
// 行情轮询用 REST:24h ticker 自带交易所时间戳,K 线末根未收盘时剔除。
package exchange

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"quorum/internal/apperr"
	"quorum/internal/market"
	"quorum/internal/scheduler"
)

const maxHistoryLimit = 1500

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration

	APIKey    string
	APISecret string

	ProxyEnabled bool
	RESTProxyURL string
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimSpace(out.RESTBaseURL)
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = "https://fapi.binance.com"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.RESTProxyURL = strings.TrimSpace(out.RESTProxyURL)
	return out
}

// Source 实现 market.Source。
type Source struct {
	cfg    Config
	client *futures.Client
}

func NewSource(cfg Config) (*Source, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(final.APIKey, final.APISecret)
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Source{cfg: final, client: client}, nil
}

// FetchQuote 用 24h ticker 取最新价。CloseTime 是交易所侧的时间戳,
// 新鲜度判断以它为准,而不是本机收到响应的时刻。
func (s *Source) FetchQuote(ctx context.Context, symbol string) (market.Quote, error) {
	clean := cleanSymbol(symbol)
	if clean == "" {
		return market.Quote{}, apperr.Validationf("symbol is required")
	}
	stats, err := s.client.NewListPriceChangeStatsService().Symbol(clean).Do(ctx)
	if err != nil {
		return market.Quote{}, err
	}
	if len(stats) == 0 || stats[0] == nil {
		return market.Quote{}, fmt.Errorf("empty ticker response for %s", clean)
	}
	price := parseFloat(stats[0].LastPrice)
	if price <= 0 {
		return market.Quote{}, fmt.Errorf("invalid last price %q for %s", stats[0].LastPrice, clean)
	}
	return market.Quote{
		Symbol: symbol,
		Price:  price,
		At:     time.UnixMilli(stats[0].CloseTime),
	}, nil
}

func (s *Source) FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	clean := cleanSymbol(symbol)
	if clean == "" {
		return nil, apperr.Validationf("symbol is required")
	}
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return nil, apperr.Validationf("interval is required")
	}
	kls, err := s.client.NewKlinesService().Symbol(clean).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	if dur, ok := scheduler.ParseIntervalDuration(interval); ok {
		out = scheduler.DropUnclosedCandle(out, dur)
	}
	return out, nil
}

func (s *Source) Close() error { return nil }

// cleanSymbol 去掉 "BTC/USDT" 写法里的斜杠,交易所只认 BTCUSDT。
func cleanSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
