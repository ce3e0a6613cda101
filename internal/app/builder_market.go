package app

import (
	"context"
	"fmt"

	"quorum/internal/config"
	"quorum/internal/gateway/broker"
	"quorum/internal/gateway/exchange"
	"quorum/internal/logger"
	"quorum/internal/market"
	"quorum/internal/market/cache"
	"quorum/internal/pkg/circuit"
	"quorum/internal/pkg/ratelimit"
)

// MarketStack 打包行情源与下单通道,以及两者共享的限流器。
type MarketStack struct {
	Source  market.Source
	Broker  *broker.Guarded
	Quotes  *cache.QuoteCache
	Limiter *ratelimit.Limiter
}

func buildMarketStack(_ context.Context, cfg *config.Config) (*MarketStack, error) {
	src, err := exchange.NewSource(exchange.Config{
		RESTBaseURL:  cfg.Market.RESTBaseURL,
		HTTPTimeout:  cfg.Market.HTTPTimeout(),
		APIKey:       cfg.Market.APIKey,
		APISecret:    cfg.Market.APISecret,
		ProxyEnabled: cfg.Market.Proxy.Enabled,
		RESTProxyURL: cfg.Market.Proxy.RESTURL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化行情源失败: %w", err)
	}

	var inner broker.Broker
	if cfg.App.Live() {
		live, err := exchange.NewLiveBroker(exchange.Config{
			RESTBaseURL:  cfg.Market.RESTBaseURL,
			HTTPTimeout:  cfg.Market.HTTPTimeout(),
			APIKey:       cfg.Market.APIKey,
			APISecret:    cfg.Market.APISecret,
			ProxyEnabled: cfg.Market.Proxy.Enabled,
			RESTProxyURL: cfg.Market.Proxy.RESTURL,
		})
		if err != nil {
			return nil, fmt.Errorf("初始化实盘通道失败: %w", err)
		}
		inner = live
		logger.Infof("✓ 实盘下单通道就绪: %s", cfg.Market.RESTBaseURL)
	} else {
		inner = broker.NewPaper(src, cfg.Market.PaperSlippageBps)
		logger.Infof("✓ 纸面通道就绪(滑点 %.1f bps)", cfg.Market.PaperSlippageBps)
	}

	// 行情与下单共享同一个限流器,对外部接口只保留一份预算。
	limiter := ratelimit.New("market",
		cfg.Market.RateLimitPerSecond,
		cfg.Market.RateLimitBurst,
		cfg.Market.RateLimitMaxWait())

	// 状态变更回调由引擎统一挂接,这里只负责组装。
	guarded := broker.NewGuarded(inner, limiter,
		circuit.NewBreaker("quotes", cfg.Market.CircuitBreakerThreshold, cfg.Market.BreakerCooldown()),
		circuit.NewBreaker("entries", cfg.Market.CircuitBreakerThreshold, cfg.Market.BreakerCooldown()),
		circuit.NewBreaker("exits", cfg.Market.CircuitBreakerThreshold, cfg.Market.BreakerCooldown()))

	return &MarketStack{
		Source:  src,
		Broker:  guarded,
		Quotes:  cache.NewQuoteCache(cfg.Market.CacheCapacity, cfg.Market.CacheTTL()),
		Limiter: limiter,
	}, nil
}
