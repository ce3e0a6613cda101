package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quorum/internal/apperr"
	"quorum/internal/logger"
	"quorum/internal/market"
	"quorum/internal/pkg/circuit"
	"quorum/internal/pkg/ratelimit"
)

// Guarded 给任意 Broker 套上限流与熔断。三类外呼各有一台熔断器:
// 报价、开仓单、平仓单。平仓是更高优先级的通道,开仓熔断器打开时
// 平仓照常放行,反过来也一样。
type Guarded struct {
	inner   Broker
	limiter *ratelimit.Limiter
	quotes  *circuit.Breaker
	entries *circuit.Breaker
	exits   *circuit.Breaker

	maxAttempts int
	retryWait   time.Duration
}

func NewGuarded(inner Broker, limiter *ratelimit.Limiter, quotes, entries, exits *circuit.Breaker) *Guarded {
	return &Guarded{
		inner:       inner,
		limiter:     limiter,
		quotes:      quotes,
		entries:     entries,
		exits:       exits,
		maxAttempts: 3,
		retryWait:   200 * time.Millisecond,
	}
}

func (g *Guarded) Name() string { return g.inner.Name() }

// EntryBreaker 暴露开仓熔断器,决策循环在错误预算耗尽时向它记失败。
func (g *Guarded) EntryBreaker() *circuit.Breaker { return g.entries }

func (g *Guarded) ExitBreaker() *circuit.Breaker { return g.exits }

func (g *Guarded) QuoteBreaker() *circuit.Breaker { return g.quotes }

func (g *Guarded) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	if !g.quotes.Allow() {
		return market.Quote{}, fmt.Errorf("%w: %s", apperr.ErrCircuitOpen, g.quotes.Name())
	}
	if err := g.limiter.Acquire(ctx); err != nil {
		return market.Quote{}, err
	}
	q, err := g.inner.GetQuote(ctx, symbol)
	if err != nil {
		g.quotes.RecordFailure()
		return market.Quote{}, err
	}
	g.quotes.RecordSuccess()
	return q, nil
}

// PlaceOrder 带有限次重试地下单。限流超时与 ctx 取消立即上抛留给
// 下个周期;其余错误按次数重试,耗尽后包装为 OrderRejected。
func (g *Guarded) PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	br := g.entries
	if req.Exit {
		br = g.exits
	}
	if !br.Allow() {
		return Fill{}, fmt.Errorf("%w: %s", apperr.ErrCircuitOpen, br.Name())
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := g.limiter.Acquire(ctx); err != nil {
			return Fill{}, err
		}
		fill, err := g.inner.PlaceOrder(ctx, req)
		if err == nil {
			br.RecordSuccess()
			return fill, nil
		}
		br.RecordFailure()
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || apperr.IsValidation(err) {
			break
		}
		if attempt < g.maxAttempts {
			logger.Warnf("下单 %s 第 %d/%d 次失败: %v", req.Symbol, attempt, g.maxAttempts, err)
			if !sleepCtx(ctx, time.Duration(attempt)*g.retryWait) {
				break
			}
		}
	}
	return Fill{}, fmt.Errorf("%w: %s: %v", apperr.ErrOrderRejected, req.Symbol, lastErr)
}

func (g *Guarded) CancelOrder(ctx context.Context, symbol, orderID string) error {
	// 撤单与平仓同属风险收敛动作,共用平仓熔断器
	if !g.exits.Allow() {
		return fmt.Errorf("%w: %s", apperr.ErrCircuitOpen, g.exits.Name())
	}
	if err := g.limiter.Acquire(ctx); err != nil {
		return err
	}
	if err := g.inner.CancelOrder(ctx, symbol, orderID); err != nil {
		g.exits.RecordFailure()
		return err
	}
	g.exits.RecordSuccess()
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
