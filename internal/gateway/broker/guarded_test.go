package broker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/apperr"
	"quorum/internal/market"
	"quorum/internal/pkg/circuit"
	"quorum/internal/pkg/ratelimit"
	"quorum/internal/strategy"
)

// scriptedBroker 按脚本失败若干次后成功,-1 表示永远失败。
type scriptedBroker struct {
	failuresLeft int32
	calls        int32
	err          error
}

func (s *scriptedBroker) Name() string { return "scripted" }

func (s *scriptedBroker) GetQuote(_ context.Context, symbol string) (market.Quote, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.takeFailure() {
		return market.Quote{}, s.failErr()
	}
	return market.Quote{Symbol: symbol, Price: 100, At: time.Now()}, nil
}

func (s *scriptedBroker) PlaceOrder(_ context.Context, req OrderRequest) (Fill, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.takeFailure() {
		return Fill{}, s.failErr()
	}
	return Fill{OrderID: "ord-1", Symbol: req.Symbol, Price: req.Price, Quantity: req.Quantity, At: time.Now()}, nil
}

func (s *scriptedBroker) CancelOrder(context.Context, string, string) error {
	atomic.AddInt32(&s.calls, 1)
	if s.takeFailure() {
		return s.failErr()
	}
	return nil
}

func (s *scriptedBroker) takeFailure() bool {
	left := atomic.LoadInt32(&s.failuresLeft)
	if left == 0 {
		return false
	}
	if left > 0 {
		atomic.AddInt32(&s.failuresLeft, -1)
	}
	return true
}

func (s *scriptedBroker) failErr() error {
	if s.err != nil {
		return s.err
	}
	return errors.New("scripted failure")
}

func looseLimiter() *ratelimit.Limiter {
	return ratelimit.New("test", 10_000, 1_000, time.Second)
}

func newGuarded(inner Broker) *Guarded {
	g := NewGuarded(inner, looseLimiter(),
		circuit.NewBreaker("quotes", 5, time.Minute),
		circuit.NewBreaker("entries", 5, time.Minute),
		circuit.NewBreaker("exits", 5, time.Minute))
	g.retryWait = time.Millisecond
	return g
}

func TestExitsBypassOpenEntryBreaker(t *testing.T) {
	inner := &scriptedBroker{}
	g := NewGuarded(inner, looseLimiter(),
		circuit.NewBreaker("quotes", 1, time.Minute),
		circuit.NewBreaker("entries", 1, time.Minute),
		circuit.NewBreaker("exits", 1, time.Minute))

	g.EntryBreaker().RecordFailure() // 开仓熔断器打开

	_, err := g.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: strategy.Buy, Quantity: 1, Price: 100})
	assert.True(t, apperr.IsCircuitOpen(err), "开仓应被熔断")

	fill, err := g.PlaceOrder(context.Background(), OrderRequest{Symbol: "BTCUSDT", Side: strategy.Sell, Quantity: 1, Price: 100, Exit: true})
	require.NoError(t, err, "平仓走独立熔断器,不受开仓熔断影响")
	assert.Equal(t, "ord-1", fill.OrderID)
}

func TestPlaceOrderRetriesBounded(t *testing.T) {
	t.Run("两败一胜", func(t *testing.T) {
		inner := &scriptedBroker{failuresLeft: 2}
		g := newGuarded(inner)
		fill, err := g.PlaceOrder(context.Background(), OrderRequest{Symbol: "ETHUSDT", Side: strategy.Buy, Quantity: 2, Price: 2_500})
		require.NoError(t, err)
		assert.Equal(t, int32(3), atomic.LoadInt32(&inner.calls))
		assert.InDelta(t, 2_500, fill.Price, 1e-9)
	})

	t.Run("耗尽重试归为拒单", func(t *testing.T) {
		inner := &scriptedBroker{failuresLeft: -1}
		g := newGuarded(inner)
		_, err := g.PlaceOrder(context.Background(), OrderRequest{Symbol: "ETHUSDT", Side: strategy.Buy, Quantity: 2, Price: 2_500})
		assert.ErrorIs(t, err, apperr.ErrOrderRejected)
		assert.Equal(t, int32(3), atomic.LoadInt32(&inner.calls), "重试必须有界")
		assert.Equal(t, 3, g.EntryBreaker().Failures())
	})

	t.Run("参数错误不重试", func(t *testing.T) {
		inner := &scriptedBroker{failuresLeft: -1, err: apperr.Validationf("bad qty")}
		g := newGuarded(inner)
		_, err := g.PlaceOrder(context.Background(), OrderRequest{Symbol: "ETHUSDT", Side: strategy.Buy, Quantity: 2, Price: 2_500})
		assert.ErrorIs(t, err, apperr.ErrOrderRejected)
		assert.Equal(t, int32(1), atomic.LoadInt32(&inner.calls))
	})
}

func TestQuoteFailuresTripOnlyQuoteBreaker(t *testing.T) {
	inner := &scriptedBroker{failuresLeft: -1}
	g := newGuarded(inner)
	for i := 0; i < 5; i++ {
		_, err := g.GetQuote(context.Background(), "BTCUSDT")
		require.Error(t, err)
	}
	assert.Equal(t, circuit.StateOpen, g.QuoteBreaker().State())
	assert.Equal(t, circuit.StateClosed, g.EntryBreaker().State())
	assert.Equal(t, circuit.StateClosed, g.ExitBreaker().State())

	_, err := g.GetQuote(context.Background(), "BTCUSDT")
	assert.True(t, apperr.IsCircuitOpen(err))
}

func TestRateLimitSurfacesImmediately(t *testing.T) {
	inner := &scriptedBroker{}
	g := NewGuarded(inner, ratelimit.New("tight", 1, 1, 20*time.Millisecond),
		circuit.NewBreaker("quotes", 5, time.Minute),
		circuit.NewBreaker("entries", 5, time.Minute),
		circuit.NewBreaker("exits", 5, time.Minute))

	_, err := g.GetQuote(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	_, err = g.GetQuote(context.Background(), "BTCUSDT")
	assert.True(t, apperr.IsRateLimit(err), "限流超时原样上抛,不落熔断计数")
	assert.Equal(t, 0, g.QuoteBreaker().Failures())
}
