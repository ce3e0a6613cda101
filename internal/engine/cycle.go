package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	talib "github.com/markcheno/go-talib"
	"golang.org/x/sync/errgroup"

	"quorum/internal/decision"
	"quorum/internal/logger"
	"quorum/internal/market"
	"quorum/internal/strategy"
)

// symbolState 是感知阶段对单个标的的快照,后续离场/进场阶段只读。
type symbolState struct {
	symbol   string
	sector   string
	quote    market.Quote
	fresh    bool
	quoteErr error
	window   market.Window
	histErr  error
	signals  map[string]strategy.Signal
	agg      decision.AggregatedSignal
	aggErr   error
	highVol  bool
}

// senseAll 并行采集全部标的:报价、K 线、策略信号与共识。
// 采集范围是配置标的与在持标的的并集,快照恢复出来的持仓
// 即便已从配置中移除,离场通道也要继续照看它。
func (e *Engine) senseAll(ctx context.Context, errCount *atomic.Int32) map[string]*symbolState {
	symbols := append([]string(nil), e.symbols...)
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		seen[s] = struct{}{}
	}
	for _, pos := range e.book.ActivePositions() {
		if _, ok := seen[pos.Symbol]; !ok {
			seen[pos.Symbol] = struct{}{}
			symbols = append(symbols, pos.Symbol)
		}
	}
	sort.Strings(symbols)

	states := make(map[string]*symbolState, len(symbols))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, sym := range symbols {
		g.Go(func() error {
			st := e.senseSymbol(gctx, sym, errCount)
			mu.Lock()
			states[sym] = st
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return states
}

func (e *Engine) senseSymbol(ctx context.Context, symbol string, errCount *atomic.Int32) *symbolState {
	st := &symbolState{symbol: symbol, sector: e.sectorFor(symbol)}
	now := e.nowFn()

	st.quote, st.quoteErr = e.fetchQuote(ctx, symbol)
	if st.quoteErr != nil {
		errCount.Add(1)
		logger.Warnf("获取报价失败 %s: %v", symbol, st.quoteErr)
	} else {
		st.fresh = st.quote.Fresh(now, e.cfg.StaleLimit)
	}

	st.window, st.histErr = e.fetchHistory(ctx, symbol, st.quote)
	if st.histErr != nil {
		errCount.Add(1)
		logger.Warnf("获取历史 K 线失败 %s: %v", symbol, st.histErr)
		return st
	}
	st.highVol = e.highVolatility(st.window)

	st.signals = e.evaluateStrategies(ctx, symbol, st.window, errCount)
	if len(st.signals) == 0 {
		return st
	}
	st.agg, st.aggErr = e.agg.Aggregate(symbol, st.signals)
	if st.aggErr != nil {
		errCount.Add(1)
		logger.Warnf("信号聚合失败 %s: %v", symbol, st.aggErr)
	}
	return st
}

func (e *Engine) sectorFor(symbol string) string {
	if s, ok := e.cfg.Sectors[symbol]; ok && strings.TrimSpace(s) != "" {
		return s
	}
	return "unclassified"
}

// fetchQuote 先查缓存,未命中再走防护通道并回填。
func (e *Engine) fetchQuote(ctx context.Context, symbol string) (market.Quote, error) {
	if q, ok := e.quotes.Get(symbol); ok {
		return q, nil
	}
	q, err := e.broker.GetQuote(ctx, symbol)
	if err != nil {
		return market.Quote{}, err
	}
	e.quotes.Put(symbol, q)
	return q, nil
}

// fetchHistory 共享下单通道的限流预算,避免行情拉取挤占下单配额。
func (e *Engine) fetchHistory(ctx context.Context, symbol string, last market.Quote) (market.Window, error) {
	if e.limiter != nil {
		if err := e.limiter.Acquire(ctx); err != nil {
			return market.Window{}, err
		}
	}
	candles, err := e.market.FetchHistory(ctx, symbol, e.cfg.HistoryInterval, e.cfg.HistoryBars)
	if err != nil {
		return market.Window{}, err
	}
	return market.Window{
		Symbol:   symbol,
		Interval: e.cfg.HistoryInterval,
		Candles:  candles,
		Last:     last,
	}, nil
}

// highVolatility 用 ATR 占最新收盘价的比例判定高波动状态。
func (e *Engine) highVolatility(win market.Window) bool {
	candles := win.Candles
	if len(candles) <= e.cfg.VolatilityPeriod {
		return false
	}
	atr := talib.Atr(market.Highs(candles), market.Lows(candles), market.Closes(candles), e.cfg.VolatilityPeriod)
	if len(atr) == 0 {
		return false
	}
	lastClose := candles[len(candles)-1].Close
	if lastClose <= 0 {
		return false
	}
	return atr[len(atr)-1]/lastClose >= e.cfg.VolatilityHighPct
}

func (e *Engine) evaluateStrategies(ctx context.Context, symbol string, win market.Window, errCount *atomic.Int32) map[string]strategy.Signal {
	all := e.strategies.All()
	signals := make(map[string]strategy.Signal, len(all))
	for _, s := range all {
		sig, err := safeEvaluate(ctx, s, symbol, win)
		if err != nil {
			errCount.Add(1)
			logger.Warnf("策略 %s 评估 %s 失败: %v", s.ID(), symbol, err)
			continue
		}
		signals[s.ID()] = sig
	}
	return signals
}

// safeEvaluate 把策略的 panic 折算成普通错误,坏策略拖不垮主循环。
func safeEvaluate(ctx context.Context, s strategy.Strategy, symbol string, win market.Window) (sig strategy.Signal, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("策略 panic: %v", r)
		}
	}()
	return s.Evaluate(ctx, symbol, win)
}

// trendFor 给出止损豁免用的趋势方向。逆向票一旦达到离场评估门槛,
// 趋势豁免即告撤销,软止损按无趋势处理。
func (e *Engine) trendFor(st *symbolState, side strategy.Direction) strategy.Direction {
	if st == nil || st.aggErr != nil || len(st.signals) == 0 {
		return strategy.Hold
	}
	if e.thresholds.ExitTriggered(st.agg, side) {
		return strategy.Hold
	}
	return st.agg.Consensus
}

// staleness 描述一次跳过的原因,用于日志与审计。
func staleness(st *symbolState, limit time.Duration) string {
	switch {
	case st == nil:
		return "本轮未采集到行情"
	case st.quoteErr != nil:
		return fmt.Sprintf("报价获取失败: %v", st.quoteErr)
	default:
		return fmt.Sprintf("报价时间 %s 超过时限 %s", st.quote.At.Format(time.RFC3339), limit)
	}
}
