// Package engine 驱动决策主循环:对齐周期调度、并行感知、先离场后进场的
// 串行执行段,以及错误预算与熔断的闭环。循环永远有界,要么跑满配置的
// 最大轮次,要么在停机信号上收尾退出。
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"quorum/internal/decision"
	"quorum/internal/exitscore"
	"quorum/internal/gateway/broker"
	"quorum/internal/gateway/notifier"
	"quorum/internal/ledger"
	"quorum/internal/logger"
	"quorum/internal/market"
	"quorum/internal/market/cache"
	"quorum/internal/pkg/circuit"
	"quorum/internal/pkg/ratelimit"
	"quorum/internal/risk"
	"quorum/internal/scheduler"
	"quorum/internal/store/auditlog"
	"quorum/internal/store/tradelog"
	"quorum/internal/strategy"
)

type Config struct {
	Symbols        []string
	Sectors        map[string]string
	Interval       time.Duration
	IntervalFloor  time.Duration
	RunImmediately bool

	// MaxCycles <= 0 表示只受停机信号约束。
	MaxCycles        int64
	MaxOpensPerCycle int
	ErrorBudget      int

	// MaxHold > 0 时新开持仓带上到期时间,时间衰竭规则据此评分。
	MaxHold time.Duration

	StaleLimit      time.Duration
	StaleCycleAlert int

	HistoryInterval string
	HistoryBars     int

	VolatilityPeriod  int
	VolatilityHighPct float64
}

func (c Config) withDefaults() Config {
	out := c
	if out.Interval <= 0 {
		out.Interval = time.Minute
	}
	if out.IntervalFloor <= 0 {
		out.IntervalFloor = 10 * time.Second
	}
	if out.ErrorBudget <= 0 {
		out.ErrorBudget = 5
	}
	if out.StaleLimit <= 0 {
		out.StaleLimit = 30 * time.Second
	}
	if out.StaleCycleAlert <= 0 {
		out.StaleCycleAlert = 3
	}
	if strings.TrimSpace(out.HistoryInterval) == "" {
		out.HistoryInterval = "5m"
	}
	if out.HistoryBars <= 0 {
		out.HistoryBars = 120
	}
	if out.VolatilityPeriod <= 0 {
		out.VolatilityPeriod = 14
	}
	if out.VolatilityHighPct <= 0 {
		out.VolatilityHighPct = 0.03
	}
	return out
}

type Params struct {
	Config     Config
	Market     market.Source
	Broker     *broker.Guarded
	Book       *ledger.Ledger
	Strategies *strategy.Registry
	Aggregator *decision.Aggregator
	Thresholds decision.Thresholds
	Risk       *risk.Engine
	Exits      *exitscore.Engine

	// 可选依赖,缺省时对应功能静默关闭。
	Quotes   *cache.QuoteCache
	Limiter  *ratelimit.Limiter
	Trades   *tradelog.Store
	Audit    *auditlog.Store
	Notifier notifier.TextNotifier
}

type Engine struct {
	cfg        Config
	symbols    []string
	market     market.Source
	broker     *broker.Guarded
	book       *ledger.Ledger
	strategies *strategy.Registry
	agg        *decision.Aggregator
	thresholds decision.Thresholds
	risk       *risk.Engine
	exits      *exitscore.Engine
	quotes     *cache.QuoteCache
	limiter    *ratelimit.Limiter
	trades     *tradelog.Store
	auditStore *auditlog.Store
	notifier   notifier.TextNotifier

	cycle atomic.Int64
	nowFn func() time.Time
}

func New(p Params) (*Engine, error) {
	switch {
	case p.Market == nil:
		return nil, fmt.Errorf("engine: 行情源未配置")
	case p.Broker == nil:
		return nil, fmt.Errorf("engine: 券商通道未配置")
	case p.Book == nil:
		return nil, fmt.Errorf("engine: 账本未配置")
	case p.Strategies == nil:
		return nil, fmt.Errorf("engine: 策略注册表未配置")
	case p.Aggregator == nil:
		return nil, fmt.Errorf("engine: 信号聚合器未配置")
	case p.Risk == nil:
		return nil, fmt.Errorf("engine: 风控引擎未配置")
	case p.Exits == nil:
		return nil, fmt.Errorf("engine: 离场评分引擎未配置")
	}
	cfg := p.Config.withDefaults()
	quotes := p.Quotes
	if quotes == nil {
		quotes = cache.NewQuoteCache(1024, cfg.StaleLimit)
	}
	return &Engine{
		cfg:        cfg,
		symbols:    normalizeSymbols(cfg.Symbols),
		market:     p.Market,
		broker:     p.Broker,
		book:       p.Book,
		strategies: p.Strategies,
		agg:        p.Aggregator,
		thresholds: p.Thresholds,
		risk:       p.Risk,
		exits:      p.Exits,
		quotes:     quotes,
		limiter:    p.Limiter,
		trades:     p.Trades,
		auditStore: p.Audit,
		notifier:   p.Notifier,
		nowFn:      time.Now,
	}, nil
}

func normalizeSymbols(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, sym := range in {
		s := strings.ToUpper(strings.TrimSpace(sym))
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Cycle 返回已执行的周期数。
func (e *Engine) Cycle() int64 { return e.cycle.Load() }

// Run 启动决策循环,阻塞到最大轮次耗尽或 ctx 取消。
// 在途周期总是执行完毕才退出,落盘由快照管理器在同一信号上收尾。
func (e *Engine) Run(ctx context.Context) error {
	if len(e.symbols) == 0 {
		logger.Warnf("engine: 没有配置标的,循环空转直至停机")
		<-ctx.Done()
		return ctx.Err()
	}
	e.watchBreakers()

	logger.Infof("engine: 启动 symbols=%d interval=%s max_cycles=%d", len(e.symbols), e.cfg.Interval, e.cfg.MaxCycles)

	sched := scheduler.NewCycleScheduler(ctx, e.cfg.Interval, e.cfg.IntervalFloor)
	sched.RunImmediately = e.cfg.RunImmediately
	sched.Start(func() bool {
		n := e.cycle.Add(1)
		e.RunCycle(ctx, n)
		if ctx.Err() != nil {
			return false
		}
		if e.cfg.MaxCycles > 0 && n >= e.cfg.MaxCycles {
			logger.Infof("engine: 达到最大轮次 %d,停止", e.cfg.MaxCycles)
			return false
		}
		return true
	})
	return ctx.Err()
}

// RunCycle 执行一个完整决策周期:并行感知全部标的,先处理离场,再评估进场。
// 周期内任何失败只记数,超出预算时暂停本轮开仓并向熔断器报告。
func (e *Engine) RunCycle(ctx context.Context, cycle int64) {
	start := e.nowFn()
	traceID := uuid.NewString()
	var errCount atomic.Int32

	states := e.senseAll(ctx, &errCount)

	closed := e.exitPass(ctx, traceID, cycle, states, &errCount)

	opened := 0
	if errs := int(errCount.Load()); errs > e.cfg.ErrorBudget {
		logger.Errorf("engine: cycle=%d 错误数 %d 超出预算 %d,本轮暂停开仓", cycle, errs, e.cfg.ErrorBudget)
		e.broker.EntryBreaker().RecordFailure()
		e.audit(ctx, auditlog.Entry{
			TraceID: traceID, Cycle: cycle, Kind: auditlog.KindBreaker,
			Summary: fmt.Sprintf("周期错误数 %d 超出预算 %d", errs, e.cfg.ErrorBudget),
		})
	} else {
		opened = e.entryPass(ctx, traceID, cycle, states, &errCount)
		// 健康周期清零失败计数;HALF_OPEN 的试探权留给真实下单
		if e.broker.EntryBreaker().State() == circuit.StateClosed {
			e.broker.EntryBreaker().RecordSuccess()
		}
	}

	logger.Infof("engine: cycle=%d trace=%s symbols=%d closed=%d opened=%d errors=%d duration=%s",
		cycle, traceID, len(states), closed, opened, errCount.Load(), time.Since(start).Truncate(time.Millisecond))
}

// watchBreakers 把三个熔断器的状态迁移接到日志、审计与推送上。
// 回调由熔断器异步派发,审计不挂在循环的 ctx 上,停机尾声的状态
// 变更也要落档。
func (e *Engine) watchBreakers() {
	hook := func(name string, from, to circuit.State) {
		logger.Warnf("熔断状态变更 %s: %s -> %s", name, from, to)
		e.audit(context.Background(), auditlog.Entry{
			Kind:    auditlog.KindBreaker,
			Summary: fmt.Sprintf("%s: %s -> %s", name, from, to),
		})
		if to == circuit.StateOpen || to == circuit.StateClosed {
			notifier.Notify(e.notifier, "breaker", breakerMessage(name, from, to, e.nowFn()))
		}
	}
	e.broker.EntryBreaker().SetStateChangeHandler(hook)
	e.broker.ExitBreaker().SetStateChangeHandler(hook)
	e.broker.QuoteBreaker().SetStateChangeHandler(hook)
}

func (e *Engine) audit(ctx context.Context, entry auditlog.Entry) {
	if e.auditStore == nil {
		return
	}
	if err := e.auditStore.Append(ctx, entry); err != nil {
		logger.Warnf("审计写入失败: %v", err)
	}
}
