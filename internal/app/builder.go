package app

import (
	"context"
	"fmt"

	"quorum/internal/config"
	"quorum/internal/decision"
	"quorum/internal/engine"
	"quorum/internal/exitscore"
	"quorum/internal/gateway/notifier"
	"quorum/internal/ledger"
	"quorum/internal/ledger/snapshot"
	"quorum/internal/logger"
	"quorum/internal/report"
	"quorum/internal/risk"
	"quorum/internal/strategy"
	"quorum/internal/strategy/pack"
	opshttp "quorum/internal/transport/http/ops"
)

type AppBuilder struct {
	cfg *config.Config

	marketStackFn func(context.Context, *config.Config) (*MarketStack, error)
	storesFn      func(config.StoreConfig) (*StoreStack, error)
	notifierFn    func(config.NotifyConfig) notifier.TextNotifier
	opsServerFn   func(*config.Config, *opshttp.Router) (*opshttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		marketStackFn: buildMarketStack,
		storesFn:      buildStores,
		notifierFn:    newTelegram,
		opsServerFn:   buildOpsServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	sectors, err := config.LoadSectorMap(cfg.Risk.SectorMapPath)
	if err != nil {
		return nil, fmt.Errorf("加载板块映射失败: %w", err)
	}
	if len(sectors) > 0 {
		logger.Infof("✓ 板块映射已加载: %d 个标的", len(sectors))
	}

	packReg, err := pack.NewRegistry(cfg.Signals.PackPath)
	if err != nil {
		return nil, fmt.Errorf("加载策略 pack 失败: %w", err)
	}
	snap := packReg.Snapshot()
	strategies := strategy.NewRegistry()
	strategies.Replace(snap.Strategies)
	agg := decision.NewAggregator(snap.Weights)
	packReg.OnChange(func(s pack.Snapshot) {
		strategies.Replace(s.Strategies)
		agg.SetWeights(s.Weights)
		logger.Infof("策略 pack 热更新完成: version=%d 启用 %d 个策略", s.Version, len(s.Strategies))
	})
	logger.Infof("✓ 已加载 %d 个策略", len(snap.Strategies))

	book := ledger.New(cfg.Portfolio.Capital)
	restored, positions, err := restoreLedger(cfg.Portfolio, book)
	if err != nil {
		return nil, err
	}

	textNotifier := b.notifierFn(cfg.Notify)

	snapshots, err := snapshot.NewManager(book, snapshot.Config{
		Path:         cfg.Portfolio.SnapshotPath,
		FallbackPath: cfg.Portfolio.SnapshotFallbackPath,
		MinInterval:  cfg.Portfolio.PersistMinInterval(),
	}, func(msg string) {
		if textNotifier == nil {
			return
		}
		if err := textNotifier.SendText("⚠️ " + msg); err != nil {
			logger.Warnf("快照告警推送失败: %v", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("初始化快照管理器失败: %w", err)
	}

	stack, err := b.marketStackFn(ctx, cfg)
	if err != nil {
		return nil, err
	}

	stores, err := b.storesFn(cfg.Store)
	if err != nil {
		return nil, err
	}

	riskEngine := risk.NewEngine(risk.Config{
		Mode:                     risk.Mode(cfg.App.Mode),
		ConfidenceFloor:          cfg.Risk.ConfidenceFloor,
		RiskPerTradePct:          cfg.Risk.RiskPerTradePct,
		MinPositionPct:           cfg.Risk.MinPositionPct,
		MaxPositionPct:           cfg.Risk.MaxPositionPct,
		MaxOpenPositions:         cfg.Risk.MaxOpenPositions,
		MaxTradesPerSymbolPerDay: cfg.Risk.MaxTradesPerSymbolPerDay,
		MaxSectorExposure:        cfg.Risk.MaxSectorExposure,
		MaxDailyLoss:             cfg.Risk.MaxDailyLoss,
	})

	exits := exitscore.NewEngine(exitscore.Config{
		Threshold:       cfg.Exit.ExitScoreThreshold,
		HighTarget:      cfg.Exit.HighTarget,
		LowTarget:       cfg.Exit.LowTarget,
		PctTarget:       cfg.Exit.TakeProfitPct,
		PctHardTarget:   cfg.Exit.HardTakeProfitPct,
		GivebackSoft:    cfg.Exit.GivebackSoft,
		GivebackHard:    cfg.Exit.GivebackHard,
		SoftStopPct:     cfg.Exit.StopLossPct,
		HardStopPct:     cfg.Exit.HardStopLossPct,
		GracePeriod:     cfg.Exit.GracePeriod(),
		StagnationAfter: cfg.Exit.StagnationAfter(),
		StagnationBand:  cfg.Exit.StagnationBand,
		DecayWindow:     cfg.Exit.DecayWindow(),
		Fees: exitscore.FeeModel{
			BrokerageRate:   cfg.Exit.Fees.BrokerageRate,
			BrokerageCap:    cfg.Exit.Fees.BrokerageCap,
			TransactionRate: cfg.Exit.Fees.TransactionRate,
			TaxRate:         cfg.Exit.Fees.TaxRate,
			LevyRate:        cfg.Exit.Fees.LevyRate,
		},
	})

	reports, err := report.NewBuilder(report.Config{
		OutDir:    cfg.Report.OutDir,
		RenderPNG: cfg.Report.RenderPNG,
		Capital:   cfg.Portfolio.Capital,
	}, stores.Trades)
	if err != nil {
		return nil, fmt.Errorf("初始化报告生成器失败: %w", err)
	}

	eng, err := engine.New(engine.Params{
		Config: engine.Config{
			Symbols:           cfg.Engine.Symbols,
			Sectors:           sectors,
			Interval:          cfg.Engine.Interval(),
			IntervalFloor:     cfg.Engine.IntervalFloor(),
			RunImmediately:    cfg.Engine.RunImmediately,
			MaxCycles:         cfg.Engine.MaxCycles,
			MaxOpensPerCycle:  cfg.Engine.MaxOpensPerCycle,
			ErrorBudget:       cfg.Engine.ErrorBudgetPerCycle,
			MaxHold:           cfg.Engine.MaxHold(),
			StaleLimit:        cfg.Engine.StaleLimit(),
			StaleCycleAlert:   cfg.Engine.StaleCycleAlert,
			HistoryInterval:   cfg.Engine.HistoryInterval,
			HistoryBars:       cfg.Engine.HistoryBars,
			VolatilityPeriod:  cfg.Engine.VolatilityPeriod,
			VolatilityHighPct: cfg.Engine.VolatilityHighPct,
		},
		Market:     stack.Source,
		Broker:     stack.Broker,
		Book:       book,
		Strategies: strategies,
		Aggregator: agg,
		Thresholds: decision.Thresholds{
			Entry: cfg.Signals.MinAgreementEntry,
			Exit:  cfg.Signals.MinAgreementExit,
		},
		Risk:     riskEngine,
		Exits:    exits,
		Quotes:   stack.Quotes,
		Limiter:  stack.Limiter,
		Trades:   stores.Trades,
		Audit:    stores.Audit,
		Notifier: textNotifier,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化决策引擎失败: %w", err)
	}

	opsServer, err := b.opsServerFn(cfg, &opshttp.Router{
		Book:    book,
		Trades:  stores.Trades,
		Audit:   stores.Audit,
		Pack:    packReg,
		Broker:  stack.Broker,
		Reports: reports,
		Cycles:  eng,
	})
	if err != nil {
		return nil, err
	}

	strategySummaries := make([]StrategySummary, 0, len(snap.Strategies))
	for _, st := range snap.Strategies {
		strategySummaries = append(strategySummaries, StrategySummary{ID: st.ID(), Weight: snap.Weights[st.ID()]})
	}

	return &App{
		cfg:       cfg,
		engine:    eng,
		ops:       opsServer,
		snapshots: snapshots,
		market:    stack.Source,
		trades:    stores.Trades,
		audit:     stores.Audit,
		packReg:   packReg,
		Summary: &StartupSummary{
			Mode:       cfg.App.Mode,
			HTTPAddr:   cfg.App.HTTPAddr,
			Symbols:    cfg.Engine.Symbols,
			Interval:   cfg.Engine.Interval(),
			MaxCycles:  cfg.Engine.MaxCycles,
			Strategies: strategySummaries,
			Risk: RiskSummary{
				Floor:            riskEngine.Floor(),
				MaxOpenPositions: cfg.Risk.MaxOpenPositions,
				RiskPerTradePct:  cfg.Risk.RiskPerTradePct,
				MaxPositionPct:   cfg.Risk.MaxPositionPct,
			},
			Exit: ExitSummary{
				Threshold:   cfg.Exit.ExitScoreThreshold,
				GracePeriod: cfg.Exit.GracePeriod(),
				MaxHold:     cfg.Engine.MaxHold(),
			},
			SnapshotPath: cfg.Portfolio.SnapshotPath,
			Restored:     restored,
			Positions:    positions,
		},
	}, nil
}

// restoreLedger 按快照恢复台账。主快照损坏时拒绝启动,缺失时尝试降级路径,
// 两处都没有就按初始资金空账起步。
func restoreLedger(cfg config.PortfolioConfig, book *ledger.Ledger) (restored bool, positions int, err error) {
	st, found, err := snapshot.Load(cfg.SnapshotPath)
	if err != nil {
		if found {
			return false, 0, fmt.Errorf("台账快照损坏,拒绝启动: %w", err)
		}
		return false, 0, fmt.Errorf("读取台账快照失败: %w", err)
	}
	if !found && cfg.SnapshotFallbackPath != "" {
		st, found, err = snapshot.Load(cfg.SnapshotFallbackPath)
		if err != nil {
			return false, 0, fmt.Errorf("台账降级快照损坏,拒绝启动: %w", err)
		}
		if found {
			logger.Warnf("主快照缺失,从降级路径恢复: %s", cfg.SnapshotFallbackPath)
		}
	}
	if !found {
		logger.Infof("未发现台账快照,以初始资金 %.2f 空账启动", cfg.Capital)
		return false, 0, nil
	}
	if err := book.Restore(st); err != nil {
		return false, 0, fmt.Errorf("恢复台账失败: %w", err)
	}
	logger.Infof("✓ 台账已从快照恢复: 持仓 %d 现金 %.2f", len(st.Positions), st.Cash)
	return true, len(st.Positions), nil
}

func WithMarketStack(fn func(context.Context, *config.Config) (*MarketStack, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.marketStackFn = fn
		}
	}
}

func WithStores(fn func(config.StoreConfig) (*StoreStack, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.storesFn = fn
		}
	}
}

func WithNotifier(fn func(config.NotifyConfig) notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.notifierFn = fn
		}
	}
}

func WithOpsServer(fn func(*config.Config, *opshttp.Router) (*opshttp.Server, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.opsServerFn = fn
		}
	}
}
