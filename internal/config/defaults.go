package config

import "strings"

// 运行模式取值。
const (
	ModePaper = "paper"
	ModeLive  = "live"
)

// 默认值常量
const (
	defaultAppEnv      = "dev"
	defaultAppMode     = ModePaper
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9991"
	defaultAppLogPath  = "/data/logs/quorum-live.log"

	defaultEngineInterval     = 60
	defaultEngineFloor        = 10
	defaultEngineMaxOpens     = 2
	defaultEngineErrorBudget  = 5
	defaultEngineStaleSeconds = 30
	defaultEngineStaleAlert   = 3
	defaultEngineHistoryIntv  = "5m"
	defaultEngineHistoryBars  = 120
	defaultEngineVolPeriod    = 14
	defaultEngineVolHighPct   = 0.03

	defaultMarketREST        = "https://fapi.binance.com"
	defaultMarketHTTPTimeout = 15
	defaultMarketCacheCap    = 1024
	defaultMarketCacheTTL    = 30
	defaultMarketRate        = 8
	defaultMarketBurst       = 16
	defaultMarketMaxWait     = 10
	defaultMarketCBThreshold = 5
	defaultMarketCBCooldown  = 60

	defaultSignalsEntry    = 0.40
	defaultSignalsPackPath = "configs/strategies.yaml"

	defaultRiskPerTradePct = 0.02
	defaultRiskMinPosPct   = 0.01
	defaultRiskMaxPosPct   = 0.10
	defaultRiskMaxOpen     = 10
	defaultRiskSectorMap   = "configs/sectors.yaml"

	defaultExitThreshold       = 60
	defaultExitHighTarget      = 5000
	defaultExitLowTarget       = 2000
	defaultExitTakeProfit      = 0.25
	defaultExitHardTakeProfit  = 0.40
	defaultExitGivebackSoft    = 0.30
	defaultExitGivebackHard    = 0.60
	defaultExitStopLoss        = 0.05
	defaultExitHardStopLoss    = 0.10
	defaultExitGraceMinutes    = 30
	defaultExitStagnationHours = 48
	defaultExitStagnationBand  = 0.005
	defaultExitDecayHours      = 72

	defaultPortfolioCapital  = 100_000
	defaultSnapshotPath      = "/data/live/portfolio.json"
	defaultSnapshotFallback  = "/data/live/portfolio.fallback.json"
	defaultPersistMinSeconds = 5

	defaultTradeLogPath  = "/data/live/trades.db"
	defaultAuditLogPath  = "/data/live/audit.db"
	defaultAuditKeepDays = 14

	defaultReportOutDir = "/data/reports"
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Engine.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Signals.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Exit.applyDefaults(keys)
	c.Portfolio.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Report.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.mode", &a.Mode, defaultAppMode),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
	a.Mode = strings.ToLower(strings.TrimSpace(a.Mode))
}

func (e *EngineConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "engine.cycle_interval_seconds",
			need:  func() bool { return e.CycleIntervalSeconds <= 0 },
			apply: func() { e.CycleIntervalSeconds = defaultEngineInterval },
		},
		fieldDefault{
			key:   "engine.interval_floor_seconds",
			need:  func() bool { return e.IntervalFloorSeconds <= 0 },
			apply: func() { e.IntervalFloorSeconds = defaultEngineFloor },
		},
		boolFieldDefault("engine.run_immediately", &e.RunImmediately, true),
		fieldDefault{
			key:   "engine.max_opens_per_cycle",
			need:  func() bool { return e.MaxOpensPerCycle <= 0 },
			apply: func() { e.MaxOpensPerCycle = defaultEngineMaxOpens },
		},
		fieldDefault{
			key:   "engine.error_budget_per_cycle",
			need:  func() bool { return e.ErrorBudgetPerCycle <= 0 },
			apply: func() { e.ErrorBudgetPerCycle = defaultEngineErrorBudget },
		},
		fieldDefault{
			key:   "engine.staleness_threshold_seconds",
			need:  func() bool { return e.StalenessThresholdSeconds <= 0 },
			apply: func() { e.StalenessThresholdSeconds = defaultEngineStaleSeconds },
		},
		fieldDefault{
			key:   "engine.stale_cycle_alert",
			need:  func() bool { return e.StaleCycleAlert <= 0 },
			apply: func() { e.StaleCycleAlert = defaultEngineStaleAlert },
		},
		stringFieldDefault("engine.history_interval", &e.HistoryInterval, defaultEngineHistoryIntv),
		fieldDefault{
			key:   "engine.history_bars",
			need:  func() bool { return e.HistoryBars <= 0 },
			apply: func() { e.HistoryBars = defaultEngineHistoryBars },
		},
		fieldDefault{
			key:   "engine.volatility_period",
			need:  func() bool { return e.VolatilityPeriod <= 0 },
			apply: func() { e.VolatilityPeriod = defaultEngineVolPeriod },
		},
		fieldDefault{
			key:   "engine.volatility_high_pct",
			need:  func() bool { return e.VolatilityHighPct <= 0 },
			apply: func() { e.VolatilityHighPct = defaultEngineVolHighPct },
		},
	)
	e.Symbols = normalizeSymbolList(e.Symbols)
	if e.MaxCycles < 0 {
		e.MaxCycles = 0
	}
	if e.MaxHoldMinutes < 0 {
		e.MaxHoldMinutes = 0
	}
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	m.Proxy.normalize()
	applyFieldDefaults(keys,
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		fieldDefault{
			key:   "market.http_timeout_seconds",
			need:  func() bool { return m.HTTPTimeoutSeconds <= 0 },
			apply: func() { m.HTTPTimeoutSeconds = defaultMarketHTTPTimeout },
		},
		fieldDefault{
			key:   "market.cache_capacity",
			need:  func() bool { return m.CacheCapacity <= 0 },
			apply: func() { m.CacheCapacity = defaultMarketCacheCap },
		},
		fieldDefault{
			key:   "market.cache_ttl_seconds",
			need:  func() bool { return m.CacheTTLSeconds <= 0 },
			apply: func() { m.CacheTTLSeconds = defaultMarketCacheTTL },
		},
		fieldDefault{
			key:   "market.rate_limit_per_second",
			need:  func() bool { return m.RateLimitPerSecond <= 0 },
			apply: func() { m.RateLimitPerSecond = defaultMarketRate },
		},
		fieldDefault{
			key:   "market.rate_limit_burst",
			need:  func() bool { return m.RateLimitBurst <= 0 },
			apply: func() { m.RateLimitBurst = defaultMarketBurst },
		},
		fieldDefault{
			key:   "market.rate_limit_max_wait_seconds",
			need:  func() bool { return m.RateLimitMaxWaitSeconds <= 0 },
			apply: func() { m.RateLimitMaxWaitSeconds = defaultMarketMaxWait },
		},
		fieldDefault{
			key:   "market.circuit_breaker_threshold",
			need:  func() bool { return m.CircuitBreakerThreshold <= 0 },
			apply: func() { m.CircuitBreakerThreshold = defaultMarketCBThreshold },
		},
		fieldDefault{
			key:   "market.circuit_breaker_cooldown_seconds",
			need:  func() bool { return m.CircuitBreakerCooldownSeconds <= 0 },
			apply: func() { m.CircuitBreakerCooldownSeconds = defaultMarketCBCooldown },
		},
	)
	if m.PaperSlippageBps < 0 {
		m.PaperSlippageBps = 0
	}
}

func (s *SignalsConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "signals.min_agreement_entry",
			need:  func() bool { return s.MinAgreementEntry <= 0 },
			apply: func() { s.MinAgreementEntry = defaultSignalsEntry },
		},
		stringFieldDefault("signals.pack_path", &s.PackPath, defaultSignalsPackPath),
	)
	// min_agreement_exit 留零表示 1/N,不补默认值。
	if s.MinAgreementExit < 0 {
		s.MinAgreementExit = 0
	}
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.risk_per_trade_pct",
			need:  func() bool { return r.RiskPerTradePct <= 0 },
			apply: func() { r.RiskPerTradePct = defaultRiskPerTradePct },
		},
		fieldDefault{
			key:   "risk.min_position_pct",
			need:  func() bool { return r.MinPositionPct <= 0 },
			apply: func() { r.MinPositionPct = defaultRiskMinPosPct },
		},
		fieldDefault{
			key:   "risk.max_position_pct",
			need:  func() bool { return r.MaxPositionPct <= 0 },
			apply: func() { r.MaxPositionPct = defaultRiskMaxPosPct },
		},
		fieldDefault{
			key:   "risk.max_open_positions",
			need:  func() bool { return r.MaxOpenPositions <= 0 },
			apply: func() { r.MaxOpenPositions = defaultRiskMaxOpen },
		},
		stringFieldDefault("risk.sector_map_path", &r.SectorMapPath, defaultRiskSectorMap),
	)
	// confidence_floor、每日/板块上限留零分别表示按模式默认、不限。
	if r.ConfidenceFloor < 0 {
		r.ConfidenceFloor = 0
	}
	if r.MaxTradesPerSymbolPerDay < 0 {
		r.MaxTradesPerSymbolPerDay = 0
	}
	if r.MaxSectorExposure < 0 {
		r.MaxSectorExposure = 0
	}
	if r.MaxDailyLoss < 0 {
		r.MaxDailyLoss = 0
	}
}

func (x *ExitConfig) applyDefaults(keys keySet) {
	if x == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "exit.exit_score_threshold",
			need:  func() bool { return x.ExitScoreThreshold <= 0 },
			apply: func() { x.ExitScoreThreshold = defaultExitThreshold },
		},
		fieldDefault{
			key:   "exit.high_target",
			need:  func() bool { return x.HighTarget <= 0 },
			apply: func() { x.HighTarget = defaultExitHighTarget },
		},
		fieldDefault{
			key:   "exit.low_target",
			need:  func() bool { return x.LowTarget <= 0 },
			apply: func() { x.LowTarget = defaultExitLowTarget },
		},
		fieldDefault{
			key:   "exit.take_profit_pct",
			need:  func() bool { return x.TakeProfitPct <= 0 },
			apply: func() { x.TakeProfitPct = defaultExitTakeProfit },
		},
		fieldDefault{
			key:   "exit.hard_take_profit_pct",
			need:  func() bool { return x.HardTakeProfitPct <= 0 },
			apply: func() { x.HardTakeProfitPct = defaultExitHardTakeProfit },
		},
		fieldDefault{
			key:   "exit.giveback_soft",
			need:  func() bool { return x.GivebackSoft <= 0 },
			apply: func() { x.GivebackSoft = defaultExitGivebackSoft },
		},
		fieldDefault{
			key:   "exit.giveback_hard",
			need:  func() bool { return x.GivebackHard <= 0 },
			apply: func() { x.GivebackHard = defaultExitGivebackHard },
		},
		fieldDefault{
			key:   "exit.stop_loss_pct",
			need:  func() bool { return x.StopLossPct <= 0 },
			apply: func() { x.StopLossPct = defaultExitStopLoss },
		},
		fieldDefault{
			key:   "exit.hard_stop_loss_pct",
			need:  func() bool { return x.HardStopLossPct <= 0 },
			apply: func() { x.HardStopLossPct = defaultExitHardStopLoss },
		},
		fieldDefault{
			key:   "exit.grace_period_minutes",
			need:  func() bool { return x.GracePeriodMinutes <= 0 },
			apply: func() { x.GracePeriodMinutes = defaultExitGraceMinutes },
		},
		fieldDefault{
			key:   "exit.stagnation_after_hours",
			need:  func() bool { return x.StagnationAfterHours <= 0 },
			apply: func() { x.StagnationAfterHours = defaultExitStagnationHours },
		},
		fieldDefault{
			key:   "exit.stagnation_band",
			need:  func() bool { return x.StagnationBand <= 0 },
			apply: func() { x.StagnationBand = defaultExitStagnationBand },
		},
		fieldDefault{
			key:   "exit.decay_window_hours",
			need:  func() bool { return x.DecayWindowHours <= 0 },
			apply: func() { x.DecayWindowHours = defaultExitDecayHours },
		},
	)
	// 费率全部留零等价于免费通道,不补默认值。
	if x.Fees.BrokerageRate < 0 {
		x.Fees.BrokerageRate = 0
	}
	if x.Fees.BrokerageCap < 0 {
		x.Fees.BrokerageCap = 0
	}
	if x.Fees.TransactionRate < 0 {
		x.Fees.TransactionRate = 0
	}
	if x.Fees.TaxRate < 0 {
		x.Fees.TaxRate = 0
	}
	if x.Fees.LevyRate < 0 {
		x.Fees.LevyRate = 0
	}
}

func (p *PortfolioConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "portfolio.capital",
			need:  func() bool { return p.Capital <= 0 },
			apply: func() { p.Capital = defaultPortfolioCapital },
		},
		stringFieldDefault("portfolio.snapshot_path", &p.SnapshotPath, defaultSnapshotPath),
		stringFieldDefault("portfolio.snapshot_fallback_path", &p.SnapshotFallbackPath, defaultSnapshotFallback),
		fieldDefault{
			key:   "portfolio.persist_min_interval_seconds",
			need:  func() bool { return p.PersistMinIntervalSeconds <= 0 },
			apply: func() { p.PersistMinIntervalSeconds = defaultPersistMinSeconds },
		},
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.trade_log_path", &s.TradeLogPath, defaultTradeLogPath),
		stringFieldDefault("store.audit_log_path", &s.AuditLogPath, defaultAuditLogPath),
		fieldDefault{
			key:   "store.audit_keep_days",
			need:  func() bool { return s.AuditKeepDays <= 0 },
			apply: func() { s.AuditKeepDays = defaultAuditKeepDays },
		},
	)
}

func (r *ReportConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("report.out_dir", &r.OutDir, defaultReportOutDir),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func normalizeSymbolList(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	out := make([]string, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
