package config

import (
	"strings"
	"time"
)

// Config 是 Quorum 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Engine    EngineConfig    `toml:"engine"`
	Market    MarketConfig    `toml:"market"`
	Signals   SignalsConfig   `toml:"signals"`
	Risk      RiskConfig      `toml:"risk"`
	Exit      ExitConfig      `toml:"exit"`
	Portfolio PortfolioConfig `toml:"portfolio"`
	Store     StoreConfig     `toml:"store"`
	Notify    NotifyConfig    `toml:"notify"`
	Report    ReportConfig    `toml:"report"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	Mode     string `toml:"mode"` // "paper" | "live"
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

func (a AppConfig) Live() bool {
	return strings.EqualFold(strings.TrimSpace(a.Mode), ModeLive)
}

// EngineConfig 控制决策循环的节奏与采集范围。
type EngineConfig struct {
	Symbols                   []string `toml:"symbols"`
	CycleIntervalSeconds      int      `toml:"cycle_interval_seconds"`
	IntervalFloorSeconds      int      `toml:"interval_floor_seconds"`
	RunImmediately            bool     `toml:"run_immediately"`
	MaxCycles                 int64    `toml:"max_cycles"` // 0 = 跑到停机信号
	MaxOpensPerCycle          int      `toml:"max_opens_per_cycle"`
	ErrorBudgetPerCycle       int      `toml:"error_budget_per_cycle"`
	StalenessThresholdSeconds int      `toml:"staleness_threshold_seconds"`
	StaleCycleAlert           int      `toml:"stale_cycle_alert"`
	HistoryInterval           string   `toml:"history_interval"`
	HistoryBars               int      `toml:"history_bars"`
	VolatilityPeriod          int      `toml:"volatility_period"`
	VolatilityHighPct         float64  `toml:"volatility_high_pct"`
	MaxHoldMinutes            int      `toml:"max_hold_minutes"` // 0 = 持仓不设到期
}

func (e EngineConfig) Interval() time.Duration {
	return time.Duration(e.CycleIntervalSeconds) * time.Second
}

func (e EngineConfig) IntervalFloor() time.Duration {
	return time.Duration(e.IntervalFloorSeconds) * time.Second
}

func (e EngineConfig) StaleLimit() time.Duration {
	return time.Duration(e.StalenessThresholdSeconds) * time.Second
}

func (e EngineConfig) MaxHold() time.Duration {
	return time.Duration(e.MaxHoldMinutes) * time.Minute
}

type MarketConfig struct {
	RESTBaseURL                   string      `toml:"rest_base_url"`
	APIKey                        string      `toml:"api_key"`
	APISecret                     string      `toml:"api_secret"`
	HTTPTimeoutSeconds            int         `toml:"http_timeout_seconds"`
	Proxy                         ProxyConfig `toml:"proxy"`
	CacheCapacity                 int         `toml:"cache_capacity"`
	CacheTTLSeconds               int         `toml:"cache_ttl_seconds"`
	RateLimitPerSecond            float64     `toml:"rate_limit_per_second"`
	RateLimitBurst                int         `toml:"rate_limit_burst"`
	RateLimitMaxWaitSeconds       int         `toml:"rate_limit_max_wait_seconds"`
	CircuitBreakerThreshold       int         `toml:"circuit_breaker_threshold"`
	CircuitBreakerCooldownSeconds int         `toml:"circuit_breaker_cooldown_seconds"`
	PaperSlippageBps              float64     `toml:"paper_slippage_bps"`
}

func (m MarketConfig) HTTPTimeout() time.Duration {
	return time.Duration(m.HTTPTimeoutSeconds) * time.Second
}

func (m MarketConfig) CacheTTL() time.Duration {
	return time.Duration(m.CacheTTLSeconds) * time.Second
}

func (m MarketConfig) RateLimitMaxWait() time.Duration {
	return time.Duration(m.RateLimitMaxWaitSeconds) * time.Second
}

func (m MarketConfig) BreakerCooldown() time.Duration {
	return time.Duration(m.CircuitBreakerCooldownSeconds) * time.Second
}

type ProxyConfig struct {
	Enabled bool   `toml:"enabled"`
	RESTURL string `toml:"rest_url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.RESTURL = strings.TrimSpace(p.RESTURL)
}

// SignalsConfig 配置共识门槛与策略 pack 的位置。
type SignalsConfig struct {
	MinAgreementEntry float64 `toml:"min_agreement_entry"`
	MinAgreementExit  float64 `toml:"min_agreement_exit"` // 0 = 1/N,一票反对即触发复核
	PackPath          string  `toml:"pack_path"`
}

type RiskConfig struct {
	ConfidenceFloor          float64 `toml:"confidence_floor"` // 0 = 按运行模式取默认
	RiskPerTradePct          float64 `toml:"risk_per_trade_pct"`
	MinPositionPct           float64 `toml:"min_position_pct"`
	MaxPositionPct           float64 `toml:"max_position_pct"`
	MaxOpenPositions         int     `toml:"max_open_positions"`
	MaxTradesPerSymbolPerDay int     `toml:"max_trades_per_symbol_per_day"` // 0 = 不限
	MaxSectorExposure        int     `toml:"max_sector_exposure"`           // 0 = 不限
	MaxDailyLoss             float64 `toml:"max_daily_loss"`                // 0 = 不设日亏上限
	SectorMapPath            string  `toml:"sector_map_path"`
}

// ExitConfig 汇集离场评分各规则的调参。比例一律写小数,0.05 即 5%。
type ExitConfig struct {
	ExitScoreThreshold   float64    `toml:"exit_score_threshold"`
	HighTarget           float64    `toml:"high_target"`
	LowTarget            float64    `toml:"low_target"`
	TakeProfitPct        float64    `toml:"take_profit_pct"`
	HardTakeProfitPct    float64    `toml:"hard_take_profit_pct"`
	GivebackSoft         float64    `toml:"giveback_soft"`
	GivebackHard         float64    `toml:"giveback_hard"`
	StopLossPct          float64    `toml:"stop_loss_pct"`
	HardStopLossPct      float64    `toml:"hard_stop_loss_pct"`
	GracePeriodMinutes   int        `toml:"grace_period_minutes"`
	StagnationAfterHours int        `toml:"stagnation_after_hours"`
	StagnationBand       float64    `toml:"stagnation_band"`
	DecayWindowHours     int        `toml:"decay_window_hours"`
	Fees                 FeesConfig `toml:"fees"`
}

func (x ExitConfig) GracePeriod() time.Duration {
	return time.Duration(x.GracePeriodMinutes) * time.Minute
}

func (x ExitConfig) StagnationAfter() time.Duration {
	return time.Duration(x.StagnationAfterHours) * time.Hour
}

func (x ExitConfig) DecayWindow() time.Duration {
	return time.Duration(x.DecayWindowHours) * time.Hour
}

type FeesConfig struct {
	BrokerageRate   float64 `toml:"brokerage_rate"`
	BrokerageCap    float64 `toml:"brokerage_cap"`
	TransactionRate float64 `toml:"transaction_rate"`
	TaxRate         float64 `toml:"tax_rate"`
	LevyRate        float64 `toml:"levy_rate"`
}

type PortfolioConfig struct {
	Capital                   float64 `toml:"capital"`
	SnapshotPath              string  `toml:"snapshot_path"`
	SnapshotFallbackPath      string  `toml:"snapshot_fallback_path"`
	PersistMinIntervalSeconds int     `toml:"persist_min_interval_seconds"`
}

func (p PortfolioConfig) PersistMinInterval() time.Duration {
	return time.Duration(p.PersistMinIntervalSeconds) * time.Second
}

type StoreConfig struct {
	TradeLogPath  string `toml:"trade_log_path"`
	AuditLogPath  string `toml:"audit_log_path"`
	AuditKeepDays int    `toml:"audit_keep_days"`
}

func (s StoreConfig) AuditKeep() time.Duration {
	return time.Duration(s.AuditKeepDays) * 24 * time.Hour
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type ReportConfig struct {
	OutDir    string `toml:"out_dir"`
	RenderPNG bool   `toml:"render_png"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
