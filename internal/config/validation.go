package config

import (
	"fmt"
	"strings"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.App.validate(); err != nil {
		return err
	}
	if err := c.Engine.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(c.App.Live()); err != nil {
		return err
	}
	if err := c.Signals.validate(); err != nil {
		return err
	}
	if err := c.Risk.validate(); err != nil {
		return err
	}
	if err := c.Exit.validate(); err != nil {
		return err
	}
	if err := c.Portfolio.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (a *AppConfig) validate() error {
	switch a.Mode {
	case ModePaper, ModeLive:
		return nil
	default:
		return fmt.Errorf("app.mode only supports 'paper' or 'live', got %s", a.Mode)
	}
}

func (e *EngineConfig) validate() error {
	if len(e.Symbols) == 0 {
		return fmt.Errorf("engine.symbols requires at least one symbol")
	}
	if e.CycleIntervalSeconds < e.IntervalFloorSeconds {
		return fmt.Errorf("engine.cycle_interval_seconds must be >= interval_floor_seconds (%d < %d)",
			e.CycleIntervalSeconds, e.IntervalFloorSeconds)
	}
	if !IsValidInterval(e.HistoryInterval) {
		return fmt.Errorf("engine.history_interval is not a valid interval: %s", e.HistoryInterval)
	}
	if e.VolatilityHighPct >= 1 {
		return fmt.Errorf("engine.volatility_high_pct must be < 1 (a ratio, not a percentage)")
	}
	return nil
}

func (m *MarketConfig) validate(live bool) error {
	if strings.TrimSpace(m.RESTBaseURL) == "" {
		return fmt.Errorf("market.rest_base_url cannot be empty")
	}
	if m.Proxy.Enabled && m.Proxy.RESTURL == "" {
		return fmt.Errorf("market.proxy enabled but missing rest_url")
	}
	if live {
		if strings.TrimSpace(m.APIKey) == "" || strings.TrimSpace(m.APISecret) == "" {
			return fmt.Errorf("live mode requires market.api_key and market.api_secret")
		}
	}
	return nil
}

func (s *SignalsConfig) validate() error {
	if s.MinAgreementEntry <= 0 || s.MinAgreementEntry > 1 {
		return fmt.Errorf("signals.min_agreement_entry must be in (0, 1]")
	}
	if s.MinAgreementExit < 0 || s.MinAgreementExit > 1 {
		return fmt.Errorf("signals.min_agreement_exit must be in [0, 1]")
	}
	if s.MinAgreementExit > s.MinAgreementEntry {
		return fmt.Errorf("signals.min_agreement_exit must not exceed min_agreement_entry")
	}
	return nil
}

func (r *RiskConfig) validate() error {
	if r.RiskPerTradePct <= 0 || r.RiskPerTradePct > 1 {
		return fmt.Errorf("risk.risk_per_trade_pct must be in (0, 1]")
	}
	if r.MaxPositionPct <= 0 || r.MaxPositionPct > 1 {
		return fmt.Errorf("risk.max_position_pct must be in (0, 1]")
	}
	if r.MinPositionPct <= 0 || r.MinPositionPct > r.MaxPositionPct {
		return fmt.Errorf("risk.min_position_pct must be in (0, max_position_pct]")
	}
	if r.ConfidenceFloor >= 1 {
		return fmt.Errorf("risk.confidence_floor must be < 1")
	}
	return nil
}

func (x *ExitConfig) validate() error {
	if x.ExitScoreThreshold <= 0 || x.ExitScoreThreshold > 100 {
		return fmt.Errorf("exit.exit_score_threshold must be in (0, 100]")
	}
	if x.LowTarget >= x.HighTarget {
		return fmt.Errorf("exit.low_target must be < high_target")
	}
	if x.TakeProfitPct >= x.HardTakeProfitPct {
		return fmt.Errorf("exit.take_profit_pct must be < hard_take_profit_pct")
	}
	if x.StopLossPct >= x.HardStopLossPct {
		return fmt.Errorf("exit.stop_loss_pct must be < hard_stop_loss_pct")
	}
	if x.GivebackSoft >= x.GivebackHard {
		return fmt.Errorf("exit.giveback_soft must be < giveback_hard")
	}
	if x.StagnationBand >= 1 {
		return fmt.Errorf("exit.stagnation_band must be < 1 (a ratio, not a percentage)")
	}
	for key, rate := range map[string]float64{
		"brokerage_rate":   x.Fees.BrokerageRate,
		"transaction_rate": x.Fees.TransactionRate,
		"tax_rate":         x.Fees.TaxRate,
		"levy_rate":        x.Fees.LevyRate,
	} {
		if rate < 0 || rate >= 1 {
			return fmt.Errorf("exit.fees.%s must be in [0, 1)", key)
		}
	}
	return nil
}

func (p *PortfolioConfig) validate() error {
	if p.Capital <= 0 {
		return fmt.Errorf("portfolio.capital must be > 0")
	}
	if strings.TrimSpace(p.SnapshotPath) == "" {
		return fmt.Errorf("portfolio.snapshot_path cannot be empty")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if n.Telegram.Enabled {
		if n.Telegram.BotToken == "" || n.Telegram.ChatID == "" {
			return fmt.Errorf("telegram notification enabled but missing bot_token or chat_id")
		}
	}
	return nil
}

// IsValidInterval 简易校验：以数字开头，以 m/h/d/w 结尾
func IsValidInterval(s string) bool {
	if s == "" {
		return false
	}
	suf := s[len(s)-1]
	if suf != 'm' && suf != 'h' && suf != 'd' && suf != 'w' {
		return false
	}
	for i := 0; i < len(s)-1; i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
