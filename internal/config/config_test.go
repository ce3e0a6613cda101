package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "quorum.toml", `
[engine]
symbols = ["btcusdt", "ethusdt", "BTCUSDT"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, ModePaper, cfg.App.Mode)
	require.False(t, cfg.App.Live())
	require.Equal(t, ":9991", cfg.App.HTTPAddr)

	require.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, cfg.Engine.Symbols)
	require.Equal(t, time.Minute, cfg.Engine.Interval())
	require.Equal(t, 10*time.Second, cfg.Engine.IntervalFloor())
	require.True(t, cfg.Engine.RunImmediately)
	require.Equal(t, 30*time.Second, cfg.Engine.StaleLimit())
	require.Equal(t, "5m", cfg.Engine.HistoryInterval)
	require.Zero(t, cfg.Engine.MaxHold())

	require.InDelta(t, 0.40, cfg.Signals.MinAgreementEntry, 1e-9)
	require.Zero(t, cfg.Signals.MinAgreementExit)

	require.InDelta(t, 0.02, cfg.Risk.RiskPerTradePct, 1e-9)
	require.Equal(t, 10, cfg.Risk.MaxOpenPositions)
	require.Zero(t, cfg.Risk.MaxTradesPerSymbolPerDay)

	require.InDelta(t, 60, cfg.Exit.ExitScoreThreshold, 1e-9)
	require.InDelta(t, 5000, cfg.Exit.HighTarget, 1e-9)
	require.Equal(t, 30*time.Minute, cfg.Exit.GracePeriod())
	require.Zero(t, cfg.Exit.Fees.BrokerageRate)

	require.Equal(t, 30*time.Second, cfg.Market.CacheTTL())
	require.InDelta(t, 8, cfg.Market.RateLimitPerSecond, 1e-9)
	require.Equal(t, 5, cfg.Market.CircuitBreakerThreshold)
	require.Equal(t, time.Minute, cfg.Market.BreakerCooldown())

	require.InDelta(t, 100_000, cfg.Portfolio.Capital, 1e-9)
	require.Equal(t, 5*time.Second, cfg.Portfolio.PersistMinInterval())
}

func TestLoadHonorsExplicitFalse(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "quorum.toml", `
[engine]
symbols = ["BTCUSDT"]
run_immediately = false
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.False(t, cfg.Engine.RunImmediately, "显式写 false 不应被默认值覆盖")
}

func TestLoadMergesIncludeChain(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "risk.toml", `
[risk]
risk_per_trade_pct = 0.05
max_open_positions = 3

[signals]
min_agreement_entry = 0.60
`)
	path := writeConfig(t, dir, "quorum.toml", `
include = ["risk.toml"]

[engine]
symbols = ["BTCUSDT"]

[signals]
min_agreement_entry = 0.50
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.InDelta(t, 0.05, cfg.Risk.RiskPerTradePct, 1e-9)
	require.Equal(t, 3, cfg.Risk.MaxOpenPositions)
	// 主文件后合并,覆盖被包含文件的同名键。
	require.InDelta(t, 0.50, cfg.Signals.MinAgreementEntry, 1e-9)
}

func TestLoadRejectsIncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.toml", "include = [\"b.toml\"]\n")
	writeConfig(t, dir, "b.toml", "include = [\"a.toml\"]\n")

	_, err := Load(filepath.Join(dir, "a.toml"))
	require.ErrorContains(t, err, "include cycle")
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "no symbols",
			body: "[app]\nmode = \"paper\"\n",
			want: "engine.symbols",
		},
		{
			name: "live without keys",
			body: "[app]\nmode = \"live\"\n\n[engine]\nsymbols = [\"BTCUSDT\"]\n",
			want: "api_key",
		},
		{
			name: "exit bar above entry bar",
			body: "[engine]\nsymbols = [\"BTCUSDT\"]\n\n[signals]\nmin_agreement_entry = 0.4\nmin_agreement_exit = 0.7\n",
			want: "min_agreement_exit",
		},
		{
			name: "bad history interval",
			body: "[engine]\nsymbols = [\"BTCUSDT\"]\nhistory_interval = \"5x\"\n",
			want: "history_interval",
		},
		{
			name: "soft stop above hard stop",
			body: "[engine]\nsymbols = [\"BTCUSDT\"]\n\n[exit]\nstop_loss_pct = 0.2\n",
			want: "stop_loss_pct",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeConfig(t, dir, "quorum.toml", tc.body)
			_, err := Load(path)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestLoadSectorMap(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "sectors.yaml", `
sectors:
  btcusdt: Layer1
  ETHUSDT: layer1
  linkusdt: Oracle
`)

	sectors, err := LoadSectorMap(path)
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"BTCUSDT":  "layer1",
		"ETHUSDT":  "layer1",
		"LINKUSDT": "oracle",
	}, sectors)

	empty, err := LoadSectorMap("  ")
	require.NoError(t, err)
	require.Nil(t, empty)

	_, err = LoadSectorMap(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestIsValidInterval(t *testing.T) {
	for _, ok := range []string{"1m", "5m", "4h", "1d", "1w", "15m"} {
		require.True(t, IsValidInterval(ok), ok)
	}
	for _, bad := range []string{"", "m", "5x", "h1", "5", "1M"} {
		require.False(t, IsValidInterval(bad), bad)
	}
}
