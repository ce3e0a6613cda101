package opshttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quorum/internal/gateway/broker"
	"quorum/internal/ledger"
	"quorum/internal/pkg/circuit"
	"quorum/internal/store/auditlog"
	"quorum/internal/store/tradelog"
	"quorum/internal/strategy"
)

type fixedCycle int64

func (f fixedCycle) Cycle() int64 { return int64(f) }

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	book := ledger.New(100_000)
	pos, err := book.BeginEntry(ledger.OpenRequest{
		Symbol:      "BTCUSDT",
		Side:        strategy.Buy,
		Quantity:    0.5,
		Price:       40_000,
		Sector:      "layer1",
		StrategySet: []string{"sma_cross"},
	})
	require.NoError(t, err)
	_, err = book.ConfirmEntry(pos.Symbol, "ord-1")
	require.NoError(t, err)

	trades, err := tradelog.New(filepath.Join(dir, "trades.db"))
	require.NoError(t, err)
	t.Cleanup(func() { trades.Close() })
	require.NoError(t, trades.RecordClosed(context.Background(), ledger.ClosedTrade{
		OrderID:    "ord-0",
		Symbol:     "ETHUSDT",
		Side:       strategy.Buy,
		Quantity:   1,
		EntryPrice: 2000,
		ExitPrice:  2100,
		EntryTime:  time.Now().Add(-2 * time.Hour),
		ExitTime:   time.Now().Add(-time.Hour),
		Fees:       1.5,
		NetPnL:     98.5,
		Reason:     "净利达标",
	}))

	audit, err := auditlog.New(filepath.Join(dir, "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { audit.Close() })
	require.NoError(t, audit.Append(context.Background(), auditlog.Entry{
		TraceID: "trace-1",
		Cycle:   7,
		Symbol:  "BTCUSDT",
		Kind:    auditlog.KindEntrySignal,
		Summary: "开仓信号通过",
	}))
	require.NoError(t, audit.Append(context.Background(), auditlog.Entry{
		TraceID: "trace-2",
		Cycle:   8,
		Symbol:  "ETHUSDT",
		Kind:    auditlog.KindExitDecision,
		Summary: "离场评分通过",
	}))

	logPath := filepath.Join(dir, "live.log")
	require.NoError(t, os.WriteFile(logPath, []byte("line-1\nline-2\nline-3\n"), 0o644))

	guarded := broker.NewGuarded(nil, nil,
		circuit.NewBreaker("quotes", 5, time.Minute),
		circuit.NewBreaker("entries", 5, time.Minute),
		circuit.NewBreaker("exits", 5, time.Minute),
	)

	srv, err := NewServer(ServerConfig{
		Addr: ":0",
		Router: &Router{
			Book:   book,
			Trades: trades,
			Audit:  audit,
			Broker: guarded,
			Cycles: fixedCycle(7),
		},
		LogPaths: map[string]string{"live": logPath},
	})
	require.NoError(t, err)
	return srv
}

func doGET(t *testing.T, srv *Server, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	var body map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w.Code, body
}

func TestNewServerRequiresLedger(t *testing.T) {
	_, err := NewServer(ServerConfig{Router: &Router{}})
	require.Error(t, err)

	_, err = NewServer(ServerConfig{})
	require.Error(t, err)
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	code, body := doGET(t, srv, "/healthz")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, "ok", body["status"])
}

func TestPortfolioEndpoint(t *testing.T) {
	srv := newTestServer(t)
	code, body := doGET(t, srv, "/api/ops/portfolio")
	require.Equal(t, http.StatusOK, code)
	require.InDelta(t, 80_000, body["cash"].(float64), 1e-9)
	require.InDelta(t, 100_000, body["equity"].(float64), 1e-9)
	require.EqualValues(t, 1, body["open"])
	require.EqualValues(t, 7, body["cycle"])
}

func TestPositionsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	code, body := doGET(t, srv, "/api/ops/positions")
	require.Equal(t, http.StatusOK, code)
	list := body["positions"].([]any)
	require.Len(t, list, 1)
	first := list[0].(map[string]any)
	require.Equal(t, "BTCUSDT", first["symbol"])
	require.Equal(t, "OPEN", first["status"])

	code, body = doGET(t, srv, "/api/ops/positions?symbol=btcusdt")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, body["positions"].([]any), 1, "symbol 过滤应大小写不敏感")

	code, body = doGET(t, srv, "/api/ops/positions?status=pending_exit")
	require.Equal(t, http.StatusOK, code)
	require.Empty(t, body["positions"])
}

func TestPositionDetailEndpoint(t *testing.T) {
	srv := newTestServer(t)

	code, body := doGET(t, srv, "/api/ops/positions/BTCUSDT")
	require.Equal(t, http.StatusOK, code)
	pos := body["position"].(map[string]any)
	require.InDelta(t, 40_000, pos["entry_price"].(float64), 1e-9)

	code, _ = doGET(t, srv, "/api/ops/positions/DOGEUSDT")
	require.Equal(t, http.StatusNotFound, code)
}

func TestTradesEndpoints(t *testing.T) {
	srv := newTestServer(t)

	code, body := doGET(t, srv, "/api/ops/trades")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["count"])

	code, body = doGET(t, srv, "/api/ops/trades?symbol=ETHUSDT")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["count"])

	code, body = doGET(t, srv, "/api/ops/trades?symbol=BTCUSDT")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 0, body["count"])

	code, body = doGET(t, srv, "/api/ops/trades/summary")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["trades"])
	require.EqualValues(t, 1, body["wins"])
	require.InDelta(t, 98.5, body["net_pnl"].(float64), 1e-9)
	require.InDelta(t, 100, body["win_rate"].(float64), 1e-9)
}

func TestAuditEndpoint(t *testing.T) {
	srv := newTestServer(t)

	code, body := doGET(t, srv, "/api/ops/audit")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 2, body["count"])

	code, body = doGET(t, srv, "/api/ops/audit?trace=trace-1")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["count"])
	entry := body["entries"].([]any)[0].(map[string]any)
	require.Equal(t, "entry_signal", entry["kind"])

	code, body = doGET(t, srv, "/api/ops/audit?symbol=ethusdt")
	require.Equal(t, http.StatusOK, code)
	require.EqualValues(t, 1, body["count"])
}

func TestBreakersEndpoint(t *testing.T) {
	srv := newTestServer(t)
	code, body := doGET(t, srv, "/api/ops/breakers")
	require.Equal(t, http.StatusOK, code)
	for _, key := range []string{"entries", "exits", "quotes"} {
		st := body[key].(map[string]any)
		require.Equal(t, "CLOSED", st["state"])
		require.EqualValues(t, 0, st["failures"])
	}
}

func TestLogsEndpoint(t *testing.T) {
	srv := newTestServer(t)
	code, body := doGET(t, srv, "/api/ops/logs?name=live&limit=2")
	require.Equal(t, http.StatusOK, code)
	lines := body["lines"].([]any)
	require.Equal(t, []any{"line-2", "line-3"}, lines, "应返回文件末尾的行")
}

func TestUnconfiguredDependenciesReturn503(t *testing.T) {
	book := ledger.New(50_000)
	srv, err := NewServer(ServerConfig{Router: &Router{Book: book}})
	require.NoError(t, err)

	for _, path := range []string{
		"/api/ops/trades",
		"/api/ops/trades/summary",
		"/api/ops/audit",
		"/api/ops/strategies",
		"/api/ops/breakers",
		"/api/ops/logs",
	} {
		code, _ := doGET(t, srv, path)
		require.Equal(t, http.StatusServiceUnavailable, code, "path=%s", path)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/ops/report", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}
