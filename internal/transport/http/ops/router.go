package opshttp

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"quorum/internal/gateway/broker"
	"quorum/internal/ledger"
	"quorum/internal/logger"
	"quorum/internal/pkg/circuit"
	"quorum/internal/report"
	"quorum/internal/store/auditlog"
	"quorum/internal/store/tradelog"
	"quorum/internal/strategy/pack"
)

// CycleSource 提供当前决策周期号,由引擎实现。
type CycleSource interface {
	Cycle() int64
}

// Router 暴露 /api/ops 查询接口。除 Book 外的依赖均可为空,
// 对应接口返回 503。
type Router struct {
	Book    *ledger.Ledger
	Trades  *tradelog.Store
	Audit   *auditlog.Store
	Pack    *pack.Registry
	Broker  *broker.Guarded
	Reports *report.Builder
	Cycles  CycleSource

	logPaths map[string]string
	logNames []string
}

func (r *Router) setLogPaths(paths map[string]string) {
	kept := make(map[string]string, len(paths))
	names := make([]string, 0, len(paths))
	for name, path := range paths {
		name = strings.TrimSpace(name)
		path = strings.TrimSpace(path)
		if name == "" || path == "" {
			continue
		}
		kept[name] = path
		names = append(names, name)
	}
	sort.Strings(names)
	r.logPaths = kept
	r.logNames = names
}

// Register 将 /api/ops 路由挂载到给定分组下。
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/portfolio", r.handlePortfolio)
	group.GET("/positions", r.handlePositions)
	group.GET("/positions/:symbol", r.handlePositionDetail)
	group.GET("/trades", r.handleTrades)
	group.GET("/trades/summary", r.handleTradeSummary)
	group.GET("/audit", r.handleAudit)
	group.GET("/strategies", r.handleStrategies)
	group.GET("/breakers", r.handleBreakers)
	group.GET("/logs", r.handleLogs)
	group.POST("/report", r.handleReport)
}

func (r *Router) handlePortfolio(c *gin.Context) {
	st := r.Book.Snapshot()
	resp := gin.H{
		"cash":            r.Book.Cash(),
		"equity":          r.Book.Equity(),
		"daily_pnl":       st.DailyPnL,
		"day":             st.Day,
		"daily_trades":    st.DailyTrades,
		"sector_exposure": st.Sectors,
		"positions":       len(st.Positions),
		"open":            r.Book.OpenCount(),
	}
	if r.Cycles != nil {
		resp["cycle"] = r.Cycles.Cycle()
	}
	c.JSON(http.StatusOK, resp)
}

func (r *Router) handlePositions(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	if symbol != "" {
		pos, ok := r.Book.Get(symbol)
		if !ok {
			c.JSON(http.StatusOK, gin.H{"positions": []ledger.Position{}})
			return
		}
		c.JSON(http.StatusOK, gin.H{"positions": []ledger.Position{pos}})
		return
	}
	var list []ledger.Position
	switch strings.ToLower(strings.TrimSpace(c.DefaultQuery("status", "active"))) {
	case "open":
		list = r.Book.OpenPositions()
	case "pending_exit":
		list = r.Book.PendingExits()
	default:
		list = r.Book.ActivePositions()
	}
	c.JSON(http.StatusOK, gin.H{"positions": list})
}

func (r *Router) handlePositionDetail(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	pos, ok := r.Book.Get(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "position not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"position": pos})
}

func (r *Router) handleTrades(c *gin.Context) {
	if r.Trades == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "成交历史未启用"})
		return
	}
	limit := clampQueryInt(c, "limit", 100, 500)
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	callCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	var (
		rows []ledger.ClosedTrade
		err  error
	)
	if symbol != "" {
		rows, err = r.Trades.BySymbol(callCtx, symbol, limit)
	} else {
		rows, err = r.Trades.Recent(callCtx, limit)
	}
	if err != nil {
		logger.Errorf("[api] trades list failed ip=%s symbol=%s err=%v", c.ClientIP(), symbol, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": rows, "count": len(rows)})
}

func (r *Router) handleTradeSummary(c *gin.Context) {
	if r.Trades == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "成交历史未启用"})
		return
	}
	callCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	stats, err := r.Trades.Summary(callCtx)
	if err != nil {
		logger.Errorf("[api] trades summary failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"trades":   stats.Trades,
		"wins":     stats.Wins,
		"losses":   stats.Losses,
		"net_pnl":  stats.NetPnL,
		"fees":     stats.Fees,
		"win_rate": stats.WinRate(),
	})
}

func (r *Router) handleAudit(c *gin.Context) {
	if r.Audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "审计日志未启用"})
		return
	}
	limit := clampQueryInt(c, "limit", 100, 500)
	trace := strings.TrimSpace(c.Query("trace"))
	symbol := strings.ToUpper(strings.TrimSpace(c.Query("symbol")))
	callCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	var (
		rows []auditlog.Entry
		err  error
	)
	switch {
	case trace != "":
		rows, err = r.Audit.ByTrace(callCtx, trace)
	case symbol != "":
		rows, err = r.Audit.BySymbol(callCtx, symbol, limit)
	default:
		rows, err = r.Audit.Recent(callCtx, limit)
	}
	if err != nil {
		logger.Errorf("[api] audit list failed ip=%s trace=%s symbol=%s err=%v", c.ClientIP(), trace, symbol, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": rows, "count": len(rows)})
}

func (r *Router) handleStrategies(c *gin.Context) {
	if r.Pack == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "策略 pack 未启用"})
		return
	}
	snap := r.Pack.Snapshot()
	items := make([]gin.H, 0, len(snap.Strategies))
	for _, s := range snap.Strategies {
		items = append(items, gin.H{
			"id":     s.ID(),
			"weight": snap.Weights[s.ID()],
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"version":    snap.Version,
		"loaded_at":  snap.LoadedAt,
		"strategies": items,
	})
}

func (r *Router) handleBreakers(c *gin.Context) {
	if r.Broker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "交易通道未启用"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": breakerStatus(r.Broker.EntryBreaker()),
		"exits":   breakerStatus(r.Broker.ExitBreaker()),
		"quotes":  breakerStatus(r.Broker.QuoteBreaker()),
	})
}

func (r *Router) handleLogs(c *gin.Context) {
	if len(r.logPaths) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "未配置日志文件"})
		return
	}
	name := strings.TrimSpace(c.Query("name"))
	if name == "" {
		name = r.logNames[0]
	}
	path, ok := r.logPaths[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown log name", "available": r.logNames})
		return
	}
	limit := clampQueryInt(c, "limit", 200, 2000)
	lines, err := readLastLines(path, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "path": path})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      name,
		"path":      path,
		"lines":     lines,
		"available": r.logNames,
	})
}

func (r *Router) handleReport(c *gin.Context) {
	if r.Reports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "报告生成器未启用"})
		return
	}
	res, err := r.Reports.Build(c.Request.Context())
	if err != nil {
		logger.Warnf("[api] report build failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	logger.Infof("[api] report built ip=%s html=%s trades=%d", c.ClientIP(), res.HTMLPath, res.Trades)
	c.JSON(http.StatusOK, res)
}

func breakerStatus(b *circuit.Breaker) gin.H {
	if b == nil {
		return gin.H{"state": "UNKNOWN"}
	}
	return gin.H{"state": b.State().String(), "failures": b.Failures()}
}

func clampQueryInt(c *gin.Context, key string, def, max int) int {
	v, _ := strconv.Atoi(c.DefaultQuery(key, strconv.Itoa(def)))
	if v <= 0 {
		v = def
	}
	if v > max {
		v = max
	}
	return v
}

const maxLogLineSize = 4 * 1024 * 1024 // 4MB per line for payload-heavy logs

func readLastLines(path string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLogLineSize)
	lines := make([]string, 0, limit)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > limit {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
