// Package report 把成交历史汇总成复盘报告:净值曲线、单笔盈亏与离场
// 原因分布,输出自包含的 HTML,可选再截图成 PNG。
package report

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"quorum/internal/ledger"
	"quorum/internal/logger"
	"quorum/internal/store/tradelog"
)

const (
	colorBackground    = "#060c1b"
	colorTextPrimary   = "#eceff4"
	colorTextSecondary = "#9ca3af"
	colorBull          = "#34d399"
	colorBear          = "#f87171"
	colorEquity        = "#3b82f6"

	chartWidthPx    = 1600
	equityHeightPx  = 600
	pnlHeightPx     = 260
	reasonHeightPx  = 260
	maxReportTrades = 2000
)

// Config 描述报告输出方式。
type Config struct {
	OutDir    string
	RenderPNG bool
	Capital   float64 // 起始资金,净值曲线的基线
}

// Builder 从成交历史构建复盘报告。
type Builder struct {
	cfg    Config
	trades *tradelog.Store
}

// Result 返回生成的文件与汇总数据。
type Result struct {
	HTMLPath string         `json:"html_path"`
	PNGPath  string         `json:"png_path,omitempty"`
	Trades   int            `json:"trades"`
	Stats    tradelog.Stats `json:"stats"`
}

func NewBuilder(cfg Config, trades *tradelog.Store) (*Builder, error) {
	if trades == nil {
		return nil, fmt.Errorf("report: 成交历史存储未配置")
	}
	if strings.TrimSpace(cfg.OutDir) == "" {
		cfg.OutDir = "."
	}
	if cfg.Capital <= 0 {
		cfg.Capital = 0
	}
	return &Builder{cfg: cfg, trades: trades}, nil
}

// Build 拉取成交历史并落盘报告文件。没有已平仓交易时返回错误。
func (b *Builder) Build(ctx context.Context) (Result, error) {
	rows, err := b.trades.Recent(ctx, maxReportTrades)
	if err != nil {
		return Result{}, fmt.Errorf("读取成交历史失败: %w", err)
	}
	if len(rows) == 0 {
		return Result{}, fmt.Errorf("暂无已平仓交易,无法生成报告")
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ExitTime.Before(rows[j].ExitTime) })

	stats, err := b.trades.Summary(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("汇总成交历史失败: %w", err)
	}

	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		buildEquityLine(b.cfg.Capital, rows, stats),
		buildPnLBars(rows),
		buildReasonBars(rows),
	)

	if err := os.MkdirAll(b.cfg.OutDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("创建报告目录失败: %w", err)
	}
	stamp := time.Now().UTC().Format("20060102_150405")
	htmlPath := filepath.Join(b.cfg.OutDir, fmt.Sprintf("quorum_report_%s.html", stamp))
	f, err := os.Create(htmlPath)
	if err != nil {
		return Result{}, fmt.Errorf("写报告文件失败: %w", err)
	}
	if err := page.Render(f); err != nil {
		f.Close()
		return Result{}, fmt.Errorf("渲染报告失败: %w", err)
	}
	if err := f.Close(); err != nil {
		return Result{}, err
	}

	res := Result{HTMLPath: htmlPath, Trades: len(rows), Stats: stats}
	if b.cfg.RenderPNG {
		height := equityHeightPx + pnlHeightPx + reasonHeightPx
		png, err := renderFileToPNG(ctx, htmlPath, chartWidthPx, height)
		if err != nil {
			// 截图依赖 headless 浏览器,失败不影响 HTML 报告本身。
			logger.Warnf("报告截图失败: %v", err)
		} else {
			pngPath := strings.TrimSuffix(htmlPath, ".html") + ".png"
			if err := os.WriteFile(pngPath, png, 0o644); err != nil {
				logger.Warnf("写报告截图失败: %v", err)
			} else {
				res.PNGPath = pngPath
			}
		}
	}
	logger.Infof("报告已生成: %s (交易 %d 笔, 胜率 %.0f%%)", htmlPath, len(rows), stats.WinRate()*100)
	return res, nil
}

func chartInit(height int) opts.Initialization {
	return opts.Initialization{
		Theme:           types.ThemeWesteros,
		Width:           fmt.Sprintf("%dpx", chartWidthPx),
		Height:          fmt.Sprintf("%dpx", height),
		BackgroundColor: colorBackground,
	}
}

func buildEquityLine(capital float64, rows []ledger.ClosedTrade, stats tradelog.Stats) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit(equityHeightPx)),
		charts.WithTitleOpts(opts.Title{
			Title: "净值曲线",
			Subtitle: fmt.Sprintf("累计净盈亏 %.2f USDT | 胜率 %.0f%% (%d/%d) | 费用 %.2f",
				stats.NetPnL, stats.WinRate()*100, stats.Wins, stats.Trades, stats.Fees),
			Left:          "left",
			Top:           "10",
			TitleStyle:    &opts.TextStyle{Color: colorTextPrimary, FontSize: 18},
			SubtitleStyle: &opts.TextStyle{Color: colorTextSecondary},
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			Scale:     opts.Bool(true),
			AxisLabel: &opts.AxisLabel{Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.2)}},
		}),
	)
	line.SetSeriesOptions(
		charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
	)
	xAxis := buildTradeAxis(rows)
	equity := make([]opts.LineData, len(rows))
	running := capital
	for i, t := range rows {
		running += t.NetPnL
		equity[i] = opts.LineData{Value: round2(running)}
	}
	line.SetXAxis(xAxis)
	line.AddSeries("Equity", equity, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	return line
}

func buildPnLBars(rows []ledger.ClosedTrade) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit(pnlHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "单笔净盈亏", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			SplitNumber: 6,
			AxisLabel:   &opts.AxisLabel{Show: opts.Bool(false)},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	data := make([]opts.BarData, len(rows))
	for i, t := range rows {
		color := colorBear
		if t.NetPnL >= 0 {
			color = colorBull
		}
		data[i] = opts.BarData{
			Value: round2(t.NetPnL),
			ItemStyle: &opts.ItemStyle{
				Color:   color,
				Opacity: opts.Float(0.8),
			},
		}
	}
	bar.SetXAxis(buildTradeAxis(rows))
	bar.AddSeries("Net PnL", data)
	return bar
}

func buildReasonBars(rows []ledger.ClosedTrade) *charts.Bar {
	counts := make(map[string]int)
	for _, t := range rows {
		reason := strings.TrimSpace(t.Reason)
		if reason == "" {
			reason = "unspecified"
		}
		counts[reason]++
	}
	reasons := make([]string, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool {
		if counts[reasons[i]] != counts[reasons[j]] {
			return counts[reasons[i]] > counts[reasons[j]]
		}
		return reasons[i] < reasons[j]
	})

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(chartInit(reasonHeightPx)),
		charts.WithTitleOpts(opts.Title{Title: "离场原因分布", Left: "left", TitleStyle: &opts.TextStyle{Color: colorTextPrimary}}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(false)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithXAxisOpts(opts.XAxis{
			Type:      "category",
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary, Rotate: 20},
		}),
		charts.WithYAxisOpts(opts.YAxis{
			AxisLabel: &opts.AxisLabel{Show: opts.Bool(true), Color: colorTextSecondary},
			SplitLine: &opts.SplitLine{Show: opts.Bool(true), LineStyle: &opts.LineStyle{Color: colorTextSecondary, Opacity: opts.Float(0.15)}},
		}),
	)
	data := make([]opts.BarData, len(reasons))
	for i, r := range reasons {
		data[i] = opts.BarData{Value: counts[r], ItemStyle: &opts.ItemStyle{Color: colorEquity, Opacity: opts.Float(0.8)}}
	}
	bar.SetXAxis(reasons)
	bar.AddSeries("Exits", data)
	return bar
}

func buildTradeAxis(rows []ledger.ClosedTrade) []string {
	x := make([]string, len(rows))
	for i, t := range rows {
		x[i] = fmt.Sprintf("%s %s", t.ExitTime.UTC().Format("01-02 15:04"), t.Symbol)
	}
	return x
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
