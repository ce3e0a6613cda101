package app

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

type StartupSummary struct {
	Mode      string
	HTTPAddr  string
	Symbols   []string
	Interval  time.Duration
	MaxCycles int64

	Strategies []StrategySummary
	Risk       RiskSummary
	Exit       ExitSummary

	SnapshotPath string
	Restored     bool
	Positions    int
}

type StrategySummary struct {
	ID     string
	Weight float64
}

type RiskSummary struct {
	Floor            float64
	MaxOpenPositions int
	RiskPerTradePct  float64
	MaxPositionPct   float64
}

type ExitSummary struct {
	Threshold   float64
	GracePeriod time.Duration
	MaxHold     time.Duration
}

func (s *StartupSummary) Print() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%*s\n", 40+len("启动配置摘要 (STARTUP SUMMARY)")/2, "启动配置摘要 (STARTUP SUMMARY)")
	fmt.Println(strings.Repeat("=", 80))

	fmt.Println("[运行环境 (RUNTIME)]")
	fmt.Printf("  模式: %s\n", s.Mode)
	fmt.Printf("  HTTP: %s\n", s.HTTPAddr)
	cycles := "不限"
	if s.MaxCycles > 0 {
		cycles = fmt.Sprintf("%d", s.MaxCycles)
	}
	fmt.Printf("  决策周期: %s (最大轮次: %s)\n", s.Interval, cycles)
	fmt.Println()

	fmt.Println("[标的 (SYMBOLS)]")
	fmt.Printf("  监控标的: %s\n", formatList(s.Symbols))
	fmt.Println()

	fmt.Println("[策略 (STRATEGIES)]")
	if len(s.Strategies) == 0 {
		fmt.Println("  (无)")
	} else {
		items := append([]StrategySummary(nil), s.Strategies...)
		sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
		for _, st := range items {
			fmt.Printf("  > %s (权重 %.1f)\n", st.ID, st.Weight)
		}
	}
	fmt.Println()

	fmt.Println("[风控 (RISK)]")
	fmt.Printf("  置信度门槛: %.2f\n", s.Risk.Floor)
	fmt.Printf("  最大持仓数: %d\n", s.Risk.MaxOpenPositions)
	fmt.Printf("  单笔风险: %.1f%%  仓位上限: %.1f%%\n", s.Risk.RiskPerTradePct*100, s.Risk.MaxPositionPct*100)
	fmt.Println()

	fmt.Println("[离场 (EXIT)]")
	fmt.Printf("  评分阈值: %.0f\n", s.Exit.Threshold)
	fmt.Printf("  止损静默期: %s\n", s.Exit.GracePeriod)
	if s.Exit.MaxHold > 0 {
		fmt.Printf("  最长持有: %s\n", s.Exit.MaxHold)
	}
	fmt.Println()

	fmt.Println("[台账 (LEDGER)]")
	fmt.Printf("  快照: %s\n", s.SnapshotPath)
	if s.Restored {
		fmt.Printf("  已从快照恢复, 持仓 %d 个\n", s.Positions)
	} else {
		fmt.Println("  空账启动")
	}
	fmt.Println(strings.Repeat("=", 80))
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
