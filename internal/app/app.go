package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"quorum/internal/config"
	"quorum/internal/engine"
	"quorum/internal/ledger/snapshot"
	"quorum/internal/logger"
	"quorum/internal/market"
	"quorum/internal/store/auditlog"
	"quorum/internal/store/tradelog"
	"quorum/internal/strategy/pack"
	opshttp "quorum/internal/transport/http/ops"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排:加载配置→初始化依赖→启动决策循环与 ops 服务。
type App struct {
	cfg       *config.Config
	engine    *engine.Engine
	ops       *opshttp.Server
	snapshots *snapshot.Manager
	market    market.Source
	trades    *tradelog.Store
	audit     *auditlog.Store
	packReg   *pack.Registry
	Summary   *StartupSummary
}

// NewApp 根据配置构建应用对象(不启动)。
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动决策循环、快照落盘与 ops HTTP,阻塞至 ctx 取消或引擎跑完
// 设定轮次。引擎正常收尾会连带停掉其余服务。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}

	if a.Summary != nil {
		a.Summary.Print()
	}

	if a.engine == nil {
		return fmt.Errorf("engine not initialized")
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	group, gctx := errgroup.WithContext(runCtx)

	if a.snapshots != nil {
		a.snapshots.Start(gctx)
	}

	if a.ops != nil {
		group.Go(func() error {
			if err := a.ops.Start(gctx); err != nil {
				return fmt.Errorf("ops http server error: %w", err)
			}
			return nil
		})
	}

	if keep := a.cfg.Store.AuditKeep(); keep > 0 && a.audit != nil {
		group.Go(func() error {
			a.pruneAuditLoop(gctx, keep)
			return nil
		})
	}

	group.Go(func() error {
		defer cancel()
		return a.engine.Run(gctx)
	})

	err := group.Wait()
	if a.snapshots != nil {
		a.snapshots.Wait()
	}
	a.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Engine exposes the underlying decision engine (for testing/replay harnesses).
func (a *App) Engine() *engine.Engine {
	if a == nil {
		return nil
	}
	return a.engine
}

// Close 释放行情源与两份存储。落盘循环的收尾由 Run 负责。
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.market != nil {
		if err := a.market.Close(); err != nil {
			logger.Warnf("关闭行情源失败: %v", err)
		}
	}
	if a.trades != nil {
		a.trades.Close()
	}
	if a.audit != nil {
		a.audit.Close()
	}
}

// pruneAuditLoop 周期性清理过期审计日志,启动时先清一次。
func (a *App) pruneAuditLoop(ctx context.Context, keep time.Duration) {
	prune := func() {
		n, err := a.audit.Prune(ctx, keep)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				logger.Warnf("审计日志清理失败: %v", err)
			}
			return
		}
		if n > 0 {
			logger.Infof("审计日志清理 %d 条(保留 %s)", n, keep)
		}
	}
	prune()
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
