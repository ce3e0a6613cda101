package app

import (
	"fmt"
	"strings"

	"quorum/internal/config"
	"quorum/internal/gateway/notifier"
	"quorum/internal/logger"
	"quorum/internal/store/auditlog"
	"quorum/internal/store/tradelog"
	opshttp "quorum/internal/transport/http/ops"
)

// StoreStack 打包成交历史与审计日志两份 sqlite 存储。
type StoreStack struct {
	Trades *tradelog.Store
	Audit  *auditlog.Store
}

func buildStores(cfg config.StoreConfig) (*StoreStack, error) {
	trades, err := tradelog.New(cfg.TradeLogPath)
	if err != nil {
		return nil, fmt.Errorf("初始化成交历史存储失败: %w", err)
	}
	audit, err := auditlog.New(cfg.AuditLogPath)
	if err != nil {
		trades.Close()
		return nil, fmt.Errorf("初始化审计日志存储失败: %w", err)
	}
	logger.Infof("✓ 存储就绪: trades=%s audit=%s", cfg.TradeLogPath, cfg.AuditLogPath)
	return &StoreStack{Trades: trades, Audit: audit}, nil
}

func buildOpsServer(cfg *config.Config, router *opshttp.Router) (*opshttp.Server, error) {
	logPaths := map[string]string{}
	if path := strings.TrimSpace(cfg.App.LogPath); path != "" {
		logPaths["app"] = path
	}
	server, err := opshttp.NewServer(opshttp.ServerConfig{
		Addr:     cfg.App.HTTPAddr,
		Router:   router,
		LogPaths: logPaths,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 ops HTTP 失败: %w", err)
	}
	logger.Infof("✓ Ops HTTP 接口监听 %s", server.Addr())
	return server, nil
}

func newTelegram(cfg config.NotifyConfig) notifier.TextNotifier {
	if !cfg.Telegram.Enabled {
		return nil
	}
	if cfg.Telegram.BotToken == "" || cfg.Telegram.ChatID == "" {
		logger.Warnf("Telegram 通知已启用但缺少 bot_token 或 chat_id,跳过")
		return nil
	}
	logger.Infof("✓ Telegram 通知已启用")
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}
