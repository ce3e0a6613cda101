package notifier

import "quorum/internal/logger"

// TextNotifier 最小文本推送接口,组件依赖它而不是具体实现(如 Telegram)。
type TextNotifier interface {
	SendText(text string) error
}

// Notify 渲染并发送结构化消息。n 为 nil 时静默跳过,发送失败只告警不中断,
// tag 用于区分失败日志来源(entry_fill / exit_fill / breaker 等)。
func Notify(n TextNotifier, tag string, msg StructuredMessage) {
	if n == nil {
		return
	}
	if err := n.SendText(msg.RenderMarkdown()); err != nil {
		logger.Warnf("Telegram 推送失败(%s): %v", tag, err)
	}
}
