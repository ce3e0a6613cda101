package notifier

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderMarkdownLayout(t *testing.T) {
	msg := StructuredMessage{
		Icon:      "🚀",
		Title:     "开仓完成：BTCUSDT",
		Timestamp: time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC),
	}
	msg.AddSection("执行明细", "方向 BUY", "成交价 43250.5000", "", "  ")

	out := msg.RenderMarkdown()
	require.True(t, strings.HasPrefix(out, "🚀 开仓完成：BTCUSDT"), "标题在最前: %q", out)
	assert.Contains(t, out, "```\n执行明细\n- 方向 BUY\n- 成交价 43250.5000\n```")
	assert.Contains(t, out, "时间：2025-06-02 08:00:00 UTC")
	assert.NotContains(t, out, "-  \n", "空行应被过滤")
}

func TestRenderMarkdownSkipsEmptySections(t *testing.T) {
	msg := StructuredMessage{Title: "仅标题"}
	msg.AddSection("空段落", "", "   ")
	assert.Equal(t, "仅标题", msg.RenderMarkdown())
}

func TestRenderMarkdownEscapesFences(t *testing.T) {
	msg := StructuredMessage{Title: "t"}
	msg.AddSection("", "惊喜```注入")
	out := msg.RenderMarkdown()
	assert.Contains(t, out, "惊喜'''注入")
	assert.Equal(t, 2, strings.Count(out, "```"), "只保留自己的围栏")
}

func TestRenderMarkdownTruncates(t *testing.T) {
	msg := StructuredMessage{Title: "长文"}
	msg.AddSection("", strings.Repeat("a", maxRenderLen*2))
	out := msg.RenderMarkdown()
	assert.LessOrEqual(t, len(out), maxRenderLen+3)
	assert.True(t, strings.HasSuffix(out, "..."))
}

type recordingNotifier struct {
	sent []string
	err  error
}

func (r *recordingNotifier) SendText(text string) error {
	r.sent = append(r.sent, text)
	return r.err
}

func TestNotifyHelper(t *testing.T) {
	Notify(nil, "noop", StructuredMessage{Title: "x"})

	rec := &recordingNotifier{}
	Notify(rec, "entry_fill", StructuredMessage{Title: "开仓完成：ETHUSDT"})
	require.Len(t, rec.sent, 1)
	assert.Contains(t, rec.sent[0], "ETHUSDT")
}
