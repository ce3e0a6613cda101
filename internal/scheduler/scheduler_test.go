package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quorum/internal/market"
)

func TestParseIntervalDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"30s", 30 * time.Second, true},
		{"15m", 15 * time.Minute, true},
		{"1h", time.Hour, true},
		{"4H", 4 * time.Hour, true},
		{"2d", 48 * time.Hour, true},
		{"1w", 7 * 24 * time.Hour, true},
		{" 5m ", 5 * time.Minute, true},
		{"", 0, false},
		{"m", 0, false},
		{"0m", 0, false},
		{"-5m", 0, false},
		{"15", 0, false},
		{"15x", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseIntervalDuration(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		assert.Equal(t, tc.want, got, "input %q", tc.in)
	}
}

func TestDropUnclosedCandle(t *testing.T) {
	now := time.UnixMilli(1_750_000_000_000)
	interval := time.Minute
	grace := 10 * time.Second
	mk := func(openAgo time.Duration) market.Candle {
		return market.Candle{OpenTime: now.Add(-openAgo).UnixMilli(), Close: 1}
	}

	t.Run("未收盘的末根被剔除", func(t *testing.T) {
		in := []market.Candle{mk(3 * time.Minute), mk(2 * time.Minute), mk(30 * time.Second)}
		out := dropUnclosedCandleAt(in, interval, now, grace)
		require.Len(t, out, 2)
	})

	t.Run("已收盘且过宽限则保留", func(t *testing.T) {
		in := []market.Candle{mk(3 * time.Minute), mk(90 * time.Second)}
		out := dropUnclosedCandleAt(in, interval, now, grace)
		assert.Len(t, out, 2)
	})

	t.Run("宽限期内仍视为未收盘", func(t *testing.T) {
		// 收盘于 5s 前,宽限 10s => 仍剔除
		in := []market.Candle{mk(65 * time.Second)}
		out := dropUnclosedCandleAt(in, interval, now, grace)
		assert.Empty(t, out)
	})

	t.Run("空切片与非法间隔原样返回", func(t *testing.T) {
		assert.Empty(t, dropUnclosedCandleAt(nil, interval, now, grace))
		in := []market.Candle{mk(time.Second)}
		assert.Len(t, dropUnclosedCandleAt(in, 0, now, grace), 1)
	})
}

func TestCycleSchedulerStopsWhenTaskReturnsFalse(t *testing.T) {
	s := NewCycleScheduler(context.Background(), 10*time.Millisecond, 0)
	s.RunImmediately = true
	var n int32
	done := make(chan struct{})
	go func() {
		s.Start(func() bool { return atomic.AddInt32(&n, 1) < 3 })
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("调度器未在任务返回 false 后退出")
	}
	assert.EqualValues(t, 3, atomic.LoadInt32(&n))
}

func TestCycleSchedulerHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewCycleScheduler(ctx, time.Hour, 0)
	done := make(chan struct{})
	go func() {
		s.Start(func() bool { return true })
		close(done)
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("取消 ctx 后调度器未退出")
	}
}

func TestCycleSchedulerClampsToFloor(t *testing.T) {
	s := NewCycleScheduler(context.Background(), 5*time.Millisecond, 50*time.Millisecond)
	s.RunImmediately = true
	s.Start(func() bool { return false })
	assert.Equal(t, 50*time.Millisecond, s.Interval, "低于下限的间隔必须被钳制")
}
