package scheduler

import (
	"context"
	"time"

	"quorum/internal/logger"
)

// CycleScheduler 按整点对齐的固定周期驱动决策循环。
// Floor 是周期下限：配置再激进也不会以低于 Floor 的间隔触发，保护外部接口。
type CycleScheduler struct {
	Interval       time.Duration
	Floor          time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewCycleScheduler(ctx context.Context, interval, floor time.Duration) *CycleScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &CycleScheduler{
		Interval: interval,
		Floor:    floor,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start 周期性执行 task；task 返回 false 或 ctx 取消时退出。
func (s *CycleScheduler) Start(task func() bool) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("CycleScheduler: task is nil, exit")
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("CycleScheduler: invalid interval=%s, exit", s.Interval)
		return
	}
	if s.Floor > 0 && s.Interval < s.Floor {
		logger.Warnf("CycleScheduler: interval=%s below floor=%s, clamped", s.Interval, s.Floor)
		s.Interval = s.Floor
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("CycleScheduler: started interval=%s run_immediately=%v at=%s",
		s.Interval, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		if !task() {
			return
		}
	}

	for {
		now := s.nowFn().UTC()
		wakeAt := now.Truncate(s.Interval).Add(s.Interval)
		wait := wakeAt.Sub(now)
		logger.Debugf("CycleScheduler: 下一周期=%s (in %s) uptime=%s",
			wakeAt.Format(time.RFC3339), wait.Truncate(time.Second), now.Sub(startAt).Truncate(time.Second))

		if wait <= 0 {
			if !task() {
				return
			}
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("CycleScheduler: ctx done, exit")
			return
		case <-timer.C:
		}
		if !task() {
			logger.Infof("CycleScheduler: task requested stop, exit")
			return
		}
	}
}
