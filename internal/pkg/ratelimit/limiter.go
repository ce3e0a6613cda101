package ratelimit

import (
	"context"
	"fmt"
	"time"

	"quorum/internal/apperr"

	"golang.org/x/time/rate"
)

// Limiter 包装令牌桶：超出预算的调用先排队（背压），超过 maxWait 直接报错，
// 绝不无限阻塞。
type Limiter struct {
	lim     *rate.Limiter
	maxWait time.Duration
	name    string
}

func New(name string, perSecond float64, burst int, maxWait time.Duration) *Limiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst < 1 {
		burst = 1
	}
	if maxWait <= 0 {
		maxWait = 10 * time.Second
	}
	return &Limiter{
		lim:     rate.NewLimiter(rate.Limit(perSecond), burst),
		maxWait: maxWait,
		name:    name,
	}
}

// Acquire 阻塞到拿到令牌为止；等待将超过 maxWait 时返回 ErrRateLimitExceeded。
// 上层 ctx 取消时返回 ctx 的错误，便于停机路径与限流路径区分。
func (l *Limiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()
	if err := l.lim.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s would wait over %s", apperr.ErrRateLimitExceeded, l.name, l.maxWait)
	}
	return nil
}

// Allow 非阻塞探测，仅供只读路径使用。
func (l *Limiter) Allow() bool { return l.lim.Allow() }

func (l *Limiter) Name() string { return l.name }
