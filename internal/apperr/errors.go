package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Engine error kinds. Callers branch on these with errors.Is; every failure
// path in the decision loop maps to exactly one kind.
var (
	ErrValidation        = errors.New("validation failed")
	ErrStaleData         = errors.New("stale market data")
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrOrderRejected     = errors.New("order rejected")
	ErrPersistence       = errors.New("persistence failure")
	ErrCircuitOpen       = errors.New("circuit open")
)

// Validationf 构造带上下文的参数校验错误。
func Validationf(format string, v ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, v...))
}

// StaleQuoteError 表示行情超过允许时延，当前周期必须跳过该标的。
type StaleQuoteError struct {
	Symbol string
	Age    time.Duration
	Limit  time.Duration
}

func (e *StaleQuoteError) Error() string {
	return fmt.Sprintf("%s: quote for %s aged %s exceeds limit %s", ErrStaleData, e.Symbol, e.Age.Round(time.Millisecond), e.Limit)
}

func (e *StaleQuoteError) Unwrap() error { return ErrStaleData }

// RejectedError 携带券商侧拒单原因，便于审计与人工复核。
type RejectedError struct {
	Symbol string
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", ErrOrderRejected, e.Symbol, e.Reason)
}

func (e *RejectedError) Unwrap() error { return ErrOrderRejected }

func IsStale(err error) bool       { return errors.Is(err, ErrStaleData) }
func IsRateLimit(err error) bool   { return errors.Is(err, ErrRateLimitExceeded) }
func IsCircuitOpen(err error) bool { return errors.Is(err, ErrCircuitOpen) }
func IsValidation(err error) bool  { return errors.Is(err, ErrValidation) }
