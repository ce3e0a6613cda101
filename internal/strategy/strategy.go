package strategy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"quorum/internal/market"
)

type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
	Hold Direction = "HOLD"
)

// Opposite 返回相反方向；HOLD 的反向仍是 HOLD。
func (d Direction) Opposite() Direction {
	switch d {
	case Buy:
		return Sell
	case Sell:
		return Buy
	default:
		return Hold
	}
}

// Signal 是单个策略对单个标的的一次评估输出。
type Signal struct {
	Symbol     string    `json:"symbol"`
	StrategyID string    `json:"strategy_id"`
	Direction  Direction `json:"direction"`
	Confidence float64   `json:"confidence"`
	At         time.Time `json:"at"`
}

// Strategy 是策略插件的统一接口。实现必须无状态或自持状态，
// Evaluate 不得修改传入的 Window。
type Strategy interface {
	// ID 返回唯一标识，需与 strategy pack 配置中的键一致。
	ID() string
	Evaluate(ctx context.Context, symbol string, win market.Window) (Signal, error)
}

// Registry 管理已启用的策略集合，按 ID 去重。
type Registry struct {
	mu    sync.RWMutex
	items map[string]Strategy
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Strategy)}
}

func (r *Registry) Register(s Strategy) error {
	if s == nil {
		return fmt.Errorf("strategy registry: nil strategy")
	}
	id := strings.TrimSpace(s.ID())
	if id == "" {
		return fmt.Errorf("strategy registry: 策略 ID 不能为空")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.items[id]; dup {
		return fmt.Errorf("strategy registry: duplicate id %q", id)
	}
	r.items[id] = s
	return nil
}

// Replace 整体替换策略集合（pack 热加载使用）。
func (r *Registry) Replace(set []Strategy) {
	next := make(map[string]Strategy, len(set))
	for _, s := range set {
		if s == nil || strings.TrimSpace(s.ID()) == "" {
			continue
		}
		next[s.ID()] = s
	}
	r.mu.Lock()
	r.items = next
	r.mu.Unlock()
}

// All 按 ID 排序返回，保证每个评估周期的遍历顺序确定。
func (r *Registry) All() []Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.items))
	for id := range r.items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]Strategy, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.items[id])
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}
