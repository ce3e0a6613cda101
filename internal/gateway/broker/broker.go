// Package broker 定义下单通道的窄抽象:报价、下单、撤单。
// 引擎永远通过 Guarded 装饰器访问 Broker,裸实现不感知限流与熔断。
package broker

import (
	"context"
	"time"

	"quorum/internal/market"
	"quorum/internal/strategy"
)

// OrderRequest 描述一笔市价单。Exit 标记平仓腿,平仓腿在防护层
// 走独立的熔断器,开仓通道故障时平仓仍然可用。
type OrderRequest struct {
	Symbol   string
	Side     strategy.Direction
	Quantity float64
	Price    float64 // 参考价,纸面通道按它加滑点成交
	Exit     bool
}

// Fill 是券商确认的成交回报。
type Fill struct {
	OrderID  string
	Symbol   string
	Price    float64
	Quantity float64
	At       time.Time
}

type Broker interface {
	Name() string
	GetQuote(ctx context.Context, symbol string) (market.Quote, error)
	PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error)
	CancelOrder(ctx context.Context, symbol, orderID string) error
}
