package broker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"quorum/internal/apperr"
	"quorum/internal/market"
	"quorum/internal/strategy"
)

// PaperBroker 纸面通道:报价走真实行情源,订单在本地按参考价加不利
// 滑点即时成交。paper 与 backtest 模式共用这条通道。
type PaperBroker struct {
	source      market.Source
	slippageBps float64
	nowFn       func() time.Time
}

func NewPaper(source market.Source, slippageBps float64) *PaperBroker {
	if slippageBps < 0 {
		slippageBps = 0
	}
	return &PaperBroker{source: source, slippageBps: slippageBps, nowFn: time.Now}
}

func (p *PaperBroker) Name() string { return "paper" }

func (p *PaperBroker) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	return p.source.FetchQuote(ctx, symbol)
}

func (p *PaperBroker) PlaceOrder(ctx context.Context, req OrderRequest) (Fill, error) {
	if req.Symbol == "" {
		return Fill{}, apperr.Validationf("订单缺少 symbol")
	}
	if req.Quantity <= 0 {
		return Fill{}, apperr.Validationf("订单数量必须为正, 得到 %v", req.Quantity)
	}

	ref := req.Price
	if ref <= 0 {
		q, err := p.source.FetchQuote(ctx, req.Symbol)
		if err != nil {
			return Fill{}, err
		}
		ref = q.Price
	}
	if ref <= 0 {
		return Fill{}, apperr.Validationf("无可用参考价: %s", req.Symbol)
	}

	// 滑点永远对订单不利:买单抬价,卖单压价
	slip := ref * p.slippageBps / 10_000
	price := ref + slip
	if req.Side == strategy.Sell {
		price = ref - slip
	}

	return Fill{
		OrderID:  uuid.NewString(),
		Symbol:   req.Symbol,
		Price:    price,
		Quantity: req.Quantity,
		At:       p.nowFn(),
	}, nil
}

func (p *PaperBroker) CancelOrder(context.Context, string, string) error {
	// 纸面订单即时成交,没有可撤的挂单
	return nil
}
