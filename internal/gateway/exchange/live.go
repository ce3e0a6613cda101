package exchange

import (
	"context"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"quorum/internal/apperr"
	"quorum/internal/gateway/broker"
	"quorum/internal/logger"
	"quorum/internal/market"
	"quorum/internal/strategy"
)

// LiveBroker 用市价单在合约上成交。只在 live 模式启用,密钥缺失时
// 构造直接失败,不允许半配置状态进入交易循环。
type LiveBroker struct {
	src   *Source
	nowFn func() time.Time
}

func NewLiveBroker(cfg Config) (*LiveBroker, error) {
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, apperr.Validationf("live 模式需要 API key/secret")
	}
	src, err := NewSource(cfg)
	if err != nil {
		return nil, err
	}
	return &LiveBroker{src: src, nowFn: time.Now}, nil
}

func (b *LiveBroker) Name() string { return "binance-futures" }

func (b *LiveBroker) GetQuote(ctx context.Context, symbol string) (market.Quote, error) {
	return b.src.FetchQuote(ctx, symbol)
}

func (b *LiveBroker) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.Fill, error) {
	if req.Symbol == "" || req.Quantity <= 0 {
		return broker.Fill{}, apperr.Validationf("非法订单: symbol=%q qty=%v", req.Symbol, req.Quantity)
	}
	side := futures.SideTypeBuy
	if req.Side == strategy.Sell {
		side = futures.SideTypeSell
	}
	res, err := b.src.client.NewCreateOrderService().
		Symbol(cleanSymbol(req.Symbol)).
		Side(side).
		Type(futures.OrderTypeMarket).
		Quantity(strconv.FormatFloat(req.Quantity, 'f', -1, 64)).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return broker.Fill{}, err
	}

	price := parseFloat(res.AvgPrice)
	if price <= 0 {
		// 部分撮合引擎对刚成交的市价单返回 AvgPrice=0,退回参考价记账
		logger.Warnf("市价单 %s 回报缺少均价,按参考价 %.4f 记账", req.Symbol, req.Price)
		price = req.Price
	}
	qty := parseFloat(res.ExecutedQuantity)
	if qty <= 0 {
		qty = req.Quantity
	}
	return broker.Fill{
		OrderID:  strconv.FormatInt(res.OrderID, 10),
		Symbol:   req.Symbol,
		Price:    price,
		Quantity: qty,
		At:       b.nowFn(),
	}, nil
}

func (b *LiveBroker) CancelOrder(ctx context.Context, symbol, orderID string) error {
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return apperr.Validationf("非法订单号 %q: %v", orderID, err)
	}
	_, err = b.src.client.NewCancelOrderService().
		Symbol(cleanSymbol(symbol)).
		OrderID(id).
		Do(ctx)
	return err
}
