package exitscore

import (
	"github.com/shopspring/decimal"

	"quorum/internal/ledger"
)

// FeeModel 按腿估算交易成本:佣金取比例额与封顶额的较小值,规费按
// 成交额比例收取,税对(佣金+规费)征收,出场腿另有按成交额的征费。
// 所有比率为小数(0.001 = 0.1%),全部为零等价于免费通道。
type FeeModel struct {
	BrokerageRate   float64 `mapstructure:"brokerage_rate" json:"brokerage_rate"`
	BrokerageCap    float64 `mapstructure:"brokerage_cap" json:"brokerage_cap"`
	TransactionRate float64 `mapstructure:"transaction_rate" json:"transaction_rate"`
	TaxRate         float64 `mapstructure:"tax_rate" json:"tax_rate"`
	LevyRate        float64 `mapstructure:"levy_rate" json:"levy_rate"`
}

// legFees 计算单腿费用,withLevy 只在出场腿为真。
func (f FeeModel) legFees(turnover decimal.Decimal, withLevy bool) decimal.Decimal {
	brokerage := turnover.Mul(decFromFloat(f.BrokerageRate))
	if cap := decFromFloat(f.BrokerageCap); f.BrokerageCap > 0 && brokerage.GreaterThan(cap) {
		brokerage = cap
	}
	txn := turnover.Mul(decFromFloat(f.TransactionRate))
	tax := brokerage.Add(txn).Mul(decFromFloat(f.TaxRate))
	total := brokerage.Add(txn).Add(tax)
	if withLevy {
		total = total.Add(turnover.Mul(decFromFloat(f.LevyRate)))
	}
	return total
}

// RoundTrip 估算一进一出的总成本。
func (f FeeModel) RoundTrip(entryValue, exitValue float64) float64 {
	return decToFloat(f.roundTripDec(entryValue, exitValue))
}

func (f FeeModel) roundTripDec(entryValue, exitValue float64) decimal.Decimal {
	return f.legFees(decFromFloat(entryValue), false).Add(f.legFees(decFromFloat(exitValue), true))
}

// ExitLeg 估算仅出场腿的成本。
func (f FeeModel) ExitLeg(exitValue float64) float64 {
	return decToFloat(f.legFees(decFromFloat(exitValue), true))
}

// NetProfit 返回按现价立即平仓的预估净利:方向调整后的毛利减去
// 双边预估费用。评分规则与资金结算共用这一口径。
func NetProfit(pos ledger.Position, fees FeeModel) float64 {
	return netAtPrice(pos, pos.CurrentPrice, fees)
}

// netAtPrice 返回假设以 price 平仓的净利,用于峰值利润回吐的计算。
func netAtPrice(pos ledger.Position, price float64, fees FeeModel) float64 {
	qty := decFromFloat(pos.Quantity)
	gross := grossMove(pos.Side, pos.EntryPrice, price).Mul(qty)
	entryValue := decToFloat(decFromFloat(pos.EntryPrice).Mul(qty))
	exitValue := decToFloat(decFromFloat(price).Mul(qty))
	return decToFloat(gross.Sub(fees.roundTripDec(entryValue, exitValue)))
}
