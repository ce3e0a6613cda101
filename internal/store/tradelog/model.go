package tradelog

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"quorum/internal/ledger"
	"quorum/internal/strategy"
)

type closedTradeModel struct {
	ID          int64          `gorm:"column:id;primaryKey"`
	OrderID     string         `gorm:"column:order_id;uniqueIndex"`
	Symbol      string         `gorm:"column:symbol;index"`
	Side        string         `gorm:"column:side"`
	Quantity    float64        `gorm:"column:quantity"`
	EntryPrice  float64        `gorm:"column:entry_price"`
	ExitPrice   float64        `gorm:"column:exit_price"`
	Fees        float64        `gorm:"column:fees"`
	NetPnL      float64        `gorm:"column:net_pnl"`
	Reason      string         `gorm:"column:reason"`
	Strategies  datatypes.JSON `gorm:"column:strategies;type:TEXT"`
	EntryAtMs   int64          `gorm:"column:entry_at"`
	ExitAtMs    int64          `gorm:"column:exit_at;index"`
	CreatedAtMs int64          `gorm:"column:created_at"`
}

func (closedTradeModel) TableName() string { return "closed_trades" }

func newClosedTradeModel(t ledger.ClosedTrade, now time.Time) closedTradeModel {
	strategies, _ := json.Marshal(t.StrategySet)
	return closedTradeModel{
		OrderID:     t.OrderID,
		Symbol:      t.Symbol,
		Side:        string(t.Side),
		Quantity:    t.Quantity,
		EntryPrice:  t.EntryPrice,
		ExitPrice:   t.ExitPrice,
		Fees:        t.Fees,
		NetPnL:      t.NetPnL,
		Reason:      t.Reason,
		Strategies:  datatypes.JSON(strategies),
		EntryAtMs:   t.EntryTime.UnixMilli(),
		ExitAtMs:    t.ExitTime.UnixMilli(),
		CreatedAtMs: now.UnixMilli(),
	}
}

func (m closedTradeModel) record() ledger.ClosedTrade {
	var strategies []string
	if len(m.Strategies) > 0 {
		_ = json.Unmarshal(m.Strategies, &strategies)
	}
	return ledger.ClosedTrade{
		OrderID:     m.OrderID,
		Symbol:      m.Symbol,
		Side:        strategy.Direction(m.Side),
		Quantity:    m.Quantity,
		EntryPrice:  m.EntryPrice,
		ExitPrice:   m.ExitPrice,
		Fees:        m.Fees,
		NetPnL:      m.NetPnL,
		Reason:      m.Reason,
		StrategySet: strategies,
		EntryTime:   time.UnixMilli(m.EntryAtMs).UTC(),
		ExitTime:    time.UnixMilli(m.ExitAtMs).UTC(),
	}
}
