package ledger

import (
	"time"

	"quorum/internal/strategy"
)

type Status string

const (
	StatusPendingEntry Status = "PENDING_ENTRY"
	StatusOpen         Status = "OPEN"
	StatusPendingExit  Status = "PENDING_EXIT"
	StatusClosed       Status = "CLOSED"
	StatusRejected     Status = "REJECTED"
)

// validNext 定义状态机的合法迁移。REJECTED 只能从 PENDING_ENTRY 进入；
// 平仓失败不迁移状态，只打 ReviewRequired 标记等待下轮重试或人工处理。
var validNext = map[Status][]Status{
	StatusPendingEntry: {StatusOpen, StatusRejected},
	StatusOpen:         {StatusPendingExit},
	StatusPendingExit:  {StatusClosed},
}

func (s Status) CanTransition(to Status) bool {
	for _, n := range validNext[s] {
		if n == to {
			return true
		}
	}
	return false
}

// Position 的唯一持有者是 Ledger；外部只拿值拷贝，通过 symbol 回查。
// CurrentPrice 只接受带时间戳的报价更新，行情陈旧时本周期跳过该持仓，
// 绝不回退到 EntryPrice。
type Position struct {
	Symbol            string             `json:"symbol"`
	Side              strategy.Direction `json:"side"`
	Quantity          float64            `json:"quantity"`
	EntryPrice        float64            `json:"entry_price"`
	EntryTime         time.Time          `json:"entry_time"`
	CurrentPrice      float64            `json:"current_price"`
	PriceAt           time.Time          `json:"price_at"`
	MaxFavorablePrice float64            `json:"max_favorable_price"`
	Expiry            time.Time          `json:"expiry"`
	Sector            string             `json:"sector"`
	StrategySet       []string           `json:"strategy_set,omitempty"`
	Status            Status             `json:"status"`
	StaleCycles       int                `json:"stale_cycles,omitempty"`
	ReviewRequired    bool               `json:"review_required,omitempty"`
	OrderID           string             `json:"order_id,omitempty"`
}

// EntryValue 返回开仓金额。
func (p Position) EntryValue() float64 { return p.Quantity * p.EntryPrice }

// PriceFresh 判断最近一次报价是否仍可用于本周期评估。
func (p Position) PriceFresh(now time.Time, limit time.Duration) bool {
	if p.PriceAt.IsZero() || limit <= 0 {
		return false
	}
	return now.Sub(p.PriceAt) <= limit
}

// ClosedTrade 是一笔完结交易的审计记录，写入 trade log。
type ClosedTrade struct {
	Symbol      string             `json:"symbol"`
	Side        strategy.Direction `json:"side"`
	Quantity    float64            `json:"quantity"`
	EntryPrice  float64            `json:"entry_price"`
	ExitPrice   float64            `json:"exit_price"`
	EntryTime   time.Time          `json:"entry_time"`
	ExitTime    time.Time          `json:"exit_time"`
	Fees        float64            `json:"fees"`
	NetPnL      float64            `json:"net_pnl"`
	Reason      string             `json:"reason"`
	StrategySet []string           `json:"strategy_set,omitempty"`
	OrderID     string             `json:"order_id,omitempty"`
}
