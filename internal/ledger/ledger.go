// Package ledger 维护组合台账：持仓状态机、资金与当日风控计数器。
// 并发模型:每个 symbol 按 FNV-1a 落到固定分片锁上,资金与计数器的
// 变更在分片锁内再短暂持有一把窄的全局计数锁,锁序固定为
// shard.mu -> countersMu,不存在反向获取。
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"quorum/internal/apperr"
	"quorum/internal/market"
	"quorum/internal/strategy"
)

const shardCount = 32

type shard struct {
	mu        sync.Mutex
	positions map[string]*Position
}

func hashKey(key string) uint32 {
	hash := uint32(2166136261)
	const prime32 = uint32(16777619)
	for i := 0; i < len(key); i++ {
		hash *= prime32
		hash ^= uint32(key[i])
	}
	return hash
}

// Ledger 是持仓与资金的唯一事实来源。所有写操作要么完整生效要么
// 完全不生效,计数器只在经纪确认后递增,拒单不会留下任何痕迹。
type Ledger struct {
	shards [shardCount]*shard

	countersMu     sync.Mutex
	cash           float64
	reserved       float64 // PENDING_ENTRY 占用的资金,确认时转为扣减,拒单时释放
	day            string  // 计数器归属日 (UTC, 2006-01-02),跨日自动清零
	dailyTrades    map[string]int
	dailyPnL       float64
	sectorExposure map[string]int

	dirty atomic.Bool
	nowFn func() time.Time
}

// New 以初始资金建立空台账。
func New(initialCash float64) *Ledger {
	l := &Ledger{
		cash:           initialCash,
		dailyTrades:    make(map[string]int),
		sectorExposure: make(map[string]int),
		nowFn:          time.Now,
	}
	for i := range l.shards {
		l.shards[i] = &shard{positions: make(map[string]*Position)}
	}
	l.day = dayOf(l.nowFn())
	return l
}

func dayOf(t time.Time) string { return t.UTC().Format("2006-01-02") }

func (l *Ledger) shardFor(symbol string) *shard {
	return l.shards[hashKey(symbol)%shardCount]
}

// rollDayLocked 在跨日时清零当日计数器。调用方必须持有 countersMu。
func (l *Ledger) rollDayLocked(now time.Time) {
	if d := dayOf(now); d != l.day {
		l.day = d
		l.dailyTrades = make(map[string]int)
		l.dailyPnL = 0
	}
}

// OpenRequest 描述一笔已通过风控的开仓请求。
type OpenRequest struct {
	Symbol      string
	Side        strategy.Direction
	Quantity    float64
	Price       float64
	Sector      string
	StrategySet []string
	Expiry      time.Time
}

func (r OpenRequest) validate() error {
	switch {
	case r.Symbol == "":
		return apperr.Validationf("开仓请求缺少 symbol")
	case r.Side != strategy.Buy && r.Side != strategy.Sell:
		return apperr.Validationf("开仓方向必须是 BUY 或 SELL, 得到 %q", r.Side)
	case r.Quantity <= 0:
		return apperr.Validationf("开仓数量必须为正, 得到 %v", r.Quantity)
	case r.Price <= 0:
		return apperr.Validationf("开仓价格必须为正, 得到 %v", r.Price)
	}
	return nil
}

// BeginEntry 创建 PENDING_ENTRY 持仓并占用资金。同一 symbol 已有活跃
// 持仓或资金不足时返回错误,此时台账不发生任何变化。
func (l *Ledger) BeginEntry(req OpenRequest) (Position, error) {
	if err := req.validate(); err != nil {
		return Position{}, err
	}
	sh := l.shardFor(req.Symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if _, exists := sh.positions[req.Symbol]; exists {
		return Position{}, &apperr.RejectedError{Symbol: req.Symbol, Reason: "已持有该标的的活跃仓位"}
	}

	cost := req.Quantity * req.Price
	l.countersMu.Lock()
	if avail := l.cash - l.reserved; cost > avail {
		l.countersMu.Unlock()
		return Position{}, &apperr.RejectedError{
			Symbol: req.Symbol,
			Reason: fmt.Sprintf("可用资金不足: 需要 %.2f, 剩余 %.2f", cost, avail),
		}
	}
	l.reserved += cost
	l.countersMu.Unlock()

	now := l.nowFn()
	p := &Position{
		Symbol:            req.Symbol,
		Side:              req.Side,
		Quantity:          req.Quantity,
		EntryPrice:        req.Price,
		EntryTime:         now,
		CurrentPrice:      req.Price,
		PriceAt:           now,
		MaxFavorablePrice: req.Price,
		Expiry:            req.Expiry,
		Sector:            req.Sector,
		StrategySet:       append([]string(nil), req.StrategySet...),
		Status:            StatusPendingEntry,
	}
	sh.positions[req.Symbol] = p
	l.dirty.Store(true)
	return *p, nil
}

// ConfirmEntry 在经纪确认后将 PENDING_ENTRY 迁移为 OPEN:扣减资金并
// 递增当日交易数与板块敞口。计数器只在这里增加。
func (l *Ledger) ConfirmEntry(symbol, orderID string) (Position, error) {
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.positions[symbol]
	if !ok {
		return Position{}, apperr.Validationf("确认开仓失败: %s 不存在待确认仓位", symbol)
	}
	if !p.Status.CanTransition(StatusOpen) {
		return Position{}, apperr.Validationf("确认开仓失败: %s 状态为 %s", symbol, p.Status)
	}

	cost := p.EntryValue()
	l.countersMu.Lock()
	l.rollDayLocked(l.nowFn())
	l.reserved -= cost
	l.cash -= cost
	l.dailyTrades[symbol]++
	if p.Sector != "" {
		l.sectorExposure[p.Sector]++
	}
	l.countersMu.Unlock()

	p.Status = StatusOpen
	p.OrderID = orderID
	l.dirty.Store(true)
	return *p, nil
}

// RejectEntry 将 PENDING_ENTRY 标记为 REJECTED 并从台账移除,释放占用
// 资金。被拒的仓位不会出现在快照里,计数器保持不变。
func (l *Ledger) RejectEntry(symbol, reason string) error {
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.positions[symbol]
	if !ok {
		return apperr.Validationf("拒绝开仓失败: %s 不存在待确认仓位", symbol)
	}
	if !p.Status.CanTransition(StatusRejected) {
		return apperr.Validationf("拒绝开仓失败: %s 状态为 %s", symbol, p.Status)
	}

	l.countersMu.Lock()
	l.reserved -= p.EntryValue()
	l.countersMu.Unlock()

	delete(sh.positions, symbol)
	l.dirty.Store(true)
	return nil
}

// BeginExit 将 OPEN 持仓迁移为 PENDING_EXIT,表示平仓指令已发出。
func (l *Ledger) BeginExit(symbol string) (Position, error) {
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.positions[symbol]
	if !ok {
		return Position{}, apperr.Validationf("发起平仓失败: %s 无持仓", symbol)
	}
	if !p.Status.CanTransition(StatusPendingExit) {
		return Position{}, apperr.Validationf("发起平仓失败: %s 状态为 %s", symbol, p.Status)
	}
	p.Status = StatusPendingExit
	l.dirty.Store(true)
	return *p, nil
}

// ConfirmExit 完成平仓:按成交价与费用结算资金,记入当日盈亏,
// 释放板块敞口并移除持仓,返回完结交易记录。
func (l *Ledger) ConfirmExit(symbol string, exitPrice, fees float64, reason string) (ClosedTrade, error) {
	if exitPrice <= 0 {
		return ClosedTrade{}, apperr.Validationf("平仓价格必须为正, 得到 %v", exitPrice)
	}
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.positions[symbol]
	if !ok {
		return ClosedTrade{}, apperr.Validationf("确认平仓失败: %s 无持仓", symbol)
	}
	if !p.Status.CanTransition(StatusClosed) {
		return ClosedTrade{}, apperr.Validationf("确认平仓失败: %s 状态为 %s", symbol, p.Status)
	}

	net := realizedNet(p.Side, p.EntryPrice, exitPrice, p.Quantity, fees)
	now := l.nowFn()

	l.countersMu.Lock()
	l.rollDayLocked(now)
	l.cash += p.EntryValue() + net
	l.dailyPnL += net
	if p.Sector != "" {
		if l.sectorExposure[p.Sector]--; l.sectorExposure[p.Sector] <= 0 {
			delete(l.sectorExposure, p.Sector)
		}
	}
	l.countersMu.Unlock()

	trade := ClosedTrade{
		Symbol:      p.Symbol,
		Side:        p.Side,
		Quantity:    p.Quantity,
		EntryPrice:  p.EntryPrice,
		ExitPrice:   exitPrice,
		EntryTime:   p.EntryTime,
		ExitTime:    now,
		Fees:        fees,
		NetPnL:      net,
		Reason:      reason,
		StrategySet: p.StrategySet,
		OrderID:     p.OrderID,
	}
	delete(sh.positions, symbol)
	l.dirty.Store(true)
	return trade, nil
}

// FlagExitFailed 在平仓重试耗尽后标记持仓需要人工处理。状态保持
// PENDING_EXIT,下个周期的平仓通道仍会继续尝试。
func (l *Ledger) FlagExitFailed(symbol string) error {
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.positions[symbol]
	if !ok {
		return apperr.Validationf("标记平仓失败: %s 无持仓", symbol)
	}
	if p.Status != StatusPendingExit {
		return apperr.Validationf("标记平仓失败: %s 状态为 %s", symbol, p.Status)
	}
	p.ReviewRequired = true
	l.dirty.Store(true)
	return nil
}

// realizedNet 用 decimal 结算已实现净盈亏,避免累计浮点误差。
func realizedNet(side strategy.Direction, entry, exit, qty, fees float64) float64 {
	e := decimal.NewFromFloat(entry)
	x := decimal.NewFromFloat(exit)
	q := decimal.NewFromFloat(qty)
	f := decimal.NewFromFloat(fees)
	gross := x.Sub(e).Mul(q)
	if side == strategy.Sell {
		gross = e.Sub(x).Mul(q)
	}
	v, _ := gross.Sub(f).Float64()
	return v
}

// UpdatePrice 用一条带时间戳的报价刷新持仓现价与最有利价,并清零
// 陈旧计数。零时间戳的报价一律拒绝,现价绝不会退化为开仓价。
func (l *Ledger) UpdatePrice(symbol string, q market.Quote) error {
	if q.At.IsZero() {
		return &apperr.StaleQuoteError{Symbol: symbol}
	}
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.positions[symbol]
	if !ok {
		return apperr.Validationf("刷新价格失败: %s 无持仓", symbol)
	}
	p.CurrentPrice = q.Price
	p.PriceAt = q.At
	p.StaleCycles = 0
	switch p.Side {
	case strategy.Sell:
		if q.Price < p.MaxFavorablePrice {
			p.MaxFavorablePrice = q.Price
		}
	default:
		if q.Price > p.MaxFavorablePrice {
			p.MaxFavorablePrice = q.Price
		}
	}
	l.dirty.Store(true)
	return nil
}

// MarkStale 累加持仓连续拿不到新鲜行情的周期数。
func (l *Ledger) MarkStale(symbol string) int {
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	p, ok := sh.positions[symbol]
	if !ok {
		return 0
	}
	p.StaleCycles++
	l.dirty.Store(true)
	return p.StaleCycles
}

// Get 返回持仓的值拷贝。
func (l *Ledger) Get(symbol string) (Position, bool) {
	sh := l.shardFor(symbol)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	p, ok := sh.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// OpenPositions 返回全部 OPEN 持仓的拷贝,按 symbol 排序。
func (l *Ledger) OpenPositions() []Position {
	return l.collect(func(p *Position) bool { return p.Status == StatusOpen })
}

// PendingExits 返回等待平仓确认的持仓,按 symbol 排序。
func (l *Ledger) PendingExits() []Position {
	return l.collect(func(p *Position) bool { return p.Status == StatusPendingExit })
}

// ActivePositions 返回 OPEN 与 PENDING_EXIT 持仓,按 symbol 排序。
func (l *Ledger) ActivePositions() []Position {
	return l.collect(func(p *Position) bool {
		return p.Status == StatusOpen || p.Status == StatusPendingExit
	})
}

func (l *Ledger) collect(keep func(*Position) bool) []Position {
	var out []Position
	for _, sh := range l.shards {
		sh.mu.Lock()
		for _, p := range sh.positions {
			if keep(p) {
				out = append(out, *p)
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// OpenCount 返回 OPEN 与 PENDING_EXIT 的持仓总数,用于仓位上限闸门。
func (l *Ledger) OpenCount() int {
	n := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		for _, p := range sh.positions {
			if p.Status == StatusOpen || p.Status == StatusPendingExit {
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// Cash 返回已扣除占用后的可用资金。
func (l *Ledger) Cash() float64 {
	l.countersMu.Lock()
	defer l.countersMu.Unlock()
	return l.cash - l.reserved
}

// Equity 返回可用资金加全部活跃持仓的现值。
func (l *Ledger) Equity() float64 {
	total := decimal.NewFromFloat(l.Cash())
	for _, p := range l.ActivePositions() {
		total = total.Add(decimal.NewFromFloat(p.CurrentPrice).Mul(decimal.NewFromFloat(p.Quantity)))
	}
	v, _ := total.Float64()
	return v
}

// TradesToday 返回某标的当日已确认的开仓次数。
func (l *Ledger) TradesToday(symbol string) int {
	l.countersMu.Lock()
	defer l.countersMu.Unlock()
	l.rollDayLocked(l.nowFn())
	return l.dailyTrades[symbol]
}

// DailyPnL 返回当日已实现净盈亏。
func (l *Ledger) DailyPnL() float64 {
	l.countersMu.Lock()
	defer l.countersMu.Unlock()
	l.rollDayLocked(l.nowFn())
	return l.dailyPnL
}

// SectorCount 返回某板块当前的持仓敞口数。
func (l *Ledger) SectorCount(sector string) int {
	l.countersMu.Lock()
	defer l.countersMu.Unlock()
	return l.sectorExposure[sector]
}

// Dirty 报告自上次持久化以来台账是否有变更。
func (l *Ledger) Dirty() bool { return l.dirty.Load() }

// ClearDirty 由持久化器在成功落盘后调用。
func (l *Ledger) ClearDirty() { l.dirty.Store(false) }

// MarkDirty 重新置脏,持久化器在写盘失败时调用以保留落盘机会。
func (l *Ledger) MarkDirty() { l.dirty.Store(true) }

// State 是台账的可序列化全量视图,schema_version 随字段演进递增。
type State struct {
	SchemaVersion int            `json:"schema_version"`
	SavedAt       time.Time      `json:"saved_at"`
	Cash          float64        `json:"cash"`
	Day           string         `json:"day"`
	DailyTrades   map[string]int `json:"daily_trades"`
	DailyPnL      float64        `json:"daily_pnl"`
	Sectors       map[string]int `json:"sector_exposure"`
	Positions     []Position     `json:"positions"`
}

const SchemaVersion = 1

// Snapshot 返回一致的全量视图:按固定顺序锁住所有分片,再取计数器。
// PENDING_ENTRY 属于未确认的瞬态,不进入快照。
func (l *Ledger) Snapshot() State {
	st := State{
		SchemaVersion: SchemaVersion,
		SavedAt:       l.nowFn(),
		DailyTrades:   make(map[string]int),
		Sectors:       make(map[string]int),
	}
	for _, sh := range l.shards {
		sh.mu.Lock()
	}
	for _, sh := range l.shards {
		for _, p := range sh.positions {
			if p.Status == StatusPendingEntry {
				continue
			}
			st.Positions = append(st.Positions, *p)
		}
	}
	l.countersMu.Lock()
	st.Cash = l.cash
	st.Day = l.day
	st.DailyPnL = l.dailyPnL
	for k, v := range l.dailyTrades {
		st.DailyTrades[k] = v
	}
	for k, v := range l.sectorExposure {
		st.Sectors[k] = v
	}
	l.countersMu.Unlock()
	for _, sh := range l.shards {
		sh.mu.Unlock()
	}
	sort.Slice(st.Positions, func(i, j int) bool { return st.Positions[i].Symbol < st.Positions[j].Symbol })
	return st
}

// Restore 从快照重建台账,仅在启动时调用。重启后的当日计数若归属
// 过去的交易日,会在首次访问时自然清零。
func (l *Ledger) Restore(st State) error {
	for _, p := range st.Positions {
		if p.Status != StatusOpen && p.Status != StatusPendingExit {
			return apperr.Validationf("快照含非法状态 %s (%s)", p.Status, p.Symbol)
		}
	}
	for _, sh := range l.shards {
		sh.mu.Lock()
	}
	for _, sh := range l.shards {
		sh.positions = make(map[string]*Position)
	}
	for i := range st.Positions {
		p := st.Positions[i]
		l.shardFor(p.Symbol).positions[p.Symbol] = &p
	}
	l.countersMu.Lock()
	l.cash = st.Cash
	l.reserved = 0
	if st.Day != "" {
		l.day = st.Day
	}
	l.dailyPnL = st.DailyPnL
	l.dailyTrades = make(map[string]int)
	for k, v := range st.DailyTrades {
		l.dailyTrades[k] = v
	}
	l.sectorExposure = make(map[string]int)
	for k, v := range st.Sectors {
		l.sectorExposure[k] = v
	}
	l.countersMu.Unlock()
	for _, sh := range l.shards {
		sh.mu.Unlock()
	}
	l.dirty.Store(false)
	return nil
}
