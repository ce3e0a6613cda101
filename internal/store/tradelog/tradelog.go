// Package tradelog 平仓成交的落库与统计查询,供复盘接口与报表使用。
package tradelog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"quorum/internal/ledger"
)

// Store 基于 Gorm + SQLite 的平仓记录仓库。
type Store struct {
	db    *gorm.DB
	nowFn func() time.Time
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("tradelog: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&closedTradeModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL:读多写少,保留少量并发给 HTTP 查询。
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db, nowFn: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// RecordClosed 写入一笔平仓记录。order_id 冲突时忽略,重复确认不会产生双份。
func (s *Store) RecordClosed(ctx context.Context, t ledger.ClosedTrade) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("tradelog 未初始化")
	}
	if t.OrderID == "" || t.Symbol == "" {
		return fmt.Errorf("tradelog: order_id/symbol 必填")
	}
	m := newClosedTradeModel(t, s.nowFn())
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}},
			DoNothing: true,
		}).
		Create(&m).Error
}

// Recent 返回最近的平仓记录,按平仓时间倒序。
func (s *Store) Recent(ctx context.Context, limit int) ([]ledger.ClosedTrade, error) {
	return s.query(ctx, func(tx *gorm.DB) *gorm.DB { return tx }, limit, true)
}

// BySymbol 返回指定标的的平仓记录,按平仓时间倒序。
func (s *Store) BySymbol(ctx context.Context, symbol string, limit int) ([]ledger.ClosedTrade, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("tradelog: symbol 必填")
	}
	return s.query(ctx, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("symbol = ?", symbol)
	}, limit, true)
}

// Since 返回 from 之后的平仓记录,按平仓时间升序,用于权益曲线。
func (s *Store) Since(ctx context.Context, from time.Time) ([]ledger.ClosedTrade, error) {
	return s.query(ctx, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("exit_at >= ?", from.UnixMilli())
	}, 0, false)
}

func (s *Store) query(ctx context.Context, scope func(*gorm.DB) *gorm.DB, limit int, desc bool) ([]ledger.ClosedTrade, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("tradelog 未初始化")
	}
	tx := scope(s.db.WithContext(ctx).Model(&closedTradeModel{}))
	if desc {
		tx = tx.Order("exit_at DESC, id DESC")
	} else {
		tx = tx.Order("exit_at ASC, id ASC")
	}
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var models []closedTradeModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]ledger.ClosedTrade, 0, len(models))
	for _, m := range models {
		out = append(out, m.record())
	}
	return out, nil
}

// Stats 历史汇总。
type Stats struct {
	Trades int64   `json:"trades"`
	Wins   int64   `json:"wins"`
	Losses int64   `json:"losses"`
	NetPnL float64 `json:"net_pnl"`
	Fees   float64 `json:"fees"`
}

func (st Stats) WinRate() float64 {
	if st.Trades == 0 {
		return 0
	}
	return float64(st.Wins) / float64(st.Trades)
}

// Summary 聚合全量历史,SQLite 侧一次扫完。
func (s *Store) Summary(ctx context.Context) (Stats, error) {
	if s == nil || s.db == nil {
		return Stats{}, fmt.Errorf("tradelog 未初始化")
	}
	var st Stats
	row := s.db.WithContext(ctx).Model(&closedTradeModel{}).
		Select(`COUNT(1) AS trades,
			COALESCE(SUM(CASE WHEN net_pnl > 0 THEN 1 ELSE 0 END), 0) AS wins,
			COALESCE(SUM(CASE WHEN net_pnl < 0 THEN 1 ELSE 0 END), 0) AS losses,
			COALESCE(SUM(net_pnl), 0) AS net_pnl,
			COALESCE(SUM(fees), 0) AS fees`).
		Row()
	if err := row.Scan(&st.Trades, &st.Wins, &st.Losses, &st.NetPnL, &st.Fees); err != nil {
		return Stats{}, err
	}
	return st, nil
}
