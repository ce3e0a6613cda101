// Package auditlog 决策审计流水:信号通过、拦截、离场评分、跳过与熔断事件
// 逐条追加到单表 SQLite,复盘时按标的或 trace 回放。
package auditlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

type Kind string

const (
	KindEntrySignal   Kind = "entry_signal"
	KindEntryRejected Kind = "entry_rejected"
	KindExitDecision  Kind = "exit_decision"
	KindStaleSkip     Kind = "stale_skip"
	KindBreaker       Kind = "breaker"
)

// Entry 一条审计记录。Detail 为 JSON 文本,结构由写入方决定。
type Entry struct {
	ID      int64     `json:"id"`
	TraceID string    `json:"trace_id"`
	Cycle   int64     `json:"cycle"`
	Symbol  string    `json:"symbol"`
	Kind    Kind      `json:"kind"`
	Summary string    `json:"summary"`
	Detail  string    `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

type Store struct {
	db    *sql.DB
	nowFn func() time.Time
}

func New(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("auditlog: 数据库路径不能为空")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := ensureSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, nowFn: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS audit_log (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id   TEXT NOT NULL DEFAULT '',
			cycle      INTEGER NOT NULL DEFAULT 0,
			symbol     TEXT NOT NULL DEFAULT '',
			kind       TEXT NOT NULL,
			summary    TEXT NOT NULL DEFAULT '',
			detail     TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_symbol ON audit_log (symbol, id);`,
		`CREATE INDEX IF NOT EXISTS idx_audit_trace ON audit_log (trace_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append 追加一条记录,At 为零值时取当前时间。
func (s *Store) Append(ctx context.Context, e Entry) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("auditlog 未初始化")
	}
	if e.Kind == "" {
		return fmt.Errorf("auditlog: kind 必填")
	}
	at := e.At
	if at.IsZero() {
		at = s.nowFn()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (trace_id, cycle, symbol, kind, summary, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.TraceID, e.Cycle, strings.ToUpper(strings.TrimSpace(e.Symbol)), string(e.Kind), e.Summary, e.Detail, at.UnixMilli())
	return err
}

// Recent 返回最近 limit 条记录,新的在前。
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return s.list(ctx, `SELECT id, trace_id, cycle, symbol, kind, summary, detail, created_at
		FROM audit_log ORDER BY id DESC LIMIT ?`, clampLimit(limit))
}

// BySymbol 返回指定标的的最近记录,新的在前。
func (s *Store) BySymbol(ctx context.Context, symbol string, limit int) ([]Entry, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, fmt.Errorf("auditlog: symbol 必填")
	}
	return s.list(ctx, `SELECT id, trace_id, cycle, symbol, kind, summary, detail, created_at
		FROM audit_log WHERE symbol = ? ORDER BY id DESC LIMIT ?`, symbol, clampLimit(limit))
}

// ByTrace 按 trace 回放一次决策链,旧的在前。
func (s *Store) ByTrace(ctx context.Context, traceID string) ([]Entry, error) {
	if strings.TrimSpace(traceID) == "" {
		return nil, fmt.Errorf("auditlog: trace_id 必填")
	}
	return s.list(ctx, `SELECT id, trace_id, cycle, symbol, kind, summary, detail, created_at
		FROM audit_log WHERE trace_id = ? ORDER BY id ASC`, traceID)
}

// Prune 删除 keep 之前的记录,返回删除条数。
func (s *Store) Prune(ctx context.Context, keep time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("auditlog 未初始化")
	}
	cutoff := s.nowFn().Add(-keep).UnixMilli()
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]Entry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("auditlog 未初始化")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		var e Entry
		var kind string
		var createdAt int64
		if err := rows.Scan(&e.ID, &e.TraceID, &e.Cycle, &e.Symbol, &kind, &e.Summary, &e.Detail, &createdAt); err != nil {
			return nil, err
		}
		e.Kind = Kind(kind)
		e.At = time.UnixMilli(createdAt).UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	if limit > 2000 {
		return 2000
	}
	return limit
}
