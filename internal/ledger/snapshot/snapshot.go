// Package snapshot 负责台账的异步落盘:写合并(dirty 标记 + 最小间隔)、
// 原子替换(临时文件 fsync 后 rename)、有限重试与降级路径。持久化失败
// 只告警不致命,交易循环继续使用内存态。
package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"quorum/internal/apperr"
	"quorum/internal/ledger"
	"quorum/internal/logger"
)

type Config struct {
	Path         string
	FallbackPath string        // 主路径反复失败后的降级路径,默认 Path+".fallback"
	MinInterval  time.Duration // 两次落盘的最小间隔,期间的变更合并为一次写
	Poll         time.Duration // dirty 检查周期
	WriteTimeout time.Duration // 单次写盘的超时
	MaxRetries   int           // 主路径的最大尝试次数
}

func (c *Config) applyDefaults() {
	if c.FallbackPath == "" && c.Path != "" {
		c.FallbackPath = c.Path + ".fallback"
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 2 * time.Second
	}
	if c.Poll <= 0 {
		c.Poll = 500 * time.Millisecond
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// Manager 挂在台账旁边的后台写手。
type Manager struct {
	led   *ledger.Ledger
	cfg   Config
	alert func(msg string) // 最终失败时的告警回调,可为 nil

	mu       sync.Mutex
	lastSave time.Time

	nowFn func() time.Time
	wg    sync.WaitGroup
}

func NewManager(led *ledger.Ledger, cfg Config, alert func(string)) (*Manager, error) {
	if cfg.Path == "" {
		return nil, apperr.Validationf("快照路径不能为空")
	}
	cfg.applyDefaults()
	return &Manager{led: led, cfg: cfg, alert: alert, nowFn: time.Now}, nil
}

// Start 启动后台落盘循环,ctx 取消时做最后一次 Flush 再退出。
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.Poll)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				if m.led.Dirty() {
					if err := m.Flush(); err != nil {
						logger.Errorf("退出前快照落盘失败: %v", err)
					}
				}
				return
			case <-ticker.C:
				if !m.led.Dirty() {
					continue
				}
				m.mu.Lock()
				tooSoon := m.nowFn().Sub(m.lastSave) < m.cfg.MinInterval
				m.mu.Unlock()
				if tooSoon {
					continue
				}
				if err := m.Flush(); err != nil {
					logger.Warnf("快照落盘失败(下轮重试): %v", err)
				}
			}
		}
	}()
}

// Wait 阻塞直到后台循环退出。
func (m *Manager) Wait() { m.wg.Wait() }

// Flush 立即做一次全量落盘。先清 dirty 再写,失败时重新置脏,
// 保证期间的新变更不会丢失落盘机会。
func (m *Manager) Flush() error {
	st := m.led.Snapshot()
	m.led.ClearDirty()

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		m.led.MarkDirty()
		return fmt.Errorf("%w: 快照序列化失败: %v", apperr.ErrPersistence, err)
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxRetries; attempt++ {
		if lastErr = m.writeWithTimeout(m.cfg.Path, data); lastErr == nil {
			m.mu.Lock()
			m.lastSave = m.nowFn()
			m.mu.Unlock()
			return nil
		}
		logger.Warnf("快照写入 %s 第 %d/%d 次失败: %v", m.cfg.Path, attempt, m.cfg.MaxRetries, lastErr)
		time.Sleep(time.Duration(attempt) * 100 * time.Millisecond)
	}

	// 主路径耗尽,尝试降级路径;无论成败都只告警,不中断交易
	if err := m.writeWithTimeout(m.cfg.FallbackPath, data); err == nil {
		m.notify(fmt.Sprintf("台账快照已降级写入 %s(主路径失败: %v)", m.cfg.FallbackPath, lastErr))
		m.mu.Lock()
		m.lastSave = m.nowFn()
		m.mu.Unlock()
		return nil
	}
	m.led.MarkDirty()
	m.notify(fmt.Sprintf("台账快照持久化失败,内存态继续运行: %v", lastErr))
	return fmt.Errorf("%w: %v", apperr.ErrPersistence, lastErr)
}

func (m *Manager) notify(msg string) {
	logger.Errorf("%s", msg)
	if m.alert != nil {
		m.alert(msg)
	}
}

// writeWithTimeout 把一次原子写盘限制在 WriteTimeout 内。文件系统调用
// 不感知 ctx,超时后放弃等待,残留的临时文件由下次写入清理覆盖。
func (m *Manager) writeWithTimeout(path string, data []byte) error {
	done := make(chan error, 1)
	go func() { done <- writeAtomic(path, data) }()
	select {
	case err := <-done:
		return err
	case <-time.After(m.cfg.WriteTimeout):
		return fmt.Errorf("写入 %s 超过 %s", path, m.cfg.WriteTimeout)
	}
}

// writeAtomic 临时文件 + fsync + rename,读者永远看不到半个快照。
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if tmpName != "" {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	tmpName = ""
	return nil
}

// Load 读取并校验快照文件。文件不存在返回 found=false;内容损坏返回
// PersistenceFailure,由调用方决定是空账启动还是中止。
func Load(path string) (st ledger.State, found bool, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ledger.State{}, false, nil
		}
		return ledger.State{}, false, fmt.Errorf("%w: 读取快照 %s: %v", apperr.ErrPersistence, path, err)
	}
	if !gjson.ValidBytes(data) {
		return ledger.State{}, true, fmt.Errorf("%w: 快照 %s 不是合法 JSON", apperr.ErrPersistence, path)
	}
	root := gjson.ParseBytes(data)
	ver := root.Get("schema_version")
	if !ver.Exists() || ver.Type != gjson.Number {
		return ledger.State{}, true, fmt.Errorf("%w: 快照 %s 缺少 schema_version", apperr.ErrPersistence, path)
	}
	if int(ver.Int()) > ledger.SchemaVersion {
		return ledger.State{}, true, fmt.Errorf("%w: 快照 schema_version=%d 高于当前支持的 %d", apperr.ErrPersistence, ver.Int(), ledger.SchemaVersion)
	}
	if pos := root.Get("positions"); pos.Exists() && !pos.IsArray() && pos.Type != gjson.Null {
		return ledger.State{}, true, fmt.Errorf("%w: 快照 %s positions 字段不是数组", apperr.ErrPersistence, path)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return ledger.State{}, true, fmt.Errorf("%w: 快照反序列化失败: %v", apperr.ErrPersistence, err)
	}
	return st, true, nil
}
