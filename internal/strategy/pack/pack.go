package pack

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"quorum/internal/logger"
	"quorum/internal/strategy"
	"quorum/internal/strategy/builtin"

	"github.com/fsnotify/fsnotify"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Entry 描述 pack 文件中的单个策略声明。
type Entry struct {
	Kind    string         `mapstructure:"kind" yaml:"kind"`
	Enabled *bool          `mapstructure:"enabled" yaml:"enabled"`
	Weight  float64        `mapstructure:"weight" yaml:"weight"`
	Params  map[string]any `mapstructure:"params" yaml:"params"`
}

func (e Entry) enabled() bool { return e.Enabled == nil || *e.Enabled }

// FileConfig 映射 strategies 配置文件。
type FileConfig struct {
	Strategies map[string]Entry `mapstructure:"strategies" yaml:"strategies"`
}

// Snapshot 是一次加载得到的可用策略集：实例按 ID 排序，权重供聚合器使用。
type Snapshot struct {
	Version    int64
	LoadedAt   time.Time
	Strategies []strategy.Strategy
	Weights    map[string]float64
}

// ChangeListener 在 pack 重载成功后触发。
type ChangeListener func(Snapshot)

// Registry 负责加载策略 pack 并监听文件更新。重载失败时保留旧快照。
type Registry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewRegistry 读取 pack 文件并开始监听更新。
func NewRegistry(path string) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategy pack registry requires path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy pack failed: %w", err)
	}
	r := &Registry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("strategy pack reload failed: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot 返回当前策略集。
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// OnChange 注册重载回调。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *Registry) reload() error {
	cfg, err := readPackFile(r.path)
	if err != nil {
		return err
	}

	names := make([]string, 0, len(cfg.Strategies))
	for name := range cfg.Strategies {
		names = append(names, name)
	}
	sort.Strings(names)

	built := make([]strategy.Strategy, 0, len(names))
	weights := make(map[string]float64, len(names))
	for _, name := range names {
		entry := cfg.Strategies[name]
		if !entry.enabled() {
			continue
		}
		kind := strings.TrimSpace(entry.Kind)
		if kind == "" {
			return fmt.Errorf("strategy %q: kind 不能为空", name)
		}
		if err := validateParams(kind, entry.Params); err != nil {
			return fmt.Errorf("strategy %q: %w", name, err)
		}
		s, err := builtin.Build(name, kind, entry.Params)
		if err != nil {
			return fmt.Errorf("strategy %q: %w", name, err)
		}
		weight := entry.Weight
		if weight <= 0 {
			weight = 1.0
		}
		built = append(built, s)
		weights[name] = weight
	}
	if len(built) == 0 {
		return fmt.Errorf("strategy pack %s: 至少需要启用一个策略", filepath.Base(r.path))
	}

	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:    r.snapshot.Version + 1,
		LoadedAt:   time.Now(),
		Strategies: built,
		Weights:    weights,
	}
	r.mu.Unlock()
	logger.Infof("strategy pack loaded %d strategies from %s", len(built), filepath.Base(r.path))
	return nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := r.snapshot
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer recoverListener()
			cb(snap)
		}(fn)
	}
}

func recoverListener() {
	if rec := recover(); rec != nil {
		logger.Errorf("strategy pack listener panic: %v", rec)
	}
}

// validateParams 用内置 schema 校验参数。params 先走一次 JSON 往返，
// 统一成 json 类型再交给校验器。
func validateParams(kind string, params map[string]any) error {
	schemaDoc := builtin.ParamSchema(kind)
	if schemaDoc == nil || len(params) == 0 {
		return nil
	}
	compiled, err := compileSchema(schemaDoc)
	if err != nil {
		return fmt.Errorf("schema compile: %w", err)
	}
	normalized, err := jsonRoundTrip(params)
	if err != nil {
		return err
	}
	if err := compiled.Validate(normalized); err != nil {
		return fmt.Errorf("params invalid: %w", err)
	}
	return nil
}

func compileSchema(data map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(string(raw))); err != nil {
		return nil, err
	}
	return compiler.Compile("schema.json")
}

func jsonRoundTrip(params map[string]any) (any, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func readPackFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read strategy pack failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse strategy pack failed: %w", err)
	}
	return cfg, nil
}
