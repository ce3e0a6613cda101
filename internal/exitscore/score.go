// Package exitscore 对每个 OPEN 持仓独立评估一组平仓规则并合成
// 0-100 的综合评分。规则之间互不感知,合成取最大分而不是求和,
// 任何一条规则给出 must-exit 即强制平仓,不论综合分高低。
package exitscore

import (
	"time"

	"quorum/internal/ledger"
)

// RuleResult 记录一条被激活规则的得分,进入审计日志。
type RuleResult struct {
	Rule     string  `json:"rule"`
	Score    float64 `json:"score"`
	MustExit bool    `json:"must_exit,omitempty"`
	Reason   string  `json:"reason"`
}

// Decision 是一次评分的完整结果。相同的持仓快照与市场环境必然
// 得到相同的 Decision,评分过程没有随机性与隐藏状态。
type Decision struct {
	Symbol    string       `json:"symbol"`
	Score     float64      `json:"score"`
	Forced    bool         `json:"forced"`
	Exit      bool         `json:"exit"`
	Triggered []RuleResult `json:"triggered,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	At        time.Time    `json:"at"`
}

type Engine struct {
	cfg   Config
	rules []Rule
}

// NewEngine 按配置构建全部规则,规则按 ID 字典序固定排列。
func NewEngine(cfg Config) *Engine {
	cfg.applyDefaults()
	return &Engine{
		cfg: cfg,
		rules: []Rule{
			netProfitRule{cfg},
			pctProfitRule{cfg},
			stagnationRule{cfg},
			stopLossRule{cfg},
			timeDecayRule{cfg},
			trailingGivebackRule{cfg},
		},
	}
}

// Threshold 返回触发平仓的综合分阈值。
func (e *Engine) Threshold() float64 { return e.cfg.Threshold }

// Fees 返回引擎使用的费用模型,平仓结算与评分共用同一口径。
func (e *Engine) Fees() FeeModel { return e.cfg.Fees }

// Evaluate 评估一个持仓。综合分 = max(各规则分),Exit 在综合分达到
// 阈值或任一规则强制时为真,Reason 取最高分规则的理由(强制优先)。
func (e *Engine) Evaluate(pos ledger.Position, rc Context) Decision {
	d := Decision{Symbol: pos.Symbol, At: rc.Now}
	var best *RuleResult
	for _, r := range e.rules {
		rs := r.Evaluate(pos, rc)
		if rs.Score <= 0 && !rs.MustExit {
			continue
		}
		res := RuleResult{Rule: r.ID(), Score: rs.Score, MustExit: rs.MustExit, Reason: rs.Reason}
		d.Triggered = append(d.Triggered, res)
		if rs.Score > d.Score {
			d.Score = rs.Score
		}
		if rs.MustExit {
			d.Forced = true
		}
		if better(&res, best) {
			cp := res
			best = &cp
		}
	}
	if best != nil {
		d.Reason = best.Reason
	}
	d.Exit = d.Forced || d.Score >= e.cfg.Threshold
	return d
}

// better 决定理由的归属:强制规则优先,其次看分数,再平就保持先到者。
func better(a, b *RuleResult) bool {
	if b == nil {
		return true
	}
	if a.MustExit != b.MustExit {
		return a.MustExit
	}
	return a.Score > b.Score
}
