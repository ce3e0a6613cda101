package decision

import (
	"errors"
	"math"
	"sort"

	"quorum/internal/strategy"
)

// AggregatedSignal 是对一个标的一轮共识的不可变结果，每个周期重算。
// Shares 记录各方向的加权票占比，退出判定要看逆向票而非共识方向。
type AggregatedSignal struct {
	Symbol             string                         `json:"symbol"`
	Consensus          strategy.Direction             `json:"consensus"`
	AgreementRatio     float64                        `json:"agreement_ratio"`
	WeightedConfidence float64                        `json:"weighted_confidence"`
	Contributing       []string                       `json:"contributing"`
	TotalSignals       int                            `json:"total_signals"`
	Shares             map[strategy.Direction]float64 `json:"shares"`
}

// Thresholds 配置两档一致性门槛：开仓门槛远高于退出门槛，
// 任何单个策略的反向票都足以触发退出评估。
type Thresholds struct {
	Entry float64
	Exit  float64
}

// EntryEligible 判断共识是否够格进入开仓流程。
func (t Thresholds) EntryEligible(agg AggregatedSignal) bool {
	return agg.Consensus != strategy.Hold && agg.AgreementRatio >= t.Entry
}

// ExitTriggered 判断持仓的逆向票占比是否达到退出评估门槛。
// Exit <= 0 时退化为 1/N：一票反对即评估。
func (t Thresholds) ExitTriggered(agg AggregatedSignal, positionSide strategy.Direction) bool {
	opp := positionSide.Opposite()
	if opp == strategy.Hold {
		return false
	}
	floor := t.Exit
	if floor <= 0 {
		if agg.TotalSignals == 0 {
			return false
		}
		floor = 1 / float64(agg.TotalSignals)
	}
	return agg.Shares[opp] >= floor
}

// Aggregator 将同一标的的多路策略信号合成一个共识。纯函数，无副作用。
type Aggregator struct {
	weights map[string]float64
}

func NewAggregator(weights map[string]float64) *Aggregator {
	return &Aggregator{weights: weights}
}

// SetWeights 替换权重表（pack 热加载时调用）。
func (a *Aggregator) SetWeights(weights map[string]float64) {
	a.weights = weights
}

func (a *Aggregator) weightFor(id string) float64 {
	if a.weights != nil {
		if w, ok := a.weights[id]; ok && w > 0 {
			return w
		}
	}
	return 1.0
}

const voteEpsilon = 1e-9

var errNoSignals = errors.New("没有可聚合的策略信号")

// Aggregate 按加权多数决产出共识。票数持平取平均置信度更高的方向，
// 仍持平则观望。遍历顺序固定，等价输入必得等价输出。
func (a *Aggregator) Aggregate(symbol string, signals map[string]strategy.Signal) (AggregatedSignal, error) {
	if len(signals) == 0 {
		return AggregatedSignal{}, errNoSignals
	}

	ids := make([]string, 0, len(signals))
	for id := range signals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	votes := make(map[strategy.Direction]float64, 3)
	confSum := make(map[strategy.Direction]float64, 3)
	confCnt := make(map[strategy.Direction]int, 3)
	byDirection := make(map[strategy.Direction][]string, 3)
	total := 0.0
	for _, id := range ids {
		sig := signals[id]
		dir := sig.Direction
		if dir != strategy.Buy && dir != strategy.Sell {
			dir = strategy.Hold
		}
		w := a.weightFor(id)
		votes[dir] += w
		confSum[dir] += sig.Confidence
		confCnt[dir]++
		byDirection[dir] = append(byDirection[dir], id)
		total += w
	}
	if total <= 0 {
		return AggregatedSignal{}, errNoSignals
	}

	consensus := pickConsensus(votes, confSum, confCnt)

	shares := make(map[strategy.Direction]float64, len(votes))
	for dir, v := range votes {
		shares[dir] = v / total
	}

	agreeing := append([]string(nil), byDirection[consensus]...)
	sort.Strings(agreeing)
	weightedConf := 0.0
	if confCnt[consensus] > 0 {
		weightedConf = confSum[consensus] / float64(confCnt[consensus])
	}

	return AggregatedSignal{
		Symbol:             symbol,
		Consensus:          consensus,
		AgreementRatio:     shares[consensus],
		WeightedConfidence: weightedConf,
		Contributing:       agreeing,
		TotalSignals:       len(ids),
		Shares:             shares,
	}, nil
}

// pickConsensus 取票数最高的方向；持平比较平均置信度，再持平回退 HOLD。
func pickConsensus(votes map[strategy.Direction]float64, confSum map[strategy.Direction]float64, confCnt map[strategy.Direction]int) strategy.Direction {
	order := []strategy.Direction{strategy.Buy, strategy.Sell, strategy.Hold}

	maxVote := 0.0
	for _, d := range order {
		if votes[d] > maxVote {
			maxVote = votes[d]
		}
	}
	tied := make([]strategy.Direction, 0, 3)
	for _, d := range order {
		if votes[d] > 0 && math.Abs(votes[d]-maxVote) <= voteEpsilon {
			tied = append(tied, d)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}

	meanConf := func(d strategy.Direction) float64 {
		if confCnt[d] == 0 {
			return 0
		}
		return confSum[d] / float64(confCnt[d])
	}
	maxConf := 0.0
	for _, d := range tied {
		if meanConf(d) > maxConf {
			maxConf = meanConf(d)
		}
	}
	winner := strategy.Hold
	matches := 0
	for _, d := range tied {
		if math.Abs(meanConf(d)-maxConf) <= voteEpsilon {
			winner = d
			matches++
		}
	}
	if matches != 1 {
		return strategy.Hold
	}
	return winner
}
