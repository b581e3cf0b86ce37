// Package ensemble implements the Ensemble Voter (C8): it combines
// per-strategy signals for one symbol into a single EnsembleDecision
// using one of three voting methods, suppressing low-confidence or
// weakly-agreed decisions.
package ensemble

import (
	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Voter aggregates signals into decisions.
type Voter struct {
	logger                *zap.Logger
	confidenceThreshold   decimal.Decimal
	minAgreeingStrategies int
	method                string
}

// New builds a Voter. method is one of "weighted_average", "majority",
// "blend".
func New(logger *zap.Logger, confidenceThreshold decimal.Decimal, minAgreeing int, method string) *Voter {
	return &Voter{
		logger:                logger.Named("ensemble"),
		confidenceThreshold:   confidenceThreshold,
		minAgreeingStrategies: minAgreeing,
		method:                method,
	}
}

// Vote combines signals (HOLD signals already dropped by the caller)
// into a decision for symbol, using weights for the weighted_average
// and blend methods. Returns ok=false when the decision is suppressed by either
// threshold.
func (v *Voter) Vote(symbol string, signals []types.Signal, weights map[string]decimal.Decimal) (types.EnsembleDecision, bool) {
	if len(signals) == 0 {
		return types.EnsembleDecision{}, false
	}

	var action types.Action
	var confidence decimal.Decimal
	var ok bool
	switch v.method {
	case "majority":
		action, confidence, ok = v.voteMajority(signals)
	case "blend":
		action, confidence, ok = v.voteBlend(signals, weights)
	default: // weighted_average
		action, confidence, ok = v.voteWeightedAverage(signals, weights)
	}
	if !ok {
		return types.EnsembleDecision{}, false
	}

	var winningSide []types.Signal
	for _, s := range signals {
		if s.Action == action {
			winningSide = append(winningSide, s)
		}
	}
	if len(winningSide) < v.minAgreeingStrategies {
		return types.EnsembleDecision{}, false
	}
	if confidence.LessThan(v.confidenceThreshold) {
		return types.EnsembleDecision{}, false
	}

	rep := representative(signals, action)
	snap := make(map[string]decimal.Decimal, len(weights))
	for k, w := range weights {
		snap[k] = w
	}

	return types.EnsembleDecision{
		Symbol:              symbol,
		Action:              action,
		Confidence:          confidence,
		EntryPrice:          rep.EntryPrice,
		StopLoss:            rep.StopLoss,
		TakeProfit:          rep.TakeProfit,
		VotingMethod:        v.method,
		ContributingSignals: winningSide,
		WeightsSnapshot:     snap,
	}, true
}

// voteWeightedAverage picks the action with the larger Σw_s across its
// signals, tie-broken by whichever side's best-confidence signal is
// highest; confidence is the weighted mean of the winning side.
func (v *Voter) voteWeightedAverage(signals []types.Signal, weights map[string]decimal.Decimal) (types.Action, decimal.Decimal, bool) {
	weightBuy, weightSell := sideWeight(signals, types.ActionBuy, weights), sideWeight(signals, types.ActionSell, weights)
	var action types.Action
	switch {
	case weightBuy.GreaterThan(weightSell):
		action = types.ActionBuy
	case weightSell.GreaterThan(weightBuy):
		action = types.ActionSell
	default:
		if weightBuy.IsZero() && weightSell.IsZero() {
			return "", decimal.Zero, false
		}
		if bestConfidence(signals, types.ActionBuy).GreaterThanOrEqual(bestConfidence(signals, types.ActionSell)) {
			action = types.ActionBuy
		} else {
			action = types.ActionSell
		}
	}
	return action, weightedAverageConfidence(signals, action, weights), true
}

// voteMajority picks the action with more signals, requiring a strict
// majority (floor(n/2)+1) of all contributing (non-HOLD) signals.
// Confidence is the plain mean of the winning side's confidences.
func (v *Voter) voteMajority(signals []types.Signal) (types.Action, decimal.Decimal, bool) {
	buyCount, sellCount := sideCount(signals, types.ActionBuy), sideCount(signals, types.ActionSell)
	var action types.Action
	var agreeing int
	switch {
	case buyCount > sellCount:
		action, agreeing = types.ActionBuy, buyCount
	case sellCount > buyCount:
		action, agreeing = types.ActionSell, sellCount
	default:
		return "", decimal.Zero, false
	}
	majority := len(signals)/2 + 1
	if agreeing < majority {
		return "", decimal.Zero, false
	}
	return action, meanConfidence(signals, action), true
}

// voteBlend normalises conf_BUY = Σw_s·conf_s and conf_SELL likewise
// to sum to 1; the larger side wins with that normalised value as its
// confidence.
func (v *Voter) voteBlend(signals []types.Signal, weights map[string]decimal.Decimal) (types.Action, decimal.Decimal, bool) {
	confBuy, confSell := weightedConfidenceSum(signals, types.ActionBuy, weights), weightedConfidenceSum(signals, types.ActionSell, weights)
	total := confBuy.Add(confSell)
	if total.Sign() == 0 {
		return "", decimal.Zero, false
	}
	confBuy, confSell = confBuy.Div(total), confSell.Div(total)
	if confBuy.GreaterThanOrEqual(confSell) {
		return types.ActionBuy, confBuy, true
	}
	return types.ActionSell, confSell, true
}

func sideCount(signals []types.Signal, action types.Action) int {
	n := 0
	for _, s := range signals {
		if s.Action == action {
			n++
		}
	}
	return n
}

func sideWeight(signals []types.Signal, action types.Action, weights map[string]decimal.Decimal) decimal.Decimal {
	var sum decimal.Decimal
	for _, s := range signals {
		if s.Action != action {
			continue
		}
		sum = sum.Add(weightFor(s, weights))
	}
	return sum
}

func weightedConfidenceSum(signals []types.Signal, action types.Action, weights map[string]decimal.Decimal) decimal.Decimal {
	var sum decimal.Decimal
	for _, s := range signals {
		if s.Action != action {
			continue
		}
		sum = sum.Add(weightFor(s, weights).Mul(s.Confidence))
	}
	return sum
}

func weightFor(s types.Signal, weights map[string]decimal.Decimal) decimal.Decimal {
	if w, ok := weights[s.StrategyID]; ok {
		return w
	}
	return decimal.NewFromFloat(1)
}

func bestConfidence(signals []types.Signal, action types.Action) decimal.Decimal {
	var best decimal.Decimal
	for _, s := range signals {
		if s.Action == action && s.Confidence.GreaterThan(best) {
			best = s.Confidence
		}
	}
	return best
}

func meanConfidence(signals []types.Signal, action types.Action) decimal.Decimal {
	var sum decimal.Decimal
	var n int
	for _, s := range signals {
		if s.Action != action {
			continue
		}
		sum = sum.Add(s.Confidence)
		n++
	}
	if n == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}

// weightedAverageConfidence averages confidence across signals on the
// winning side, weighted by each strategy's current allocation weight
// (equal weight if unknown).
func weightedAverageConfidence(signals []types.Signal, action types.Action, weights map[string]decimal.Decimal) decimal.Decimal {
	var sumWeighted, sumWeight decimal.Decimal
	for _, s := range signals {
		if s.Action != action {
			continue
		}
		w, ok := weights[s.StrategyID]
		if !ok {
			w = decimal.NewFromFloat(1)
		}
		sumWeighted = sumWeighted.Add(s.Confidence.Mul(w))
		sumWeight = sumWeight.Add(w)
	}
	if sumWeight.Sign() == 0 {
		return decimal.Zero
	}
	return sumWeighted.Div(sumWeight)
}

// representative picks the highest-confidence signal on the winning
// side to source entry/stop/take-profit prices from.
func representative(signals []types.Signal, action types.Action) types.Signal {
	var best types.Signal
	found := false
	for _, s := range signals {
		if s.Action != action {
			continue
		}
		if !found || s.Confidence.GreaterThan(best.Confidence) {
			best = s
			found = true
		}
	}
	return best
}
