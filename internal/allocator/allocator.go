// Package allocator implements the Adaptive Allocator (C6): it scores
// each strategy on rolling performance, EWMA-smooths the resulting
// weights, floors them at a minimum and renormalises, rebalancing on a
// fixed schedule.
package allocator

import (
	"time"

	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var epsilon = decimal.NewFromFloat(0.0001)

// Allocator owns the current weight snapshot and the performance
// history it rebalances from.
type Allocator struct {
	logger    *zap.Logger
	interval  time.Duration
	alpha     decimal.Decimal
	minWeight decimal.Decimal

	weights map[string]decimal.Decimal
	last    time.Time
}

// New builds an Allocator. interval is the rebalance schedule (default
// hourly), alpha the EWMA smoothing factor (default 0.7), minWeight
// the floor applied before renormalisation (default 0.02).
func New(logger *zap.Logger, interval time.Duration, alpha, minWeight decimal.Decimal) *Allocator {
	return &Allocator{
		logger:    logger.Named("allocator"),
		interval:  interval,
		alpha:     alpha,
		minWeight: minWeight,
		weights:   make(map[string]decimal.Decimal),
	}
}

// Due reports whether a rebalance is owed at now.
func (a *Allocator) Due(now time.Time) bool {
	return a.last.IsZero() || now.Sub(a.last) >= a.interval
}

// Weights returns the current (possibly stale, pre-rebalance) weight
// snapshot.
func (a *Allocator) Weights() types.AllocationWeights {
	snap := make(map[string]decimal.Decimal, len(a.weights))
	for k, v := range a.weights {
		snap[k] = v
	}
	return types.AllocationWeights{Weights: snap, LastRebalance: a.last}
}

// Rebalance recomputes weights from perf, EWMA-smoothing against the
// prior snapshot. A strategy with no prior weight (new to the
// registry) starts at the equal-weight share before smoothing.
func (a *Allocator) Rebalance(now time.Time, perf map[string]types.StrategyPerformance) types.AllocationWeights {
	if len(perf) == 0 {
		a.last = now
		return a.Weights()
	}

	equalShare := decimal.NewFromInt(1).Div(decimal.NewFromInt(int64(len(perf))))
	raw := make(map[string]decimal.Decimal, len(perf))
	var total decimal.Decimal
	for id, p := range perf {
		s := score(p)
		raw[id] = s
		total = total.Add(s)
	}

	target := make(map[string]decimal.Decimal, len(perf))
	if total.Sign() <= 0 {
		for id := range perf {
			target[id] = equalShare
		}
	} else {
		for id, s := range raw {
			target[id] = s.Div(total)
		}
	}

	smoothed := make(map[string]decimal.Decimal, len(perf))
	for id, tgt := range target {
		prior, existed := a.weights[id]
		if !existed {
			prior = equalShare
		}
		smoothed[id] = a.alpha.Mul(prior).Add(decimal.NewFromInt(1).Sub(a.alpha).Mul(tgt))
	}

	floored := make(map[string]decimal.Decimal, len(smoothed))
	var flooredTotal decimal.Decimal
	for id, w := range smoothed {
		if w.LessThan(a.minWeight) {
			w = a.minWeight
		}
		floored[id] = w
		flooredTotal = flooredTotal.Add(w)
	}
	final := make(map[string]decimal.Decimal, len(floored))
	for id, w := range floored {
		final[id] = w.Div(flooredTotal)
	}

	a.weights = final
	a.last = now
	a.logger.Info("rebalanced allocation weights", zap.Int("strategies", len(final)))
	return a.Weights()
}

// score returns a strategy's raw (pre-normalisation) allocation score:
// max(epsilon, sharpe) when the buffer supports a Sharpe estimate,
// otherwise win_rate x avg_return as a fallback for short histories.
func score(p types.StrategyPerformance) decimal.Decimal {
	if p.TradeCount >= 2 {
		s := p.Sharpe
		if s.LessThan(epsilon) {
			s = epsilon
		}
		return s
	}
	avgReturn := avg(p.Returns)
	s := p.WinRate.Mul(avgReturn)
	if s.LessThan(epsilon) {
		s = epsilon
	}
	return s
}

func avg(xs []decimal.Decimal) decimal.Decimal {
	if len(xs) == 0 {
		return decimal.Zero
	}
	var sum decimal.Decimal
	for _, x := range xs {
		sum = sum.Add(x)
	}
	return sum.Div(decimal.NewFromInt(int64(len(xs))))
}
