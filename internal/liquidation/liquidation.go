// Package liquidation implements the Liquidation Detector (C5): a
// per-symbol ring of recent forced-liquidation events feeding four
// weighted sub-scores, producing one cascade decision per tick by
// taking the maximum score across symbols.
package liquidation

import (
	"sort"
	"time"

	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Weights holds the four sub-score weights (must sum to 1.0).
type Weights struct {
	VolumeSpike  decimal.Decimal
	TimeCluster  decimal.Decimal
	Directional  decimal.Decimal
	PriceImpact  decimal.Decimal
}

// Decision is the detector's per-tick output.
type Decision struct {
	Triggered bool
	Symbol    string
	Score     decimal.Decimal
	Action    types.CascadeAction
}

// minEventsForSignal is the event-count heuristic's denominator: the
// number of recent-half events treated as a full-strength volume_spike
// signal when the prior-half baseline carries zero volume.
const minEventsForSignal = 5

// Detector keeps a per-symbol ring of LiquidationEvents over a
// trailing window.
type Detector struct {
	logger           *zap.Logger
	window           time.Duration
	clusteringWindow time.Duration
	threshold        decimal.Decimal
	action           types.CascadeAction
	weights          Weights

	events map[string][]types.LiquidationEvent
}

// New builds a Detector. window is the trailing lookback (default 5
// minutes), clusteringWindow the max gap between consecutive events
// counted as "clustered" (default 60s), threshold the cascade trigger
// level (default 0.6), action the single operator-configured response
// executed whenever the trigger fires (default REDUCE_50).
func New(logger *zap.Logger, window, clusteringWindow time.Duration, threshold decimal.Decimal, action types.CascadeAction, weights Weights) *Detector {
	return &Detector{
		logger:           logger.Named("liquidation"),
		window:           window,
		clusteringWindow: clusteringWindow,
		threshold:        threshold,
		action:           action,
		weights:          weights,
		events:           make(map[string][]types.LiquidationEvent),
	}
}

// Observe records a liquidation event, keyed and ring-pruned by symbol.
func (d *Detector) Observe(now time.Time, ev types.LiquidationEvent) {
	buf := append(d.events[ev.Symbol], ev)
	cutoff := now.Add(-d.window)
	pruned := buf[:0]
	for _, e := range buf {
		if e.Timestamp.After(cutoff) {
			pruned = append(pruned, e)
		}
	}
	d.events[ev.Symbol] = pruned
}

// Evaluate scores every symbol with events in the window and returns
// one Decision carrying the maximum score observed, or a non-triggered
// Decision if no symbol crosses threshold. On trigger, C13 executes
// the single configured cascade_action — the detector itself never
// chooses between HALT/REDUCE_50/FLATTEN by severity.
func (d *Detector) Evaluate(now time.Time) Decision {
	best := Decision{}
	cutoff := now.Add(-d.window)
	for symbol, events := range d.events {
		var live []types.LiquidationEvent
		for _, e := range events {
			if e.Timestamp.After(cutoff) {
				live = append(live, e)
			}
		}
		if len(live) == 0 {
			continue
		}
		score := d.score(now, symbol, live)
		if score.GreaterThan(best.Score) {
			best = Decision{Symbol: symbol, Score: score}
		}
	}
	if best.Score.GreaterThanOrEqual(d.threshold) {
		best.Triggered = true
		best.Action = d.action
		d.logger.Warn("liquidation cascade detected",
			zap.String("symbol", best.Symbol),
			zap.String("score", best.Score.String()),
			zap.String("action", string(best.Action)))
	}
	return best
}

func (d *Detector) score(now time.Time, symbol string, events []types.LiquidationEvent) decimal.Decimal {
	sorted := append([]types.LiquidationEvent(nil), events...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	half := d.window / 2
	mid := now.Add(-half)

	var recentVolume, priorVolume decimal.Decimal
	var recentCount int
	var longSize, shortSize, totalSize decimal.Decimal
	var maxPrice, minPrice decimal.Decimal

	for i, e := range sorted {
		if i == 0 {
			maxPrice, minPrice = e.Price, e.Price
		}
		if e.Price.GreaterThan(maxPrice) {
			maxPrice = e.Price
		}
		if e.Price.LessThan(minPrice) {
			minPrice = e.Price
		}
		totalSize = totalSize.Add(e.Size)
		if e.Side == types.LiquidationLong {
			longSize = longSize.Add(e.Size)
		} else {
			shortSize = shortSize.Add(e.Size)
		}
		if e.Timestamp.After(mid) {
			recentVolume = recentVolume.Add(e.Size)
			recentCount++
		} else {
			priorVolume = priorVolume.Add(e.Size)
		}
	}

	volumeSpike := volumeSpikeScore(recentVolume, priorVolume, recentCount)
	timeCluster := timeClusterScore(sorted, d.clusteringWindow)
	directional := directionalBiasScore(longSize, shortSize, totalSize)
	priceImpact := priceImpactScore(maxPrice, minPrice, d.mid(sorted))

	return d.weights.VolumeSpike.Mul(volumeSpike).
		Add(d.weights.TimeCluster.Mul(timeCluster)).
		Add(d.weights.Directional.Mul(directional)).
		Add(d.weights.PriceImpact.Mul(priceImpact))
}

// mid approximates the window's mid price as the mean of the first
// and last event prices, used as price_impact's denominator.
func (d *Detector) mid(sorted []types.LiquidationEvent) decimal.Decimal {
	if len(sorted) == 0 {
		return decimal.Zero
	}
	return sorted[0].Price.Add(sorted[len(sorted)-1].Price).Div(decimal.NewFromInt(2))
}

// volumeSpikeScore is recent-half volume over prior-half volume,
// normalised to [0,1] at a 3x multiplier (a ratio of 3 or higher
// scores 1.0). An empty prior-half baseline makes the ratio undefined,
// so it falls back to an event-count heuristic: recentCount over
// minEventsForSignal, clipped to [0,1].
func volumeSpikeScore(recent, prior decimal.Decimal, recentCount int) decimal.Decimal {
	if prior.Sign() <= 0 {
		return clipUnit(decimal.NewFromInt(int64(recentCount)).Div(decimal.NewFromInt(minEventsForSignal)))
	}
	ratio := recent.Div(prior)
	return clipUnit(ratio.Div(decimal.NewFromInt(3)))
}

// timeClusterScore is the fraction of consecutive event-gaps at or
// below clusteringWindow (default 60s).
func timeClusterScore(sorted []types.LiquidationEvent, clusteringWindow time.Duration) decimal.Decimal {
	if len(sorted) < 2 {
		return decimal.Zero
	}
	var clustered, gaps int
	for i := 1; i < len(sorted); i++ {
		gaps++
		if sorted[i].Timestamp.Sub(sorted[i-1].Timestamp) <= clusteringWindow {
			clustered++
		}
	}
	return decimal.NewFromInt(int64(clustered)).Div(decimal.NewFromInt(int64(gaps)))
}

func directionalBiasScore(long, short, total decimal.Decimal) decimal.Decimal {
	if total.Sign() == 0 {
		return decimal.Zero
	}
	imbalance := long.Sub(short).Abs().Div(total)
	return clipUnit(imbalance)
}

// priceImpactScore is (max-min)/mid over the window, normalised at 5%
// (a 5% or greater move scores 1.0).
func priceImpactScore(maxPrice, minPrice, mid decimal.Decimal) decimal.Decimal {
	if mid.Sign() <= 0 {
		return decimal.Zero
	}
	move := maxPrice.Sub(minPrice).Div(mid)
	return clipUnit(move.Div(decimal.NewFromFloat(0.05)))
}

func clipUnit(d decimal.Decimal) decimal.Decimal {
	if d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	if d.Sign() < 0 {
		return decimal.Zero
	}
	return d
}
