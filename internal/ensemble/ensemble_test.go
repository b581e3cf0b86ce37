package ensemble_test

import (
	"testing"

	"github.com/atlasquant/tradecore/internal/ensemble"
	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func sig(id string, action types.Action, conf float64) types.Signal {
	return types.Signal{StrategyID: id, Symbol: "BTC", Action: action, Confidence: decimal.NewFromFloat(conf), EntryPrice: decimal.NewFromInt(100)}
}

func TestVoteSuppressedBelowMinAgreeing(t *testing.T) {
	v := ensemble.New(zap.NewNop(), decimal.NewFromFloat(0.5), 3, "weighted_average")
	signals := []types.Signal{sig("a", types.ActionBuy, 0.9), sig("b", types.ActionBuy, 0.9)}
	_, ok := v.Vote("BTC", signals, nil)
	if ok {
		t.Fatalf("expected suppression with only 2 agreeing strategies against a minimum of 3")
	}
}

func TestVoteSuppressedBelowConfidenceThreshold(t *testing.T) {
	v := ensemble.New(zap.NewNop(), decimal.NewFromFloat(0.8), 2, "weighted_average")
	signals := []types.Signal{sig("a", types.ActionBuy, 0.3), sig("b", types.ActionBuy, 0.2)}
	_, ok := v.Vote("BTC", signals, nil)
	if ok {
		t.Fatalf("expected suppression when weighted confidence is below threshold")
	}
}

func TestVoteMajorityWinsAndContributingSignalsAreWinningSideOnly(t *testing.T) {
	v := ensemble.New(zap.NewNop(), decimal.NewFromFloat(0.4), 2, "weighted_average")
	signals := []types.Signal{
		sig("a", types.ActionBuy, 0.8),
		sig("b", types.ActionBuy, 0.9),
		sig("c", types.ActionSell, 0.95),
	}
	decision, ok := v.Vote("BTC", signals, nil)
	if !ok {
		t.Fatalf("expected a decision to be produced")
	}
	if decision.Action != types.ActionBuy {
		t.Fatalf("expected BUY to win 2-1, got %s", decision.Action)
	}
	for _, s := range decision.ContributingSignals {
		if s.Action != types.ActionBuy {
			t.Fatalf("ContributingSignals must only contain winning-side signals, found %s from %s", s.Action, s.StrategyID)
		}
	}
	if len(decision.ContributingSignals) != 2 {
		t.Fatalf("expected 2 contributing signals, got %d", len(decision.ContributingSignals))
	}
}

func TestVoteWeightTieBreaksOnBestConfidence(t *testing.T) {
	v := ensemble.New(zap.NewNop(), decimal.NewFromFloat(0.1), 1, "weighted_average")
	// Equal weight (1.0 each, unspecified), so the vote is a weight tie;
	// BUY's best confidence (0.9) beats SELL's (0.7), so BUY wins.
	signals := []types.Signal{sig("a", types.ActionBuy, 0.9), sig("b", types.ActionSell, 0.7)}
	decision, ok := v.Vote("BTC", signals, nil)
	if !ok {
		t.Fatalf("expected a weight tie to be resolved via the confidence tie-break, not suppressed")
	}
	if decision.Action != types.ActionBuy {
		t.Fatalf("expected BUY to win the tie-break on higher best-confidence, got %s", decision.Action)
	}
}

func TestVoteZeroWeightTieYieldsNoDecision(t *testing.T) {
	v := ensemble.New(zap.NewNop(), decimal.NewFromFloat(0.1), 1, "weighted_average")
	weights := map[string]decimal.Decimal{"a": decimal.Zero, "b": decimal.Zero}
	signals := []types.Signal{sig("a", types.ActionBuy, 0.9), sig("b", types.ActionSell, 0.9)}
	_, ok := v.Vote("BTC", signals, weights)
	if ok {
		t.Fatalf("expected an all-zero-weight tie (no real vote on either side) to produce no decision")
	}
}

func TestVoteWeightsInfluenceWeightedAverage(t *testing.T) {
	v := ensemble.New(zap.NewNop(), decimal.NewFromFloat(0.1), 2, "weighted_average")
	signals := []types.Signal{sig("a", types.ActionBuy, 0.9), sig("b", types.ActionBuy, 0.1)}
	weights := map[string]decimal.Decimal{"a": decimal.NewFromFloat(0.9), "b": decimal.NewFromFloat(0.1)}
	decision, ok := v.Vote("BTC", signals, weights)
	if !ok {
		t.Fatalf("expected decision")
	}
	// Weighted toward "a"'s high confidence: 0.9*0.9 + 0.1*0.1 = 0.82
	if decision.Confidence.LessThan(decimal.NewFromFloat(0.7)) {
		t.Fatalf("expected weighted confidence skewed toward the heavily-weighted strategy, got %s", decision.Confidence)
	}
}
