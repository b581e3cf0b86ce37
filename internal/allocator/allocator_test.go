package allocator_test

import (
	"testing"
	"time"

	"github.com/atlasquant/tradecore/internal/allocator"
	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func TestDueRespectsRebalanceInterval(t *testing.T) {
	a := allocator.New(zap.NewNop(), time.Hour, decimal.NewFromFloat(0.7), decimal.NewFromFloat(0.02))
	now := time.Now()
	if !a.Due(now) {
		t.Fatalf("expected initial allocator to be due")
	}
	a.Rebalance(now, map[string]types.StrategyPerformance{"a": {TradeCount: 5, Sharpe: decimal.NewFromFloat(1)}})
	if a.Due(now.Add(30 * time.Minute)) {
		t.Fatalf("should not be due before the interval elapses")
	}
	if !a.Due(now.Add(61 * time.Minute)) {
		t.Fatalf("should be due after the interval elapses")
	}
}

func TestRebalanceWeightsSumToOne(t *testing.T) {
	a := allocator.New(zap.NewNop(), time.Hour, decimal.NewFromFloat(0.7), decimal.NewFromFloat(0.02))
	perf := map[string]types.StrategyPerformance{
		"momentum":      {TradeCount: 10, Sharpe: decimal.NewFromFloat(2.0)},
		"mean_reversion": {TradeCount: 10, Sharpe: decimal.NewFromFloat(0.5)},
		"breakout":      {TradeCount: 10, Sharpe: decimal.NewFromFloat(1.0)},
	}
	weights := a.Rebalance(time.Now(), perf)
	var total decimal.Decimal
	for _, w := range weights.Weights {
		total = total.Add(w)
	}
	if total.Sub(decimal.NewFromInt(1)).Abs().GreaterThan(decimal.NewFromFloat(0.0001)) {
		t.Fatalf("expected weights to sum to 1, got %s", total)
	}
}

func TestRebalanceFloorsMinWeight(t *testing.T) {
	a := allocator.New(zap.NewNop(), time.Hour, decimal.NewFromFloat(0.7), decimal.NewFromFloat(0.1))
	perf := map[string]types.StrategyPerformance{
		"strong": {TradeCount: 10, Sharpe: decimal.NewFromFloat(5.0)},
		"weak":   {TradeCount: 10, Sharpe: decimal.NewFromFloat(0.0001)},
	}
	weights := a.Rebalance(time.Now(), perf)
	if weights.Weights["weak"].LessThan(decimal.NewFromFloat(0.099)) {
		t.Fatalf("expected weak strategy's weight to be floored near min_weight, got %s", weights.Weights["weak"])
	}
}

func TestNewStrategyStartsNearEqualShareBeforeSmoothing(t *testing.T) {
	a := allocator.New(zap.NewNop(), time.Hour, decimal.NewFromFloat(0.5), decimal.NewFromFloat(0.02))
	// First rebalance establishes a baseline with one strategy.
	a.Rebalance(time.Now(), map[string]types.StrategyPerformance{
		"existing": {TradeCount: 10, Sharpe: decimal.NewFromFloat(1)},
	})
	// Second rebalance introduces a new strategy with no prior weight.
	weights := a.Rebalance(time.Now(), map[string]types.StrategyPerformance{
		"existing": {TradeCount: 10, Sharpe: decimal.NewFromFloat(1)},
		"new":      {TradeCount: 10, Sharpe: decimal.NewFromFloat(1)},
	})
	if weights.Weights["new"].IsZero() {
		t.Fatalf("expected new strategy to receive a non-zero starting weight")
	}
}

func TestRebalanceEmptyPerformanceLeavesWeightsUntouched(t *testing.T) {
	a := allocator.New(zap.NewNop(), time.Hour, decimal.NewFromFloat(0.7), decimal.NewFromFloat(0.02))
	a.Rebalance(time.Now(), map[string]types.StrategyPerformance{"a": {TradeCount: 10, Sharpe: decimal.NewFromFloat(1)}})
	before := a.Weights()
	after := a.Rebalance(time.Now().Add(time.Hour), map[string]types.StrategyPerformance{})
	if len(after.Weights) != len(before.Weights) {
		t.Fatalf("expected empty perf map to leave the existing snapshot untouched")
	}
}
