package orderopt_test

import (
	"testing"

	"github.com/atlasquant/tradecore/internal/orderopt"
	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func thresholds() orderopt.Thresholds {
	return orderopt.Thresholds{
		Aggressive:      decimal.NewFromFloat(0.65),
		Patient:         decimal.NewFromFloat(0.35),
		SizeSmall:       decimal.NewFromInt(1000),
		SizeLarge:       decimal.NewFromInt(5000),
		TWAPMinChildren: 5,
		TWAPChunkSize:   decimal.NewFromInt(2000),
		MinOrderSize:    decimal.NewFromInt(10),
		VolScale:        decimal.NewFromFloat(0.05),
		LimitOffset:     decimal.NewFromFloat(0.001),
		TickSize:        decimal.NewFromFloat(0.01),
		StepSize:        decimal.NewFromFloat(0.0001),
	}
}

func decision(confidence float64) types.EnsembleDecision {
	return types.EnsembleDecision{
		Symbol: "BTC", Action: types.ActionBuy,
		Confidence: decimal.NewFromFloat(confidence), EntryPrice: decimal.NewFromInt(100),
	}
}

// frame builds a MarketFrame with the given spread (liquidity proxy)
// and volatility; volume is unused by the rewritten formula but kept
// for call-site symmetry with other component tests.
func frame(spreadBps float64, volatility float64) types.MarketFrame {
	return types.MarketFrame{
		Symbol: "BTC", Close: decimal.NewFromInt(100),
		Volume: decimal.NewFromInt(1_000_000), Volatility: decimal.NewFromFloat(volatility),
		SpreadBps: decimal.NewFromFloat(spreadBps),
	}
}

func TestPlanBelowMinOrderSizeIsEmpty(t *testing.T) {
	o := orderopt.New(zap.NewNop(), thresholds())
	plan := o.Plan(decision(0.5), frame(10, 0.01), decimal.NewFromInt(5))
	if !plan.Empty() {
		t.Fatalf("expected an empty plan below min order size")
	}
}

func TestPlanLargeOrderProducesTWAPChildren(t *testing.T) {
	o := orderopt.New(zap.NewNop(), thresholds())
	// 6000 > SizeLarge(5000) -> TWAP, N = max(5, floor(6000/2000)) = 5.
	plan := o.Plan(decision(0.5), frame(10, 0.01), decimal.NewFromInt(6000))
	if plan.OrderType != types.OrderTypeTWAP {
		t.Fatalf("expected TWAP order type for a large order, got %s", plan.OrderType)
	}
	if len(plan.Orders) != 5 {
		t.Fatalf("expected 5 TWAP children, got %d", len(plan.Orders))
	}
	var total decimal.Decimal
	for _, c := range plan.Orders {
		total = total.Add(c.Size)
	}
	if total.Sub(decimal.NewFromInt(6000)).Abs().GreaterThan(decimal.NewFromFloat(0.001)) {
		t.Fatalf("expected TWAP children to sum to the order notional, got %s", total)
	}
}

func TestPlanMidSizeProducesThreeStaggeredChildren(t *testing.T) {
	o := orderopt.New(zap.NewNop(), thresholds())
	// 2000 is in (SizeSmall, SizeLarge] -> 1 limit + 2 market, staggered 0/30/60s.
	plan := o.Plan(decision(0.5), frame(10, 0.01), decimal.NewFromInt(2000))
	if len(plan.Orders) != 3 {
		t.Fatalf("expected 3 staggered children, got %d", len(plan.Orders))
	}
	if plan.Orders[0].Type != types.OrderTypeLimit || plan.Orders[0].LimitPrice == nil {
		t.Fatalf("expected the first child to be an immediate limit leg")
	}
	if plan.Orders[1].Type != types.OrderTypeMarket || plan.Orders[1].Delay != 30_000_000_000 {
		t.Fatalf("expected the second child to be a market leg delayed 30s, got type=%s delay=%s", plan.Orders[1].Type, plan.Orders[1].Delay)
	}
	if plan.Orders[2].Delay != 60_000_000_000 {
		t.Fatalf("expected the third child delayed 60s, got %s", plan.Orders[2].Delay)
	}
}

func TestPlanLowScoreIsPatientMaker(t *testing.T) {
	o := orderopt.New(zap.NewNop(), thresholds())
	// confidence=0, tight spread (liquidity_factor=1) and saturated
	// volatility (vol_factor=1) zero out their terms; notional 999 gives
	// size_factor 0.1998, so only the size term remains:
	// score = 0.4*0 + 0.2*(1-0.1998) + 0.2*(1-1) + 0.2*(1-1) = 0.16 < 0.35.
	plan := o.Plan(decision(0.0), frame(2, 0.1), decimal.NewFromInt(999))
	if plan.OrderType != types.OrderTypeLimit {
		t.Fatalf("expected a patient limit order under low urgency, got %s", plan.OrderType)
	}
	if len(plan.Orders) != 1 || plan.Orders[0].LimitPrice == nil {
		t.Fatalf("expected a single limit child order with a limit price")
	}
}

func TestPlanHighConfidenceIsAggressiveMarket(t *testing.T) {
	o := orderopt.New(zap.NewNop(), thresholds())
	// confidence=1 alone contributes 0.4; a small order keeps the size term near
	// its 0.2 maximum, wide spread (rank=1, liquidity_factor=0.2) adds 0.16, and
	// high volatility (vol_factor=1) adds nothing:
	// score = 0.4*1 + 0.2*(1-size_factor) + 0.2*(1-0.2) + 0.2*(1-1) = 0.4 + ~0.198 + 0.16 + 0 > 0.65.
	plan := o.Plan(decision(1.0), frame(200, 0.5), decimal.NewFromInt(50))
	if plan.OrderType != types.OrderTypeMarket {
		t.Fatalf("expected an aggressive market order under high confidence, got %s", plan.OrderType)
	}
}

func TestPlanRoundsLimitPricesToTickSize(t *testing.T) {
	thr := thresholds()
	thr.TickSize = decimal.NewFromFloat(0.5)
	o := orderopt.New(zap.NewNop(), thr)
	plan := o.Plan(decision(0.0), frame(2, 0.001), decimal.NewFromInt(500))
	if plan.Orders[0].LimitPrice == nil {
		t.Fatalf("expected limit price to be set")
	}
	remainder := plan.Orders[0].LimitPrice.Mod(thr.TickSize)
	if !remainder.IsZero() {
		t.Fatalf("expected limit price to be a multiple of tick size, remainder %s", remainder)
	}
}

func TestPlanMinOrderSizeIsRespectedAcrossTiers(t *testing.T) {
	o := orderopt.New(zap.NewNop(), thresholds())
	plan := o.Plan(decision(0.9), frame(5, 0.01), decimal.NewFromFloat(9.99))
	if !plan.Empty() {
		t.Fatalf("expected an empty plan just below the minimum order size")
	}
}
