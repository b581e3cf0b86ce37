package execution_test

import (
	"context"
	"testing"
	"time"

	"github.com/atlasquant/tradecore/internal/execution"
	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeVenue struct {
	price decimal.Decimal
}

func (v *fakeVenue) Submit(ctx context.Context, symbol string, side types.OrderSide, order types.ChildOrder) (types.FillReport, error) {
	return types.FillReport{OrderID: order.ID, FilledSize: order.Size, AvgPrice: v.price, Status: types.FillStatusFilled}, nil
}

func (v *fakeVenue) Cancel(ctx context.Context, orderID string) error { return nil }

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

func buyPlan(symbol string, amount decimal.Decimal, mid decimal.Decimal) types.ExecutionPlan {
	return types.ExecutionPlan{
		Symbol: symbol, Side: types.OrderSideBuy, TotalAmount: amount,
		Orders:        []types.ChildOrder{{Type: types.OrderTypeMarket, Size: amount}},
		MidAtDecision: mid,
	}
}

func decision(symbol string) types.EnsembleDecision {
	return types.EnsembleDecision{
		Symbol: symbol, Action: types.ActionBuy,
		ContributingSignals: []types.Signal{{StrategyID: "momentum", Confidence: d(0.8)}},
	}
}

func TestExecuteOpensPositionAndDebitsCash(t *testing.T) {
	venue := &fakeVenue{price: d(100)}
	e := execution.New(zap.NewNop(), venue, d(10000))

	trade, err := e.Execute(context.Background(), time.Now(), decision("BTC"), buyPlan("BTC", d(10), d(100)))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if trade.PnL != nil {
		t.Fatalf("expected no realised PnL on an opening trade, got %v", *trade.PnL)
	}

	snap := e.Snapshot()
	pos, ok := snap.Positions["BTC"]
	if !ok {
		t.Fatalf("expected an open BTC position")
	}
	if !pos.Size.Equal(d(10)) {
		t.Fatalf("expected position size 10, got %s", pos.Size)
	}
	wantCash := d(10000).Sub(d(1000))
	if !snap.Cash.Equal(wantCash) {
		t.Fatalf("expected cash %s, got %s", wantCash, snap.Cash)
	}
}

func TestExecuteRejectsUnderfilledPlan(t *testing.T) {
	venue := &fakeVenue{price: d(100)}
	e := execution.New(zap.NewNop(), venue, d(10000))

	plan := types.ExecutionPlan{
		Symbol: "BTC", Side: types.OrderSideBuy, TotalAmount: d(10),
		Orders: []types.ChildOrder{{Type: types.OrderTypeMarket, Size: d(5)}},
	}
	before := e.Snapshot()
	_, err := e.Execute(context.Background(), time.Now(), decision("BTC"), plan)
	if err == nil {
		t.Fatalf("expected an under-filled plan to be rejected")
	}
	after := e.Snapshot()
	if !after.Cash.Equal(before.Cash) {
		t.Fatalf("expected a rejected trade to leave the portfolio unchanged")
	}
}

func TestMarkToMarketReflectsUnrealizedPnL(t *testing.T) {
	venue := &fakeVenue{price: d(100)}
	e := execution.New(zap.NewNop(), venue, d(10000))

	if _, err := e.Execute(context.Background(), time.Now(), decision("BTC"), buyPlan("BTC", d(10), d(100))); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	equity := e.MarkToMarket(time.Now(), map[string]decimal.Decimal{"BTC": d(150)})
	// cash after open = 10000 - 1000 = 9000; position now worth 10*150 = 1500.
	want := d(9000).Add(d(1500))
	if !equity.Equal(want) {
		t.Fatalf("expected mark-to-market equity %s, got %s", want, equity)
	}
}

func TestMarkToMarketFallsBackToAvgEntryForMissingPrice(t *testing.T) {
	venue := &fakeVenue{price: d(100)}
	e := execution.New(zap.NewNop(), venue, d(10000))

	if _, err := e.Execute(context.Background(), time.Now(), decision("BTC"), buyPlan("BTC", d(10), d(100))); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	equity := e.MarkToMarket(time.Now(), map[string]decimal.Decimal{})
	want := d(9000).Add(d(1000))
	if !equity.Equal(want) {
		t.Fatalf("expected fallback-to-entry-price equity %s, got %s", want, equity)
	}
}

func TestLiquidateFractionClosesAtSuppliedMarkPrice(t *testing.T) {
	venue := &fakeVenue{price: d(100)}
	e := execution.New(zap.NewNop(), venue, d(10000))

	if _, err := e.Execute(context.Background(), time.Now(), decision("BTC"), buyPlan("BTC", d(10), d(100))); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	trades := e.LiquidateFraction(time.Now(), d(0.5), func(symbol string) (decimal.Decimal, bool) {
		return d(120), true
	})
	if len(trades) != 1 {
		t.Fatalf("expected exactly one liquidation trade, got %d", len(trades))
	}
	if !trades[0].Size.Equal(d(5)) {
		t.Fatalf("expected half the position (5) closed, got %s", trades[0].Size)
	}
	if trades[0].PnL == nil || !trades[0].PnL.Equal(d(100)) {
		t.Fatalf("expected realised PnL of 5*(120-100)=100, got %v", trades[0].PnL)
	}

	pos := e.Snapshot().Positions["BTC"]
	if !pos.Size.Equal(d(5)) {
		t.Fatalf("expected remaining position size 5, got %s", pos.Size)
	}
}

func TestExecuteIgnoresDuplicateFillReport(t *testing.T) {
	venue := &fakeVenue{price: d(100)}
	e := execution.New(zap.NewNop(), venue, d(10000))

	plan := types.ExecutionPlan{
		Symbol: "BTC", Side: types.OrderSideBuy, TotalAmount: d(10),
		Orders: []types.ChildOrder{
			{ID: "dup-1", Type: types.OrderTypeMarket, Size: d(5)},
			{ID: "dup-1", Type: types.OrderTypeMarket, Size: d(5)},
		},
	}
	// Both child orders share an ID, simulating a retried submission
	// whose confirmation arrives twice; only one should be booked,
	// which leaves the aggregate fill ratio (5/10) below minFillRatio.
	_, err := e.Execute(context.Background(), time.Now(), decision("BTC"), plan)
	if err == nil {
		t.Fatalf("expected rejection once the duplicate fill is discounted from the fill ratio")
	}
	if _, ok := e.Snapshot().Positions["BTC"]; ok {
		t.Fatalf("expected no position opened on a rejected trade")
	}
}

func TestLiquidateFractionSkipsSymbolWithNoMarkPrice(t *testing.T) {
	venue := &fakeVenue{price: d(100)}
	e := execution.New(zap.NewNop(), venue, d(10000))

	if _, err := e.Execute(context.Background(), time.Now(), decision("BTC"), buyPlan("BTC", d(10), d(100))); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	trades := e.LiquidateFraction(time.Now(), d(1), func(symbol string) (decimal.Decimal, bool) {
		return decimal.Zero, false
	})
	if len(trades) != 0 {
		t.Fatalf("expected no liquidation trades when no mark price is available, got %d", len(trades))
	}
	if _, ok := e.Snapshot().Positions["BTC"]; !ok {
		t.Fatalf("expected the BTC position to be left untouched")
	}
}
