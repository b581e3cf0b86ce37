package orchestrator

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/atlasquant/tradecore/internal/events"
	"github.com/atlasquant/tradecore/internal/execution"
	"github.com/atlasquant/tradecore/internal/statestore"
	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type noopVenue struct{}

func (noopVenue) Submit(ctx context.Context, symbol string, side types.OrderSide, order types.ChildOrder) (types.FillReport, error) {
	return types.FillReport{
		OrderID: order.ID, FilledSize: order.Size, AvgPrice: decimal.NewFromInt(100),
		Status: types.FillStatusFilled,
	}, nil
}
func (noopVenue) Cancel(ctx context.Context, orderID string) error { return nil }

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	logger := zap.NewNop()
	store, err := statestore.NewFileStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	engine := execution.New(logger, noopVenue{}, decimal.NewFromInt(10000))
	return &Runner{
		logger:    logger.Named("orchestrator"),
		clock:     SystemClock{},
		engine:    engine,
		store:     store,
		bus:       events.New(),
		lastFrame: make(map[string]types.MarketFrame),
	}
}

func TestStrategiesHoldingPositionsDedupesAndSkipsFlat(t *testing.T) {
	p := &types.Portfolio{
		Positions: map[string]*types.Position{
			"BTC": {Symbol: "BTC", StrategyID: "momentum", Size: decimal.NewFromInt(1)},
			"ETH": {Symbol: "ETH", StrategyID: "momentum", Size: decimal.NewFromInt(2)},
			"SOL": {Symbol: "SOL", StrategyID: "meanrevert", Size: decimal.NewFromInt(1)},
			"DOT": {Symbol: "DOT", StrategyID: "flat", Size: decimal.Zero},
			"AVAX": {Symbol: "AVAX", StrategyID: "", Size: decimal.NewFromInt(1)},
		},
	}

	got := strategiesHoldingPositions(p)
	sort.Strings(got)

	want := []string{"meanrevert", "momentum"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestStrategiesHoldingPositionsEmptyPortfolio(t *testing.T) {
	p := &types.Portfolio{Positions: map[string]*types.Position{}}
	got := strategiesHoldingPositions(p)
	if len(got) != 0 {
		t.Fatalf("expected no held strategies, got %v", got)
	}
}

func TestCommandPauseAndResumeToggleTheFlag(t *testing.T) {
	r := newTestRunner(t)
	r.Command(CommandPause)
	if !r.paused {
		t.Fatalf("expected paused after CommandPause")
	}
	r.Command(CommandResume)
	if r.paused {
		t.Fatalf("expected unpaused after CommandResume")
	}
}

func TestCommandHaltSetsTheFlag(t *testing.T) {
	r := newTestRunner(t)
	r.Command(CommandHalt)
	if !r.halted {
		t.Fatalf("expected halted after CommandHalt")
	}
}

func TestCommandFlattenClosesEveryPosition(t *testing.T) {
	r := newTestRunner(t)
	if _, err := r.engine.Execute(context.Background(), time.Now(), decision("BTC"), buyPlan("BTC", decimal.NewFromInt(10), decimal.NewFromInt(100))); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	r.lastFrame["BTC"] = types.MarketFrame{Symbol: "BTC", Bid: decimalPtr(99), Ask: decimalPtr(101)}

	r.Command(CommandFlatten)

	snap := r.engine.Snapshot()
	if _, ok := snap.Positions["BTC"]; ok {
		t.Fatalf("expected BTC position to be fully closed after CommandFlatten")
	}
}

func TestReducePartiallyClosesPositions(t *testing.T) {
	r := newTestRunner(t)
	if _, err := r.engine.Execute(context.Background(), time.Now(), decision("BTC"), buyPlan("BTC", decimal.NewFromInt(10), decimal.NewFromInt(100))); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	r.lastFrame["BTC"] = types.MarketFrame{Symbol: "BTC", Bid: decimalPtr(99), Ask: decimalPtr(101)}

	r.Reduce(decimal.NewFromFloat(0.5))

	snap := r.engine.Snapshot()
	pos, ok := snap.Positions["BTC"]
	if !ok {
		t.Fatalf("expected BTC position to remain half-open")
	}
	if !pos.Size.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("expected remaining size 5, got %s", pos.Size)
	}
}

func decimalPtr(v float64) *decimal.Decimal {
	d := decimal.NewFromFloat(v)
	return &d
}

func decision(symbol string) types.EnsembleDecision {
	return types.EnsembleDecision{
		Symbol: symbol, Action: types.ActionBuy,
		ContributingSignals: []types.Signal{{StrategyID: "momentum", Confidence: decimal.NewFromFloat(0.8)}},
	}
}

func buyPlan(symbol string, amount decimal.Decimal, mid decimal.Decimal) types.ExecutionPlan {
	return types.ExecutionPlan{
		Symbol: symbol, Side: types.OrderSideBuy, TotalAmount: amount,
		Orders:        []types.ChildOrder{{Type: types.OrderTypeMarket, Size: amount}},
		MidAtDecision: mid,
	}
}
