// Package types holds the shared data model flowing through the
// trading pipeline: market data, signals, decisions and portfolio state.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Action is a strategy or ensemble decision's action.
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// OrderType enumerates the order types an ExecutionPlan can emit.
type OrderType string

const (
	OrderTypeMarket  OrderType = "MARKET"
	OrderTypeLimit   OrderType = "LIMIT"
	OrderTypeIceberg OrderType = "ICEBERG"
	OrderTypeTWAP    OrderType = "TWAP"
	OrderTypeVWAP    OrderType = "VWAP"
)

// FillStatus enumerates OrderVenue fill outcomes.
type FillStatus string

const (
	FillStatusFilled    FillStatus = "FILLED"
	FillStatusPartial   FillStatus = "PARTIAL"
	FillStatusCancelled FillStatus = "CANCELLED"
	FillStatusRejected  FillStatus = "REJECTED"
)

// MarketFrame is a time-indexed record keyed by (venue, symbol, interval).
// Immutable after C2/C3 attach Volatility/SpreadBps; original OHLC fields
// are never mutated so execution math can always see raw prices.
type MarketFrame struct {
	Venue    string
	Symbol   string
	Interval string

	Timestamp time.Time
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal

	Bid     *decimal.Decimal
	Ask     *decimal.Decimal
	BidSize *decimal.Decimal
	AskSize *decimal.Decimal

	// Derived, attached by C2/C3.
	Volatility decimal.Decimal
	SpreadBps  decimal.Decimal

	// Features is the z-scored feature set produced by C3, clipped to
	// [-3, 3]. Keyed by feature name (e.g. "close_z", "volume_z").
	Features map[string]decimal.Decimal
}

// Key returns the (venue, symbol, interval) identity of the frame.
func (f *MarketFrame) Key() string {
	return f.Venue + "|" + f.Symbol + "|" + f.Interval
}

// Mid returns the mid price, falling back to Close when no book is present.
func (f *MarketFrame) Mid() decimal.Decimal {
	if f.Bid != nil && f.Ask != nil {
		return f.Bid.Add(*f.Ask).Div(decimal.NewFromInt(2))
	}
	return f.Close
}

// Signal is a strategy's opinion for one symbol within one tick.
// HOLD signals are dropped by the orchestrator before voting.
type Signal struct {
	StrategyID string
	Symbol     string
	Action     Action
	Confidence decimal.Decimal // [0,1]
	EntryPrice decimal.Decimal
	StopLoss   *decimal.Decimal
	TakeProfit *decimal.Decimal
	Metadata   map[string]any
}

// EnsembleDecision is the output of the Ensemble Voter (C8).
type EnsembleDecision struct {
	Symbol               string
	Action               Action
	Confidence           decimal.Decimal
	EntryPrice           decimal.Decimal
	StopLoss             *decimal.Decimal
	TakeProfit           *decimal.Decimal
	VotingMethod         string
	ContributingSignals  []Signal
	WeightsSnapshot      map[string]decimal.Decimal
}

// StrategyPerformance is the rolling realised-return buffer for one
// strategy, updated by C11 on every fill.
type StrategyPerformance struct {
	StrategyID string
	Returns    []decimal.Decimal // rolling buffer, length <= PerformanceWindow
	Sharpe     decimal.Decimal
	WinRate    decimal.Decimal
	TradeCount int
}

// AllocationWeights maps strategy_id -> weight, Σweight == 1.
type AllocationWeights struct {
	Weights       map[string]decimal.Decimal
	LastRebalance time.Time
}

// CorrelationMatrix is a symmetric N×N matrix of pairwise return
// correlations over the last correlation_window minutes.
type CorrelationMatrix struct {
	StrategyIDs []string
	Values      map[string]map[string]decimal.Decimal
	BuiltAt     time.Time
}

// Get returns corr(a, b), or zero if unknown.
func (m *CorrelationMatrix) Get(a, b string) decimal.Decimal {
	if m == nil || m.Values == nil {
		return decimal.Zero
	}
	if row, ok := m.Values[a]; ok {
		if v, ok := row[b]; ok {
			return v
		}
	}
	return decimal.Zero
}

// Position is one open portfolio position.
type Position struct {
	Symbol        string
	Size          decimal.Decimal // signed: positive long, negative short
	AvgEntryPrice decimal.Decimal
	OpenedAt      time.Time
	StrategyID    string
}

// Portfolio is the single mutable portfolio owned exclusively by C11
// (via the orchestrator); every other component sees a read-only
// snapshot.
type Portfolio struct {
	Cash      decimal.Decimal
	Positions map[string]*Position
	Equity    decimal.Decimal
	UpdatedAt time.Time
}

// Clone returns a deep, independent copy safe to hand out as a
// read-only snapshot.
func (p *Portfolio) Clone() *Portfolio {
	out := &Portfolio{
		Cash:      p.Cash,
		Equity:    p.Equity,
		UpdatedAt: p.UpdatedAt,
		Positions: make(map[string]*Position, len(p.Positions)),
	}
	for sym, pos := range p.Positions {
		cp := *pos
		out.Positions[sym] = &cp
	}
	return out
}

// CircuitBreakerLevel is one of the four C9 circuit-breaker states.
type CircuitBreakerLevel string

const (
	CBGreen   CircuitBreakerLevel = "GREEN"
	CBYellow1 CircuitBreakerLevel = "YELLOW_1"
	CBYellow2 CircuitBreakerLevel = "YELLOW_2"
	CBRed     CircuitBreakerLevel = "RED"
)

// CircuitBreakerState is the risk manager's drawdown state machine.
type CircuitBreakerState struct {
	Level         CircuitBreakerLevel
	TriggeredAt   *time.Time
	CooldownUntil *time.Time
	History       []CircuitBreakerTransition
}

// CircuitBreakerTransition records one state-machine transition.
type CircuitBreakerTransition struct {
	At       time.Time
	From     CircuitBreakerLevel
	To       CircuitBreakerLevel
	Drawdown decimal.Decimal
}

// LiquidationSide is the side of a forced liquidation.
type LiquidationSide string

const (
	LiquidationLong  LiquidationSide = "LONG"
	LiquidationShort LiquidationSide = "SHORT"
)

// LiquidationEvent is one forced-closure observation feeding C5.
type LiquidationEvent struct {
	Timestamp time.Time
	Symbol    string
	Size      decimal.Decimal
	Price     decimal.Decimal
	Side      LiquidationSide
}

// CascadeAction is the action C13 takes when C5 trips.
type CascadeAction string

const (
	CascadeHalt     CascadeAction = "HALT"
	CascadeReduce50 CascadeAction = "REDUCE_50"
	CascadeFlatten  CascadeAction = "FLATTEN"
)

// ChildOrder is one leg of an ExecutionPlan.
type ChildOrder struct {
	ID         string
	Type       OrderType
	Size       decimal.Decimal
	LimitPrice *decimal.Decimal
	Delay      time.Duration
}

// ExecutionPlan is C10's output: a concrete, venue-ready order plan.
type ExecutionPlan struct {
	Symbol                string
	Side                  OrderSide
	TotalAmount           decimal.Decimal
	OrderType             OrderType
	Orders                []ChildOrder
	EstimatedCommissionBps decimal.Decimal
	EstimatedSlippageBps   decimal.Decimal
	DeadlineSeconds        int
	MidAtDecision          decimal.Decimal
}

// Empty reports whether the plan carries no child orders (decision
// skipped, e.g. below venue minimum size).
func (p *ExecutionPlan) Empty() bool {
	return p == nil || len(p.Orders) == 0
}

// FillReport is what an OrderVenue returns for a submitted child order.
type FillReport struct {
	OrderID    string
	FilledSize decimal.Decimal
	AvgPrice   decimal.Decimal
	Commission decimal.Decimal
	Status     FillStatus
}

// TradeRecord is the immutable row appended by C11 and persisted by C12.
type TradeRecord struct {
	ID                   string
	Timestamp            time.Time
	Symbol               string
	Action               Action
	StrategyID           string
	SignalPrice          decimal.Decimal
	ExecutionPrice       decimal.Decimal
	Size                 decimal.Decimal
	Commission           decimal.Decimal
	SlippageBps          decimal.Decimal
	PnL                  *decimal.Decimal
	PortfolioEquityAfter decimal.Decimal
}

// PortfolioCheckpoint is a durable point-in-time snapshot of the portfolio.
type PortfolioCheckpoint struct {
	Timestamp time.Time
	Cash      decimal.Decimal
	Equity    decimal.Decimal
	Positions map[string]*Position
}

// MetricsSnapshot is one row of the `metrics` table.
type MetricsSnapshot struct {
	Timestamp   time.Time
	TotalReturn decimal.Decimal
	Sharpe      decimal.Decimal
	MaxDrawdown decimal.Decimal
	WinRate     decimal.Decimal
	TotalTrades int
	Extra       map[string]any
}
