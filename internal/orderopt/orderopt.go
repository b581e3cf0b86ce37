// Package orderopt implements the Order Optimiser (C10): it turns an
// EnsembleDecision plus current market conditions into a concrete
// ExecutionPlan, choosing among four order strategies: orders above the
// small-size tier by size, smaller orders by a weighted market urgency
// score.
package orderopt

import (
	"math"
	"time"

	"github.com/atlasquant/tradecore/pkg/decimalmath"
	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Strategy names the four order placement strategies.
type Strategy string

const (
	StrategyAggressiveMarket Strategy = "AGGRESSIVE_MARKET"
	StrategyPatientMaker     Strategy = "PATIENT_MAKER"
	StrategyHybrid           Strategy = "HYBRID"
	StrategySizeAware        Strategy = "SIZE_AWARE"
)

var (
	one              = decimal.NewFromInt(1)
	weightConfidence = decimal.NewFromFloat(0.4)
	weightOther      = decimal.NewFromFloat(0.2)
)

// Thresholds configures strategy selection.
type Thresholds struct {
	Aggressive decimal.Decimal // market_score above this -> AGGRESSIVE_MARKET
	Patient    decimal.Decimal // market_score below this -> PATIENT_MAKER

	SizeSmall decimal.Decimal // amount <= this stays on the market_score path
	SizeLarge decimal.Decimal // amount > this is TWAP'd; also the size_factor denominator

	TWAPMinChildren int
	TWAPChunkSize   decimal.Decimal
	MinOrderSize    decimal.Decimal

	VolScale    decimal.Decimal // vol_factor denominator
	LimitOffset decimal.Decimal // patient/limit-leg price offset from mid, e.g. 0.001

	TickSize decimal.Decimal // limit price granularity; zero disables rounding
	StepSize decimal.Decimal // child order size granularity; zero disables rounding
}

// Optimiser builds ExecutionPlans.
type Optimiser struct {
	logger *zap.Logger
	t      Thresholds
}

func New(logger *zap.Logger, t Thresholds) *Optimiser {
	return &Optimiser{logger: logger.Named("orderopt"), t: t}
}

// Plan builds an ExecutionPlan for decision given the deciding frame's
// mid price, spread, volatility and volume. Returns an empty plan (per
// ExecutionPlan.Empty) when notional is below MinOrderSize.
func (o *Optimiser) Plan(decision types.EnsembleDecision, frame types.MarketFrame, notional decimal.Decimal) types.ExecutionPlan {
	mid := frame.Mid()
	plan := types.ExecutionPlan{
		Symbol:        decision.Symbol,
		TotalAmount:   notional,
		MidAtDecision: mid,
	}
	if decision.Action == types.ActionBuy {
		plan.Side = types.OrderSideBuy
	} else {
		plan.Side = types.OrderSideSell
	}

	if notional.LessThan(o.t.MinOrderSize) {
		return plan
	}

	switch {
	case notional.GreaterThan(o.t.SizeLarge):
		plan.OrderType = types.OrderTypeTWAP
		plan.Orders = o.twapChildren(notional)
		plan.EstimatedSlippageBps = decimal.NewFromInt(25)
	case notional.GreaterThan(o.t.SizeSmall):
		plan.OrderType = types.OrderTypeTWAP
		plan.Orders = o.sizeAwareChildren(mid, plan.Side, notional)
		plan.EstimatedSlippageBps = decimal.NewFromInt(35)
	default:
		score := o.marketScore(decision, frame, notional)
		switch {
		case score.GreaterThan(o.t.Aggressive):
			plan.OrderType = types.OrderTypeMarket
			plan.Orders = []types.ChildOrder{{Type: types.OrderTypeMarket, Size: notional}}
			plan.EstimatedSlippageBps = score.Mul(decimal.NewFromInt(50))
		case score.LessThan(o.t.Patient):
			plan.OrderType = types.OrderTypeLimit
			limit := o.roundPrice(limitPrice(mid, plan.Side, o.t.LimitOffset))
			plan.Orders = []types.ChildOrder{{Type: types.OrderTypeLimit, Size: o.roundSize(notional), LimitPrice: &limit}}
			plan.EstimatedSlippageBps = decimal.Zero
			plan.DeadlineSeconds = 300
		default:
			plan.OrderType = types.OrderTypeTWAP
			plan.Orders = o.hybridChildren(mid, plan.Side, notional)
			plan.EstimatedSlippageBps = score.Mul(decimal.NewFromInt(35))
		}
	}
	if plan.DeadlineSeconds == 0 {
		plan.DeadlineSeconds = 300
	}
	plan.EstimatedCommissionBps = decimal.NewFromInt(10)
	return plan
}

// marketScore is the weighted urgency score in [0,1] that drives
// strategy selection for orders at or below SizeSmall:
//
//	market_score = 0.4*confidence + 0.2*(1-size_factor)
//	             + 0.2*(1-liquidity_factor) + 0.2*(1-vol_factor)
func (o *Optimiser) marketScore(decision types.EnsembleDecision, frame types.MarketFrame, notional decimal.Decimal) decimal.Decimal {
	sizeFactor := minDec(one, notional.Div(o.t.SizeLarge))
	liquidityFactor := decimal.NewFromInt(int64(liquidityRank(frame.SpreadBps))).Div(decimal.NewFromInt(5))
	volFactor := minDec(one, frame.Volatility.Div(o.t.VolScale))

	score := weightConfidence.Mul(decision.Confidence).
		Add(weightOther.Mul(one.Sub(sizeFactor))).
		Add(weightOther.Mul(one.Sub(liquidityFactor))).
		Add(weightOther.Mul(one.Sub(volFactor)))
	return clampUnit(score)
}

// liquidityRank buckets spreadBps into a 1 (illiquid) .. 5 (deep) tier.
// No venue order-book depth feed is wired in; spread is the available
// liquidity proxy.
func liquidityRank(spreadBps decimal.Decimal) int {
	switch {
	case spreadBps.LessThan(decimal.NewFromInt(5)):
		return 5
	case spreadBps.LessThan(decimal.NewFromInt(15)):
		return 4
	case spreadBps.LessThan(decimal.NewFromInt(30)):
		return 3
	case spreadBps.LessThan(decimal.NewFromInt(60)):
		return 2
	default:
		return 1
	}
}

// hybridChildren splits notional 60% into an immediate limit leg and
// 40% into a market leg delayed ~20s, per the HYBRID strategy.
func (o *Optimiser) hybridChildren(mid decimal.Decimal, side types.OrderSide, notional decimal.Decimal) []types.ChildOrder {
	limitSize := o.roundSize(notional.Mul(decimal.NewFromFloat(0.6)))
	marketSize := o.roundSize(notional.Sub(limitSize))
	limit := o.roundPrice(limitPrice(mid, side, o.t.LimitOffset))
	return []types.ChildOrder{
		{Type: types.OrderTypeLimit, Size: limitSize, LimitPrice: &limit},
		{Type: types.OrderTypeMarket, Size: marketSize, Delay: 20 * time.Second},
	}
}

// sizeAwareChildren splits notional into the SIZE_AWARE mid tier: one
// immediate limit leg and two market legs staggered at 30s and 60s.
func (o *Optimiser) sizeAwareChildren(mid decimal.Decimal, side types.OrderSide, notional decimal.Decimal) []types.ChildOrder {
	third := o.roundSize(notional.Div(decimal.NewFromInt(3)))
	remainder := o.roundSize(notional.Sub(third).Sub(third))
	limit := o.roundPrice(limitPrice(mid, side, o.t.LimitOffset))
	return []types.ChildOrder{
		{Type: types.OrderTypeLimit, Size: third, LimitPrice: &limit},
		{Type: types.OrderTypeMarket, Size: third, Delay: 30 * time.Second},
		{Type: types.OrderTypeMarket, Size: remainder, Delay: 60 * time.Second},
	}
}

// twapChildren splits notional into N = max(TWAPMinChildren,
// floor(notional / TWAPChunkSize)) equal limit legs spread evenly over
// the execution deadline.
func (o *Optimiser) twapChildren(notional decimal.Decimal) []types.ChildOrder {
	n, _ := notional.Div(o.t.TWAPChunkSize).Float64()
	count := int(math.Floor(n))
	if count < o.t.TWAPMinChildren {
		count = o.t.TWAPMinChildren
	}
	chunk := o.roundSize(notional.Div(decimal.NewFromInt(int64(count))))
	spacing := (300 * time.Second) / time.Duration(count)
	children := make([]types.ChildOrder, count)
	var allocated decimal.Decimal
	for i := 0; i < count; i++ {
		size := chunk
		if i == count-1 {
			// Last child absorbs whatever step-size rounding left
			// over, so Σ child.size == notional exactly.
			size = notional.Sub(allocated)
		}
		children[i] = types.ChildOrder{
			Type:  types.OrderTypeLimit,
			Size:  size,
			Delay: time.Duration(i) * spacing,
		}
		allocated = allocated.Add(size)
	}
	return children
}

// limitPrice offsets mid by offsetFraction on the favourable side:
// below mid for a buy, above mid for a sell.
func limitPrice(mid decimal.Decimal, side types.OrderSide, offsetFraction decimal.Decimal) decimal.Decimal {
	offset := mid.Mul(offsetFraction)
	if side == types.OrderSideBuy {
		return mid.Sub(offset)
	}
	return mid.Add(offset)
}

func (o *Optimiser) roundPrice(price decimal.Decimal) decimal.Decimal {
	return decimalmath.RoundToTickSize(price, o.t.TickSize)
}

func (o *Optimiser) roundSize(size decimal.Decimal) decimal.Decimal {
	return decimalmath.RoundToStepSize(size, o.t.StepSize)
}

func minDec(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

func clampUnit(d decimal.Decimal) decimal.Decimal {
	if d.LessThan(decimal.Zero) {
		return decimal.Zero
	}
	if d.GreaterThan(one) {
		return one
	}
	return d
}
