// Package execution implements the Execution Engine (C11): it submits
// an ExecutionPlan's child orders to the configured OrderVenue,
// aggregates fills into a TradeRecord, and atomically mutates the
// single Portfolio the rest of the pipeline only ever sees read-only
// snapshots of.
package execution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/atlasquant/tradecore/internal/errs"
	"github.com/atlasquant/tradecore/pkg/decimalmath"
	"github.com/atlasquant/tradecore/pkg/retry"
	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Venue is the external order-submission dependency consumed by the
// pipeline.
type Venue interface {
	Submit(ctx context.Context, symbol string, side types.OrderSide, order types.ChildOrder) (types.FillReport, error)
	Cancel(ctx context.Context, orderID string) error
}

// minFillRatio is the fraction of a plan's total size that must fill
// for the trade to be accepted rather than rejected outright.
var minFillRatio = decimal.NewFromFloat(0.95)

// Engine owns the single mutable Portfolio and submits plans to a Venue.
type Engine struct {
	logger *zap.Logger
	venue  Venue

	mu        sync.Mutex
	portfolio *types.Portfolio

	processedOrders map[string]struct{}
}

// New builds an Engine with the given starting cash.
func New(logger *zap.Logger, venue Venue, startingCash decimal.Decimal) *Engine {
	return &Engine{
		logger: logger.Named("execution"),
		venue:  venue,
		portfolio: &types.Portfolio{
			Cash:      startingCash,
			Positions: make(map[string]*types.Position),
			Equity:    startingCash,
			UpdatedAt: time.Now(),
		},
		processedOrders: make(map[string]struct{}),
	}
}

// markProcessed reports whether orderID has not yet been applied to
// the portfolio, recording it if so. A transient-I/O retry can
// resubmit the same child order and receive a duplicate confirmation;
// this is what keeps that duplicate from being booked twice.
func (e *Engine) markProcessed(orderID string) bool {
	if orderID == "" {
		return true
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, seen := e.processedOrders[orderID]; seen {
		return false
	}
	e.processedOrders[orderID] = struct{}{}
	return true
}

// Snapshot returns a read-only deep copy of the portfolio.
func (e *Engine) Snapshot() *types.Portfolio {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.portfolio.Clone()
}

// Restore replaces the portfolio wholesale — used only by C12's
// recovery protocol at startup, before the tick loop begins.
func (e *Engine) Restore(p *types.Portfolio) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.portfolio = p.Clone()
}

// Execute submits every child order in plan, aggregates the fills, and
// mutates the portfolio only if the aggregate fill ratio meets
// minFillRatio. A rejection leaves the portfolio untouched and returns
// an error the orchestrator surfaces as an execution failure.
func (e *Engine) Execute(ctx context.Context, now time.Time, decision types.EnsembleDecision, plan types.ExecutionPlan) (types.TradeRecord, error) {
	if plan.Empty() {
		return types.TradeRecord{}, fmt.Errorf("execution: empty plan for %s", plan.Symbol)
	}

	var filled, notionalFilled, commission decimal.Decimal
	var weightedPrice decimal.Decimal

	for i := range plan.Orders {
		child := plan.Orders[i]
		if child.ID == "" {
			child.ID = uuid.NewString()
		}
		// Transient I/O (venue timeout, network hiccup) is retried
		// with exponential backoff before this child is treated as
		// missing for the trade.
		report, err := retry.Do(ctx, retry.Default(), func(c context.Context) (types.FillReport, error) {
			return e.venue.Submit(c, plan.Symbol, plan.Side, child)
		})
		if err != nil {
			e.logger.Warn("child order submit failed", zap.Error(errs.TransientIO("execution", "submit child order "+plan.Symbol, err)))
			continue
		}
		if report.Status == types.FillStatusRejected || report.Status == types.FillStatusCancelled {
			continue
		}
		if !e.markProcessed(report.OrderID) {
			e.logger.Warn("duplicate fill report ignored", zap.String("symbol", plan.Symbol), zap.String("order_id", report.OrderID))
			continue
		}
		filled = filled.Add(report.FilledSize)
		weightedPrice = weightedPrice.Add(report.FilledSize.Mul(report.AvgPrice))
		commission = commission.Add(report.Commission)
	}

	if plan.TotalAmount.Sign() == 0 {
		return types.TradeRecord{}, fmt.Errorf("execution: zero-size plan for %s", plan.Symbol)
	}
	fillRatio := filled.Div(plan.TotalAmount)
	if fillRatio.LessThan(minFillRatio) {
		e.logger.Warn("execution under-filled, rejecting trade",
			zap.String("symbol", plan.Symbol), zap.String("fill_ratio", fillRatio.String()))
		return types.TradeRecord{}, fmt.Errorf("execution: fill ratio %s below minimum for %s", fillRatio.String(), plan.Symbol)
	}

	avgPrice := weightedPrice.Div(filled)
	notionalFilled = filled

	signedSize := filled
	if plan.Side == types.OrderSideSell {
		signedSize = filled.Neg()
	}

	e.mu.Lock()
	equityAfter, pnl := e.applyFill(now, plan.Symbol, decision.Symbol, avgPrice, signedSize, commission)
	e.mu.Unlock()

	slippageBps := signedSlippageBps(plan.Side, plan.MidAtDecision, avgPrice)

	trade := types.TradeRecord{
		ID:                   uuid.NewString(),
		Timestamp:            now,
		Symbol:               plan.Symbol,
		Action:               decision.Action,
		StrategyID:           representativeStrategy(decision),
		SignalPrice:          decision.EntryPrice,
		ExecutionPrice:       avgPrice,
		Size:                 notionalFilled,
		Commission:           commission,
		SlippageBps:          slippageBps,
		PnL:                  pnl,
		PortfolioEquityAfter: equityAfter,
	}
	return trade, nil
}

// applyFill mutates the portfolio for one fill: debiting/crediting
// cash, averaging or (partially) closing the position, realising PnL
// on the closed portion, and recomputing equity. Caller must hold e.mu.
func (e *Engine) applyFill(now time.Time, symbol, strategyID string, price, signedSize, commission decimal.Decimal) (decimal.Decimal, *decimal.Decimal) {
	notional := price.Mul(signedSize)
	e.portfolio.Cash = e.portfolio.Cash.Sub(notional).Sub(commission)

	var realized *decimal.Decimal
	pos, exists := e.portfolio.Positions[symbol]
	if !exists {
		if signedSize.Sign() != 0 {
			e.portfolio.Positions[symbol] = &types.Position{
				Symbol: symbol, Size: signedSize, AvgEntryPrice: price,
				OpenedAt: now, StrategyID: strategyID,
			}
		}
	} else {
		if pos.Size.Sign() != 0 && signedSize.Sign() != pos.Size.Sign() {
			// Reducing or closing: realise PnL on the closed portion.
			closedSize := decimalmath.Min(pos.Size.Abs(), signedSize.Abs())
			direction := decimal.NewFromInt(int64(pos.Size.Sign()))
			pnl := price.Sub(pos.AvgEntryPrice).Mul(closedSize).Mul(direction)
			realized = &pnl
		}
		newSize := pos.Size.Add(signedSize)
		if pos.Size.Sign() != 0 && signedSize.Sign() == pos.Size.Sign() {
			totalCost := pos.AvgEntryPrice.Mul(pos.Size).Add(price.Mul(signedSize))
			pos.AvgEntryPrice = totalCost.Div(newSize)
		}
		pos.Size = newSize
		if pos.Size.Sign() == 0 {
			delete(e.portfolio.Positions, symbol)
		}
	}

	// Equity is recomputed here against each position's own cost basis as
	// an immediate best estimate right after the fill; the orchestrator
	// marks the whole portfolio to current market prices once per tick
	// via MarkToMarket before anything reads equity for sizing or the
	// circuit breaker.
	var posValue decimal.Decimal
	for _, p := range e.portfolio.Positions {
		posValue = posValue.Add(p.Size.Mul(p.AvgEntryPrice))
	}
	e.portfolio.Equity = e.portfolio.Cash.Add(posValue)
	e.portfolio.UpdatedAt = now
	return e.portfolio.Equity, realized
}

// MarkToMarket recomputes equity per equity = cash + Σ positions.size ×
// mark_price using the supplied current prices, keyed by symbol.
// Positions for a symbol with no price available keep their last
// contribution (their average entry price) rather than being dropped.
func (e *Engine) MarkToMarket(now time.Time, prices map[string]decimal.Decimal) decimal.Decimal {
	e.mu.Lock()
	defer e.mu.Unlock()

	var posValue decimal.Decimal
	for symbol, p := range e.portfolio.Positions {
		mark, ok := prices[symbol]
		if !ok {
			mark = p.AvgEntryPrice
		}
		posValue = posValue.Add(p.Size.Mul(mark))
	}
	e.portfolio.Equity = e.portfolio.Cash.Add(posValue)
	e.portfolio.UpdatedAt = now
	return e.portfolio.Equity
}

// LiquidateFraction force-closes fraction of every open position at
// its last known mark price, bypassing the normal plan/venue routing.
// This is the cascade-response path C13 drives on REDUCE_50 (fraction
// 0.5) and FLATTEN (fraction 1), and that operator FLATTEN/REDUCE
// commands reuse: a cascade response needs to cut risk immediately rather than queue a child order that itself takes time
// to fill. markPrice returns a symbol's last observed mid and false if
// none is available, in which case that position is left untouched
// and a warning logged. Returns one TradeRecord per closed position.
func (e *Engine) LiquidateFraction(now time.Time, fraction decimal.Decimal, markPrice func(symbol string) (decimal.Decimal, bool)) []types.TradeRecord {
	e.mu.Lock()
	defer e.mu.Unlock()

	var trades []types.TradeRecord
	for symbol, pos := range e.portfolio.Positions {
		if pos.Size.Sign() == 0 {
			continue
		}
		price, ok := markPrice(symbol)
		if !ok {
			e.logger.Warn("cascade liquidation skipped, no mark price", zap.String("symbol", symbol))
			continue
		}
		closeSize := pos.Size.Mul(fraction)
		strategyID := pos.StrategyID

		equityAfter, pnl := e.applyFill(now, symbol, strategyID, price, closeSize.Neg(), decimal.Zero)
		action := types.ActionSell
		if closeSize.Sign() < 0 {
			action = types.ActionBuy
		}
		trades = append(trades, types.TradeRecord{
			ID:                   uuid.NewString(),
			Timestamp:            now,
			Symbol:               symbol,
			Action:               action,
			StrategyID:           strategyID,
			SignalPrice:          price,
			ExecutionPrice:       price,
			Size:                 closeSize.Abs(),
			PnL:                  pnl,
			PortfolioEquityAfter: equityAfter,
		})
	}
	return trades
}

func signedSlippageBps(side types.OrderSide, mid, execPrice decimal.Decimal) decimal.Decimal {
	if mid.Sign() == 0 {
		return decimal.Zero
	}
	diff := execPrice.Sub(mid).Div(mid).Mul(decimal.NewFromInt(10000))
	if side == types.OrderSideSell {
		return diff.Neg()
	}
	return diff
}

func representativeStrategy(decision types.EnsembleDecision) string {
	if len(decision.ContributingSignals) == 0 {
		return ""
	}
	best := decision.ContributingSignals[0]
	for _, s := range decision.ContributingSignals[1:] {
		if s.Confidence.GreaterThan(best.Confidence) {
			best = s
		}
	}
	return best.StrategyID
}
