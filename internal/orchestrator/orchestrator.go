// Package orchestrator provides the Pipeline Orchestrator (C13): a
// strict sequential tick loop that drives every other component
// through one pass of the pipeline, never starting the next tick
// before the current one finishes.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/atlasquant/tradecore/internal/allocator"
	"github.com/atlasquant/tradecore/internal/config"
	"github.com/atlasquant/tradecore/internal/correlation"
	"github.com/atlasquant/tradecore/internal/ensemble"
	"github.com/atlasquant/tradecore/internal/errs"
	"github.com/atlasquant/tradecore/internal/events"
	"github.com/atlasquant/tradecore/internal/execution"
	"github.com/atlasquant/tradecore/internal/liquidation"
	"github.com/atlasquant/tradecore/internal/marketfeed"
	"github.com/atlasquant/tradecore/internal/normalizer"
	"github.com/atlasquant/tradecore/internal/orderopt"
	"github.com/atlasquant/tradecore/internal/risk"
	"github.com/atlasquant/tradecore/internal/statestore"
	"github.com/atlasquant/tradecore/internal/strategy"
	"github.com/atlasquant/tradecore/internal/validator"
	"github.com/atlasquant/tradecore/internal/workerpool"
	"github.com/atlasquant/tradecore/pkg/decimalmath"
	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Status is the read-only snapshot PipelineRunner.status() returns.
type Status struct {
	Iteration          int64
	LastTickAt         time.Time
	LastTickDuration   time.Duration
	PortfolioEquity    decimal.Decimal
	CircuitBreakerLevel types.CircuitBreakerLevel
	OpenPositionsCount int
	Running            bool
}

// Runner is the Pipeline Orchestrator. It owns no business logic of
// its own beyond sequencing — each phase delegates to its component.
type Runner struct {
	logger *zap.Logger
	cfg    *config.Defaults
	clock  Clock

	feed       *marketfeed.Feed
	validator  *validator.Validator
	normalizer *normalizer.Normalizer
	registry   *strategy.Registry
	strategyPool *workerpool.Pool
	liquidation *liquidation.Detector
	alloc      *allocator.Allocator
	corr       *correlation.Manager
	voter      *ensemble.Voter
	riskMgr    *risk.Manager
	orderOpt   *orderopt.Optimiser
	engine     *execution.Engine
	store      statestore.Store
	bus        *events.Bus

	symbols []string

	mu       sync.RWMutex
	status   Status
	perf     map[string]types.StrategyPerformance
	lastFrame map[string]types.MarketFrame

	lastCheckpointAt time.Time
	lastBackupAt     time.Time

	stopRequested bool
	paused        bool
	halted        bool
	tickDone      chan struct{}
}

// Clock abstracts time so tests can drive ticks deterministically.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production Clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Deps bundles every component the Runner sequences. All fields are
// required.
type Deps struct {
	Logger      *zap.Logger
	Config      *config.Defaults
	Clock       Clock
	Feed        *marketfeed.Feed
	Validator   *validator.Validator
	Normalizer  *normalizer.Normalizer
	Registry    *strategy.Registry
	Liquidation *liquidation.Detector
	Allocator   *allocator.Allocator
	Correlation *correlation.Manager
	Voter       *ensemble.Voter
	Risk        *risk.Manager
	OrderOpt    *orderopt.Optimiser
	Engine      *execution.Engine
	Store       statestore.Store
	Bus         *events.Bus
	Symbols     []string
}

// New builds a Runner from Deps.
func New(d Deps) *Runner {
	pool := workerpool.New(d.Logger, workerpool.DefaultConfig("strategy", d.Config.SignalGenTimeout))
	pool.Start()
	return &Runner{
		logger:       d.Logger.Named("orchestrator"),
		cfg:          d.Config,
		clock:        d.Clock,
		feed:         d.Feed,
		validator:    d.Validator,
		normalizer:   d.Normalizer,
		registry:     d.Registry,
		strategyPool: pool,
		liquidation:  d.Liquidation,
		alloc:        d.Allocator,
		corr:         d.Correlation,
		voter:        d.Voter,
		riskMgr:      d.Risk,
		orderOpt:     d.OrderOpt,
		engine:       d.Engine,
		store:        d.Store,
		bus:          d.Bus,
		symbols:      d.Symbols,
		perf:         make(map[string]types.StrategyPerformance),
		lastFrame:    make(map[string]types.MarketFrame),
		tickDone:     make(chan struct{}, 1),
	}
}

// Status returns a read-only snapshot of the runner's current state.
func (r *Runner) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// Command is the set of runtime commands PipelineRunner.command()
// accepts from the out-of-scope operator control plane. REDUCE(x%)
// carries a payload the bare enum can't, so it's exposed separately as
// Runner.Reduce rather than a Command value.
type Command string

const (
	CommandPause   Command = "pause"
	CommandResume  Command = "resume"
	CommandStop    Command = "stop"
	CommandFlatten Command = "flatten"
	CommandHalt    Command = "halt"
)

// Command applies a runtime command. Stop is graceful: the current
// tick (if any) completes, no new tick starts, and a final checkpoint
// is written before Run returns. Pause/Resume skip/resume the tick
// body entirely without stopping the driver loop. Halt refuses new
// decisions the same way a RED circuit breaker does, but (unlike Stop)
// leaves the process running and ticking. Flatten force-closes every
// open position immediately, outside the normal tick cadence.
func (r *Runner) Command(cmd Command) {
	switch cmd {
	case CommandStop:
		r.mu.Lock()
		r.stopRequested = true
		r.mu.Unlock()
		r.bus.Publish(events.Event{Type: events.TypeCommand, At: r.clock.Now(), Message: "stop requested"})
	case CommandPause:
		r.mu.Lock()
		r.paused = true
		r.mu.Unlock()
		r.bus.Publish(events.Event{Type: events.TypeCommand, At: r.clock.Now(), Message: "paused"})
	case CommandResume:
		r.mu.Lock()
		r.paused = false
		r.mu.Unlock()
		r.bus.Publish(events.Event{Type: events.TypeCommand, At: r.clock.Now(), Message: "resumed"})
	case CommandHalt:
		r.mu.Lock()
		r.halted = true
		r.mu.Unlock()
		r.bus.Publish(events.Event{Type: events.TypeCommand, At: r.clock.Now(), Message: "halted"})
	case CommandFlatten:
		r.liquidatePortfolio(decimal.NewFromInt(1))
	}
}

// Reduce implements the REDUCE(x%) command: force-closes fraction of
// every open position immediately, outside the normal tick cadence.
func (r *Runner) Reduce(fraction decimal.Decimal) {
	r.liquidatePortfolio(fraction)
}

// liquidatePortfolio drives Engine.LiquidateFraction from an
// out-of-band operator command (as opposed to executeCascade, which
// drives it from inside a tick on a C5 trigger), persisting whatever
// trades result and checkpointing immediately.
func (r *Runner) liquidatePortfolio(fraction decimal.Decimal) {
	now := r.clock.Now()
	r.mu.RLock()
	frames := make(map[string]types.MarketFrame, len(r.lastFrame))
	for sym, f := range r.lastFrame {
		frames[sym] = f
	}
	r.mu.RUnlock()

	trades := r.engine.LiquidateFraction(now, fraction, func(symbol string) (decimal.Decimal, bool) {
		f, ok := frames[symbol]
		if !ok {
			return decimal.Zero, false
		}
		return f.Mid(), true
	})
	for _, trade := range trades {
		if err := r.store.AppendTrade(trade); err != nil {
			r.logger.Error("persist command-driven liquidation failed", zap.Error(errs.Persistence("statestore", "append trade", err)))
		}
	}
	if len(trades) > 0 {
		r.checkpoint(now)
	}
	r.bus.Publish(events.Event{Type: events.TypeCommand, At: now, Message: "command-driven liquidation executed"})
}

// Run drives the tick loop until ctx is cancelled or Command(Stop) is
// called. It never starts a new tick while the stop flag is set.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.TradingInterval)
	defer ticker.Stop()

	r.mu.Lock()
	r.status.Running = true
	r.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			r.shutdown()
			return ctx.Err()
		case <-ticker.C:
			r.mu.RLock()
			stop := r.stopRequested
			r.mu.RUnlock()
			if stop {
				r.shutdown()
				return nil
			}
			r.tick(ctx)
		}
	}
}

func (r *Runner) shutdown() {
	r.logger.Info("orchestrator shutting down")
	snapshot := r.engine.Snapshot()
	_ = r.store.SaveCheckpoint(types.PortfolioCheckpoint{
		Timestamp: r.clock.Now(), Cash: snapshot.Cash, Equity: snapshot.Equity, Positions: snapshot.Positions,
	})
	_ = r.strategyPool.Stop()
	_ = r.feed.Stop()
	r.mu.Lock()
	r.status.Running = false
	r.mu.Unlock()
}

// tick runs one iteration's ordered phases. It never returns an error
// to Run: per-phase failures are logged and handled according to §7's
// taxonomy, and the tick otherwise completes so the next one can start
// on schedule.
func (r *Runner) tick(ctx context.Context) {
	start := r.clock.Now()
	budget := r.cfg.TickBudget()
	tickCtx, cancel := context.WithTimeout(ctx, r.cfg.TradingInterval)
	defer cancel()

	r.mu.RLock()
	paused := r.paused
	r.mu.RUnlock()
	if paused {
		r.logger.Debug("tick skipped: paused")
		r.finishTick(start)
		return
	}

	r.bus.Publish(events.Event{Type: events.TypeTickStarted, At: start})

	// Phase 1: fetch market data (C1), bounded by per-venue timeout.
	fetchCtx, fetchCancel := context.WithTimeout(tickCtx, r.cfg.MarketFetchTimeout)
	frames := r.feed.Fetch(fetchCtx, r.symbols)
	fetchCancel()

	// Phase 2: validate (C2) — a tick with zero surviving symbols is
	// skipped, not aborted.
	frames, rejections := r.validator.Validate(start, frames)
	for _, rej := range rejections {
		r.logger.Warn("rejected frame", zap.Error(errs.Validation("validator", string(rej.Reason)+": "+rej.Symbol)))
	}
	if len(frames) == 0 {
		r.logger.Warn("no surviving symbols this tick, skipping")
		r.maybeCheckpoint(start)
		r.maybeBackup(start)
		r.finishTick(start)
		return
	}

	// Phase 3: normalise features (C3).
	for sym, f := range frames {
		frames[sym] = r.normalizer.Apply(f)
	}
	r.mu.Lock()
	for sym, f := range frames {
		r.lastFrame[sym] = f
	}
	r.mu.Unlock()

	mids := make(map[string]decimal.Decimal, len(frames))
	for sym, f := range frames {
		mids[sym] = f.Mid()
	}
	r.engine.MarkToMarket(start, mids)

	// Phase 4: liquidation cascade check (C5). A trigger executes the
	// configured cascade_action immediately and ends the tick — no new
	// signals are generated or voted on this tick.
	cascade := r.liquidation.Evaluate(start)
	if cascade.Triggered {
		r.bus.Publish(events.Event{Type: events.TypeCascade, At: start, Message: string(cascade.Action)})
		r.executeCascade(start, cascade)
		r.maybeCheckpoint(start)
		r.maybeBackup(start)
		r.finishTick(start)
		return
	}

	// Phase 5: risk/circuit-breaker check (C9). A RED reading refuses
	// all new trades; the tick ends here rather than doing the work of
	// generating and voting on signals that can't be acted on.
	snapshot := r.engine.Snapshot()
	cbState := r.riskMgr.Observe(start, snapshot.Equity)
	if r.riskMgr.Refuse() {
		r.bus.Publish(events.Event{Type: events.TypeCircuitBreaker, At: start, Message: string(cbState.Level)})
		r.logger.Warn("new trades refused", zap.Error(errs.RiskRefusal("risk", "circuit breaker RED")))
		r.maybeCheckpoint(start)
		r.maybeBackup(start)
		r.finishTick(start)
		return
	}

	r.mu.RLock()
	halted := r.halted
	r.mu.RUnlock()
	if halted {
		r.bus.Publish(events.Event{Type: events.TypeCommand, At: start, Message: "halted, skipping new decisions"})
		r.maybeCheckpoint(start)
		r.maybeBackup(start)
		r.finishTick(start)
		return
	}

	// Phase 6: generate signals (C4), fanned out per active strategy
	// with a per-call timeout, faults tracked for the disable rule.
	signalsBySymbol := r.generateSignals(tickCtx, frames)

	// Phase 7: rebalance allocation weights (C6) on schedule.
	if r.alloc.Due(start) {
		r.alloc.Rebalance(start, r.perfSnapshot())
	}
	weights := r.alloc.Weights()

	// Phase 8: build correlation matrix (C7).
	matrix := r.corr.Build(start)

	// Phase 9: ensemble vote per symbol (C8).
	for symbol, sigs := range signalsBySymbol {
		decision, ok := r.voter.Vote(symbol, sigs, weights.Weights)
		if !ok || decision.Action == types.ActionHold {
			continue
		}

		// Phase 10: risk sizing (C9), correlation-adjusted.
		snapshot := r.engine.Snapshot()
		// §4.7: discount the signal's own confidence by its correlation
		// against strategies currently holding a position.
		heldStrategies := strategiesHoldingPositions(snapshot)
		signalStrategy := decision.ContributingSignals[0].StrategyID
		rhoS := correlation.MeanCorrelation(matrix, signalStrategy, heldStrategies)
		confidence := decision.Confidence.Mul(r.corr.SizeAdjustment(rhoS))

		// §4.9: separately scale the Kelly-derived size by the
		// portfolio-wide correlation factor.
		portfolioCorr := correlation.PortfolioCorrelation(matrix)
		corrAdj := r.corr.SizeAdjustment(portfolioCorr)
		fraction := r.riskMgr.SizePosition(confidence, corrAdj)
		notional := snapshot.Equity.Mul(fraction)

		// Phase 11: build and execute the order plan (C10, C11).
		frame := frames[symbol]
		plan := r.orderOpt.Plan(decision, frame, notional)
		if plan.Empty() {
			continue
		}
		execCtx, execCancel := context.WithTimeout(tickCtx, r.cfg.OrderSubmitTimeout)
		trade, err := r.engine.Execute(execCtx, start, decision, plan)
		execCancel()
		if err != nil {
			r.logger.Warn("execution failed", zap.String("symbol", symbol), zap.Error(errs.Execution("execution", "plan execution failed", err)))
			continue
		}

		// Phase 12: persist the trade (C12) and update performance
		// tracking for the next allocation/correlation pass. Every fill
		// also forces an immediate checkpoint, independent of the
		// periodic cadence below.
		if err := r.store.AppendTrade(trade); err != nil {
			r.logger.Error("persist trade failed", zap.Error(errs.Persistence("statestore", "append trade", err)))
		} else {
			r.checkpoint(start)
		}
		r.registry.OnTradeFilled(trade)
		r.recordPerformance(trade)
		r.corr.Observe(start, trade.StrategyID, tradeReturn(trade))
	}

	r.maybeCheckpoint(start)
	r.maybeBackup(start)
	r.finishTick(start)

	elapsed := r.clock.Now().Sub(start)
	if elapsed > budget {
		r.logger.Warn("tick exceeded wall-clock budget",
			zap.Duration("elapsed", elapsed), zap.Duration("budget", budget))
	}
}

func (r *Runner) generateSignals(ctx context.Context, frames map[string]types.MarketFrame) map[string][]types.Signal {
	var mu sync.Mutex
	out := make(map[string][]types.Signal)
	now := r.clock.Now()

	var fns []func(context.Context) error
	for _, s := range r.registry.Active(now) {
		for symbol, frame := range frames {
			s, symbol, frame := s, symbol, frame
			fns = append(fns, func(taskCtx context.Context) error {
				sig, err := s.GenerateSignal(taskCtx, frame)
				r.registry.RecordResult(now, s.Name(), err)
				if err != nil {
					return err
				}
				if sig.Action == types.ActionHold {
					return nil
				}
				mu.Lock()
				out[symbol] = append(out[symbol], sig)
				mu.Unlock()
				return nil
			})
		}
	}
	r.strategyPool.RunAll(fns)
	return out
}

func (r *Runner) finishTick(tickTime time.Time) {
	snapshot := r.engine.Snapshot()
	r.mu.Lock()
	r.status.Iteration++
	r.status.LastTickAt = tickTime
	r.status.LastTickDuration = r.clock.Now().Sub(tickTime)
	r.status.PortfolioEquity = snapshot.Equity
	r.status.OpenPositionsCount = len(snapshot.Positions)
	r.status.CircuitBreakerLevel = r.riskMgr.State().Level
	r.mu.Unlock()
	r.bus.Publish(events.Event{Type: events.TypeTickCompleted, At: tickTime})
}

func (r *Runner) perfSnapshot() map[string]types.StrategyPerformance {
	snap := make(map[string]types.StrategyPerformance, len(r.perf))
	for k, v := range r.perf {
		snap[k] = v
	}
	return snap
}

func (r *Runner) recordPerformance(trade types.TradeRecord) {
	p := r.perf[trade.StrategyID]
	p.StrategyID = trade.StrategyID
	ret := tradeReturn(trade)
	p.Returns = append(p.Returns, ret)
	if w := r.cfg.PerformanceWindow; w > 0 && len(p.Returns) > w {
		p.Returns = p.Returns[len(p.Returns)-w:]
	}
	p.TradeCount++
	if len(p.Returns) > 0 {
		p.WinRate = decimalmath.WinRate(p.Returns)
		p.Sharpe = decimalmath.SharpeRatio(p.Returns, decimal.Zero, 252)
	}
	r.perf[trade.StrategyID] = p
}

func tradeReturn(trade types.TradeRecord) decimal.Decimal {
	if trade.PnL == nil {
		return decimal.Zero
	}
	if trade.Size.Sign() == 0 {
		return decimal.Zero
	}
	return trade.PnL.Div(trade.Size.Mul(trade.ExecutionPrice))
}

// executeCascade carries out C5's triggered cascade_action against the
// live portfolio. HALT takes no portfolio action — the tick ending
// here is itself the halt. REDUCE_50 and FLATTEN force-close half or
// all of every open position at its last known mark price via C11's
// emergency liquidation path, bypassing the normal plan/venue route.
func (r *Runner) executeCascade(now time.Time, cascade liquidation.Decision) {
	var fraction decimal.Decimal
	switch cascade.Action {
	case types.CascadeReduce50:
		fraction = decimal.NewFromFloat(0.5)
	case types.CascadeFlatten:
		fraction = decimal.NewFromInt(1)
	default: // HALT
		return
	}

	trades := r.engine.LiquidateFraction(now, fraction, func(symbol string) (decimal.Decimal, bool) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		f, ok := r.lastFrame[symbol]
		if !ok {
			return decimal.Zero, false
		}
		return f.Mid(), true
	})
	for _, trade := range trades {
		if err := r.store.AppendTrade(trade); err != nil {
			r.logger.Error("persist cascade liquidation failed", zap.Error(errs.Persistence("statestore", "append trade", err)))
		}
	}
	if len(trades) > 0 {
		r.checkpoint(now)
	}
	r.logger.Warn("cascade action executed",
		zap.String("action", string(cascade.Action)), zap.Int("positions_touched", len(trades)))
}

// checkpoint saves the current portfolio snapshot unconditionally —
// used after every fill per §4.12, independent of the periodic
// maybeCheckpoint cadence.
func (r *Runner) checkpoint(now time.Time) {
	snapshot := r.engine.Snapshot()
	if err := r.store.SaveCheckpoint(types.PortfolioCheckpoint{
		Timestamp: now, Cash: snapshot.Cash, Equity: snapshot.Equity, Positions: snapshot.Positions,
	}); err != nil {
		r.logger.Error("checkpoint failed", zap.Error(errs.Persistence("statestore", "save checkpoint", err)))
		return
	}
	r.mu.Lock()
	r.lastCheckpointAt = now
	r.mu.Unlock()
}

// maybeCheckpoint checkpoints only once cfg.CheckpointInterval has
// elapsed since the last one (periodic cadence, default 300s).
func (r *Runner) maybeCheckpoint(now time.Time) {
	r.mu.RLock()
	due := now.Sub(r.lastCheckpointAt) >= r.cfg.CheckpointInterval
	r.mu.RUnlock()
	if due {
		r.checkpoint(now)
	}
}

// maybeBackup mirrors the latest checkpoint to disk and runs
// retention-day pruning once cfg.BackupInterval has elapsed since the
// last mirror (default hourly, per §4.12).
func (r *Runner) maybeBackup(now time.Time) {
	r.mu.RLock()
	due := now.Sub(r.lastBackupAt) >= r.cfg.BackupInterval
	r.mu.RUnlock()
	if !due {
		return
	}
	if err := r.store.Backup(now); err != nil {
		r.logger.Error("backup mirror failed", zap.Error(errs.Persistence("statestore", "backup", err)))
		return
	}
	if err := r.store.Prune(now, r.cfg.RetentionDays); err != nil {
		r.logger.Warn("retention prune failed", zap.Error(errs.Persistence("statestore", "prune", err)))
	}
	r.mu.Lock()
	r.lastBackupAt = now
	r.mu.Unlock()
}

// strategiesHoldingPositions returns the distinct StrategyIDs of every
// currently open (non-zero size) position in the portfolio.
func strategiesHoldingPositions(p *types.Portfolio) []string {
	seen := make(map[string]bool, len(p.Positions))
	var ids []string
	for _, pos := range p.Positions {
		if pos.Size.Sign() == 0 || pos.StrategyID == "" || seen[pos.StrategyID] {
			continue
		}
		seen[pos.StrategyID] = true
		ids = append(ids, pos.StrategyID)
	}
	return ids
}
