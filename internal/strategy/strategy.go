// Package strategy implements the Strategy Registry (C4): strategies
// are duck-typed capability interfaces fanned out per tick, each
// bounded by its own timeout. A strategy that faults K consecutive
// times is disabled and re-enabled automatically after a cooldown.
package strategy

import (
	"context"
	"time"

	"github.com/atlasquant/tradecore/internal/errs"
	"github.com/atlasquant/tradecore/pkg/types"
	"go.uber.org/zap"
)

// Strategy is the capability interface every pluggable strategy
// implements. GenerateSignal may return a HOLD signal or an error; the
// orchestrator treats a HOLD the same as "no opinion" and drops it
// before ensemble voting.
type Strategy interface {
	Name() string
	Enabled() bool
	SetEnabled(bool)
	GenerateSignal(ctx context.Context, frame types.MarketFrame) (types.Signal, error)
	OnTradeFilled(trade types.TradeRecord)
}

// Factory constructs a fresh Strategy instance.
type Factory func(logger *zap.Logger) Strategy

// faultRecord tracks a strategy's consecutive-fault count for the
// disable/cooldown rule.
type faultRecord struct {
	consecutive int
	disabledAt  time.Time
}

// Registry owns the set of live strategies and the per-strategy fault
// state the spec's disable/re-enable rule needs.
type Registry struct {
	logger         *zap.Logger
	strategies     map[string]Strategy
	faults         map[string]*faultRecord
	faultThreshold int
	cooldown       time.Duration
}

// New builds an empty Registry. faultThreshold and cooldown come from
// the configured defaults (10 consecutive faults, 15 minute cooldown).
func New(logger *zap.Logger, faultThreshold int, cooldown time.Duration) *Registry {
	return &Registry{
		logger:         logger.Named("strategy"),
		strategies:     make(map[string]Strategy),
		faults:         make(map[string]*faultRecord),
		faultThreshold: faultThreshold,
		cooldown:       cooldown,
	}
}

// Register adds s to the registry under its own Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
	r.faults[s.Name()] = &faultRecord{}
}

// Active returns every currently enabled strategy, re-enabling any
// whose cooldown has elapsed first.
func (r *Registry) Active(now time.Time) []Strategy {
	var active []Strategy
	for name, s := range r.strategies {
		fr := r.faults[name]
		if !s.Enabled() && !fr.disabledAt.IsZero() && now.Sub(fr.disabledAt) >= r.cooldown {
			s.SetEnabled(true)
			fr.consecutive = 0
			fr.disabledAt = time.Time{}
			r.logger.Info("strategy re-enabled after cooldown", zap.String("strategy", name))
		}
		if s.Enabled() {
			active = append(active, s)
		}
	}
	return active
}

// RecordResult updates fault state after a GenerateSignal call,
// disabling the strategy once it has faulted faultThreshold times in a
// row.
func (r *Registry) RecordResult(now time.Time, name string, err error) {
	fr := r.faults[name]
	if fr == nil {
		return
	}
	if err == nil {
		fr.consecutive = 0
		return
	}
	fr.consecutive++
	r.logger.Debug("strategy fault recorded", zap.Error(errs.StrategyFault(name, "generate_signal failed", err)))
	if fr.consecutive >= r.faultThreshold {
		if s, ok := r.strategies[name]; ok && s.Enabled() {
			s.SetEnabled(false)
			fr.disabledAt = now
			r.logger.Warn("strategy disabled after consecutive faults",
				zap.String("strategy", name), zap.Int("consecutive", fr.consecutive))
		}
	}
}

// OnTradeFilled dispatches a fill notification to the strategy that
// originated the trade, if it is still registered.
func (r *Registry) OnTradeFilled(trade types.TradeRecord) {
	if s, ok := r.strategies[trade.StrategyID]; ok {
		s.OnTradeFilled(trade)
	}
}
