// Package risk implements the Risk Manager (C9): equity/drawdown
// tracking, Kelly-criterion position sizing adjusted for
// cross-strategy correlation, and a three-level circuit breaker that
// scales position size down (and eventually to zero) as drawdown
// worsens.
package risk

import (
	"time"

	"github.com/atlasquant/tradecore/pkg/decimalmath"
	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Thresholds holds the circuit breaker's drawdown trigger levels and
// multipliers, plus the recovery cooldown.
type Thresholds struct {
	Yellow1  decimal.Decimal // e.g. 0.05
	Yellow2  decimal.Decimal // e.g. 0.10
	Red      decimal.Decimal // e.g. 0.15
	Cooldown time.Duration
}

var multipliers = map[types.CircuitBreakerLevel]decimal.Decimal{
	types.CBGreen:   decimal.NewFromInt(1),
	types.CBYellow1: decimal.NewFromFloat(0.5),
	types.CBYellow2: decimal.NewFromFloat(0.25),
	types.CBRed:     decimal.Zero,
}

// Manager owns equity tracking and the circuit breaker state machine.
type Manager struct {
	logger         *zap.Logger
	thresholds     Thresholds
	kellyFraction  decimal.Decimal
	minFraction    decimal.Decimal
	maxFraction    decimal.Decimal
	payoffRatio    decimal.Decimal
	minProbability decimal.Decimal

	dailyStart time.Time
	dayStartEq decimal.Decimal
	peakEquity decimal.Decimal

	state types.CircuitBreakerState
}

// New builds a Manager. kellyFraction is the fractional-Kelly
// multiplier (default 0.25); min/maxFraction bound the final sized
// position as a fraction of portfolio equity. payoffRatio is Kelly's b
// (default 1); minProbability gates sizing to zero below it.
func New(logger *zap.Logger, thresholds Thresholds, kellyFraction, minFraction, maxFraction, payoffRatio, minProbability decimal.Decimal) *Manager {
	return &Manager{
		logger:         logger.Named("risk"),
		thresholds:     thresholds,
		kellyFraction:  kellyFraction,
		minFraction:    minFraction,
		maxFraction:    maxFraction,
		payoffRatio:    payoffRatio,
		minProbability: minProbability,
		state:          types.CircuitBreakerState{Level: types.CBGreen},
	}
}

// Observe updates equity tracking for now/equity, resetting the daily
// baseline at midnight UTC, and advances the circuit breaker state
// machine from the resulting drawdown figures.
func (m *Manager) Observe(now time.Time, equity decimal.Decimal) types.CircuitBreakerState {
	if m.dailyStart.IsZero() || now.UTC().YearDay() != m.dailyStart.UTC().YearDay() || now.UTC().Year() != m.dailyStart.UTC().Year() {
		m.dailyStart = now
		m.dayStartEq = equity
	}
	if equity.GreaterThan(m.peakEquity) {
		m.peakEquity = equity
	}

	dailyDD := drawdown(m.dayStartEq, equity)
	maxDD := drawdown(m.peakEquity, equity)
	worst := dailyDD
	if maxDD.GreaterThan(worst) {
		worst = maxDD
	}

	m.transition(now, worst)
	return m.state
}

func drawdown(base, current decimal.Decimal) decimal.Decimal {
	if base.Sign() <= 0 {
		return decimal.Zero
	}
	dd := base.Sub(current).Div(base)
	if dd.Sign() < 0 {
		return decimal.Zero
	}
	return dd
}

// transition applies the asymmetric rule: escalation (worsening
// drawdown) happens immediately, de-escalation (recovery) requires
// both the drawdown to have receded below the lower threshold AND the
// cooldown since the last trigger to have elapsed.
func (m *Manager) transition(now time.Time, dd decimal.Decimal) {
	target := levelFor(dd, m.thresholds)
	current := m.state.Level

	if severity(target) > severity(current) {
		m.record(now, current, target, dd)
		return
	}
	if severity(target) < severity(current) {
		if m.state.CooldownUntil != nil && now.Before(*m.state.CooldownUntil) {
			return
		}
		m.record(now, current, target, dd)
	}
}

func (m *Manager) record(now time.Time, from, to types.CircuitBreakerLevel, dd decimal.Decimal) {
	m.state.Level = to
	if severity(to) > severity(from) {
		t := now
		cooldown := now.Add(m.thresholds.Cooldown)
		m.state.TriggeredAt = &t
		m.state.CooldownUntil = &cooldown
	}
	m.state.History = append(m.state.History, types.CircuitBreakerTransition{
		At: now, From: from, To: to, Drawdown: dd,
	})
	m.logger.Warn("circuit breaker transition",
		zap.String("from", string(from)), zap.String("to", string(to)),
		zap.String("drawdown", dd.String()))
}

func levelFor(dd decimal.Decimal, t Thresholds) types.CircuitBreakerLevel {
	switch {
	case dd.GreaterThanOrEqual(t.Red):
		return types.CBRed
	case dd.GreaterThanOrEqual(t.Yellow2):
		return types.CBYellow2
	case dd.GreaterThanOrEqual(t.Yellow1):
		return types.CBYellow1
	default:
		return types.CBGreen
	}
}

func severity(l types.CircuitBreakerLevel) int {
	switch l {
	case types.CBRed:
		return 3
	case types.CBYellow2:
		return 2
	case types.CBYellow1:
		return 1
	default:
		return 0
	}
}

// State returns the current circuit breaker state without advancing it.
func (m *Manager) State() types.CircuitBreakerState { return m.state }

// SizePosition computes the final position fraction: Kelly sizing
// from the signal's win probability (its confidence), scaled by the
// fractional-Kelly multiplier, the caller-supplied correlation
// adjustment, and the current circuit breaker multiplier, then clamped
// to [minFraction, maxFraction].
func (m *Manager) SizePosition(confidence, corrAdjustment decimal.Decimal) decimal.Decimal {
	kelly := m.calculateKelly(confidence)
	fractional := kelly.Mul(m.kellyFraction)
	adjusted := fractional.Mul(corrAdjustment).Mul(multipliers[m.state.Level])
	return decimalmath.Clamp(adjusted, m.minFraction, m.maxFraction)
}

// calculateKelly implements k = (bp - q) / b = p - q/b with p the
// signal confidence and b the configured payoff ratio (default 1),
// clipped to [0, 1]. Returns 0 if p is below minProbability — Kelly
// never shorts sizing by going negative either.
func (m *Manager) calculateKelly(p decimal.Decimal) decimal.Decimal {
	if p.LessThan(m.minProbability) {
		return decimal.Zero
	}
	b := m.payoffRatio
	if b.Sign() == 0 {
		return decimal.Zero
	}
	q := decimal.NewFromInt(1).Sub(p)
	kelly := p.Sub(q.Div(b))
	if kelly.Sign() < 0 {
		return decimal.Zero
	}
	if kelly.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return kelly
}

// Refuse reports whether a RED circuit breaker should refuse a new
// entry outright (multiplier 0 means any sized position rounds to
// nothing, but callers check this explicitly for a clear refusal
// reason in logs/results).
func (m *Manager) Refuse() bool {
	return m.state.Level == types.CBRed
}
