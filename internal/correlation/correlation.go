// Package correlation implements the Correlation Manager (C7): it
// builds a pairwise Pearson correlation matrix over each strategy's
// recent realised returns and exposes a per-signal size adjustment
// that discourages piling into correlated strategies.
package correlation

import (
	"math"
	"time"

	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Manager holds the rolling per-strategy return buffers used to build
// the correlation matrix.
type Manager struct {
	logger    *zap.Logger
	lookback  time.Duration
	threshold decimal.Decimal
	floor     decimal.Decimal

	returns map[string][]timedReturn
}

type timedReturn struct {
	at  time.Time
	val decimal.Decimal
}

// New builds a Manager. lookback is the rolling window (default 60
// minutes), threshold the correlation level treated as "highly
// correlated" (default 0.7), floor the minimum size-adjustment factor
// a correlated signal can be penalised to (default 0.5).
func New(logger *zap.Logger, lookback time.Duration, threshold, floor decimal.Decimal) *Manager {
	return &Manager{
		logger:    logger.Named("correlation"),
		lookback:  lookback,
		threshold: threshold,
		floor:     floor,
		returns:   make(map[string][]timedReturn),
	}
}

// Observe records a realised return for strategyID.
func (m *Manager) Observe(now time.Time, strategyID string, ret decimal.Decimal) {
	buf := append(m.returns[strategyID], timedReturn{at: now, val: ret})
	cutoff := now.Add(-m.lookback)
	pruned := buf[:0]
	for _, r := range buf {
		if r.at.After(cutoff) {
			pruned = append(pruned, r)
		}
	}
	m.returns[strategyID] = pruned
}

// Build computes the pairwise correlation matrix over every strategy
// with at least two samples in the window.
func (m *Manager) Build(now time.Time) types.CorrelationMatrix {
	var ids []string
	series := make(map[string][]float64)
	for id, buf := range m.returns {
		if len(buf) < 2 {
			continue
		}
		ids = append(ids, id)
		vals := make([]float64, len(buf))
		for i, r := range buf {
			f, _ := r.val.Float64()
			vals[i] = f
		}
		series[id] = vals
	}

	values := make(map[string]map[string]decimal.Decimal, len(ids))
	for _, a := range ids {
		values[a] = make(map[string]decimal.Decimal, len(ids))
		for _, b := range ids {
			if a == b {
				values[a][b] = decimal.NewFromInt(1)
				continue
			}
			values[a][b] = decimal.NewFromFloat(pearson(series[a], series[b]))
		}
	}
	return types.CorrelationMatrix{StrategyIDs: ids, Values: values, BuiltAt: now}
}

// PortfolioCorrelation returns the mean of the correlation matrix's
// upper triangle absolute values — a single scalar summarising how
// correlated the active strategy set currently is. With fewer than two
// strategies this is a no-op boundary case returning zero.
func PortfolioCorrelation(m types.CorrelationMatrix) decimal.Decimal {
	n := len(m.StrategyIDs)
	if n < 2 {
		return decimal.Zero
	}
	var sum decimal.Decimal
	var count int
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			sum = sum.Add(m.Get(m.StrategyIDs[i], m.StrategyIDs[j]).Abs())
			count++
		}
	}
	if count == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(count)))
}

// SizeAdjustment maps a correlation figure rho to the multiplier
// 1 - max(0, rho - threshold), clamped to [floor, 1]. The orchestrator
// applies it twice: to a signal's confidence, with rho the strategy's
// MeanCorrelation against strategies currently holding positions, and
// to the Kelly-sized fraction, with rho the PortfolioCorrelation.
func (m *Manager) SizeAdjustment(rho decimal.Decimal) decimal.Decimal {
	excess := rho.Sub(m.threshold)
	if excess.Sign() < 0 {
		excess = decimal.Zero
	}
	adj := decimal.NewFromInt(1).Sub(excess)
	if adj.LessThan(m.floor) {
		return m.floor
	}
	if adj.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return adj
}

// MeanCorrelation returns strategyID's ρ_s: the mean absolute
// correlation against the given set of other strategies (per §4.7,
// the strategies currently holding a position). strategyID itself is
// skipped if present in against.
func MeanCorrelation(m types.CorrelationMatrix, strategyID string, against []string) decimal.Decimal {
	row, ok := m.Values[strategyID]
	if !ok {
		return decimal.Zero
	}
	var sum decimal.Decimal
	var count int
	for _, other := range against {
		if other == strategyID {
			continue
		}
		v, ok := row[other]
		if !ok {
			continue
		}
		sum = sum.Add(v.Abs())
		count++
	}
	if count == 0 {
		return decimal.Zero
	}
	return sum.Div(decimal.NewFromInt(int64(count)))
}

func pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	if n < 2 {
		return 0
	}
	a, b = a[len(a)-n:], b[len(b)-n:]

	var meanA, meanB float64
	for i := 0; i < n; i++ {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= float64(n)
	meanB /= float64(n)

	var cov, varA, varB float64
	for i := 0; i < n; i++ {
		da, db := a[i]-meanA, b[i]-meanB
		cov += da * db
		varA += da * da
		varB += db * db
	}
	if varA == 0 || varB == 0 {
		return 0
	}
	return cov / (math.Sqrt(varA) * math.Sqrt(varB))
}
