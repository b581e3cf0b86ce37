package marketfeed

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
)

// SimulatedSource is a deterministic-by-seed Source backing --paper
// mode: no live venue is configured, but the pipeline still needs a
// real MarketDataSource implementation to drive a tick end-to-end.
// Each FetchTicker call advances a per-symbol geometric random walk,
// the same rand.New(rand.NewSource(...)) idiom the Monte Carlo
// simulator uses, rather than sampling every call from an unseeded
// global rand.
type SimulatedSource struct {
	name string

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64
	volPct float64
}

// NewSimulatedSource builds a SimulatedSource. startingPrices seeds
// each symbol's initial mid; volPct is the per-tick log-return
// standard deviation (default 0.1%, i.e. 0.001).
func NewSimulatedSource(seed int64, startingPrices map[string]decimal.Decimal, volPct decimal.Decimal) *SimulatedSource {
	prices := make(map[string]float64, len(startingPrices))
	for sym, p := range startingPrices {
		f, _ := p.Float64()
		prices[sym] = f
	}
	vol, _ := volPct.Float64()
	if vol <= 0 {
		vol = 0.001
	}
	return &SimulatedSource{
		name:   "simulated",
		rng:    rand.New(rand.NewSource(seed)),
		prices: prices,
		volPct: vol,
	}
}

func (s *SimulatedSource) Name() string { return "simulated" }

// FetchTicker advances symbol's random walk one step and returns the
// resulting frame. Unknown symbols start at a nominal 100.0.
func (s *SimulatedSource) FetchTicker(ctx context.Context, symbol string) (types.MarketFrame, error) {
	select {
	case <-ctx.Done():
		return types.MarketFrame{}, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	price, ok := s.prices[symbol]
	if !ok {
		price = 100.0
	}
	shock := s.rng.NormFloat64() * s.volPct
	price = price * math.Exp(shock)
	s.prices[symbol] = price

	mid := decimal.NewFromFloat(price)
	spread := mid.Mul(decimal.NewFromFloat(0.0005))
	bid := mid.Sub(spread)
	ask := mid.Add(spread)

	return types.MarketFrame{
		Venue:     s.name,
		Symbol:    symbol,
		Interval:  "1m",
		Timestamp: time.Now(),
		Open:      mid,
		High:      mid.Add(spread),
		Low:       mid.Sub(spread),
		Close:     mid,
		Volume:    decimal.NewFromFloat(1000 + s.rng.Float64()*500),
		Bid:       &bid,
		Ask:       &ask,
	}, nil
}

func (s *SimulatedSource) Close() error { return nil }
