// Package normalizer implements the Feature Normaliser (C3): it
// maintains a rolling per-symbol window and attaches z-scored features
// to each frame, clipped to [-3, 3], without touching the original
// OHLC prices.
package normalizer

import (
	"math"

	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
)

const clipBound = 3.0

// Normalizer holds the rolling per-symbol buffers used to compute
// z-scores.
type Normalizer struct {
	window int
	closes map[string][]float64
	volumes map[string][]float64
}

// New builds a Normalizer with the given rolling window (default 252).
func New(window int) *Normalizer {
	return &Normalizer{
		window:  window,
		closes:  make(map[string][]float64),
		volumes: make(map[string][]float64),
	}
}

// Apply attaches Features to frame in place and returns the updated
// frame. Each z-score is taken against the symbol's window as it stood
// before this frame, whose sample is then added to it. Volatility is the
// sample stdev of the close buffer (this frame included); it is not a
// feature entry but a top-level derived field the rest of the pipeline
// reads directly. When the frame carries a bid and an ask, SpreadBps is
// set to (ask - bid) / mid in basis points.
func (n *Normalizer) Apply(frame types.MarketFrame) types.MarketFrame {
	closeF, _ := frame.Close.Float64()
	volF, _ := frame.Volume.Float64()

	frame.Features = map[string]decimal.Decimal{
		"close_z":  decimal.NewFromFloat(zscore(n.closes[frame.Symbol], closeF)),
		"volume_z": decimal.NewFromFloat(zscore(n.volumes[frame.Symbol], volF)),
	}

	closeBuf := n.push(n.closes, frame.Symbol, closeF)
	n.push(n.volumes, frame.Symbol, volF)

	frame.Volatility = decimal.NewFromFloat(stdev(closeBuf))
	if frame.Bid != nil && frame.Ask != nil {
		if mid := frame.Mid(); mid.Sign() > 0 {
			frame.SpreadBps = frame.Ask.Sub(*frame.Bid).Div(mid).Mul(decimal.NewFromInt(10000))
		}
	}
	return frame
}

func (n *Normalizer) push(store map[string][]float64, symbol string, v float64) []float64 {
	buf := append(store[symbol], v)
	if len(buf) > n.window {
		buf = buf[len(buf)-n.window:]
	}
	store[symbol] = buf
	return buf
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)-1))
}

// zscore clips to [-3, 3]; with fewer than two samples or zero
// variance it returns 0 rather than dividing by zero.
func zscore(xs []float64, v float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	sd := stdev(xs)
	if sd == 0 {
		return 0
	}
	z := (v - mean(xs)) / sd
	if z > clipBound {
		return clipBound
	}
	if z < -clipBound {
		return -clipBound
	}
	return z
}
