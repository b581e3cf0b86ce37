package strategy

import (
	"context"

	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// base carries the bookkeeping every built-in strategy shares:
// enable state and a rolling close-price buffer per symbol.
type base struct {
	logger  *zap.Logger
	enabled bool
	bars    map[string][]decimal.Decimal
	maxBars int
}

func newBase(logger *zap.Logger, maxBars int) base {
	return base{logger: logger, enabled: true, bars: make(map[string][]decimal.Decimal), maxBars: maxBars}
}

func (b *base) Enabled() bool     { return b.enabled }
func (b *base) SetEnabled(v bool) { b.enabled = v }

func (b *base) push(symbol string, close decimal.Decimal) []decimal.Decimal {
	buf := append(b.bars[symbol], close)
	if len(buf) > b.maxBars {
		buf = buf[len(buf)-b.maxBars:]
	}
	b.bars[symbol] = buf
	return buf
}

func (b *base) OnTradeFilled(types.TradeRecord) {}

func hold(strategyID, symbol string) types.Signal {
	return types.Signal{StrategyID: strategyID, Symbol: symbol, Action: types.ActionHold}
}

// MomentumStrategy buys when the close has risen more than threshold
// over period bars, sells when it has fallen by the same margin.
// Adapted from the teacher's rate-of-change momentum check.
type MomentumStrategy struct {
	base
	period    int
	threshold decimal.Decimal
}

func NewMomentumStrategy(logger *zap.Logger) *MomentumStrategy {
	return &MomentumStrategy{
		base:      newBase(logger.Named("momentum"), 200),
		period:    14,
		threshold: decimal.NewFromFloat(0.02),
	}
}

func (s *MomentumStrategy) Name() string { return "momentum" }

func (s *MomentumStrategy) GenerateSignal(ctx context.Context, frame types.MarketFrame) (types.Signal, error) {
	buf := s.push(frame.Symbol, frame.Close)
	if len(buf) <= s.period {
		return hold(s.Name(), frame.Symbol), nil
	}
	past := buf[len(buf)-1-s.period]
	if past.Sign() == 0 {
		return hold(s.Name(), frame.Symbol), nil
	}
	momentum := frame.Close.Sub(past).Div(past)

	switch {
	case momentum.GreaterThan(s.threshold):
		conf := momentum.Div(s.threshold).Abs()
		if conf.GreaterThan(decimal.NewFromInt(1)) {
			conf = decimal.NewFromInt(1)
		}
		sl := frame.Close.Mul(decimal.NewFromFloat(0.95))
		tp := frame.Close.Mul(decimal.NewFromFloat(1.05))
		return types.Signal{
			StrategyID: s.Name(), Symbol: frame.Symbol, Action: types.ActionBuy,
			Confidence: conf, EntryPrice: frame.Close, StopLoss: &sl, TakeProfit: &tp,
		}, nil
	case momentum.LessThan(s.threshold.Neg()):
		conf := momentum.Abs().Div(s.threshold)
		if conf.GreaterThan(decimal.NewFromInt(1)) {
			conf = decimal.NewFromInt(1)
		}
		sl := frame.Close.Mul(decimal.NewFromFloat(1.05))
		tp := frame.Close.Mul(decimal.NewFromFloat(0.95))
		return types.Signal{
			StrategyID: s.Name(), Symbol: frame.Symbol, Action: types.ActionSell,
			Confidence: conf, EntryPrice: frame.Close, StopLoss: &sl, TakeProfit: &tp,
		}, nil
	default:
		return hold(s.Name(), frame.Symbol), nil
	}
}

// MeanReversionStrategy fades a close that has drifted more than
// threshold standard deviations from its rolling mean, using the
// frame's C3-computed close_z feature directly.
type MeanReversionStrategy struct {
	base
	zThreshold decimal.Decimal
}

func NewMeanReversionStrategy(logger *zap.Logger) *MeanReversionStrategy {
	return &MeanReversionStrategy{
		base:       newBase(logger.Named("mean_reversion"), 200),
		zThreshold: decimal.NewFromFloat(2.0),
	}
}

func (s *MeanReversionStrategy) Name() string { return "mean_reversion" }

func (s *MeanReversionStrategy) GenerateSignal(ctx context.Context, frame types.MarketFrame) (types.Signal, error) {
	z, ok := frame.Features["close_z"]
	if !ok {
		return hold(s.Name(), frame.Symbol), nil
	}
	switch {
	case z.GreaterThan(s.zThreshold):
		conf := z.Div(decimal.NewFromFloat(3.0))
		sl := frame.Close.Mul(decimal.NewFromFloat(1.03))
		tp := frame.Close.Mul(decimal.NewFromFloat(0.98))
		return types.Signal{
			StrategyID: s.Name(), Symbol: frame.Symbol, Action: types.ActionSell,
			Confidence: clipUnit(conf), EntryPrice: frame.Close, StopLoss: &sl, TakeProfit: &tp,
		}, nil
	case z.LessThan(s.zThreshold.Neg()):
		conf := z.Abs().Div(decimal.NewFromFloat(3.0))
		sl := frame.Close.Mul(decimal.NewFromFloat(0.97))
		tp := frame.Close.Mul(decimal.NewFromFloat(1.02))
		return types.Signal{
			StrategyID: s.Name(), Symbol: frame.Symbol, Action: types.ActionBuy,
			Confidence: clipUnit(conf), EntryPrice: frame.Close, StopLoss: &sl, TakeProfit: &tp,
		}, nil
	default:
		return hold(s.Name(), frame.Symbol), nil
	}
}

// BreakoutStrategy buys a close that exceeds the rolling window high,
// sells one that falls below the rolling window low.
type BreakoutStrategy struct {
	base
	lookback int
}

func NewBreakoutStrategy(logger *zap.Logger) *BreakoutStrategy {
	return &BreakoutStrategy{base: newBase(logger.Named("breakout"), 200), lookback: 20}
}

func (s *BreakoutStrategy) Name() string { return "breakout" }

func (s *BreakoutStrategy) GenerateSignal(ctx context.Context, frame types.MarketFrame) (types.Signal, error) {
	buf := s.push(frame.Symbol, frame.Close)
	if len(buf) <= s.lookback {
		return hold(s.Name(), frame.Symbol), nil
	}
	window := buf[len(buf)-1-s.lookback : len(buf)-1]
	hi, lo := window[0], window[0]
	for _, v := range window {
		if v.GreaterThan(hi) {
			hi = v
		}
		if v.LessThan(lo) {
			lo = v
		}
	}
	switch {
	case frame.Close.GreaterThan(hi):
		sl := hi
		return types.Signal{
			StrategyID: s.Name(), Symbol: frame.Symbol, Action: types.ActionBuy,
			Confidence: decimal.NewFromFloat(0.6), EntryPrice: frame.Close, StopLoss: &sl,
		}, nil
	case frame.Close.LessThan(lo):
		sl := lo
		return types.Signal{
			StrategyID: s.Name(), Symbol: frame.Symbol, Action: types.ActionSell,
			Confidence: decimal.NewFromFloat(0.6), EntryPrice: frame.Close, StopLoss: &sl,
		}, nil
	default:
		return hold(s.Name(), frame.Symbol), nil
	}
}

func clipUnit(d decimal.Decimal) decimal.Decimal {
	if d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	if d.Sign() < 0 {
		return decimal.Zero
	}
	return d
}

// Builtins returns Factory constructors for every strategy shipped
// in-tree, matching the registry's registration idiom.
func Builtins() map[string]Factory {
	return map[string]Factory{
		"momentum":       func(l *zap.Logger) Strategy { return NewMomentumStrategy(l) },
		"mean_reversion": func(l *zap.Logger) Strategy { return NewMeanReversionStrategy(l) },
		"breakout":       func(l *zap.Logger) Strategy { return NewBreakoutStrategy(l) },
	}
}
