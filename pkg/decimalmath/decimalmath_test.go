package decimalmath_test

import (
	"testing"

	"github.com/atlasquant/tradecore/pkg/decimalmath"
	"github.com/shopspring/decimal"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestRoundToTickSize(t *testing.T) {
	got := decimalmath.RoundToTickSize(dec(100.037), dec(0.01))
	if !got.Equal(dec(100.03)) {
		t.Fatalf("got %s, want 100.03", got)
	}
	if got := decimalmath.RoundToTickSize(dec(100.037), decimal.Zero); !got.Equal(dec(100.037)) {
		t.Fatalf("zero tick size should pass through unchanged, got %s", got)
	}
}

func TestRoundToStepSize(t *testing.T) {
	got := decimalmath.RoundToStepSize(dec(1.23456), dec(0.001))
	if !got.Equal(dec(1.234)) {
		t.Fatalf("got %s, want 1.234", got)
	}
}

func TestClamp(t *testing.T) {
	lo, hi := dec(0), dec(1)
	if got := decimalmath.Clamp(dec(-0.5), lo, hi); !got.Equal(lo) {
		t.Fatalf("below min: got %s, want %s", got, lo)
	}
	if got := decimalmath.Clamp(dec(1.5), lo, hi); !got.Equal(hi) {
		t.Fatalf("above max: got %s, want %s", got, hi)
	}
	if got := decimalmath.Clamp(dec(0.4), lo, hi); !got.Equal(dec(0.4)) {
		t.Fatalf("in range: got %s, want 0.4", got)
	}
}

func TestMeanAndStdDev(t *testing.T) {
	vals := []decimal.Decimal{dec(1), dec(2), dec(3), dec(4), dec(5)}
	if mean := decimalmath.Mean(vals); !mean.Equal(dec(3)) {
		t.Fatalf("mean got %s, want 3", mean)
	}
	if sd := decimalmath.StdDev(vals); sd.IsZero() {
		t.Fatalf("expected non-zero stddev")
	}
	if sd := decimalmath.StdDev(vals[:1]); !sd.IsZero() {
		t.Fatalf("stddev of one observation must be zero, got %s", sd)
	}
}

func TestWinRate(t *testing.T) {
	pnls := []decimal.Decimal{dec(10), dec(-5), dec(3), dec(-1)}
	got := decimalmath.WinRate(pnls)
	if !got.Equal(dec(0.5)) {
		t.Fatalf("got %s, want 0.5", got)
	}
	if got := decimalmath.WinRate(nil); !got.IsZero() {
		t.Fatalf("empty pnls should give zero win rate, got %s", got)
	}
}

func TestMaxDrawdown(t *testing.T) {
	equity := []decimal.Decimal{dec(100), dec(120), dec(90), dec(110)}
	got := decimalmath.MaxDrawdown(equity)
	want := dec(0.25) // 120 -> 90
	if !got.Equal(want) {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestSharpeRatioRequiresAtLeastTwoReturns(t *testing.T) {
	if got := decimalmath.SharpeRatio([]decimal.Decimal{dec(0.01)}, decimal.Zero, 252); !got.IsZero() {
		t.Fatalf("single return should yield zero Sharpe, got %s", got)
	}
	returns := []decimal.Decimal{dec(0.01), dec(0.02), dec(-0.01), dec(0.015)}
	if got := decimalmath.SharpeRatio(returns, decimal.Zero, 252); got.IsZero() {
		t.Fatalf("expected non-zero Sharpe for varying positive-mean returns")
	}
}
