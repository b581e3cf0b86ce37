// Package validator implements the Data Validator (C2): it rejects
// frames that fail basic sanity or outlier checks before they reach
// the rest of the pipeline, logging each rejection with its reason.
package validator

import (
	"sort"
	"time"

	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RejectReason names why a frame did not survive validation.
type RejectReason string

const (
	ReasonNonPositiveClose RejectReason = "non_positive_close"
	ReasonStale            RejectReason = "stale"
	ReasonOutlier          RejectReason = "mad_outlier"
)

// Rejection records one frame's rejection for logging/metrics.
type Rejection struct {
	Symbol string
	Reason RejectReason
	Detail string
}

// Validator holds the rolling per-symbol close-price history used for
// the median-absolute-deviation outlier check.
type Validator struct {
	logger       *zap.Logger
	maxStaleness time.Duration
	madWindow    int
	madK         decimal.Decimal

	history map[string][]decimal.Decimal
}

// New builds a Validator. maxStaleness, madWindow and madK come from
// the Data Validator's configured defaults (2 minutes, 60 samples, k=5).
func New(logger *zap.Logger, maxStaleness time.Duration, madWindow int, madK decimal.Decimal) *Validator {
	return &Validator{
		logger:       logger.Named("validator"),
		maxStaleness: maxStaleness,
		madWindow:    madWindow,
		madK:         madK,
		history:      make(map[string][]decimal.Decimal),
	}
}

// Validate filters frames in place, returning the surviving frames and
// every rejection observed. A tick with zero surviving symbols is not
// an error — callers skip the tick rather than abort the pipeline.
func (v *Validator) Validate(now time.Time, frames map[string]types.MarketFrame) (map[string]types.MarketFrame, []Rejection) {
	surviving := make(map[string]types.MarketFrame, len(frames))
	var rejections []Rejection

	for symbol, frame := range frames {
		if reason, detail, ok := v.check(now, symbol, frame); !ok {
			rejections = append(rejections, Rejection{Symbol: symbol, Reason: reason, Detail: detail})
			v.logger.Warn("frame rejected",
				zap.String("symbol", symbol),
				zap.String("reason", string(reason)),
				zap.String("detail", detail))
			continue
		}
		surviving[symbol] = frame
		v.record(symbol, frame.Close)
	}
	return surviving, rejections
}

func (v *Validator) check(now time.Time, symbol string, frame types.MarketFrame) (RejectReason, string, bool) {
	if frame.Close.Sign() <= 0 {
		return ReasonNonPositiveClose, "close <= 0", false
	}
	if now.Sub(frame.Timestamp) > v.maxStaleness {
		return ReasonStale, frame.Timestamp.String(), false
	}
	if hist := v.history[symbol]; len(hist) >= 2 {
		med := median(hist)
		mad := medianAbsDeviation(hist, med)
		if mad.Sign() > 0 {
			dev := frame.Close.Sub(med).Abs()
			if dev.GreaterThan(v.madK.Mul(mad)) {
				return ReasonOutlier, "deviation " + dev.String() + " > " + v.madK.Mul(mad).String(), false
			}
		}
	}
	return "", "", true
}

func (v *Validator) record(symbol string, close decimal.Decimal) {
	hist := append(v.history[symbol], close)
	if len(hist) > v.madWindow {
		hist = hist[len(hist)-v.madWindow:]
	}
	v.history[symbol] = hist
}

func median(xs []decimal.Decimal) decimal.Decimal {
	sorted := append([]decimal.Decimal(nil), xs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	n := len(sorted)
	if n == 0 {
		return decimal.Zero
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return sorted[n/2-1].Add(sorted[n/2]).Div(decimal.NewFromInt(2))
}

func medianAbsDeviation(xs []decimal.Decimal, med decimal.Decimal) decimal.Decimal {
	devs := make([]decimal.Decimal, len(xs))
	for i, x := range xs {
		devs[i] = x.Sub(med).Abs()
	}
	return median(devs)
}
