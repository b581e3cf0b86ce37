package validator_test

import (
	"testing"
	"time"

	"github.com/atlasquant/tradecore/internal/validator"
	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func frame(symbol string, close float64, ts time.Time) types.MarketFrame {
	return types.MarketFrame{Symbol: symbol, Close: decimal.NewFromFloat(close), Timestamp: ts}
}

func TestValidateRejectsNonPositiveClose(t *testing.T) {
	v := validator.New(zap.NewNop(), 2*time.Minute, 60, decimal.NewFromInt(5))
	now := time.Now()
	surviving, rejections := v.Validate(now, map[string]types.MarketFrame{
		"BTC": frame("BTC", 0, now),
	})
	if len(surviving) != 0 {
		t.Fatalf("expected frame to be rejected, got %d surviving", len(surviving))
	}
	if len(rejections) != 1 || rejections[0].Reason != validator.ReasonNonPositiveClose {
		t.Fatalf("unexpected rejections: %+v", rejections)
	}
}

func TestValidateRejectsStaleFrame(t *testing.T) {
	v := validator.New(zap.NewNop(), time.Minute, 60, decimal.NewFromInt(5))
	now := time.Now()
	_, rejections := v.Validate(now, map[string]types.MarketFrame{
		"BTC": frame("BTC", 100, now.Add(-5*time.Minute)),
	})
	if len(rejections) != 1 || rejections[0].Reason != validator.ReasonStale {
		t.Fatalf("expected stale rejection, got %+v", rejections)
	}
}

func TestValidateRejectsMADOutlier(t *testing.T) {
	v := validator.New(zap.NewNop(), time.Hour, 60, decimal.NewFromInt(5))
	now := time.Now()

	// Feed a stable history around 100 so MAD is small and nonzero.
	for i := 0; i < 10; i++ {
		closes := []float64{99, 100, 101, 100, 99}
		_, rej := v.Validate(now, map[string]types.MarketFrame{
			"BTC": frame("BTC", closes[i%len(closes)], now),
		})
		if len(rej) != 0 {
			t.Fatalf("unexpected rejection while building history: %+v", rej)
		}
	}

	surviving, rejections := v.Validate(now, map[string]types.MarketFrame{
		"BTC": frame("BTC", 10000, now),
	})
	if len(surviving) != 0 {
		t.Fatalf("expected the spike to be rejected as an outlier")
	}
	if len(rejections) != 1 || rejections[0].Reason != validator.ReasonOutlier {
		t.Fatalf("expected mad_outlier rejection, got %+v", rejections)
	}
}

func TestValidateAcceptsNormalFrame(t *testing.T) {
	v := validator.New(zap.NewNop(), time.Hour, 60, decimal.NewFromInt(5))
	now := time.Now()
	surviving, rejections := v.Validate(now, map[string]types.MarketFrame{
		"BTC": frame("BTC", 100, now),
	})
	if len(rejections) != 0 {
		t.Fatalf("expected no rejections, got %+v", rejections)
	}
	if _, ok := surviving["BTC"]; !ok {
		t.Fatalf("expected BTC frame to survive")
	}
}
