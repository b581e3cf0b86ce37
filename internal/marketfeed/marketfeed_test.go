package marketfeed_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/atlasquant/tradecore/internal/marketfeed"
	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type fakeSource struct {
	name    string
	frames  map[string]types.MarketFrame
	failures int // number of FetchTicker calls that fail before succeeding
	calls   int
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) FetchTicker(ctx context.Context, symbol string) (types.MarketFrame, error) {
	s.calls++
	if s.calls <= s.failures {
		return types.MarketFrame{}, errors.New("transient fetch error")
	}
	f, ok := s.frames[symbol]
	if !ok {
		return types.MarketFrame{}, errors.New("unknown symbol")
	}
	return f, nil
}

func (s *fakeSource) Close() error { return nil }

func frame(symbol string, price float64) types.MarketFrame {
	return types.MarketFrame{Symbol: symbol, Close: decimal.NewFromFloat(price), Timestamp: time.Now()}
}

func TestFetchReturnsFramesFromSource(t *testing.T) {
	src := &fakeSource{name: "venue-a", frames: map[string]types.MarketFrame{
		"BTC": frame("BTC", 100),
		"ETH": frame("ETH", 10),
	}}
	feed := marketfeed.New(zap.NewNop(), []marketfeed.Source{src}, time.Second)
	defer feed.Stop()

	out := feed.Fetch(context.Background(), []string{"BTC", "ETH"})
	if len(out) != 2 {
		t.Fatalf("expected 2 frames, got %d", len(out))
	}
	if !out["BTC"].Close.Equal(decimal.NewFromFloat(100)) {
		t.Fatalf("expected BTC close 100, got %s", out["BTC"].Close)
	}
}

func TestFetchSurvivesTransientFailuresViaRetry(t *testing.T) {
	src := &fakeSource{name: "venue-a", failures: 2, frames: map[string]types.MarketFrame{
		"BTC": frame("BTC", 100),
	}}
	feed := marketfeed.New(zap.NewNop(), []marketfeed.Source{src}, time.Second)
	defer feed.Stop()

	out := feed.Fetch(context.Background(), []string{"BTC"})
	if _, ok := out["BTC"]; !ok {
		t.Fatalf("expected BTC to survive after retrying past 2 transient failures")
	}
}

func TestFetchDropsSymbolAfterExhaustingRetries(t *testing.T) {
	src := &fakeSource{name: "venue-a", failures: 10, frames: map[string]types.MarketFrame{}}
	feed := marketfeed.New(zap.NewNop(), []marketfeed.Source{src}, time.Second)
	defer feed.Stop()

	out := feed.Fetch(context.Background(), []string{"BTC"})
	if _, ok := out["BTC"]; ok {
		t.Fatalf("expected BTC to be absent once all retries are exhausted")
	}
}

func TestFetchFirstSourceToAnswerWins(t *testing.T) {
	fast := &fakeSource{name: "fast", frames: map[string]types.MarketFrame{"BTC": frame("BTC", 100)}}
	slow := &fakeSource{name: "slow", frames: map[string]types.MarketFrame{"BTC": frame("BTC", 200)}}
	feed := marketfeed.New(zap.NewNop(), []marketfeed.Source{fast, slow}, time.Second)
	defer feed.Stop()

	out := feed.Fetch(context.Background(), []string{"BTC"})
	if len(out) != 1 {
		t.Fatalf("expected exactly one frame for BTC, got %d", len(out))
	}
}
