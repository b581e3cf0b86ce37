package marketfeed

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/atlasquant/tradecore/pkg/types"
	"github.com/shopspring/decimal"
)

// genericTickMessage is the venue-agnostic wire schema DecodeGenericTick
// understands: a flat ticker push carrying last price plus top-of-book.
// A venue whose wire format differs supplies its own decode func to
// NewWSSource instead of this one.
type genericTickMessage struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Volume    float64 `json:"volume"`
	Timestamp int64   `json:"ts"`
}

// DecodeGenericTick parses a genericTickMessage into a MarketFrame. It
// is the default decode function for WSSource when the venue speaks
// this flat schema rather than a proprietary one.
func DecodeGenericTick(msg []byte) (types.MarketFrame, error) {
	var m genericTickMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		return types.MarketFrame{}, fmt.Errorf("marketfeed: decode generic tick: %w", err)
	}
	if m.Symbol == "" {
		return types.MarketFrame{}, fmt.Errorf("marketfeed: generic tick missing symbol")
	}
	ts := time.Now()
	if m.Timestamp > 0 {
		ts = time.UnixMilli(m.Timestamp)
	}
	bid := decimal.NewFromFloat(m.Bid)
	ask := decimal.NewFromFloat(m.Ask)
	price := decimal.NewFromFloat(m.Price)
	return types.MarketFrame{
		Symbol:    m.Symbol,
		Timestamp: ts,
		Open:      price,
		High:      price,
		Low:       price,
		Close:     price,
		Volume:    decimal.NewFromFloat(m.Volume),
		Bid:       &bid,
		Ask:       &ask,
	}, nil
}
