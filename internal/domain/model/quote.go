package model

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// The feed wire format carries prices as bare JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// PriceQuote is one instrument's latest market data as delivered by a feed.
// Updates for the same asset id replace the previous quote, never append.
type PriceQuote struct {
	AssetID       int64            `json:"asset_id"`
	Symbol        string           `json:"symbol"`
	ISIN          *string          `json:"isin"`
	LivePrice     decimal.Decimal  `json:"live_price"`
	PreviousClose *decimal.Decimal `json:"previous_close"`
	DayChangePct  float64          `json:"day_change_pct"`
	Bid           *decimal.Decimal `json:"bid"`
	Ask           *decimal.Decimal `json:"ask"`
	Last          *decimal.Decimal `json:"last"`
	Timestamp     time.Time        `json:"timestamp"`
	Currency      string           `json:"currency"`
}

// FeedBatch is a batch of quotes tagged with the feed it arrived on,
// as handed to the archive pipeline.
type FeedBatch struct {
	Feed   string       `json:"feed"`
	Quotes []PriceQuote `json:"quotes"`
}

// PriceStat is an aggregate over archived quotes for one symbol.
type PriceStat struct {
	Symbol string          `json:"symbol"`
	Value  decimal.Decimal `json:"value"`
	From   time.Time       `json:"from"`
	To     time.Time       `json:"to"`
}
