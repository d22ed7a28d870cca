// Package generator produces synthetic quote batches: an in-process sim
// transport for test feeds, and the random-walk source feedsim serves.
package generator

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"pricestream/internal/domain/model"
)

// Walker generates a random-walk quote series for a fixed asset set. Not
// safe for concurrent use; callers own a Walker per goroutine.
type Walker struct {
	rng      *rand.Rand
	assets   []walkAsset
	currency string
}

type walkAsset struct {
	id        int64
	symbol    string
	isin      string
	price     float64
	prevClose float64
}

func NewWalker(assetIDs []int64, currency string, seed int64) *Walker {
	rng := rand.New(rand.NewSource(seed))
	assets := make([]walkAsset, 0, len(assetIDs))
	for _, id := range assetIDs {
		base := 20 + rng.Float64()*480
		assets = append(assets, walkAsset{
			id:        id,
			symbol:    fmt.Sprintf("SIM%d", id),
			isin:      fmt.Sprintf("XS%010d", id),
			price:     base,
			prevClose: base,
		})
	}
	return &Walker{rng: rng, assets: assets, currency: currency}
}

// Next advances every asset by one random step and returns the batch.
func (w *Walker) Next() []model.PriceQuote {
	now := time.Now().UTC()
	batch := make([]model.PriceQuote, 0, len(w.assets))

	for i := range w.assets {
		a := &w.assets[i]
		// +-0.5% per step
		a.price *= 1 + (w.rng.Float64()-0.5)/100

		live := decimal.NewFromFloat(a.price).Round(4)
		prev := decimal.NewFromFloat(a.prevClose).Round(4)
		spread := decimal.NewFromFloat(a.price * 0.0005).Round(4)
		bid := live.Sub(spread)
		ask := live.Add(spread)
		last := live
		isin := a.isin

		batch = append(batch, model.PriceQuote{
			AssetID:       a.id,
			Symbol:        a.symbol,
			ISIN:          &isin,
			LivePrice:     live,
			PreviousClose: &prev,
			DayChangePct:  (a.price - a.prevClose) / a.prevClose * 100,
			Bid:           &bid,
			Ask:           &ask,
			Last:          &last,
			Timestamp:     now,
			Currency:      w.currency,
		})
	}
	return batch
}
