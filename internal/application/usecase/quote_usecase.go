package usecase

import (
	"context"
	"fmt"
	"sort"
	"time"

	"pricestream/internal/application/stream"
	"pricestream/internal/domain/model"
	"pricestream/internal/domain/port"
)

// QuoteUseCase answers read queries cache-first: the live client's cache is
// authoritative for latest values, the archive backs history and stats.
type QuoteUseCase struct {
	feeds   map[string]*stream.Client
	archive port.Archive
}

func NewQuoteUseCase(feeds map[string]*stream.Client, archive port.Archive) *QuoteUseCase {
	return &QuoteUseCase{
		feeds:   feeds,
		archive: archive,
	}
}

func (uc *QuoteUseCase) Feed(name string) (*stream.Client, bool) {
	c, ok := uc.feeds[name]
	return c, ok
}

// FeedNames returns the configured feed names, sorted for stable output.
func (uc *QuoteUseCase) FeedNames() []string {
	names := make([]string, 0, len(uc.feeds))
	for name := range uc.feeds {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetLatest returns the cached quote for the asset, falling back to the
// archive when the cache has never seen it.
func (uc *QuoteUseCase) GetLatest(ctx context.Context, feed string, assetID int64) (*model.PriceQuote, error) {
	client, ok := uc.feeds[feed]
	if !ok {
		return nil, fmt.Errorf("unknown feed %q", feed)
	}

	if q, ok := client.Quotes()[assetID]; ok {
		return &q, nil
	}

	if uc.archive == nil {
		return nil, nil
	}
	return uc.archive.LatestQuote(ctx, assetID)
}

// GetQuotes returns the feed's full cached map and its last-update instant.
func (uc *QuoteUseCase) GetQuotes(feed string) (map[int64]model.PriceQuote, time.Time, error) {
	client, ok := uc.feeds[feed]
	if !ok {
		return nil, time.Time{}, fmt.Errorf("unknown feed %q", feed)
	}
	return client.Quotes(), client.LastUpdate(), nil
}

func (uc *QuoteUseCase) GetHighestPrice(ctx context.Context, symbol string, period time.Duration) (*model.PriceStat, error) {
	if uc.archive == nil {
		return nil, nil
	}
	return uc.archive.HighestPrice(ctx, symbol, period)
}

func (uc *QuoteUseCase) GetLowestPrice(ctx context.Context, symbol string, period time.Duration) (*model.PriceStat, error) {
	if uc.archive == nil {
		return nil, nil
	}
	return uc.archive.LowestPrice(ctx, symbol, period)
}

func (uc *QuoteUseCase) GetAveragePrice(ctx context.Context, symbol string, period time.Duration) (*model.PriceStat, error) {
	if uc.archive == nil {
		return nil, nil
	}
	return uc.archive.AveragePrice(ctx, symbol, period)
}
