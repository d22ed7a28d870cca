package port

import (
	"context"
	"time"

	"pricestream/internal/domain/model"
)

// Archive is the durable quote history behind the read API.
type Archive interface {
	InsertQuotes(ctx context.Context, feed string, quotes []model.PriceQuote) error
	LatestQuote(ctx context.Context, assetID int64) (*model.PriceQuote, error)
	HighestPrice(ctx context.Context, symbol string, period time.Duration) (*model.PriceStat, error)
	LowestPrice(ctx context.Context, symbol string, period time.Duration) (*model.PriceStat, error)
	AveragePrice(ctx context.Context, symbol string, period time.Duration) (*model.PriceStat, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}
