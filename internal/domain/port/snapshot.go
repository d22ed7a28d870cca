package port

import (
	"context"
	"time"

	"pricestream/internal/domain/model"
)

// SnapshotStore persists the price cache so a restart can render last-known
// values before a new connection is established. Save and Clear always act on
// the quote map and the last-update instant together.
type SnapshotStore interface {
	Load(ctx context.Context) (map[int64]model.PriceQuote, time.Time, error)
	Save(ctx context.Context, quotes map[int64]model.PriceQuote, at time.Time) error
	Clear(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
