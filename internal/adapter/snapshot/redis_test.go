package snapshot

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricestream/internal/domain/model"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStoreWithClient(client, "pricestream:test")
}

func sampleQuotes() map[int64]model.PriceQuote {
	isin := "US0378331005"
	bid := decimal.NewFromFloat(50.20)
	return map[int64]model.PriceQuote{
		101: {
			AssetID:      101,
			Symbol:       "AAPL",
			ISIN:         &isin,
			LivePrice:    decimal.NewFromFloat(50.25),
			Bid:          &bid,
			DayChangePct: 1.2,
			Timestamp:    time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC),
			Currency:     "USD",
		},
		102: {
			AssetID:   102,
			Symbol:    "MSFT",
			LivePrice: decimal.NewFromFloat(310.0),
			Timestamp: time.Date(2025, 6, 2, 14, 30, 5, 0, time.UTC),
			Currency:  "USD",
		},
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	at := time.Date(2025, 6, 2, 14, 30, 10, 123456000, time.UTC)
	require.NoError(t, store.Save(ctx, sampleQuotes(), at))

	quotes, loadedAt, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, quotes, 2)

	q := quotes[101]
	assert.Equal(t, int64(101), q.AssetID)
	assert.Equal(t, "AAPL", q.Symbol)
	require.NotNil(t, q.ISIN)
	assert.Equal(t, "US0378331005", *q.ISIN)
	assert.True(t, q.LivePrice.Equal(decimal.NewFromFloat(50.25)))
	require.NotNil(t, q.Bid)
	assert.True(t, q.Bid.Equal(decimal.NewFromFloat(50.20)))
	assert.Nil(t, quotes[102].ISIN)

	assert.True(t, loadedAt.Equal(at))
}

func TestSaveOverwrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleQuotes(), time.Now()))

	smaller := map[int64]model.PriceQuote{
		101: {AssetID: 101, Symbol: "AAPL", LivePrice: decimal.NewFromFloat(51.0), Currency: "USD"},
	}
	require.NoError(t, store.Save(ctx, smaller, time.Now()))

	quotes, _, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.True(t, quotes[101].LivePrice.Equal(decimal.NewFromFloat(51.0)))
}

func TestLoadEmpty(t *testing.T) {
	store := newTestStore(t)

	quotes, at, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, quotes)
	assert.True(t, at.IsZero())
}

func TestClearRemovesBothKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleQuotes(), time.Now()))
	require.NoError(t, store.Clear(ctx))

	quotes, at, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, quotes)
	assert.True(t, at.IsZero())
}

func TestNamespacesAreIsolated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	primary := NewRedisStoreWithClient(client, "pricestream:primary")
	secondary := NewRedisStoreWithClient(client, "pricestream:secondary")
	ctx := context.Background()

	require.NoError(t, primary.Save(ctx, sampleQuotes(), time.Now()))

	quotes, _, err := secondary.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, quotes)

	require.NoError(t, secondary.Clear(ctx))
	quotes, _, err = primary.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, quotes, 2)
}
