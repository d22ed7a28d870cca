package stream_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pricestream/internal/application/stream"
	"pricestream/internal/domain/model"
	"pricestream/internal/testutils"
)

const (
	waitFor = 2 * time.Second
	tick    = 2 * time.Millisecond
)

func nopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func quote(id int64, price float64) model.PriceQuote {
	return model.PriceQuote{
		AssetID:   id,
		Symbol:    fmt.Sprintf("AST%d", id),
		LivePrice: decimal.NewFromFloat(price),
		Timestamp: time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC),
		Currency:  "EUR",
	}
}

func newClient(t *testing.T, cfg stream.Config) (*stream.Client, *testutils.FakeTransport, *testutils.FakeSnapshotStore) {
	t.Helper()
	tr := testutils.NewFakeTransport()
	store := testutils.NewFakeSnapshotStore()
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 20 * time.Millisecond
	}
	if cfg.MaxReconnectAttempts == 0 {
		cfg.MaxReconnectAttempts = 3
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = 5 * time.Millisecond
	}
	if cfg.Feed == "" {
		cfg.Feed = "test"
	}
	return stream.NewClient(cfg, tr, store, nopLogger()), tr, store
}

func waitSession(t *testing.T, tr *testutils.FakeTransport, n int) *testutils.FakeSession {
	t.Helper()
	require.Eventually(t, func() bool { return tr.Opens() >= n }, waitFor, tick)
	return tr.Session(n - 1)
}

func waitStatus(t *testing.T, c *stream.Client, status model.ConnStatus) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State().Status == status }, waitFor, tick)
}

func TestStartHandshakeAndSubscribe(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{Enabled: true, AssetIDs: []int64{101, 102}})
	c.Start(context.Background())
	defer c.Stop()

	sess := waitSession(t, tr, 1)
	assert.Equal(t, model.StatusConnecting, c.State().Status)

	sess.Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c1"})

	waitStatus(t, c, model.StatusConnected)
	assert.Equal(t, "c1", c.State().ConnectionID)

	require.Eventually(t, func() bool { return len(tr.Subscribes()) == 1 }, waitFor, tick)
	call := tr.Subscribes()[0]
	assert.Equal(t, "c1", call.ConnectionID)
	assert.Equal(t, []int64{101, 102}, call.AssetIDs)
}

func TestEmptySubscriptionSkipsSubscribe(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{Enabled: true})
	c.Start(context.Background())
	defer c.Stop()

	waitSession(t, tr, 1).Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c1"})
	waitStatus(t, c, model.StatusConnected)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, tr.Subscribes())
}

func TestDisabledStartIsNoop(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{Enabled: false})
	c.Start(context.Background())

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, tr.OpenCalls())
	assert.Equal(t, model.StatusDisconnected, c.State().Status)
}

func TestMergeLastWriteWins(t *testing.T) {
	var mu sync.Mutex
	var received [][]model.PriceQuote

	c, tr, _ := newClient(t, stream.Config{
		Enabled:  true,
		AssetIDs: []int64{101},
		OnPrices: func(batch []model.PriceQuote) {
			mu.Lock()
			received = append(received, batch)
			mu.Unlock()
		},
	})
	c.Start(context.Background())
	defer c.Stop()

	sess := waitSession(t, tr, 1)
	sess.Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c1"})
	waitStatus(t, c, model.StatusConnected)

	sess.Emit(model.StreamEvent{Kind: model.EventPrices, Prices: []model.PriceQuote{quote(101, 50.0)}})
	require.Eventually(t, func() bool {
		q, ok := c.Quotes()[101]
		return ok && q.LivePrice.Equal(decimal.NewFromFloat(50.0))
	}, waitFor, tick)

	sess.Emit(model.StreamEvent{Kind: model.EventPrices, Prices: []model.PriceQuote{quote(101, 51.5)}})
	require.Eventually(t, func() bool {
		q := c.Quotes()[101]
		return q.LivePrice.Equal(decimal.NewFromFloat(51.5))
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 2)
	assert.True(t, received[0][0].LivePrice.Equal(decimal.NewFromFloat(50.0)))
	assert.True(t, received[1][0].LivePrice.Equal(decimal.NewFromFloat(51.5)))
}

func TestMergeIdempotent(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{Enabled: true})
	c.Start(context.Background())
	defer c.Stop()

	sess := waitSession(t, tr, 1)
	sess.Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c1"})
	waitStatus(t, c, model.StatusConnected)

	batch := []model.PriceQuote{quote(101, 50.0), quote(102, 12.25)}
	sess.Emit(model.StreamEvent{Kind: model.EventPrices, Prices: batch})
	require.Eventually(t, func() bool { return len(c.Quotes()) == 2 }, waitFor, tick)
	first := c.Quotes()

	sess.Emit(model.StreamEvent{Kind: model.EventPrices, Prices: batch})
	sess.Emit(model.StreamEvent{Kind: model.EventHeartbeat})
	require.Eventually(t, func() bool { return c.State().LastUpdate.After(first[101].Timestamp) }, waitFor, tick)

	assert.Equal(t, first, c.Quotes())
}

func TestIntraBatchOrder(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{Enabled: true})
	c.Start(context.Background())
	defer c.Stop()

	sess := waitSession(t, tr, 1)
	sess.Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c1"})
	waitStatus(t, c, model.StatusConnected)

	// Later entries for the same id win within one batch.
	sess.Emit(model.StreamEvent{Kind: model.EventPrices, Prices: []model.PriceQuote{quote(101, 10.0), quote(101, 11.0)}})
	require.Eventually(t, func() bool {
		q, ok := c.Quotes()[101]
		return ok && q.LivePrice.Equal(decimal.NewFromFloat(11.0))
	}, waitFor, tick)
}

func TestConnectedReplayMergedBeforeSignal(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{Enabled: true})
	c.Start(context.Background())
	defer c.Stop()

	waitSession(t, tr, 1).Emit(model.StreamEvent{
		Kind:         model.EventConnected,
		ConnectionID: "c1",
		CachedPrices: []model.PriceQuote{quote(101, 42.0)},
	})

	waitStatus(t, c, model.StatusConnected)
	q, ok := c.Quotes()[101]
	require.True(t, ok)
	assert.True(t, q.LivePrice.Equal(decimal.NewFromFloat(42.0)))
}

func TestSnapshotPersistedOnMerge(t *testing.T) {
	c, tr, store := newClient(t, stream.Config{Enabled: true})
	c.Start(context.Background())
	defer c.Stop()

	sess := waitSession(t, tr, 1)
	sess.Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c1"})
	sess.Emit(model.StreamEvent{Kind: model.EventPrices, Prices: []model.PriceQuote{quote(101, 50.0)}})

	require.Eventually(t, func() bool { return store.Saves() == 1 }, waitFor, tick)
	assert.Equal(t, c.Quotes(), store.Stored())
}

func TestStopPreservesCache(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{Enabled: true})
	c.Start(context.Background())

	sess := waitSession(t, tr, 1)
	sess.Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c1"})
	sess.Emit(model.StreamEvent{Kind: model.EventPrices, Prices: []model.PriceQuote{quote(101, 50.0)}})
	require.Eventually(t, func() bool { return len(c.Quotes()) == 1 }, waitFor, tick)

	c.Stop()

	assert.Equal(t, model.StatusDisconnected, c.State().Status)
	assert.Empty(t, c.State().ConnectionID)
	assert.Len(t, c.Quotes(), 1, "stop must never empty the price cache")
}

func TestClearCache(t *testing.T) {
	c, tr, store := newClient(t, stream.Config{Enabled: true})
	c.Start(context.Background())
	defer c.Stop()

	sess := waitSession(t, tr, 1)
	sess.Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c1"})
	sess.Emit(model.StreamEvent{Kind: model.EventPrices, Prices: []model.PriceQuote{quote(101, 50.0)}})
	require.Eventually(t, func() bool { return len(c.Quotes()) == 1 }, waitFor, tick)

	c.ClearCache(context.Background())

	assert.Empty(t, c.Quotes())
	assert.True(t, c.LastUpdate().IsZero())
	assert.Equal(t, 1, store.Clears())
	// Connection state is untouched by a cache clear.
	assert.Equal(t, model.StatusConnected, c.State().Status)
	assert.Equal(t, "c1", c.State().ConnectionID)
}

func TestHydrateFromSnapshot(t *testing.T) {
	tr := testutils.NewFakeTransport()
	store := testutils.NewFakeSnapshotStore()
	at := time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
	store.Seed(map[int64]model.PriceQuote{101: quote(101, 99.0)}, at)

	c := stream.NewClient(stream.Config{Feed: "test", Enabled: true}, tr, store, nopLogger())

	q, ok := c.Quotes()[101]
	require.True(t, ok)
	assert.True(t, q.LivePrice.Equal(decimal.NewFromFloat(99.0)))
	assert.Equal(t, at, c.LastUpdate())
}

func TestRetryBoundOnOpenFailure(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{
		Enabled:              true,
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 5,
	})
	tr.SetOpenErr(errors.New("dial failed"))

	c.Start(context.Background())

	waitStatus(t, c, model.StatusErrored)
	assert.Equal(t, "max reconnection attempts reached", c.State().Error)
	assert.Equal(t, 5, tr.OpenCalls())

	// Terminal: no further automatic attempts.
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 5, tr.OpenCalls())
}

func TestRetryBoundOnStreamFaults(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{
		Enabled:              true,
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 3,
	})
	c.Start(context.Background())

	for i := 1; i <= 3; i++ {
		waitSession(t, tr, i).Fault("connection reset")
	}

	waitStatus(t, c, model.StatusErrored)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, 3, tr.OpenCalls())
}

func TestConnectedResetsRetryBudget(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{
		Enabled:              true,
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 2,
	})
	c.Start(context.Background())
	defer c.Stop()

	// Burn one attempt, then connect successfully.
	waitSession(t, tr, 1).Fault("reset")
	sess2 := waitSession(t, tr, 2)
	sess2.Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c2"})
	waitStatus(t, c, model.StatusConnected)

	// The budget is back to zero: a single fault retries instead of erroring.
	sess2.Fault("reset again")
	waitSession(t, tr, 3).Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c3"})
	waitStatus(t, c, model.StatusConnected)
	assert.Equal(t, "c3", c.State().ConnectionID)
}

func TestManualReconnectAfterExhaustion(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{
		Enabled:              true,
		ReconnectDelay:       10 * time.Millisecond,
		MaxReconnectAttempts: 2,
		SettleDelay:          5 * time.Millisecond,
	})
	tr.SetOpenErr(errors.New("dial failed"))
	c.Start(context.Background())
	waitStatus(t, c, model.StatusErrored)

	tr.SetOpenErr(nil)
	c.Reconnect()
	defer c.Stop()

	sess := waitSession(t, tr, 1)
	sess.Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "fresh"})
	waitStatus(t, c, model.StatusConnected)
	assert.Equal(t, "fresh", c.State().ConnectionID)
}

func TestStopCancelsPendingRetry(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{
		Enabled:        true,
		ReconnectDelay: 30 * time.Millisecond,
	})
	c.Start(context.Background())

	waitSession(t, tr, 1).Fault("reset")
	require.Eventually(t, func() bool { return c.State().Status == model.StatusDisconnected }, waitFor, tick)

	c.Stop()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, tr.OpenCalls(), "stop must cancel the pending reconnect timer")
}

func TestSubscriptionResubmittedOnReconnect(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{
		Enabled:        true,
		AssetIDs:       []int64{101, 102},
		ReconnectDelay: 10 * time.Millisecond,
	})
	// The first submission fails; it must not be retried inline.
	tr.SetSubscribeErr(errors.New("subscribe rejected"))

	c.Start(context.Background())
	defer c.Stop()

	sess1 := waitSession(t, tr, 1)
	sess1.Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c1"})
	waitStatus(t, c, model.StatusConnected)
	require.Eventually(t, func() bool { return len(tr.Subscribes()) == 1 }, waitFor, tick)

	tr.SetSubscribeErr(nil)
	sess1.Fault("reset")

	sess2 := waitSession(t, tr, 2)
	sess2.Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c2"})

	// Self-heal: the new handshake resubmits the full current set.
	require.Eventually(t, func() bool { return len(tr.Subscribes()) == 2 }, waitFor, tick)
	call := tr.Subscribes()[1]
	assert.Equal(t, "c2", call.ConnectionID)
	assert.Equal(t, []int64{101, 102}, call.AssetIDs)
}

func TestUpdateSubscriptionWhileConnected(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{Enabled: true, AssetIDs: []int64{101}})
	c.Start(context.Background())
	defer c.Stop()

	waitSession(t, tr, 1).Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c1"})
	waitStatus(t, c, model.StatusConnected)
	require.Eventually(t, func() bool { return len(tr.Subscribes()) == 1 }, waitFor, tick)

	c.UpdateSubscription(context.Background(), []int64{201})

	calls := tr.Subscribes()
	require.Len(t, calls, 2)
	assert.Equal(t, "c1", calls[1].ConnectionID)
	assert.Equal(t, []int64{201}, calls[1].AssetIDs)

	// The transport was not reopened and the connection is untouched.
	assert.Equal(t, 1, tr.OpenCalls())
	assert.Equal(t, model.StatusConnected, c.State().Status)
	assert.Equal(t, "c1", c.State().ConnectionID)
}

func TestUpdateSubscriptionWhileDisconnected(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{Enabled: true})

	c.UpdateSubscription(context.Background(), []int64{301})
	assert.Empty(t, tr.Subscribes(), "no request is issued while disconnected")

	c.Start(context.Background())
	defer c.Stop()
	waitSession(t, tr, 1).Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c1"})

	// The stored set takes effect on the next handshake.
	require.Eventually(t, func() bool { return len(tr.Subscribes()) == 1 }, waitFor, tick)
	assert.Equal(t, []int64{301}, tr.Subscribes()[0].AssetIDs)
}

func TestStaleSessionEventsIgnored(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{Enabled: true})
	ctx := context.Background()

	c.Start(ctx)
	sess1 := waitSession(t, tr, 1)
	sess1.Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c1"})
	waitStatus(t, c, model.StatusConnected)

	// Supersede the session, then replay events from the old one.
	c.Start(ctx)
	defer c.Stop()
	sess2 := waitSession(t, tr, 2)

	sess1.Emit(model.StreamEvent{Kind: model.EventPrices, Prices: []model.PriceQuote{quote(101, 50.0)}})
	sess1.Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "ghost"})

	sess2.Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c2"})
	waitStatus(t, c, model.StatusConnected)

	assert.Equal(t, "c2", c.State().ConnectionID)
	assert.Empty(t, c.Quotes(), "stale events must not mutate the cache")
}

func TestAdvisoryConnectedFlagIsInformational(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{Enabled: true})
	c.Start(context.Background())
	defer c.Stop()

	sess := waitSession(t, tr, 1)
	sess.Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c1"})
	waitStatus(t, c, model.StatusConnected)

	flag := false
	sess.Emit(model.StreamEvent{Kind: model.EventPrices, Prices: []model.PriceQuote{quote(101, 50.0)}, Connected: &flag})
	require.Eventually(t, func() bool { return len(c.Quotes()) == 1 }, waitFor, tick)

	assert.Equal(t, model.StatusConnected, c.State().Status)
	assert.Equal(t, "c1", c.State().ConnectionID)
}

func TestStructuredErrorEventTriggersRetry(t *testing.T) {
	c, tr, _ := newClient(t, stream.Config{
		Enabled:        true,
		ReconnectDelay: 10 * time.Millisecond,
	})
	c.Start(context.Background())
	defer c.Stop()

	sess := waitSession(t, tr, 1)
	sess.Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c1"})
	waitStatus(t, c, model.StatusConnected)

	sess.Emit(model.StreamEvent{Kind: model.EventError, Message: "stream rejected"})

	waitSession(t, tr, 2).Emit(model.StreamEvent{Kind: model.EventConnected, ConnectionID: "c2"})
	waitStatus(t, c, model.StatusConnected)
	assert.Equal(t, "c2", c.State().ConnectionID)
}
