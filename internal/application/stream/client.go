// Package stream implements the live price streaming client: one long-lived
// push connection per feed, a caller-declared subscription set, a
// merge-on-arrival price cache with persisted snapshots, and a bounded
// constant-delay reconnection policy.
package stream

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pricestream/internal/domain/model"
	"pricestream/internal/domain/port"
)

const (
	DefaultReconnectDelay       = 3 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultSettleDelay          = 250 * time.Millisecond

	maxAttemptsMessage = "max reconnection attempts reached"
	snapshotTimeout    = 2 * time.Second
)

type Config struct {
	Feed                 string
	Enabled              bool
	AssetIDs             []int64
	OnPrices             func(batch []model.PriceQuote)
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	SettleDelay          time.Duration
}

// Client owns one push connection's full lifecycle. All state transitions run
// one at a time under the client's mutex, so the cache and connection state
// can never be mutated concurrently. Every transport session carries an
// epoch; events, faults and subscribe outcomes from a superseded epoch are
// discarded without touching state.
type Client struct {
	cfg       Config
	transport port.StreamTransport
	store     port.SnapshotStore
	log       *slog.Logger

	mu         sync.Mutex
	state      model.ConnectionState
	cache      map[int64]model.PriceQuote
	lastUpdate time.Time
	assetIDs   []int64
	attempts   int
	epoch      uint64
	retryTimer *time.Timer
	cancel     context.CancelFunc
	baseCtx    context.Context
}

// NewClient builds a client and hydrates its cache from the snapshot store.
// A load failure is logged and the client starts with an empty cache.
func NewClient(cfg Config, transport port.StreamTransport, store port.SnapshotStore, log *slog.Logger) *Client {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}

	c := &Client{
		cfg:       cfg,
		transport: transport,
		store:     store,
		log:       log,
		state:     model.ConnectionState{Status: model.StatusDisconnected},
		cache:     make(map[int64]model.PriceQuote),
		assetIDs:  append([]int64(nil), cfg.AssetIDs...),
	}

	ctx, cancelLoad := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancelLoad()
	quotes, at, err := store.Load(ctx)
	if err != nil {
		log.Warn("failed to load price snapshot, starting empty", "feed", cfg.Feed, "error", err)
	} else if len(quotes) > 0 {
		c.cache = quotes
		c.lastUpdate = at
		log.Info("price snapshot restored", "feed", cfg.Feed, "quotes", len(quotes), "as_of", at)
	}

	return c
}

// Start tears down any existing connection and opens a new one. When the
// client is disabled this is equivalent to Stop. The context scopes every
// session opened by this client, including automatic reconnects, until the
// next Start.
func (c *Client) Start(ctx context.Context) {
	if !c.cfg.Enabled {
		c.Stop()
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.attempts = 0
	c.baseCtx = ctx
	c.dialLocked()
}

// Stop is idempotent. It closes the active session, cancels any pending
// reconnect timer and transitions to Disconnected. The price cache is
// deliberately preserved so callers keep showing last-known values.
func (c *Client) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teardownLocked()
	c.attempts = 0
	c.state = model.ConnectionState{Status: model.StatusDisconnected, LastUpdate: time.Now()}
}

// Reconnect resets the retry counter and restarts the connection after a
// short settle delay, guaranteeing the prior transport is fully released
// before re-opening. It is the manual escape hatch once automatic attempts
// are exhausted.
func (c *Client) Reconnect() {
	c.mu.Lock()
	ctx := c.baseCtx
	c.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	c.Stop()
	time.Sleep(c.cfg.SettleDelay)
	c.Start(ctx)
}

// ClearCache erases the in-memory quote map and its persisted snapshot.
// Connection state is untouched.
func (c *Client) ClearCache(ctx context.Context) {
	c.mu.Lock()
	c.cache = make(map[int64]model.PriceQuote)
	c.lastUpdate = time.Time{}
	c.mu.Unlock()

	if err := c.store.Clear(ctx); err != nil {
		c.log.Error("failed to clear price snapshot", "feed", c.cfg.Feed, "error", err)
	}
}

// UpdateSubscription replaces the subscription set. While connected the new
// set is submitted immediately without closing the transport; otherwise it
// takes effect on the next successful handshake, which always resubmits the
// full current set. Submission failures are logged, never retried: the next
// reconnect self-heals.
func (c *Client) UpdateSubscription(ctx context.Context, assetIDs []int64) {
	c.mu.Lock()
	c.assetIDs = append([]int64(nil), assetIDs...)
	connID := c.state.ConnectionID
	connected := c.state.Status == model.StatusConnected
	ids := append([]int64(nil), c.assetIDs...)
	c.mu.Unlock()

	if connected {
		c.submitSubscription(ctx, connID, ids)
	}
}

// State returns a copy of the current connection state.
func (c *Client) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Quotes returns a copy of the price cache.
func (c *Client) Quotes() map[int64]model.PriceQuote {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64]model.PriceQuote, len(c.cache))
	for id, q := range c.cache {
		out[id] = q
	}
	return out
}

// LastUpdate returns the instant of the most recent merge, or the zero time
// when the cache has never been written.
func (c *Client) LastUpdate() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastUpdate
}

func (c *Client) Feed() string { return c.cfg.Feed }

// teardownLocked supersedes the current session: any event still in flight
// from it fails the epoch check and is dropped.
func (c *Client) teardownLocked() {
	c.epoch++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.retryTimer != nil {
		c.retryTimer.Stop()
		c.retryTimer = nil
	}
}

func (c *Client) dialLocked() {
	c.epoch++
	epoch := c.epoch
	c.state = model.ConnectionState{Status: model.StatusConnecting, LastUpdate: time.Now()}

	ctx, cancel := context.WithCancel(c.baseCtx)
	c.cancel = cancel

	go c.run(ctx, epoch)
}

func (c *Client) run(ctx context.Context, epoch uint64) {
	events, err := c.transport.Open(ctx)
	if err != nil {
		c.log.Error("failed to open stream", "feed", c.cfg.Feed, "transport", c.transport.Name(), "error", err)
		c.handleEvent(epoch, model.StreamEvent{Kind: model.EventFault, Message: err.Error()})
		return
	}

	for ev := range events {
		c.handleEvent(epoch, ev)
	}

	// Channel closed without a fault event: either we tore the session down
	// ourselves or the server ended the stream cleanly.
	c.handleEvent(epoch, model.StreamEvent{Kind: model.EventFault, Message: "stream closed"})
}

// handleEvent is the single entry point for every transition. Tests feed
// synthetic events through a scripted transport and land here.
func (c *Client) handleEvent(epoch uint64, ev model.StreamEvent) {
	c.mu.Lock()

	if epoch != c.epoch {
		c.mu.Unlock()
		return
	}

	var notify []model.PriceQuote

	switch ev.Kind {
	case model.EventConnected:
		c.attempts = 0
		c.state = model.ConnectionState{
			Status:       model.StatusConnected,
			ConnectionID: ev.ConnectionID,
			LastUpdate:   time.Now(),
		}
		c.log.Info("stream connected", "feed", c.cfg.Feed, "connection_id", ev.ConnectionID, "replayed", len(ev.CachedPrices))
		if len(ev.CachedPrices) > 0 {
			c.mergeLocked(ev.CachedPrices)
		}
		if len(c.assetIDs) > 0 {
			ids := append([]int64(nil), c.assetIDs...)
			go c.submitSubscription(c.baseCtx, ev.ConnectionID, ids)
		}

	case model.EventPrices:
		c.mergeLocked(ev.Prices)
		// The advisory connected flag refreshes the state but never forces
		// a transition; only a transport-level fault does.
		c.state.LastUpdate = time.Now()
		if c.cfg.OnPrices != nil {
			notify = append([]model.PriceQuote(nil), ev.Prices...)
		}

	case model.EventHeartbeat:
		c.state.LastUpdate = time.Now()

	case model.EventError, model.EventFault:
		c.faultLocked(ev.Message)
	}

	cb := c.cfg.OnPrices
	c.mu.Unlock()

	if cb != nil && len(notify) > 0 {
		cb(notify)
	}
}

// mergeLocked applies a batch last-write-wins by asset id, in listed order,
// then persists the whole cache plus the current instant as one snapshot.
func (c *Client) mergeLocked(batch []model.PriceQuote) {
	if len(batch) == 0 {
		return
	}
	for _, q := range batch {
		c.cache[q.AssetID] = q
	}
	c.lastUpdate = time.Now()

	snapshot := make(map[int64]model.PriceQuote, len(c.cache))
	for id, q := range c.cache {
		snapshot[id] = q
	}

	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	if err := c.store.Save(ctx, snapshot, c.lastUpdate); err != nil {
		c.log.Error("failed to persist price snapshot", "feed", c.cfg.Feed, "error", err)
	}
}

// faultLocked records a failure and either schedules a constant-delay retry
// or, once the attempt budget is spent, parks in the terminal errored state
// until a manual Reconnect.
func (c *Client) faultLocked(msg string) {
	if c.state.Status != model.StatusConnecting && c.state.Status != model.StatusConnected {
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}

	c.attempts++
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.state = model.ConnectionState{
			Status:     model.StatusErrored,
			Error:      maxAttemptsMessage,
			LastUpdate: time.Now(),
		}
		c.log.Error("stream failed, retries exhausted", "feed", c.cfg.Feed, "attempts", c.attempts, "error", msg)
		return
	}

	c.state = model.ConnectionState{
		Status:     model.StatusDisconnected,
		Error:      msg,
		LastUpdate: time.Now(),
	}
	c.log.Warn("stream disconnected, retrying", "feed", c.cfg.Feed, "attempt", c.attempts, "max", c.cfg.MaxReconnectAttempts, "delay", c.cfg.ReconnectDelay, "error", msg)

	epoch := c.epoch
	c.retryTimer = time.AfterFunc(c.cfg.ReconnectDelay, func() {
		c.retryFire(epoch)
	})
}

func (c *Client) retryFire(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch || c.state.Status != model.StatusDisconnected {
		return
	}
	c.retryTimer = nil
	c.dialLocked()
}

func (c *Client) submitSubscription(ctx context.Context, connID string, assetIDs []int64) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := c.transport.Subscribe(ctx, connID, assetIDs); err != nil {
		c.log.Warn("subscription update failed, next reconnect will resubmit", "feed", c.cfg.Feed, "connection_id", connID, "assets", len(assetIDs), "error", err)
		return
	}
	c.log.Debug("subscription submitted", "feed", c.cfg.Feed, "connection_id", connID, "assets", len(assetIDs))
}
