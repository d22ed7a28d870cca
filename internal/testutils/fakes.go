// Package testutils provides in-memory fakes for the domain ports, used by
// tests across packages.
package testutils

import (
	"context"
	"sync"
	"time"

	"pricestream/internal/domain/model"
	"pricestream/internal/domain/port"
)

// FakeSession is one scripted transport session. Tests emit events into it
// to drive the client state machine.
type FakeSession struct {
	Ch chan model.StreamEvent

	mu     sync.Mutex
	closed bool
}

func (s *FakeSession) Emit(ev model.StreamEvent) {
	s.Ch <- ev
}

// Fault emits a terminal fault and ends the stream, the way a real
// transport reports a broken connection.
func (s *FakeSession) Fault(msg string) {
	s.Emit(model.StreamEvent{Kind: model.EventFault, Message: msg})
	s.End()
}

func (s *FakeSession) End() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.Ch)
	}
}

type SubscribeCall struct {
	ConnectionID string
	AssetIDs     []int64
}

// FakeTransport is a scripted StreamTransport: each Open returns a fresh
// session whose events the test controls.
type FakeTransport struct {
	mu        sync.Mutex
	openErr   error
	subErr    error
	openCalls int
	sessions  []*FakeSession
	subs      []SubscribeCall
}

var _ port.StreamTransport = (*FakeTransport)(nil)

func NewFakeTransport() *FakeTransport {
	return &FakeTransport{}
}

func (f *FakeTransport) Name() string { return "fake" }

func (f *FakeTransport) Open(ctx context.Context) (<-chan model.StreamEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCalls++
	if f.openErr != nil {
		return nil, f.openErr
	}
	sess := &FakeSession{Ch: make(chan model.StreamEvent, 32)}
	f.sessions = append(f.sessions, sess)
	return sess.Ch, nil
}

func (f *FakeTransport) Subscribe(ctx context.Context, connectionID string, assetIDs []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, SubscribeCall{
		ConnectionID: connectionID,
		AssetIDs:     append([]int64(nil), assetIDs...),
	})
	return f.subErr
}

func (f *FakeTransport) Close() error { return nil }

func (f *FakeTransport) SetOpenErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openErr = err
}

func (f *FakeTransport) SetSubscribeErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subErr = err
}

func (f *FakeTransport) Opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// OpenCalls counts every Open attempt, including ones that failed.
func (f *FakeTransport) OpenCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCalls
}

func (f *FakeTransport) Session(i int) *FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i < 0 || i >= len(f.sessions) {
		return nil
	}
	return f.sessions[i]
}

func (f *FakeTransport) LastSession() *FakeSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) == 0 {
		return nil
	}
	return f.sessions[len(f.sessions)-1]
}

func (f *FakeTransport) Subscribes() []SubscribeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SubscribeCall(nil), f.subs...)
}

// FakeSnapshotStore keeps snapshots in memory and counts operations.
type FakeSnapshotStore struct {
	mu      sync.Mutex
	quotes  map[int64]model.PriceQuote
	at      time.Time
	saves   int
	clears  int
	LoadErr error
	SaveErr error
}

var _ port.SnapshotStore = (*FakeSnapshotStore)(nil)

func NewFakeSnapshotStore() *FakeSnapshotStore {
	return &FakeSnapshotStore{quotes: make(map[int64]model.PriceQuote)}
}

func (s *FakeSnapshotStore) Seed(quotes map[int64]model.PriceQuote, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = copyQuotes(quotes)
	s.at = at
}

func (s *FakeSnapshotStore) Load(ctx context.Context) (map[int64]model.PriceQuote, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return nil, time.Time{}, s.LoadErr
	}
	return copyQuotes(s.quotes), s.at, nil
}

func (s *FakeSnapshotStore) Save(ctx context.Context, quotes map[int64]model.PriceQuote, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.quotes = copyQuotes(quotes)
	s.at = at
	s.saves++
	return nil
}

func (s *FakeSnapshotStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes = make(map[int64]model.PriceQuote)
	s.at = time.Time{}
	s.clears++
	return nil
}

func (s *FakeSnapshotStore) Ping(ctx context.Context) error { return nil }
func (s *FakeSnapshotStore) Close() error                   { return nil }

func (s *FakeSnapshotStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *FakeSnapshotStore) Clears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

func (s *FakeSnapshotStore) Stored() map[int64]model.PriceQuote {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyQuotes(s.quotes)
}

func copyQuotes(in map[int64]model.PriceQuote) map[int64]model.PriceQuote {
	out := make(map[int64]model.PriceQuote, len(in))
	for id, q := range in {
		out[id] = q
	}
	return out
}

// FakeArchive records inserted batches and serves canned query results.
type FakeArchive struct {
	mu        sync.Mutex
	batches   []model.FeedBatch
	deletes   []time.Time
	InsertErr error
	Latest    map[int64]*model.PriceQuote
	Stats     map[string]*model.PriceStat
	DeleteN   int64
}

var _ port.Archive = (*FakeArchive)(nil)

func NewFakeArchive() *FakeArchive {
	return &FakeArchive{
		Latest: make(map[int64]*model.PriceQuote),
		Stats:  make(map[string]*model.PriceStat),
	}
}

func (a *FakeArchive) InsertQuotes(ctx context.Context, feed string, quotes []model.PriceQuote) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.InsertErr != nil {
		return a.InsertErr
	}
	a.batches = append(a.batches, model.FeedBatch{Feed: feed, Quotes: append([]model.PriceQuote(nil), quotes...)})
	return nil
}

func (a *FakeArchive) LatestQuote(ctx context.Context, assetID int64) (*model.PriceQuote, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Latest[assetID], nil
}

func (a *FakeArchive) HighestPrice(ctx context.Context, symbol string, period time.Duration) (*model.PriceStat, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.Stats[symbol], nil
}

func (a *FakeArchive) LowestPrice(ctx context.Context, symbol string, period time.Duration) (*model.PriceStat, error) {
	return a.HighestPrice(ctx, symbol, period)
}

func (a *FakeArchive) AveragePrice(ctx context.Context, symbol string, period time.Duration) (*model.PriceStat, error) {
	return a.HighestPrice(ctx, symbol, period)
}

func (a *FakeArchive) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.deletes = append(a.deletes, cutoff)
	return a.DeleteN, nil
}

func (a *FakeArchive) Ping(ctx context.Context) error { return nil }
func (a *FakeArchive) Close() error                   { return nil }

func (a *FakeArchive) Batches() []model.FeedBatch {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]model.FeedBatch(nil), a.batches...)
}

func (a *FakeArchive) Deletes() []time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]time.Time(nil), a.deletes...)
}
