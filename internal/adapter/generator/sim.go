package generator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"pricestream/internal/domain/model"
	"pricestream/internal/domain/port"
)

// Sim is an in-process StreamTransport for feeds configured with
// transport: sim. It performs the same handshake as a real feed (connected
// event with a connection id and replay) and then ticks out random-walk
// batches, honouring the subscribed asset-id filter.
type Sim struct {
	name     string
	assetIDs []int64
	interval time.Duration
	log      *slog.Logger

	seq    atomic.Int64
	mu     sync.Mutex
	filter map[int64]bool
	latest map[int64]model.PriceQuote
	cancel context.CancelFunc
}

var _ port.StreamTransport = (*Sim)(nil)

func NewSim(name string, assetIDs []int64, interval time.Duration, log *slog.Logger) *Sim {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Sim{
		name:     name,
		assetIDs: assetIDs,
		interval: interval,
		log:      log,
		latest:   make(map[int64]model.PriceQuote),
	}
}

func (s *Sim) Name() string { return s.name }

func (s *Sim) Open(ctx context.Context) (<-chan model.StreamEvent, error) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	replay := make([]model.PriceQuote, 0, len(s.latest))
	for _, q := range s.latest {
		replay = append(replay, q)
	}
	s.mu.Unlock()

	connID := fmt.Sprintf("sim-%d", s.seq.Add(1))
	out := make(chan model.StreamEvent)

	go func() {
		defer close(out)

		walker := NewWalker(s.assetIDs, "EUR", time.Now().UnixNano())
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		select {
		case out <- model.StreamEvent{Kind: model.EventConnected, ConnectionID: connID, CachedPrices: replay}:
		case <-ctx.Done():
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				batch := s.filterBatch(walker.Next())
				if len(batch) == 0 {
					continue
				}

				s.mu.Lock()
				for _, q := range batch {
					s.latest[q.AssetID] = q
				}
				s.mu.Unlock()

				select {
				case out <- model.StreamEvent{Kind: model.EventPrices, Prices: batch}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (s *Sim) filterBatch(batch []model.PriceQuote) []model.PriceQuote {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.filter) == 0 {
		return batch
	}
	out := batch[:0]
	for _, q := range batch {
		if s.filter[q.AssetID] {
			out = append(out, q)
		}
	}
	return out
}

func (s *Sim) Subscribe(ctx context.Context, connectionID string, assetIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = make(map[int64]bool, len(assetIDs))
	for _, id := range assetIDs {
		s.filter[id] = true
	}
	s.log.Debug("sim subscription updated", "transport", s.name, "connection_id", connectionID, "assets", len(assetIDs))
	return nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	return nil
}
