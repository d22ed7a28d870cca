package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pricestream/internal/domain/port"
)

// RetentionService prunes archived quotes older than the configured
// retention on a fixed interval.
type RetentionService struct {
	archive   port.Archive
	logger    *slog.Logger
	retention time.Duration

	mu     sync.Mutex
	ticker *time.Ticker
	done   chan struct{}
}

func NewRetentionService(archive port.Archive, retention time.Duration, logger *slog.Logger) *RetentionService {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RetentionService{
		archive:   archive,
		logger:    logger,
		retention: retention,
		done:      make(chan struct{}),
	}
}

func (s *RetentionService) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}

	s.mu.Lock()
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.ticker = time.NewTicker(interval)
	ticker := s.ticker
	s.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case <-ticker.C:
				s.pruneOnce(ctx)
			}
		}
	}()
}

func (s *RetentionService) pruneOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-s.retention)
	deleted, err := s.archive.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		s.logger.Error("retention prune failed", "cutoff", cutoff, "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("retention prune complete", "deleted", deleted, "cutoff", cutoff)
	}
}

func (s *RetentionService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticker != nil {
		s.ticker.Stop()
		s.ticker = nil
	}
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}
