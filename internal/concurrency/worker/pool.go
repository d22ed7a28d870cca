package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pricestream/internal/domain/model"
	"pricestream/internal/domain/port"
)

const insertTimeout = 5 * time.Second

// Pool writes merged quote batches to the archive. Archive failures are
// logged and dropped; the streaming path must never block on history.
type Pool struct {
	workers int
	archive port.Archive
	logger  *slog.Logger
}

func NewPool(workers int, archive port.Archive, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		workers: workers,
		archive: archive,
		logger:  logger,
	}
}

// Start launches the pool reading from in and returns a channel of processed
// batches, closed once all workers finish.
func (p *Pool) Start(ctx context.Context, in <-chan model.FeedBatch) <-chan model.FeedBatch {
	out := make(chan model.FeedBatch)
	var wg sync.WaitGroup

	workCh := make(chan model.FeedBatch)
	go func() {
		defer close(workCh)
		for v := range in {
			select {
			case <-ctx.Done():
				return
			case workCh <- v:
			}
		}
	}()

	wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func(id int) {
			defer wg.Done()
			p.workerLoop(ctx, id, workCh, out)
		}(i)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}

func (p *Pool) workerLoop(ctx context.Context, id int, in <-chan model.FeedBatch, out chan<- model.FeedBatch) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-in:
			if !ok {
				return
			}
			p.processOne(ctx, id, batch)

			select {
			case <-ctx.Done():
				return
			case out <- batch:
			}
		}
	}
}

func (p *Pool) processOne(ctx context.Context, id int, batch model.FeedBatch) {
	ctx, cancel := context.WithTimeout(ctx, insertTimeout)
	defer cancel()

	if err := p.archive.InsertQuotes(ctx, batch.Feed, batch.Quotes); err != nil {
		p.logger.Error("worker: failed to archive batch", "worker", id, "feed", batch.Feed, "quotes", len(batch.Quotes), "error", err)
		return
	}
	p.logger.Debug("worker: batch archived", "worker", id, "feed", batch.Feed, "quotes", len(batch.Quotes))
}
