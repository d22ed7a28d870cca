package fanin

import (
	"sync"

	"pricestream/internal/domain/model"
)

// FanIn merges the per-feed batch channels into one. The output channel is
// closed once every input channel is closed.
func FanIn(channels ...<-chan model.FeedBatch) <-chan model.FeedBatch {
	out := make(chan model.FeedBatch)
	var wg sync.WaitGroup
	wg.Add(len(channels))

	for _, ch := range channels {
		go func(c <-chan model.FeedBatch) {
			defer wg.Done()
			for v := range c {
				out <- v
			}
		}(ch)
	}

	go func() {
		wg.Wait()
		close(out)
	}()

	return out
}
