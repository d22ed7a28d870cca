package port

import (
	"context"

	"pricestream/internal/domain/model"
)

// StreamTransport is one feed's push channel. Open starts a new session and
// returns a channel of decoded events; the channel is closed when the session
// ends, after a terminal EventFault has been delivered (unless the context was
// cancelled). Subscribe submits the full asset-id set for an active session,
// keyed by the server-assigned connection id.
type StreamTransport interface {
	Open(ctx context.Context) (<-chan model.StreamEvent, error)
	Subscribe(ctx context.Context, connectionID string, assetIDs []int64) error
	Name() string
	Close() error
}
