package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"pricestream/internal/domain/model"
	"pricestream/internal/domain/port"
)

// WebSocket carries the same named-event envelope over a websocket, for
// feeds that expose ws:// instead of an event stream. Subscription updates
// travel as control messages on the same connection.
type WebSocket struct {
	name string
	url  string
	log  *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex
}

var _ port.StreamTransport = (*WebSocket)(nil)

type wsEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsSubscribe struct {
	Action       string  `json:"action"`
	ConnectionID string  `json:"connection_id"`
	AssetIDs     []int64 `json:"asset_ids"`
}

func NewWebSocket(name, url string, log *slog.Logger) *WebSocket {
	return &WebSocket{name: name, url: url, log: log}
}

func (w *WebSocket) Name() string { return w.name }

func (w *WebSocket) Open(ctx context.Context) (<-chan model.StreamEvent, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial websocket: %w", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	conn.SetReadLimit(maxEventSize)

	w.mu.Lock()
	if w.conn != nil {
		w.conn.Close()
	}
	w.conn = conn
	w.mu.Unlock()

	w.log.Info("websocket opened", "transport", w.name, "url", w.url)

	// The read loop owns the connection; cancelling the context closes it,
	// which unblocks ReadMessage.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	out := make(chan model.StreamEvent)
	go w.readLoop(ctx, conn, out)
	return out, nil
}

func (w *WebSocket) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- model.StreamEvent) {
	defer close(out)
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("websocket read failed", "transport", w.name, "error", err)
			select {
			case out <- model.StreamEvent{Kind: model.EventFault, Message: err.Error()}:
			case <-ctx.Done():
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			w.log.Debug("dropping malformed message", "transport", w.name, "error", err)
			continue
		}

		ev, ok := decodeEvent(env.Event, env.Data)
		if !ok {
			w.log.Debug("dropping malformed event", "transport", w.name, "event", env.Event)
			continue
		}

		select {
		case out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (w *WebSocket) Subscribe(ctx context.Context, connectionID string, assetIDs []int64) error {
	w.mu.Lock()
	conn := w.conn
	w.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("websocket not connected")
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if err := conn.WriteJSON(wsSubscribe{
		Action:       "subscribe",
		ConnectionID: connectionID,
		AssetIDs:     assetIDs,
	}); err != nil {
		return fmt.Errorf("failed to send subscribe message: %w", err)
	}
	return nil
}

func (w *WebSocket) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}
