package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"pricestream/internal/domain/model"
	"pricestream/internal/domain/port"
)

const maxEventSize = 512 * 1024

// SSE streams named server-sent events from {baseURL}/stream and submits
// subscription sets via POST {baseURL}/subscribe.
type SSE struct {
	name    string
	baseURL string
	client  *http.Client
	log     *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

var _ port.StreamTransport = (*SSE)(nil)

func NewSSE(name, baseURL string, log *slog.Logger) *SSE {
	return &SSE{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		// No client timeout: the stream request is long-lived by design.
		client: &http.Client{},
		log:    log,
	}
}

func (s *SSE) Name() string { return s.name }

func (s *SSE) Open(ctx context.Context) (<-chan model.StreamEvent, error) {
	ctx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.cancel = cancel
	s.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/stream", nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("unexpected stream status %d", resp.StatusCode)
	}

	s.log.Info("stream opened", "transport", s.name, "url", s.baseURL+"/stream")

	out := make(chan model.StreamEvent)
	go s.readLoop(ctx, resp.Body, out)
	return out, nil
}

// readLoop parses the event-stream framing: "event:" and "data:" lines
// accumulate until a blank line dispatches the frame.
func (s *SSE) readLoop(ctx context.Context, body io.ReadCloser, out chan<- model.StreamEvent) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var eventName string
	var data bytes.Buffer

	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if eventName != "" {
				if ev, ok := decodeEvent(eventName, data.Bytes()); ok {
					select {
					case out <- ev:
					case <-ctx.Done():
						return
					}
				} else {
					s.log.Debug("dropping malformed event", "transport", s.name, "event", eventName)
				}
			}
			eventName = ""
			data.Reset()
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// comment line, keep-alive filler
		}
	}

	if ctx.Err() != nil {
		return
	}

	msg := "stream ended"
	if err := scanner.Err(); err != nil {
		msg = err.Error()
	}
	s.log.Warn("stream read failed", "transport", s.name, "error", msg)
	select {
	case out <- model.StreamEvent{Kind: model.EventFault, Message: msg}:
	case <-ctx.Done():
	}
}

func (s *SSE) Subscribe(ctx context.Context, connectionID string, assetIDs []int64) error {
	u := fmt.Sprintf("%s/subscribe?connection_id=%s", s.baseURL, url.QueryEscape(connectionID))

	payload, err := json.Marshal(subscribeRequest{AssetIDs: assetIDs})
	if err != nil {
		return fmt.Errorf("failed to encode subscribe body: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build subscribe request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("subscribe request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("subscribe rejected with status %d", resp.StatusCode)
	}
	return nil
}

func (s *SSE) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.client.CloseIdleConnections()
	return nil
}
