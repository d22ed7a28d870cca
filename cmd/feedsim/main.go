// feedsim is a development feed origin. It serves the same wire protocol a
// production quote gateway exposes: an event stream on GET /stream and a
// subscription endpoint on POST /subscribe, with synthetic random-walk
// quotes behind them.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"pricestream/internal/adapter/generator"
	"pricestream/internal/concurrency/fanout"
	"pricestream/internal/domain/model"
	"pricestream/internal/infrastructure/logger"
)

var (
	portFlag      = flag.Int("port", 8085, "HTTP port")
	intervalFlag  = flag.Duration("interval", 500*time.Millisecond, "Tick interval between price batches")
	heartbeatFlag = flag.Duration("heartbeat", 15*time.Second, "Heartbeat interval per connection")
	assetsFlag    = flag.String("assets", "101,102,103", "Comma-separated asset ids")
	currencyFlag  = flag.String("currency", "EUR", "Quote currency")
)

type feedServer struct {
	hub       *fanout.Hub
	log       *slog.Logger
	heartbeat time.Duration

	mu      sync.Mutex
	latest  map[int64]model.PriceQuote
	filters map[string]map[int64]bool
}

type connectedBody struct {
	ConnectionID string             `json:"connection_id"`
	CachedPrices []model.PriceQuote `json:"cached_prices,omitempty"`
}

type pricesBody struct {
	Prices    []model.PriceQuote `json:"prices"`
	Connected bool               `json:"connected"`
}

type subscribeBody struct {
	AssetIDs []int64 `json:"asset_ids"`
}

func main() {
	flag.Parse()

	log := logger.New("info", "text")

	assetIDs, err := parseAssets(*assetsFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --assets: %v\n", err)
		os.Exit(1)
	}

	srv := &feedServer{
		hub:       fanout.NewHub(),
		log:       log,
		heartbeat: *heartbeatFlag,
		latest:    make(map[int64]model.PriceQuote),
		filters:   make(map[string]map[int64]bool),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.generate(ctx, assetIDs)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /stream", srv.handleStream)
	mux.HandleFunc("POST /subscribe", srv.handleSubscribe)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *portFlag),
		Handler: mux,
	}

	go func() {
		log.Info("feedsim listening", "addr", httpSrv.Addr, "assets", len(assetIDs), "interval", *intervalFlag)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	cancel()
	srv.hub.Close()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
}

func (s *feedServer) generate(ctx context.Context, assetIDs []int64) {
	walker := generator.NewWalker(assetIDs, *currencyFlag, time.Now().UnixNano())
	ticker := time.NewTicker(*intervalFlag)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch := walker.Next()
			s.mu.Lock()
			for _, q := range batch {
				s.latest[q.AssetID] = q
			}
			s.mu.Unlock()
			s.hub.Publish(batch)
		}
	}
}

func (s *feedServer) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	connID := uuid.NewString()

	s.mu.Lock()
	s.filters[connID] = nil
	replay := make([]model.PriceQuote, 0, len(s.latest))
	for _, q := range s.latest {
		replay = append(replay, q)
	}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.filters, connID)
		s.mu.Unlock()
	}()

	sub, cancelSub := s.hub.Subscribe()
	defer cancelSub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.log.Info("stream client connected", "connection_id", connID, "replayed", len(replay))

	if err := writeEvent(w, flusher, "connected", connectedBody{ConnectionID: connID, CachedPrices: replay}); err != nil {
		return
	}

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, "event: heartbeat\ndata: {}\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case batch, ok := <-sub:
			if !ok {
				return
			}
			batch = s.filterFor(connID, batch)
			if len(batch) == 0 {
				continue
			}
			if err := writeEvent(w, flusher, "prices", pricesBody{Prices: batch, Connected: true}); err != nil {
				return
			}
		}
	}
}

func (s *feedServer) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	connID := r.URL.Query().Get("connection_id")
	if connID == "" {
		http.Error(w, "connection_id is required", http.StatusBadRequest)
		return
	}

	var body subscribeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.filters[connID]; !ok {
		http.Error(w, "unknown connection", http.StatusNotFound)
		return
	}

	filter := make(map[int64]bool, len(body.AssetIDs))
	for _, id := range body.AssetIDs {
		filter[id] = true
	}
	s.filters[connID] = filter

	s.log.Info("subscription updated", "connection_id", connID, "assets", len(body.AssetIDs))
	w.WriteHeader(http.StatusNoContent)
}

// filterFor applies the connection's subscribed set; an empty set means
// everything, so a fresh connection sees data before its first subscribe.
func (s *feedServer) filterFor(connID string, batch []model.PriceQuote) []model.PriceQuote {
	s.mu.Lock()
	filter := s.filters[connID]
	s.mu.Unlock()

	if len(filter) == 0 {
		return batch
	}
	out := make([]model.PriceQuote, 0, len(batch))
	for _, q := range batch {
		if filter[q.AssetID] {
			out = append(out, q)
		}
	}
	return out
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, name string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func parseAssets(raw string) ([]int64, error) {
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad asset id %q: %w", p, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("no asset ids given")
	}
	return ids, nil
}
