package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"pricestream/internal/application/usecase"
	"pricestream/internal/domain/model"
)

// StreamHandler exposes the caller-facing control surface of the feed
// clients: state inspection, manual reconnect, cache clearing and
// subscription updates.
type StreamHandler struct {
	useCase *usecase.QuoteUseCase
	logger  *slog.Logger
}

func NewStreamHandler(useCase *usecase.QuoteUseCase, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		useCase: useCase,
		logger:  logger,
	}
}

type feedState struct {
	Feed       string                `json:"feed"`
	State      model.ConnectionState `json:"state"`
	Quotes     int                   `json:"quotes"`
	LastUpdate *time.Time            `json:"last_update,omitempty"`
}

// ListStates serves GET /streams.
func (h *StreamHandler) ListStates(w http.ResponseWriter, r *http.Request) {
	states := make([]feedState, 0)
	for _, name := range h.useCase.FeedNames() {
		client, _ := h.useCase.Feed(name)
		fs := feedState{
			Feed:   name,
			State:  client.State(),
			Quotes: len(client.Quotes()),
		}
		if lu := client.LastUpdate(); !lu.IsZero() {
			fs.LastUpdate = &lu
		}
		states = append(states, fs)
	}
	writeJSON(w, states)
}

// Reconnect serves POST /streams/{feed}/reconnect: resets the retry budget
// and re-establishes the connection.
func (h *StreamHandler) Reconnect(w http.ResponseWriter, r *http.Request) {
	client, ok := h.useCase.Feed(r.PathValue("feed"))
	if !ok {
		http.Error(w, "unknown feed", http.StatusNotFound)
		return
	}

	h.logger.Info("manual reconnect requested", "feed", client.Feed())
	client.Reconnect()

	writeJSONStatus(w, http.StatusAccepted, client.State())
}

// ClearCache serves DELETE /streams/{feed}/cache.
func (h *StreamHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	client, ok := h.useCase.Feed(r.PathValue("feed"))
	if !ok {
		http.Error(w, "unknown feed", http.StatusNotFound)
		return
	}

	client.ClearCache(r.Context())
	h.logger.Info("price cache cleared", "feed", client.Feed())
	w.WriteHeader(http.StatusNoContent)
}

type subscriptionRequest struct {
	AssetIDs []int64 `json:"asset_ids"`
}

// UpdateSubscription serves PUT /streams/{feed}/subscription.
func (h *StreamHandler) UpdateSubscription(w http.ResponseWriter, r *http.Request) {
	client, ok := h.useCase.Feed(r.PathValue("feed"))
	if !ok {
		http.Error(w, "unknown feed", http.StatusNotFound)
		return
	}

	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	client.UpdateSubscription(r.Context(), req.AssetIDs)
	h.logger.Info("subscription updated", "feed", client.Feed(), "assets", len(req.AssetIDs))
	w.WriteHeader(http.StatusNoContent)
}
