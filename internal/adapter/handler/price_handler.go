package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"pricestream/internal/application/usecase"
	"pricestream/internal/domain/model"
)

type PriceHandler struct {
	useCase *usecase.QuoteUseCase
	logger  *slog.Logger
}

func NewPriceHandler(useCase *usecase.QuoteUseCase, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		useCase: useCase,
		logger:  logger,
	}
}

// GetLatestQuote serves /quotes/latest/{feed}/{asset_id}.
func (h *PriceHandler) GetLatestQuote(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/quotes/latest/")
	parts := strings.Split(path, "/")
	if len(parts) != 2 || parts[0] == "" {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	assetID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		http.Error(w, "invalid asset id", http.StatusBadRequest)
		return
	}

	quote, err := h.useCase.GetLatest(r.Context(), parts[0], assetID)
	if err != nil {
		h.logger.Error("failed to get latest quote", "feed", parts[0], "asset_id", assetID, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if quote == nil {
		http.Error(w, "no data found", http.StatusNotFound)
		return
	}

	writeJSON(w, quote)
}

type snapshotResponse struct {
	Feed       string                     `json:"feed"`
	LastUpdate *time.Time                 `json:"last_update,omitempty"`
	Quotes     map[int64]model.PriceQuote `json:"quotes"`
}

// GetSnapshot serves /quotes/snapshot/{feed}: the full cached map.
func (h *PriceHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	feed := strings.TrimPrefix(r.URL.Path, "/quotes/snapshot/")
	if feed == "" || strings.Contains(feed, "/") {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}

	quotes, lastUpdate, err := h.useCase.GetQuotes(feed)
	if err != nil {
		http.Error(w, "unknown feed", http.StatusNotFound)
		return
	}

	resp := snapshotResponse{Feed: feed, Quotes: quotes}
	if !lastUpdate.IsZero() {
		resp.LastUpdate = &lastUpdate
	}
	writeJSON(w, resp)
}

func (h *PriceHandler) GetHighestPrice(w http.ResponseWriter, r *http.Request) {
	h.stat(w, r, "/quotes/highest/", h.useCase.GetHighestPrice)
}

func (h *PriceHandler) GetLowestPrice(w http.ResponseWriter, r *http.Request) {
	h.stat(w, r, "/quotes/lowest/", h.useCase.GetLowestPrice)
}

func (h *PriceHandler) GetAveragePrice(w http.ResponseWriter, r *http.Request) {
	h.stat(w, r, "/quotes/average/", h.useCase.GetAveragePrice)
}

func (h *PriceHandler) stat(w http.ResponseWriter, r *http.Request, prefix string,
	query func(ctx context.Context, symbol string, period time.Duration) (*model.PriceStat, error)) {
	symbol := strings.TrimPrefix(r.URL.Path, prefix)
	if symbol == "" || strings.Contains(symbol, "/") {
		http.Error(w, "invalid path", http.StatusBadRequest)
		return
	}
	period := parsePeriod(r, 5*time.Minute)

	result, err := query(r.Context(), symbol, period)
	if err != nil {
		h.logger.Error("failed to query price stat", "symbol", symbol, "period", period, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if result == nil {
		http.Error(w, "no data found", http.StatusNotFound)
		return
	}

	writeJSON(w, result)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func parsePeriod(r *http.Request, def time.Duration) time.Duration {
	raw := r.URL.Query().Get("period")
	if raw == "" {
		return def
	}
	period, err := time.ParseDuration(raw)
	if err != nil || period <= 0 {
		return def
	}
	return period
}
