package handler

import (
	"log/slog"
	"net/http"

	"pricestream/internal/application/usecase"
	"pricestream/internal/domain/model"
	"pricestream/internal/domain/port"
)

type HealthHandler struct {
	snapshots port.SnapshotStore
	archive   port.Archive
	useCase   *usecase.QuoteUseCase
	logger    *slog.Logger
}

func NewHealthHandler(snapshots port.SnapshotStore, archive port.Archive, useCase *usecase.QuoteUseCase, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		snapshots: snapshots,
		archive:   archive,
		useCase:   useCase,
		logger:    logger,
	}
}

type healthResponse struct {
	Status    string                           `json:"status"`
	Snapshots string                           `json:"snapshots,omitempty"`
	Archive   string                           `json:"archive,omitempty"`
	Feeds     map[string]model.ConnectionState `json:"feeds"`
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "ok",
		Feeds:  make(map[string]model.ConnectionState),
	}
	code := http.StatusOK

	if h.snapshots != nil {
		if err := h.snapshots.Ping(r.Context()); err != nil {
			h.logger.Error("snapshot store unhealthy", "error", err)
			resp.Snapshots = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	if h.archive != nil {
		if err := h.archive.Ping(r.Context()); err != nil {
			h.logger.Error("archive unhealthy", "error", err)
			resp.Archive = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	for _, name := range h.useCase.FeedNames() {
		client, _ := h.useCase.Feed(name)
		resp.Feeds[name] = client.State()
	}

	writeJSONStatus(w, code, resp)
}
