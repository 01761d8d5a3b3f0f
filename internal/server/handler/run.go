package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/marketcreate"
)

// RunService defines the market-creation methods the run handler needs.
type RunService interface {
	Validate(d domain.MarketDraft) (domain.MarketDraft, error)
	Start(ctx context.Context, d domain.MarketDraft) (string, error)
	Get(ctx context.Context, id string) (domain.MarketCreationRun, error)
	List(ctx context.Context, opts domain.ListOpts) ([]domain.MarketCreationRun, error)
}

// RunHandler serves market-creation endpoints.
type RunHandler struct {
	runs   RunService
	logger *slog.Logger
}

// NewRunHandler creates a RunHandler.
func NewRunHandler(runs RunService, logger *slog.Logger) *RunHandler {
	return &RunHandler{runs: runs, logger: logHandler(logger, "run")}
}

type validateResponse struct {
	Valid    bool               `json:"valid"`
	Draft    domain.MarketDraft `json:"draft"`
	Problems []string           `json:"problems,omitempty"`
}

// ValidateDraft normalizes a draft and reports every problem without
// touching the chain.
// POST /api/markets/validate
func (h *RunHandler) ValidateDraft(w http.ResponseWriter, r *http.Request) {
	var d domain.MarketDraft
	if err := decodeJSON(w, r, &d); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	norm, err := h.runs.Validate(d)
	var draftErr *marketcreate.DraftError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, validateResponse{Valid: true, Draft: norm})
	case errors.As(err, &draftErr):
		writeJSON(w, http.StatusOK, validateResponse{Draft: norm, Problems: draftErr.Problems})
	default:
		writeServiceError(w, r, h.logger, err)
	}
}

// CreateMarket starts a market-creation run and returns its id. Progress
// streams on the WebSocket under ch:steps:<run_id>.
// POST /api/markets
func (h *RunHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var d domain.MarketDraft
	if err := decodeJSON(w, r, &d); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := h.runs.Start(r.Context(), d)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.logger.InfoContext(r.Context(), "handler: market creation started", slog.String("run_id", id))
	w.Header().Set("Location", "/api/runs/"+id)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id":  id,
		"channel": domain.StepsChannel(id),
	})
}

// GetRun returns one run, live or journaled.
// GET /api/runs/{id}
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing run id")
		return
	}
	run, err := h.runs.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// ListRuns returns journaled runs, newest first.
// GET /api/runs?limit=50&offset=0
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	runs, err := h.runs.List(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if runs == nil {
		runs = []domain.MarketCreationRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"runs":   runs,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}
