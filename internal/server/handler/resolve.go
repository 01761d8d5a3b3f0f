package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

// Resolver reports a market outcome and settles the market.
type Resolver interface {
	Resolve(ctx context.Context, marketID *big.Int, winner string) (*domain.Resolution, error)
}

// ResolveHandler serves the debug resolution endpoint.
type ResolveHandler struct {
	resolver Resolver
	logger   *slog.Logger
}

// NewResolveHandler creates a ResolveHandler.
func NewResolveHandler(resolver Resolver, logger *slog.Logger) *ResolveHandler {
	return &ResolveHandler{resolver: resolver, logger: logHandler(logger, "resolve")}
}

type resolveRequest struct {
	WinningPositionID string `json:"winning_position_id"`
}

type resolveResponse struct {
	Oracle *txResponse `json:"oracle"`
	Ledger *txResponse `json:"ledger"`
}

// Resolve pushes the winning position to the oracle, then settles.
// POST /api/markets/{id}/resolve {"winning_position_id": "2"}
func (h *ResolveHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := h.resolver.Resolve(r.Context(), id, req.WinningPositionID)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, resolveResponse{Oracle: newTxResponse(res.Oracle), Ledger: newTxResponse(res.Ledger)})
}
