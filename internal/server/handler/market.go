package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

// MarketQuery defines the read methods the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketQuery interface {
	Markets(ctx context.Context) ([]string, error)
	View(ctx context.Context, marketID *big.Int) (domain.MarketView, error)
}

// MarketHandler serves market read endpoints.
type MarketHandler struct {
	markets MarketQuery
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given service and logger.
func NewMarketHandler(markets MarketQuery, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logHandler(logger, "market"),
	}
}

// ListMarkets returns the ids of every market on the ledger.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	ids, err := h.markets.Markets(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"markets": ids, "total": len(ids)})
}

// GetMarket returns the positions, pricing market maker and prices of one
// market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := h.markets.View(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
