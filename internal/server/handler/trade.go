package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/ledgertx"
)

// TradeService defines the per-position trading operations.
type TradeService interface {
	Trade(ctx context.Context, marketID, positionID *big.Int, side domain.TradeSide, size string) (*domain.TxResult, error)
	Liquidate(ctx context.Context, marketID, positionID *big.Int, side domain.TradeSide, exposure string) (*domain.TxResult, error)
	States(marketID, positionID *big.Int) map[string]ledgertx.State
}

// TradeHandler serves Back/Lay trading endpoints.
type TradeHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(trades TradeService, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{trades: trades, logger: logHandler(logger, "trade")}
}

type tradeRequest struct {
	Side     string `json:"side"`
	Size     string `json:"size,omitempty"`
	Exposure string `json:"exposure,omitempty"`
}

func parseSide(s string) (domain.TradeSide, bool) {
	switch domain.TradeSide(strings.ToLower(strings.TrimSpace(s))) {
	case domain.SideBack:
		return domain.SideBack, true
	case domain.SideLay:
		return domain.SideLay, true
	}
	return "", false
}

// positionIDs parses the market and position path parameters.
func positionIDs(w http.ResponseWriter, r *http.Request) (*big.Int, *big.Int, bool) {
	mid, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	pid, err := pathID(r, "pid")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, nil, false
	}
	return mid, pid, true
}

func (h *TradeHandler) decode(w http.ResponseWriter, r *http.Request) (tradeRequest, domain.TradeSide, bool) {
	var req tradeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return req, "", false
	}
	side, ok := parseSide(req.Side)
	if !ok {
		writeError(w, http.StatusBadRequest, `side must be "back" or "lay"`)
		return req, "", false
	}
	return req, side, true
}

// Trade buys Back or Lay exposure with size collateral.
// POST /api/markets/{id}/positions/{pid}/trade {"side": "back", "size": "10"}
func (h *TradeHandler) Trade(w http.ResponseWriter, r *http.Request) {
	mid, pid, ok := positionIDs(w, r)
	if !ok {
		return
	}
	req, side, ok := h.decode(w, r)
	if !ok {
		return
	}
	res, err := h.trades.Trade(r.Context(), mid, pid, side, req.Size)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newTxResponse(res))
}

// Liquidate closes exposure on side by buying the opposite tokens.
// POST /api/markets/{id}/positions/{pid}/liquidate {"side": "lay", "exposure": "4"}
func (h *TradeHandler) Liquidate(w http.ResponseWriter, r *http.Request) {
	mid, pid, ok := positionIDs(w, r)
	if !ok {
		return
	}
	req, side, ok := h.decode(w, r)
	if !ok {
		return
	}
	res, err := h.trades.Liquidate(r.Context(), mid, pid, side, req.Exposure)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newTxResponse(res))
}

// State returns the Back, Lay and liquidation controllers of one position.
// GET /api/markets/{id}/positions/{pid}
func (h *TradeHandler) State(w http.ResponseWriter, r *http.Request) {
	mid, pid, ok := positionIDs(w, r)
	if !ok {
		return
	}
	out := make(map[string]txState)
	for op, st := range h.trades.States(mid, pid) {
		out[op] = newTxState(st)
	}
	writeJSON(w, http.StatusOK, out)
}
