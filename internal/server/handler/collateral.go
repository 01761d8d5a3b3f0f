package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/ledgertx"
)

// CollateralService defines the deposit and withdraw operations.
type CollateralService interface {
	Deposit(ctx context.Context, amount string) (*domain.TxResult, error)
	Withdraw(ctx context.Context, amount string) (*domain.TxResult, error)
	DepositState() ledgertx.State
	WithdrawState() ledgertx.State
}

// CollateralHandler serves collateral endpoints.
type CollateralHandler struct {
	collateral CollateralService
	logger     *slog.Logger
}

// NewCollateralHandler creates a CollateralHandler.
func NewCollateralHandler(collateral CollateralService, logger *slog.Logger) *CollateralHandler {
	return &CollateralHandler{collateral: collateral, logger: logHandler(logger, "collateral")}
}

type amountRequest struct {
	Amount string `json:"amount"`
}

// Deposit moves collateral into the ledger with a signed permit.
// POST /api/collateral/deposit {"amount": "25.5"}
func (h *CollateralHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.collateral.Deposit)
}

// Withdraw moves collateral out of the ledger to the desk wallet.
// POST /api/collateral/withdraw {"amount": "10"}
func (h *CollateralHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.collateral.Withdraw)
}

// State returns both collateral controllers.
// GET /api/collateral
func (h *CollateralHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]txState{
		"deposit":  newTxState(h.collateral.DepositState()),
		"withdraw": newTxState(h.collateral.WithdrawState()),
	})
}

func (h *CollateralHandler) run(w http.ResponseWriter, r *http.Request, op func(context.Context, string) (*domain.TxResult, error)) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := op(r.Context(), req.Amount)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newTxResponse(res))
}
