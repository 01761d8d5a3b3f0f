package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/ledgertx"
	"github.com/alanyoungcy/predictionperps/internal/marketcreate"
	"github.com/alanyoungcy/predictionperps/internal/server/middleware"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errorResponse is the body of a failed desk operation.
type errorResponse struct {
	Error    string   `json:"error"`
	Kind     string   `json:"kind,omitempty"`
	Problems []string `json:"problems,omitempty"`
}

// writeServiceError maps a service error onto an HTTP status. Typed chain
// errors carry their user-facing message; anything else is logged and
// reported as a 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		draft    *marketcreate.DraftError
		precond  *domain.PreconditionError
		submit   *domain.SubmissionError
		reverted *domain.ExecutionRevertedError
		expect   *domain.ProtocolExpectationError
	)
	switch {
	case errors.As(err, &draft):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: domain.ErrInvalidDraft.Error(), Kind: "invalid_draft", Problems: draft.Problems})
	case errors.Is(err, domain.ErrRunInProgress):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Kind: "run_in_progress"})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found", Kind: "not_found"})
	case errors.As(err, &precond):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: precond.Describe(), Kind: "precondition"})
	case errors.As(err, &reverted):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: reverted.Describe(), Kind: "reverted"})
	case errors.As(err, &submit):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: submit.Describe(), Kind: "submission"})
	case errors.As(err, &expect):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: expect.Describe(), Kind: "protocol_expectation"})
	default:
		logger.ErrorContext(r.Context(), "handler: request failed",
			slog.String("request_id", middleware.RequestID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty request body")
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathID parses a non-negative decimal id path parameter.
func pathID(r *http.Request, name string) (*big.Int, error) {
	raw := r.PathValue(name)
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok || id.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s %q", name, raw)
	}
	return id, nil
}

// txResponse summarizes a confirmed transaction.
type txResponse struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	GasUsed     uint64 `json:"gas_used"`
}

func newTxResponse(res *domain.TxResult) *txResponse {
	if res == nil {
		return nil
	}
	out := &txResponse{TxHash: res.TxHash.Hex()}
	if res.Receipt != nil {
		out.GasUsed = res.Receipt.GasUsed
		if res.Receipt.BlockNumber != nil {
			out.BlockNumber = res.Receipt.BlockNumber.Uint64()
		}
	}
	return out
}

// txState is the wire form of a controller snapshot.
type txState struct {
	Status string `json:"status"`
	Label  string `json:"label,omitempty"`
	TxHash string `json:"tx_hash,omitempty"`
	Error  string `json:"error,omitempty"`
}

func newTxState(st ledgertx.State) txState {
	out := txState{Status: string(st.Status), Label: st.Label, Error: st.ErrorMessage}
	if st.TxHash != nil {
		out.TxHash = st.TxHash.Hex()
	}
	return out
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
