package server

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/predictionperps/internal/chain/chaintest"
	"github.com/alanyoungcy/predictionperps/internal/crypto"
	"github.com/alanyoungcy/predictionperps/internal/domain"
	"github.com/alanyoungcy/predictionperps/internal/server/handler"
	"github.com/alanyoungcy/predictionperps/internal/service"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

type desk struct {
	chain   *chaintest.Chain
	handler http.Handler
}

func newDesk(t *testing.T, apiKey string) *desk {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	key, err := crypto.ParseKey(testKeyHex)
	require.NoError(t, err)
	signer := crypto.NewPermitSigner(key)

	proto, err := chaintest.NewConfig()
	require.NoError(t, err)
	fake := chaintest.New(proto, signer.Address())

	creation := service.NewMarketCreationService(fake, proto, nil, nil, nil, nil, nil, nil, nil, logger)
	t.Cleanup(creation.Wait)
	query := service.NewMarketQueryService(fake, proto, nil, 0, logger)

	h := Routes(Config{APIKey: apiKey}, Handlers{
		Health:     handler.NewHealthHandler(nil, logger),
		Status:     handler.NewStatusHandler(func() domain.DeskStatus { return domain.DeskStatus{Mode: "server", ActiveRuns: creation.ActiveRuns()} }),
		Markets:    handler.NewMarketHandler(query, logger),
		Runs:       handler.NewRunHandler(creation, logger),
		Collateral: handler.NewCollateralHandler(service.NewCollateralService(fake, proto, signer, nil, logger), logger),
		Trades:     handler.NewTradeHandler(service.NewTradeService(fake, proto, nil, logger), logger),
		Resolve:    handler.NewResolveHandler(service.NewResolveService(fake, proto, nil, logger), logger),
	}, nil, logger)
	return &desk{chain: fake, handler: h}
}

func (d *desk) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-API-Key", "k")
	rec := httptest.NewRecorder()
	d.handler.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

var draft = map[string]any{
	"name":   " Premier League Winner ",
	"ticker": "epl6",
	"positions": []map[string]any{
		{"name": "Arsenal", "ticker": "ars"},
		{"name": "Chelsea", "ticker": "che"},
	},
}

func TestCreateMarketThenTradeAndResolve(t *testing.T) {
	d := newDesk(t, "k")

	rec, body := d.do(t, http.MethodPost, "/api/markets", draft)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	runID := body["run_id"].(string)
	assert.Equal(t, "ch:steps:"+runID, body["channel"])

	require.Eventually(t, func() bool {
		_, run := d.do(t, http.MethodGet, "/api/runs/"+runID, nil)
		return run["status"] == string(domain.RunStatusSucceeded)
	}, 2*time.Second, 5*time.Millisecond)

	rec, view := d.do(t, http.MethodGet, "/api/markets/1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{"1", "2"}, view["position_ids"])
	assert.Equal(t, common.BigToAddress(big.NewInt(0x1000)).Hex(), view["pricing_mm"])

	rec, tx := d.do(t, http.MethodPost, "/api/markets/1/positions/2/trade", map[string]string{"side": "lay", "size": "12.5"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, tx["tx_hash"])

	rec, states := d.do(t, http.MethodGet, "/api/markets/1/positions/2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", states["lay"].(map[string]any)["status"])
	assert.Equal(t, "idle", states["back"].(map[string]any)["status"])

	rec, res := d.do(t, http.MethodPost, "/api/markets/1/resolve", map[string]string{"winning_position_id": "1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotNil(t, res["oracle"])
	assert.NotNil(t, res["ledger"])
}

func TestValidateReportsProblems(t *testing.T) {
	d := newDesk(t, "")

	rec, body := d.do(t, http.MethodPost, "/api/markets/validate", map[string]any{"name": " ", "ticker": "!!", "positions": []any{}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["valid"])
	assert.NotEmpty(t, body["problems"])

	rec, body = d.do(t, http.MethodPost, "/api/markets/validate", draft)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["valid"])
	assert.Equal(t, "EPL6", body["draft"].(map[string]any)["ticker"])

	rec, body = d.do(t, http.MethodPost, "/api/markets", map[string]any{"name": "x", "ticker": "", "positions": []any{}})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_draft", body["kind"])
	assert.Empty(t, d.chain.Calls())
}

func TestErrorsMapToStatusCodes(t *testing.T) {
	d := newDesk(t, "")

	rec, body := d.do(t, http.MethodPost, "/api/markets/9/positions/1/trade", map[string]string{"side": "back", "size": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, service.MsgNoPricingMM, body["error"])

	rec, _ = d.do(t, http.MethodPost, "/api/markets/9/positions/1/trade", map[string]string{"side": "sideways", "size": "1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	d.chain.SetOutcome("withdraw", chaintest.Outcome{Revert: true, RevertReason: "insufficient balance"})
	rec, body = d.do(t, http.MethodPost, "/api/collateral/withdraw", map[string]string{"amount": "5"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "Execution reverted: insufficient balance", body["error"])

	rec, _ = d.do(t, http.MethodGet, "/api/runs/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = d.do(t, http.MethodGet, "/api/markets/abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAuthGuardsAPI(t *testing.T) {
	d := newDesk(t, "other")

	rec, _ := d.do(t, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, body := d.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
}
