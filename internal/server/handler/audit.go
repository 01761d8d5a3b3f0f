package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

// AuditHandler serves the desk's history: the audit log kept in postgres
// and the finished-run stream kept on the signal bus. Either source may be
// nil, in which case its route answers 503.
type AuditHandler struct {
	audit  domain.AuditStore
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit domain.AuditStore, bus domain.SignalBus, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, bus: bus, logger: logger}
}

type auditEntry struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail"`
	CreatedAt time.Time      `json:"created_at"`
}

// ListAudit handles GET /api/audit?limit=&offset=.
func (h *AuditHandler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log not configured")
		return
	}
	entries, err := h.audit.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, logHandler(h.logger, "audit"), err)
		return
	}
	out := make([]auditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, auditEntry(e))
	}
	writeJSON(w, http.StatusOK, out)
}

type feedEntry struct {
	ID  string          `json:"id"`
	Run json.RawMessage `json:"run"`
}

// RunFeed handles GET /api/runs/feed?after=<stream id>&count=. It returns
// finished runs in completion order so clients can page with the last id.
func (h *AuditHandler) RunFeed(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil {
		writeError(w, http.StatusServiceUnavailable, "run feed not configured")
		return
	}
	after := r.URL.Query().Get("after")
	if after == "" {
		after = "0"
	}
	count := 50
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = min(n, 500)
	}

	msgs, err := h.bus.StreamRead(r.Context(), domain.StreamRuns, after, count)
	if err != nil {
		writeServiceError(w, r, logHandler(h.logger, "audit"), err)
		return
	}
	out := make([]feedEntry, 0, len(msgs))
	for _, m := range msgs {
		if !json.Valid(m.Payload) {
			continue
		}
		out = append(out, feedEntry{ID: m.ID, Run: m.Payload})
	}
	writeJSON(w, http.StatusOK, out)
}
