package handler

import (
	"net/http"

	"github.com/alanyoungcy/predictionperps/internal/domain"
)

// StatusHandler serves the desk's operational summary.
type StatusHandler struct {
	status func() domain.DeskStatus
}

// NewStatusHandler creates a StatusHandler that reports status().
func NewStatusHandler(status func() domain.DeskStatus) *StatusHandler {
	return &StatusHandler{status: status}
}

// GetStatus responds with the current mode, wallet and active runs.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}
