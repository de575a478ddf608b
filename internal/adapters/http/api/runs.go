package api

import (
	"net/http"

	"github.com/okian/skymap/internal/domain/types"
)

type runResponse struct {
	types.RunReport
	OK         bool    `json:"ok"`
	DurationMs float64 `json:"duration_ms"`
}

// RunsHandler serves run reports.
type RunsHandler struct {
	deps Dependencies
}

// NewRunsHandler creates a new runs handler.
func NewRunsHandler(deps Dependencies) *RunsHandler {
	return &RunsHandler{deps: deps}
}

// HandleLatest handles GET /runs/latest requests.
func (h *RunsHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", nil)
		return
	}
	report, ok := h.deps.LastRun()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", ErrNoRun)
		return
	}
	writeJSON(w, http.StatusOK, runResponse{
		RunReport:  report,
		OK:         report.OK(),
		DurationMs: float64(report.Duration().Microseconds()) / 1000,
	})
}
