package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/nerrad567/sitewatch-core/internal/healthcheck"
)

// handleRunCycle runs a health cycle immediately and returns its summary.
// The cycle outlives the request once started.
func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "health-check scheduler is not enabled")
		return
	}

	result, err := s.scheduler.RunCycle(context.WithoutCancel(r.Context()))
	if err != nil {
		if errors.Is(err, healthcheck.ErrCycleInProgress) {
			writeError(w, http.StatusConflict, ErrCodeConflict, "a health-check cycle is already running")
			return
		}
		s.logger.Error("manual health cycle failed", "error", err)
		writeInternalError(w, "health-check cycle failed")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
