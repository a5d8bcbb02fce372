package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/sitewatch-core/internal/adapter"
	"github.com/nerrad567/sitewatch-core/internal/audit"
	"github.com/nerrad567/sitewatch-core/internal/controller"
)

// laneRequest is the body of gate and cancel commands.
type laneRequest struct {
	Lane string `json:"lane"`
}

type displayRequest struct {
	Lane  string `json:"lane"`
	Line1 string `json:"line1"`
	Line2 string `json:"line2"`
}

type paymentInfoRequest struct {
	Lane string `json:"lane"`
	adapter.PaymentInfo
}

type paymentRequest struct {
	Lane      string `json:"lane"`
	CarNumber string `json:"car_number"`
	Amount    int64  `json:"amount"`
}

// commandResponse acknowledges a device command.
type commandResponse struct {
	ControllerID int64  `json:"controller_id"`
	Command      string `json:"command"`
	Lane         string `json:"lane,omitempty"`
	Status       string `json:"status"`
	DurationMS   int64  `json:"duration_ms"`
}

// handleGate opens or closes the barrier on a lane.
func (s *Server) handleGate(w http.ResponseWriter, r *http.Request) {
	action := chi.URLParam(r, "action")
	if action != "open" && action != "close" {
		writeNotFound(w, "unknown gate action: "+action)
		return
	}

	var req laneRequest
	if !decodeLaneBody(w, r, &req, &req.Lane) {
		return
	}

	s.runCommand(w, r, "gate_"+action, req.Lane, func(ctx context.Context, a adapter.Adapter) error {
		if action == "open" {
			return a.OpenGate(ctx, req.Lane)
		}
		return a.CloseGate(ctx, req.Lane)
	})
}

// handleDisplay writes two lines of text to a lane display.
func (s *Server) handleDisplay(w http.ResponseWriter, r *http.Request) {
	var req displayRequest
	if !decodeLaneBody(w, r, &req, &req.Lane) {
		return
	}

	s.runCommand(w, r, "display", req.Lane, func(ctx context.Context, a adapter.Adapter) error {
		return a.SendDisplay(ctx, req.Lane, req.Line1, req.Line2)
	})
}

// handlePayment pushes fare info, requests a payment or cancels one.
func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	switch action := chi.URLParam(r, "action"); action {
	case "info":
		var req paymentInfoRequest
		if !decodeLaneBody(w, r, &req, &req.Lane) {
			return
		}
		if req.Amount < 0 {
			writeBadRequest(w, "amount must not be negative")
			return
		}
		s.runCommand(w, r, "payment_info", req.Lane, func(ctx context.Context, a adapter.Adapter) error {
			return a.SendPaymentInfo(ctx, req.Lane, req.PaymentInfo)
		})

	case "request":
		var req paymentRequest
		if !decodeLaneBody(w, r, &req, &req.Lane) {
			return
		}
		if strings.TrimSpace(req.CarNumber) == "" {
			writeBadRequest(w, "car_number is required")
			return
		}
		if req.Amount <= 0 {
			writeBadRequest(w, "amount must be positive")
			return
		}
		s.runCommand(w, r, "payment_request", req.Lane, func(ctx context.Context, a adapter.Adapter) error {
			return a.RequestPayment(ctx, req.Lane, req.CarNumber, req.Amount)
		})

	case "cancel":
		var req laneRequest
		if !decodeLaneBody(w, r, &req, &req.Lane) {
			return
		}
		s.runCommand(w, r, "payment_cancel", req.Lane, func(ctx context.Context, a adapter.Adapter) error {
			return a.CancelPayment(ctx, req.Lane)
		})

	default:
		writeNotFound(w, "unknown payment action: "+action)
	}
}

// handleProbeController runs an on-demand health probe. The stored status
// is left to the scheduler; the outcome is only reported.
func (s *Server) handleProbeController(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.loadController(w, r)
	if !ok {
		return
	}

	a, err := s.adapters.Create(ctrl)
	if err != nil {
		writeAdapterError(w, err)
		return
	}

	start := time.Now()
	probeErr := adapter.CheckHealthWithin(r.Context(), a, s.commandTimeout)
	result := map[string]any{
		"controller_id":  ctrl.ID,
		"healthy":        probeErr == nil,
		"status":         controller.StatusFromHealth(probeErr == nil),
		"stored_status":  ctrl.Status,
		"duration_ms":    time.Since(start).Milliseconds(),
		"protocol":       ctrl.ProtocolCode(),
		"checked_at":     start.UTC(),
		"failure_reason": nil,
	}
	if probeErr != nil {
		result["failure_reason"] = probeErr.Error()
		s.logger.Info("on-demand probe failed", "controller_id", ctrl.ID, "error", probeErr)
	}
	writeJSON(w, http.StatusOK, result)
}

// runCommand resolves the adapter for the {id} controller and executes op
// under the command timeout.
func (s *Server) runCommand(w http.ResponseWriter, r *http.Request, name, lane string, op func(context.Context, adapter.Adapter) error) {
	ctrl, ok := s.loadController(w, r)
	if !ok {
		return
	}

	a, err := s.adapters.Create(ctrl)
	if err != nil {
		s.logger.Warn("adapter resolution failed",
			"controller_id", ctrl.ID,
			"code", ctrl.Code,
			"error", err,
		)
		writeAdapterError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.commandTimeout)
	defer cancel()

	start := time.Now()
	err = op(ctx, a)
	elapsed := time.Since(start)

	entry := audit.Entry{
		Action:     audit.ActionCommand,
		EntityType: audit.EntityController,
		EntityID:   strconv.FormatInt(ctrl.ID, 10),
		Lane:       lane,
		Details:    map[string]any{"command": name, "duration_ms": elapsed.Milliseconds()},
	}
	if err != nil {
		_, entry.Outcome = classifyAdapterError(err)
	}
	s.recordAudit(r, entry)

	if err != nil {
		s.logger.Warn("device command failed",
			"controller_id", ctrl.ID,
			"command", name,
			"lane", lane,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		writeAdapterError(w, err)
		return
	}

	s.logger.Info("device command executed",
		"controller_id", ctrl.ID,
		"command", name,
		"lane", lane,
		"duration_ms", elapsed.Milliseconds(),
	)
	writeJSON(w, http.StatusOK, commandResponse{
		ControllerID: ctrl.ID,
		Command:      name,
		Lane:         lane,
		Status:       "ok",
		DurationMS:   elapsed.Milliseconds(),
	})
}

// decodeLaneBody decodes a command body and requires a non-empty lane.
func decodeLaneBody(w http.ResponseWriter, r *http.Request, dst any, lane *string) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return false
		}
		writeBadRequest(w, "invalid JSON body")
		return false
	}
	if strings.TrimSpace(*lane) == "" {
		writeBadRequest(w, "lane is required")
		return false
	}
	return true
}
