package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/sitewatch-core/internal/adapter"
	"github.com/nerrad567/sitewatch-core/internal/controller"
	"github.com/nerrad567/sitewatch-core/internal/site"
)

// statusClientClosedRequest is reported when the caller went away before
// the device answered.
const statusClientClosedRequest = 499

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest          = "bad_request"
	ErrCodeNotFound            = "not_found"
	ErrCodeConflict            = "conflict"
	ErrCodeInternal            = "internal_error"
	ErrCodeValidation          = "validation_error"
	ErrCodeUnavailable         = "unavailable"
	ErrCodeUnsupportedProtocol = "unsupported_protocol"
	ErrCodeUnknownLane         = "unknown_lane"
	ErrCodeNotImplemented      = "capability_unsupported"
	ErrCodeDeviceUnreachable   = "device_unreachable"
	ErrCodeDeviceTimeout       = "device_timeout"
	ErrCodeDeviceProtocol      = "device_protocol_error"
	ErrCodeRequestCancelled    = "request_cancelled"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// isValidationError reports whether err came from input validation.
func isValidationError(err error) bool {
	return errors.Is(err, controller.ErrInvalidController) ||
		errors.Is(err, controller.ErrInvalidName) ||
		errors.Is(err, controller.ErrInvalidCode) ||
		errors.Is(err, controller.ErrInvalidHost) ||
		errors.Is(err, controller.ErrInvalidPort) ||
		errors.Is(err, controller.ErrInvalidStatus) ||
		errors.Is(err, controller.ErrInvalidConfig) ||
		errors.Is(err, controller.ErrInvalidSort) ||
		errors.Is(err, site.ErrInvalidSite)
}

// classifyAdapterError maps factory and device failures to an HTTP status
// and error code.
func classifyAdapterError(err error) (int, string) {
	switch {
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, ErrCodeRequestCancelled
	case errors.Is(err, adapter.ErrUnsupportedProtocol):
		return http.StatusUnprocessableEntity, ErrCodeUnsupportedProtocol
	case errors.Is(err, adapter.ErrConfiguration):
		return http.StatusUnprocessableEntity, ErrCodeValidation
	case errors.Is(err, adapter.ErrUnknownLane):
		return http.StatusBadRequest, ErrCodeUnknownLane
	case errors.Is(err, adapter.ErrCapabilityUnsupported):
		return http.StatusNotImplemented, ErrCodeNotImplemented
	case errors.Is(err, adapter.ErrTimeout):
		return http.StatusGatewayTimeout, ErrCodeDeviceTimeout
	case errors.Is(err, adapter.ErrDeviceUnreachable):
		return http.StatusBadGateway, ErrCodeDeviceUnreachable
	case errors.Is(err, adapter.ErrProtocol):
		return http.StatusBadGateway, ErrCodeDeviceProtocol
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeAdapterError writes the response for a factory or device failure.
func writeAdapterError(w http.ResponseWriter, err error) {
	status, code := classifyAdapterError(err)
	if code == ErrCodeInternal {
		writeInternalError(w, "device operation failed")
		return
	}
	writeError(w, status, code, err.Error())
}
