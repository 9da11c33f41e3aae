package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/filedepot/filedepot/internal/models"
	"github.com/filedepot/filedepot/internal/upload"
)

// sendJSON writes a JSON response with the given status code
func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// sendError writes a JSON error envelope
func sendError(w http.ResponseWriter, message, code string, status int) {
	sendJSON(w, status, models.ErrorResponse{Error: message, Code: code})
}

// sendEngineError maps an engine error onto its HTTP status. The code
// in the envelope is stable; only the message is free text.
func sendEngineError(w http.ResponseWriter, err error) {
	code := upload.CodeOf(err)

	var status int
	switch code {
	case upload.CodeValidation:
		status = http.StatusBadRequest
	case upload.CodeNotFound:
		status = http.StatusNotFound
	case upload.CodeConflict:
		status = http.StatusConflict
	case upload.CodeExpired:
		status = http.StatusGone
	case upload.CodeUpstream:
		status = http.StatusBadGateway
	default:
		status = http.StatusInternalServerError
	}

	var e *upload.Error
	message := "Internal server error"
	if errors.As(err, &e) {
		message = e.Message
	}

	if status >= 500 {
		slog.Error("request failed", "code", code, "error", err)
	}

	sendError(w, message, string(code), status)
}

// decodeJSON parses a request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
