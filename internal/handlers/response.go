package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"aiprojekt-backend/internal/logger"
	"aiprojekt-backend/internal/models"
	"aiprojekt-backend/internal/services"
)

// Shared helpers

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(message string, loc *time.Location) models.ErrorResponse {
	return models.ErrorResponse{
		Error:     message,
		Timestamp: models.FormatTime(time.Now(), loc),
	}
}

// handleServiceError maps a service failure onto the error envelope.
// Validation failures are the caller's fault; everything else is a 500 whose
// message is the failure text without internal detail beyond the cause.
func handleServiceError(w http.ResponseWriter, r *http.Request, err error, loc *time.Location) {
	kind := services.KindOf(err)
	if kind == services.KindValidation {
		writeJSON(w, http.StatusBadRequest, errorResp(validationMessage(err), loc))
		return
	}

	logger.L.Error("request failed",
		"method", r.Method,
		"path", r.URL.Path,
		"kind", kind.String(),
		"error", err,
	)
	writeJSON(w, http.StatusInternalServerError, errorResp(err.Error(), loc))
}

// validationMessage returns the cause held by the innermost *services.Error,
// however deeply it is wrapped.
func validationMessage(err error) string {
	var innermost *services.Error
	for next := err; next != nil; {
		var e *services.Error
		if !errors.As(next, &e) {
			break
		}
		innermost = e
		next = e.Err
	}
	if innermost == nil {
		return err.Error()
	}
	return innermost.Cause()
}
