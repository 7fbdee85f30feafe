package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"aiprojekt-backend/internal/models"
)

func writeError(w http.ResponseWriter, status int, message string, loc *time.Location) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.ErrorResponse{
		Error:     message,
		Timestamp: models.FormatTime(time.Now(), loc),
	})
}
