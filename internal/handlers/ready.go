package handlers

import (
	"context"
	"net/http"
	"time"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type ReadyHandler struct {
	store    pinger
	location *time.Location
}

func NewReadyHandler(store pinger, loc *time.Location) *ReadyHandler {
	return &ReadyHandler{store: store, location: loc}
}

// Ready reports whether the persistence store answers.
func (h *ReadyHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResp("store unavailable: "+err.Error(), h.location))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
