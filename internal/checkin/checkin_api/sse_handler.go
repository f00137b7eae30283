package checkin_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-checkin/internal/metrics"
	"ms-checkin/internal/utils"
)

var heartbeatInterval = 15 * time.Second

// StreamOccupancy handles GET /api/checkin/events/{eventId}/occupancy/stream. The
// subscription lives exactly as long as the request.
func (h *Handler) StreamOccupancy(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.operator(w, r); !ok {
		return
	}
	eventID := chi.URLParam(r, "eventId")

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.WriteError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	setupSSEHeaders(w)
	ctx := r.Context()
	updates := h.Service.Subscribe(ctx, eventID)

	metrics.OccupancySubscribers.Inc()
	defer metrics.OccupancySubscribers.Dec()

	fmt.Fprintf(w, "event: connected\ndata: {\"status\":\"connected\",\"event_id\":%q}\n\n", eventID)
	flusher.Flush()
	h.Logger.Info("SSE", fmt.Sprintf("Client connected to occupancy stream for event: %s", eventID))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				h.Logger.Debug("SSE", fmt.Sprintf("Channel closed for event: %s", eventID))
				return
			}
			jsonData, err := json.Marshal(update)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize occupancy update: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: occupancy\ndata: %s\n\n", jsonData)
			flusher.Flush()

		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Debug("SSE", fmt.Sprintf("Client disconnected from occupancy stream for: %s", eventID))
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
