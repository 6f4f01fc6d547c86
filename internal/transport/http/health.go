package http

import (
	"context"
	"net/http"
	"time"
)

// Pinger reports backing-service liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DeadLetterCounter exposes the depth of the dead-letter queue.
type DeadLetterCounter interface {
	DeadLetterCount(ctx context.Context) (int64, error)
}

// Health serves liveness and readiness probes.
type Health struct {
	DB    Pinger
	Queue DeadLetterCounter
}

func (h *Health) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Health) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	payload := map[string]any{"status": "ok"}
	status := http.StatusOK

	if h.DB != nil {
		if err := h.DB.Ping(ctx); err != nil {
			payload["status"] = "degraded"
			payload["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	if h.Queue != nil {
		if depth, err := h.Queue.DeadLetterCount(ctx); err == nil {
			payload["deadLetterDepth"] = depth
		}
	}

	writeJSON(w, status, payload)
}
