package api

import (
	"context"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

// Health reports dependency status. A failing check or a registry running on
// its in-memory fallback reports "degraded" but still answers 200, since
// turns keep being served.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	status := "ok"
	checks := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		if err := c.Ping(ctx); err != nil {
			checks[c.Name] = err.Error()
			status = "degraded"
			continue
		}
		checks[c.Name] = "ok"
	}

	fallback := h.registry.Degraded()
	if fallback {
		status = "degraded"
	}
	JSON(w, http.StatusOK, map[string]any{
		"status":           status,
		"checks":           checks,
		"sessionsFallback": fallback,
	})
}
