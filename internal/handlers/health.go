package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// Check probes one backing dependency.
type Check func(ctx context.Context) error

type HealthHandler struct {
	checks map[string]Check
	logger *logrus.Logger
}

func NewHealthHandler(checks map[string]Check, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, logger: logger}
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	res := HealthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			h.logger.WithError(err).WithField("check", name).Warn("Health check failed")
			res.Checks[name] = "unavailable"
			res.Status = "degraded"
			status = http.StatusServiceUnavailable
			continue
		}
		res.Checks[name] = "ok"
	}

	respondWithJSON(w, status, res)
}
