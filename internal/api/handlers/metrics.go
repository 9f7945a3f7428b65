package handlers

import (
	"net/http"
	"time"

	"formhook/internal/engine/live"
	"formhook/internal/pkg/errors"
	"formhook/internal/platform/repositories"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsHandler struct {
	webhooks  *repositories.WebhookRepository
	responses *repositories.ResponseRepository
	hub       *live.Hub
	now       func() time.Time
	exporter  http.Handler
}

func NewMetricsHandler(webhooks *repositories.WebhookRepository, responses *repositories.ResponseRepository, hub *live.Hub) *MetricsHandler {
	return &MetricsHandler{
		webhooks:  webhooks,
		responses: responses,
		hub:       hub,
		now:       time.Now,
		exporter:  promhttp.Handler(),
	}
}

type DashboardMetrics struct {
	TotalWebhooks   int `json:"totalWebhooks"`
	TotalResponses  int `json:"totalResponses"`
	ResponsesToday  int `json:"responsesToday"`
	LiveConnections int `json:"liveConnections"`
}

// Export serves the Prometheus exposition format.
func (h *MetricsHandler) Export(w http.ResponseWriter, r *http.Request) {
	h.exporter.ServeHTTP(w, r)
}

// Dashboard summarizes the caller's webhooks. "Today" starts at local midnight.
func (h *MetricsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentClaims(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	totalWebhooks, err := h.webhooks.Count(ctx, claims.UserID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to fetch metrics", nil)
		return
	}
	totalResponses, err := h.responses.CountByOwner(ctx, claims.UserID, 0)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to fetch metrics", nil)
		return
	}

	now := h.now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	today, err := h.responses.CountByOwner(ctx, claims.UserID, midnight.UnixMilli())
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to fetch metrics", nil)
		return
	}

	errors.WriteJSON(w, http.StatusOK, DashboardMetrics{
		TotalWebhooks:   totalWebhooks,
		TotalResponses:  totalResponses,
		ResponsesToday:  today,
		LiveConnections: h.hub.ClientCount(),
	})
}
