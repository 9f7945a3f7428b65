package handlers

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"formhook/internal/engine/live"
	"formhook/internal/pkg/errors"
)

type HealthHandler struct {
	db  *sql.DB
	hub *live.Hub
}

func NewHealthHandler(db *sql.DB, hub *live.Hub) *HealthHandler {
	return &HealthHandler{db: db, hub: hub}
}

func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.db.PingContext(ctx); err != nil {
		checks["database"] = "unhealthy: " + err.Error()
		status = "degraded"
	} else {
		checks["database"] = "healthy"
	}

	checks["live_connections"] = strconv.Itoa(h.hub.ClientCount())

	response := struct {
		Status    string            `json:"status"`
		Timestamp int64             `json:"timestamp"`
		Checks    map[string]string `json:"checks"`
	}{
		Status:    status,
		Timestamp: time.Now().Unix(),
		Checks:    checks,
	}

	statusCode := http.StatusOK
	if status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	errors.WriteJSON(w, statusCode, response)
}
