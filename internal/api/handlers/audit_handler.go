package handlers

import (
	"net/http"
	"strconv"

	"formhook/internal/pkg/errors"
	"formhook/internal/platform/audit"
)

type AuditHandler struct {
	audit *audit.Logger
}

func NewAuditHandler(auditLogger *audit.Logger) *AuditHandler {
	return &AuditHandler{audit: auditLogger}
}

func (h *AuditHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := h.audit.List(r.Context(), limit)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to fetch audit log", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, logs)
}
