package handlers

import (
	stderrors "errors"
	"io"
	"net/http"

	"formhook/internal/engine/ingest"
	"formhook/internal/engine/webhooks"
	"formhook/internal/pkg/errors"
	"formhook/internal/platform/metrics"

	"github.com/rs/zerolog/log"
)

// IngestHandler is the public endpoint Typeform delivers submissions to.
type IngestHandler struct {
	svc          *ingest.Service
	maxBodyBytes int64
}

func NewIngestHandler(svc *ingest.Service, maxBodyBytes int64) *IngestHandler {
	return &IngestHandler{svc: svc, maxBodyBytes: maxBodyBytes}
}

func (h *IngestHandler) Receive(w http.ResponseWriter, r *http.Request) {
	// Shares the :id segment with the admin routes; here it is the form id.
	formID := params(r).ByName("id")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			metrics.IngestDeliveries.WithLabelValues("too_large").Inc()
			log.Warn().Str("form_id", formID).Int64("limit", tooLarge.Limit).Msg("inbound delivery too large")
			errors.WriteError(w, http.StatusRequestEntityTooLarge, errors.ErrCodePayloadTooLarge, "Payload too large", nil)
			return
		}
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Could not read request body", nil)
		return
	}

	res, err := h.svc.Receive(r.Context(), ingest.Delivery{
		FormID:    formID,
		Body:      body,
		Signature: r.Header.Get(webhooks.SignatureHeader),
	})
	if err != nil {
		switch {
		case stderrors.Is(err, ingest.ErrInvalidSignature):
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid signature", nil)
		case stderrors.Is(err, ingest.ErrUnknownWebhook):
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Webhook not found", nil)
		case stderrors.Is(err, ingest.ErrMalformedPayload):
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid webhook payload", nil)
		default:
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to store response", nil)
		}
		return
	}

	status := http.StatusCreated
	if res.Duplicate {
		status = http.StatusOK
	}
	errors.WriteJSON(w, status, res.Response)
}
