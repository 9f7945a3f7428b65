package handlers

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strconv"
	"strings"

	"formhook/internal/engine/typeform"
	"formhook/internal/pkg/errors"
	"formhook/internal/pkg/validator"
	"formhook/internal/platform/audit"
	"formhook/internal/platform/models"
	"formhook/internal/platform/repositories"

	"github.com/rs/zerolog/log"
)

// RemoteWebhooks registers receive URLs with the form provider.
type RemoteWebhooks interface {
	Configured() bool
	FormExists(ctx context.Context, formID string) (bool, error)
	CreateWebhook(ctx context.Context, formID, tag, targetURL string) (*typeform.RemoteWebhook, error)
	DeleteWebhook(ctx context.Context, formID, tag string) error
}

type WebhookHandler struct {
	webhooks  *repositories.WebhookRepository
	responses *repositories.ResponseRepository
	remote    RemoteWebhooks
	audit     *audit.Logger
	publicURL string
}

func NewWebhookHandler(webhooks *repositories.WebhookRepository, responses *repositories.ResponseRepository, remote RemoteWebhooks, auditLogger *audit.Logger, publicURL string) *WebhookHandler {
	return &WebhookHandler{
		webhooks:  webhooks,
		responses: responses,
		remote:    remote,
		audit:     auditLogger,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

type CreateWebhookRequest struct {
	Name                 string   `json:"name"`
	TypeformID           string   `json:"typeformId"`
	NotifyEmail          bool     `json:"notifyEmail"`
	NotifyEmailAddresses []string `json:"notifyEmailAddresses"`
}

// UpdateWebhookRequest is a partial update; absent fields keep their value.
type UpdateWebhookRequest struct {
	Name                 *string   `json:"name"`
	TypeformID           *string   `json:"typeformId"`
	NotifyEmail          *bool     `json:"notifyEmail"`
	NotifyEmailAddresses *[]string `json:"notifyEmailAddresses"`
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentClaims(w, r)
	if !ok {
		return
	}

	webhooks, err := h.webhooks.ListByOwner(r.Context(), claims.UserID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to fetch webhooks", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, webhooks)
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentClaims(w, r)
	if !ok {
		return
	}

	var req CreateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	req.TypeformID = strings.TrimSpace(req.TypeformID)
	if req.Name == "" || req.TypeformID == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Name and typeformId are required", nil)
		return
	}

	addresses, err := validator.NotificationSettings(req.NotifyEmail, req.NotifyEmailAddresses)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}

	if !h.formAvailable(w, r, req.TypeformID, 0) {
		return
	}
	if !h.registerRemote(w, r, req.TypeformID) {
		return
	}

	webhook := &models.Webhook{
		UserID:               claims.UserID,
		Name:                 req.Name,
		TypeformID:           req.TypeformID,
		NotifyEmail:          req.NotifyEmail,
		NotifyEmailAddresses: addresses,
	}
	if err := h.webhooks.Create(r.Context(), webhook); err != nil {
		// On a duplicate the remote webhook shares its tag with the row that
		// won, so it must stay.
		if stderrors.Is(err, repositories.ErrDuplicate) {
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "A webhook for this form already exists", nil)
			return
		}
		h.deregisterRemote(r.Context(), req.TypeformID)
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create webhook", nil)
		return
	}

	h.audit.Log(r, claims.UserID, audit.ActionWebhookCreated, audit.ResourceWebhook, strconv.FormatInt(webhook.ID, 10), map[string]interface{}{
		"name":        webhook.Name,
		"typeform_id": webhook.TypeformID,
	})

	errors.WriteJSON(w, http.StatusCreated, webhook)
}

func (h *WebhookHandler) Get(w http.ResponseWriter, r *http.Request) {
	webhook, ok := h.load(w, r)
	if !ok {
		return
	}
	errors.WriteJSON(w, http.StatusOK, webhook)
}

func (h *WebhookHandler) Update(w http.ResponseWriter, r *http.Request) {
	webhook, ok := h.load(w, r)
	if !ok {
		return
	}
	claims, _ := currentClaims(w, r)

	var req UpdateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	updated := *webhook
	if req.Name != nil {
		updated.Name = strings.TrimSpace(*req.Name)
		if updated.Name == "" {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Name cannot be empty", nil)
			return
		}
	}
	if req.TypeformID != nil {
		updated.TypeformID = strings.TrimSpace(*req.TypeformID)
		if updated.TypeformID == "" {
			errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "typeformId cannot be empty", nil)
			return
		}
	}
	if req.NotifyEmail != nil {
		updated.NotifyEmail = *req.NotifyEmail
	}
	if req.NotifyEmailAddresses != nil {
		updated.NotifyEmailAddresses = *req.NotifyEmailAddresses
	}

	addresses, err := validator.NotificationSettings(updated.NotifyEmail, updated.NotifyEmailAddresses)
	if err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, err.Error(), nil)
		return
	}
	updated.NotifyEmailAddresses = addresses

	formChanged := updated.TypeformID != webhook.TypeformID
	if formChanged {
		if !h.formAvailable(w, r, updated.TypeformID, webhook.ID) {
			return
		}
		if !h.registerRemote(w, r, updated.TypeformID) {
			return
		}
	}

	if err := h.webhooks.Update(r.Context(), &updated); err != nil {
		if stderrors.Is(err, repositories.ErrDuplicate) {
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "A webhook for this form already exists", nil)
			return
		}
		if formChanged {
			h.deregisterRemote(r.Context(), updated.TypeformID)
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to update webhook", nil)
		return
	}
	if formChanged {
		h.deregisterRemote(r.Context(), webhook.TypeformID)
	}

	h.audit.Log(r, claims.UserID, audit.ActionWebhookUpdated, audit.ResourceWebhook, strconv.FormatInt(updated.ID, 10), map[string]interface{}{
		"name":        updated.Name,
		"typeform_id": updated.TypeformID,
	})

	errors.WriteJSON(w, http.StatusOK, &updated)
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	webhook, ok := h.load(w, r)
	if !ok {
		return
	}
	claims, _ := currentClaims(w, r)

	if h.remote.Configured() {
		if err := h.remote.DeleteWebhook(r.Context(), webhook.TypeformID, typeform.Tag(webhook.TypeformID)); err != nil {
			log.Error().Err(err).Str("form_id", webhook.TypeformID).Msg("remote webhook deregistration failed")
			errors.WriteError(w, http.StatusBadGateway, errors.ErrCodeUpstream, "Failed to remove webhook at Typeform", nil)
			return
		}
	}

	if err := h.webhooks.Delete(r.Context(), webhook.ID); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to delete webhook", nil)
		return
	}

	h.audit.Log(r, claims.UserID, audit.ActionWebhookDeleted, audit.ResourceWebhook, strconv.FormatInt(webhook.ID, 10), map[string]interface{}{
		"typeform_id": webhook.TypeformID,
	})

	w.WriteHeader(http.StatusNoContent)
}

// Responses returns every stored submission for the webhook in arrival order.
func (h *WebhookHandler) Responses(w http.ResponseWriter, r *http.Request) {
	webhook, ok := h.load(w, r)
	if !ok {
		return
	}

	responses, err := h.responses.ListByWebhook(r.Context(), webhook.ID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to fetch responses", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, responses)
}

// load resolves :id and enforces ownership.
func (h *WebhookHandler) load(w http.ResponseWriter, r *http.Request) (*models.Webhook, bool) {
	claims, ok := currentClaims(w, r)
	if !ok {
		return nil, false
	}
	id, ok := idParam(w, r, "id")
	if !ok {
		return nil, false
	}

	webhook, err := h.webhooks.GetByID(r.Context(), id)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to fetch webhook", nil)
		return nil, false
	}
	if webhook == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Webhook not found", nil)
		return nil, false
	}
	if !canAccess(claims, webhook) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Access denied", nil)
		return nil, false
	}
	return webhook, true
}

// formAvailable rejects form ids already routed by another webhook and,
// when the provider is reachable, form ids it does not know.
func (h *WebhookHandler) formAvailable(w http.ResponseWriter, r *http.Request, formID string, selfID int64) bool {
	existing, err := h.webhooks.FindByExternalID(r.Context(), formID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return false
	}
	if existing != nil && existing.ID != selfID {
		errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "A webhook for this form already exists", nil)
		return false
	}

	if !h.remote.Configured() {
		return true
	}
	exists, err := h.remote.FormExists(r.Context(), formID)
	if err != nil {
		log.Error().Err(err).Str("form_id", formID).Msg("typeform form lookup failed")
		errors.WriteError(w, http.StatusBadGateway, errors.ErrCodeUpstream, "Could not verify form at Typeform", nil)
		return false
	}
	if !exists {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Form not found at Typeform", nil)
		return false
	}
	return true
}

func (h *WebhookHandler) registerRemote(w http.ResponseWriter, r *http.Request, formID string) bool {
	if !h.remote.Configured() {
		log.Warn().Str("form_id", formID).Msg("typeform api token not set, skipping remote webhook registration")
		return true
	}

	target := h.receiveURL(r, formID)
	if _, err := h.remote.CreateWebhook(r.Context(), formID, typeform.Tag(formID), target); err != nil {
		log.Error().Err(err).Str("form_id", formID).Msg("remote webhook registration failed")
		errors.WriteError(w, http.StatusBadGateway, errors.ErrCodeUpstream, "Failed to register webhook at Typeform", nil)
		return false
	}
	log.Info().Str("form_id", formID).Str("url", target).Msg("registered remote webhook")
	return true
}

// deregisterRemote is best effort; the caller has already decided the outcome.
func (h *WebhookHandler) deregisterRemote(ctx context.Context, formID string) {
	if !h.remote.Configured() {
		return
	}
	if err := h.remote.DeleteWebhook(ctx, formID, typeform.Tag(formID)); err != nil {
		log.Warn().Err(err).Str("form_id", formID).Msg("failed to remove remote webhook")
	}
}

func (h *WebhookHandler) receiveURL(r *http.Request, formID string) string {
	base := h.publicURL
	if base == "" {
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}
		base = scheme + "://" + r.Host
	}
	return base + "/api/webhooks/" + formID + "/receive"
}
