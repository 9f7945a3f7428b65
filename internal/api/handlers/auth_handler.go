package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"formhook/internal/pkg/errors"
	"formhook/internal/platform/audit"
	"formhook/internal/platform/auth"
	"formhook/internal/platform/models"
	"formhook/internal/platform/repositories"

	"github.com/rs/zerolog/log"
)

type AuthHandler struct {
	userRepo *repositories.UserRepository
	tokenSvc *auth.TokenService
	audit    *audit.Logger
}

func NewAuthHandler(userRepo *repositories.UserRepository, tokenSvc *auth.TokenService, auditLogger *audit.Logger) *AuthHandler {
	return &AuthHandler{
		userRepo: userRepo,
		tokenSvc: tokenSvc,
		audit:    auditLogger,
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken  string       `json:"access_token"`
	RefreshToken string       `json:"refresh_token"`
	User         *models.User `json:"user"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	if req.Username == "" || req.Password == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Username and password are required", nil)
		return
	}

	user, err := h.userRepo.GetByUsername(r.Context(), req.Username)
	if err != nil {
		log.Error().Err(err).Msg("login lookup failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid credentials", nil)
		return
	}

	resp, ok := h.issueTokens(w, user)
	if !ok {
		return
	}

	now := time.Now().Unix()
	if err := h.userRepo.UpdateLastLogin(r.Context(), user.ID, now); err != nil {
		log.Warn().Err(err).Int64("user_id", user.ID).Msg("failed to record last login")
	} else {
		user.LastLoginAt = &now
	}
	h.audit.Log(r, user.ID, audit.ActionLogin, audit.ResourceUser, strconv.FormatInt(user.ID, 10), nil)

	errors.WriteJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	userID, err := h.tokenSvc.ValidateRefreshToken(req.RefreshToken)
	if err != nil {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid or expired refresh token", nil)
		return
	}

	user, err := h.userRepo.GetByID(r.Context(), userID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if user == nil {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "User no longer exists", nil)
		return
	}

	resp, ok := h.issueTokens(w, user)
	if !ok {
		return
	}
	errors.WriteJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := currentClaims(w, r)
	if !ok {
		return
	}

	user, err := h.userRepo.GetByID(r.Context(), claims.UserID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if user == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "User not found", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, user)
}

func (h *AuthHandler) issueTokens(w http.ResponseWriter, user *models.User) (*LoginResponse, bool) {
	accessToken, err := h.tokenSvc.GenerateAccessToken(user.ID, user.Username, roleFor(user))
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate token", nil)
		return nil, false
	}

	refreshToken, err := h.tokenSvc.GenerateRefreshToken(user.ID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate token", nil)
		return nil, false
	}

	return &LoginResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         user,
	}, true
}
