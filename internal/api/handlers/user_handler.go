package handlers

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	"formhook/internal/pkg/errors"
	"formhook/internal/platform/auth"
	"formhook/internal/platform/models"
	"formhook/internal/platform/repositories"
)

// UserHandler is the admin-only account surface.
type UserHandler struct {
	userRepo   *repositories.UserRepository
	bcryptCost int
}

func NewUserHandler(userRepo *repositories.UserRepository, bcryptCost int) *UserHandler {
	return &UserHandler{userRepo: userRepo, bcryptCost: bcryptCost}
}

type CreateUserRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	IsRootAdmin bool   `json:"is_root_admin"`
}

func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	users, err := h.userRepo.List(r.Context())
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	errors.WriteJSON(w, http.StatusOK, users)
}

func (h *UserHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || len(req.Password) < 8 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Username and a password of at least 8 characters are required", nil)
		return
	}

	hash, err := auth.HashPassword(req.Password, h.bcryptCost)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to hash password", nil)
		return
	}

	user := &models.User{
		Username:     req.Username,
		PasswordHash: hash,
		IsRootAdmin:  req.IsRootAdmin,
	}
	if err := h.userRepo.Create(r.Context(), user); err != nil {
		if stderrors.Is(err, repositories.ErrDuplicate) {
			errors.WriteError(w, http.StatusConflict, errors.ErrCodeConflict, "User already exists", nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to create user", nil)
		return
	}
	errors.WriteJSON(w, http.StatusCreated, user)
}
