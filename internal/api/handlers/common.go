package handlers

import (
	"net/http"
	"strconv"

	apiContext "formhook/internal/api/context"
	"formhook/internal/api/middleware"
	"formhook/internal/pkg/errors"
	"formhook/internal/platform/auth"
	"formhook/internal/platform/models"

	"github.com/julienschmidt/httprouter"
)

func params(r *http.Request) httprouter.Params {
	ps, _ := r.Context().Value(apiContext.Params).(httprouter.Params)
	return ps
}

// idParam parses a numeric route parameter, writing a 400 when it is not one.
func idParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(params(r).ByName(name), 10, 64)
	if err != nil || id <= 0 {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid "+name, nil)
		return 0, false
	}
	return id, true
}

func canAccess(claims *auth.Claims, webhook *models.Webhook) bool {
	return claims != nil && (webhook.UserID == claims.UserID || claims.Role == auth.RoleAdmin)
}

func currentClaims(w http.ResponseWriter, r *http.Request) (*auth.Claims, bool) {
	claims := middleware.ClaimsFrom(r.Context())
	if claims == nil {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Not authenticated", nil)
		return nil, false
	}
	return claims, true
}

func roleFor(user *models.User) string {
	if user.IsRootAdmin {
		return auth.RoleAdmin
	}
	return auth.RoleUser
}
