package api

import (
	"context"
	"net/http"

	apiContext "formhook/internal/api/context"
	"formhook/internal/api/handlers"
	"formhook/internal/api/middleware"
	"formhook/internal/pkg/errors"
	"formhook/internal/pkg/parser"
	"formhook/internal/platform/auth"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
)

type Dependencies struct {
	AuthHandler    *handlers.AuthHandler
	UserHandler    *handlers.UserHandler
	WebhookHandler *handlers.WebhookHandler
	IngestHandler  *handlers.IngestHandler
	LiveHandler    *handlers.LiveHandler
	HealthHandler  *handlers.HealthHandler
	MetricsHandler *handlers.MetricsHandler
	AuditHandler   *handlers.AuditHandler
	AuthMiddleware *middleware.AuthMiddleware
	RateLimiter    *middleware.RateLimiter
	ProxyResolver  *parser.ProxyResolver

	LivePath         string
	AllowedOrigins   []string
	ReceivePerMinute int
	LoginPerMinute   int
}

func NewRouter(deps *Dependencies) http.Handler {
	router := httprouter.New()
	authMid := deps.AuthMiddleware.Handle
	admin := requireRole(auth.RoleAdmin)

	livePath := deps.LivePath
	if livePath == "" {
		livePath = "/ws"
	}

	// Public inbound endpoint for Typeform deliveries
	router.POST("/api/webhooks/:id/receive", chain("receive", deps.IngestHandler.Receive,
		deps.RateLimiter.Limit("receive", deps.ReceivePerMinute)))

	// Authentication routes
	router.POST("/api/auth/login", chain("login", deps.AuthHandler.Login,
		deps.RateLimiter.Limit("login", deps.LoginPerMinute)))
	router.POST("/api/auth/refresh", chain("refresh", deps.AuthHandler.Refresh))
	router.GET("/api/auth/me", chain("me", deps.AuthHandler.Me, authMid))

	// Webhook management
	router.GET("/api/webhooks", chain("webhooks_list", deps.WebhookHandler.List, authMid))
	router.POST("/api/webhooks", chain("webhooks_create", deps.WebhookHandler.Create, authMid))
	router.GET("/api/webhooks/:id", chain("webhooks_get", deps.WebhookHandler.Get, authMid))
	router.PATCH("/api/webhooks/:id", chain("webhooks_update", deps.WebhookHandler.Update, authMid))
	router.DELETE("/api/webhooks/:id", chain("webhooks_delete", deps.WebhookHandler.Delete, authMid))
	router.GET("/api/webhooks/:id/responses", chain("webhooks_responses", deps.WebhookHandler.Responses, authMid))

	// User management
	router.GET("/api/users", chain("users_list", deps.UserHandler.List, authMid, admin))
	router.POST("/api/users", chain("users_create", deps.UserHandler.Create, authMid, admin))

	router.GET("/api/audit", chain("audit", deps.AuditHandler.List, authMid, admin))
	router.GET("/api/metrics", chain("dashboard", deps.MetricsHandler.Dashboard, authMid))
	router.GET("/api/live/stats", chain("live_stats", deps.LiveHandler.Stats, authMid))

	// Live dashboard channel
	router.GET(livePath, chain("live", deps.LiveHandler.Connect))

	router.GET("/health", wrap(deps.HealthHandler.Check))
	router.GET("/metrics", wrap(deps.MetricsHandler.Export))

	router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Route not found", nil)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
	})

	return middleware.RealIP(deps.ProxyResolver)(middleware.RequestLogger(c.Handler(router)))
}

// chain applies middlewares outermost first and instruments the result
// under name.
func chain(name string, handler http.HandlerFunc, middlewares ...func(http.HandlerFunc) http.HandlerFunc) httprouter.Handle {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return wrap(middleware.Instrument(name)(handler))
}

// Convert http.HandlerFunc to httprouter.Handle
func wrap(handler http.HandlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		ctx := context.WithValue(r.Context(), apiContext.Params, ps)
		handler(w, r.WithContext(ctx))
	}
}

func requireRole(roles ...string) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			claims := middleware.ClaimsFrom(r.Context())

			allowed := false
			for _, role := range roles {
				if claims != nil && claims.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Insufficient permissions", nil)
				return
			}

			next(w, r)
		}
	}
}
