package handlers

import (
	"net/http"
	"net/url"
	"strings"

	"formhook/internal/api/middleware"
	"formhook/internal/engine/live"
	"formhook/internal/pkg/errors"
	"formhook/internal/pkg/parser"
	"formhook/internal/platform/config"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// LiveHandler upgrades dashboard clients onto the hub.
type LiveHandler struct {
	hub      *live.Hub
	auth     *middleware.AuthMiddleware
	upgrader websocket.Upgrader
	cfg      config.LiveConfig
}

func NewLiveHandler(hub *live.Hub, authMw *middleware.AuthMiddleware, cfg config.LiveConfig, allowedOrigins []string) *LiveHandler {
	return &LiveHandler{
		hub:  hub,
		auth: authMw,
		cfg:  cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// originChecker allows any origin when the list is empty.
func originChecker(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.ToLower(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		if len(set) == 0 {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

func (h *LiveHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if h.cfg.RequireAuth {
		token := r.URL.Query().Get("token")
		if token == "" {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Missing token", nil)
			return
		}
		if _, err := h.auth.Validate(token); err != nil {
			errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid or expired token", nil)
			return
		}
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	remote := parser.ClientIP(r)
	client := parser.ParseUserAgent(r.UserAgent())
	log.Debug().
		Str("remote", remote).
		Str("os", client.OS).
		Str("browser", client.Browser).
		Msg("live client connected")

	h.hub.Serve(ws, remote, live.ServeOptions{
		PingInterval: h.cfg.PingInterval,
		PongWait:     h.cfg.PongWait,
	})
}

func (h *LiveHandler) Stats(w http.ResponseWriter, r *http.Request) {
	errors.WriteJSON(w, http.StatusOK, map[string]int{
		"connections": h.hub.ClientCount(),
	})
}
