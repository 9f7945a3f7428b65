package live

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const maxClientMessageSize = 4096

type ServeOptions struct {
	PingInterval time.Duration
	PongWait     time.Duration
}

// Serve runs one websocket for its whole life: handshake, registration,
// keepalive, and cleanup. It returns when the peer goes away.
func (h *Hub) Serve(ws *websocket.Conn, remote string, opts ServeOptions) {
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.PingInterval <= 0 || opts.PingInterval >= opts.PongWait {
		opts.PingInterval = opts.PongWait * 9 / 10
	}

	// Registered while still Connecting: broadcasts skip it until the
	// handshake opens it.
	c := NewConn(ws, remote)
	h.Register(c)
	defer h.Unregister(c)

	hello, _ := jsonEvent(Event{Type: EventConnected})
	if err := c.Handshake(hello, h.sendTimeout); err != nil {
		log.Debug().Err(err).Str("remote", remote).Msg("live handshake failed")
		return
	}

	done := make(chan struct{})
	defer close(done)
	go h.keepalive(c, ws, opts.PingInterval, done)

	ws.SetReadLimit(maxClientMessageSize)
	ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	// Clients are passive; frames are read only to notice close and pongs.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				log.Debug().Err(err).Str("conn_id", c.ID).Msg("live connection closed unexpectedly")
			}
			return
		}
	}
}

func (h *Hub) keepalive(c *Conn, ws *websocket.Conn, interval time.Duration, done <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if c.State() != StateOpen {
				return
			}
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.sendTimeout)); err != nil {
				h.Unregister(c)
				return
			}
		}
	}
}
