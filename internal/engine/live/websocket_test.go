package live

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWSServer(t *testing.T, h *Hub) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.Serve(ws, r.RemoteAddr, ServeOptions{PingInterval: 50 * time.Millisecond, PongWait: time.Second})
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readEvent(t *testing.T, ws *websocket.Conn) Event {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestServe_HandshakeBroadcastAndClose(t *testing.T) {
	h := NewHub(Options{SendTimeout: time.Second, Concurrency: 4})
	url := startWSServer(t, h)

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	assert.Equal(t, EventConnected, readEvent(t, ws).Type)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	report := h.Broadcast(context.Background(), NewResponseEvent(4, json.RawMessage(`{"form_response":{"answers":[]}}`)))
	assert.Equal(t, 1, report.Delivered)

	ev := readEvent(t, ws)
	assert.Equal(t, EventNewResponse, ev.Type)
	assert.Equal(t, int64(4), ev.WebhookID)

	ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	ws.Close()

	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServe_RegisteredBeforeGreeting(t *testing.T) {
	h := NewHub(Options{SendTimeout: time.Second, Concurrency: 4})
	url := startWSServer(t, h)

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	assert.Equal(t, EventConnected, readEvent(t, ws).Type)
	// Once the greeting is read, the channel is registered and open.
	assert.Equal(t, 1, h.ClientCount())

	report := h.Broadcast(context.Background(), Event{Type: EventNewResponse, WebhookID: 7})
	assert.Equal(t, Report{Delivered: 1}, report)
	assert.Equal(t, int64(7), readEvent(t, ws).WebhookID)
}

func TestServe_AbruptDisconnectUnregisters(t *testing.T) {
	h := NewHub(Options{SendTimeout: time.Second, Concurrency: 4})
	url := startWSServer(t, h)

	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	readEvent(t, ws)
	require.Eventually(t, func() bool { return h.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	// Drop the TCP connection without a close frame.
	ws.UnderlyingConn().Close()

	require.Eventually(t, func() bool { return h.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)

	report := h.Broadcast(context.Background(), Event{Type: EventNewResponse, WebhookID: 1})
	assert.Equal(t, Report{}, report)
}
