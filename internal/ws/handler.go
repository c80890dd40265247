// README: WebSocket transport for dashboard subscribers.
package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/WOWMediaprod/Logisticsdash-sub001/internal/modules/hub"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// controlMessage is what a dashboard sends to manage its subscriptions.
type controlMessage struct {
	Action string `json:"action"`
	Scope  string `json:"scope"`
}

type Handler struct {
	hub      *hub.Hub
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(h *hub.Hub, logger *slog.Logger) *Handler {
	return &Handler{
		hub:    h,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Dashboards are served from the back-office origin; auth
			// happens upstream of this engine.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Serve upgrades the request and runs the connection until it closes. Each
// connection gets a fresh id; reconnects re-join and receive a new snapshot.
func (h *Handler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	connID := uuid.NewString()
	out := h.hub.Register(connID)

	go h.writer(conn, out)
	h.reader(conn, connID)
}

// reader consumes join/leave control messages until the connection drops,
// then tears the subscription state down.
func (h *Handler) reader(conn *websocket.Conn, connID string) {
	defer func() {
		h.hub.Disconnect(connID)
		conn.Close()
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg controlMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		scope, err := hub.ParseScope(msg.Scope)
		if err != nil {
			h.logger.Debug("ignoring control message with bad scope", "conn", connID, "scope", msg.Scope)
			continue
		}
		switch msg.Action {
		case "join":
			if err := h.hub.Join(connID, scope); err != nil {
				return
			}
		case "leave":
			h.hub.Leave(connID, scope)
		default:
			h.logger.Debug("ignoring unknown control action", "conn", connID, "action", msg.Action)
		}
	}
}

// writer drains the hub's outbound stream onto the socket and keeps the
// connection alive with pings. It owns all writes to the connection.
func (h *Handler) writer(conn *websocket.Conn, out <-chan []byte) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case payload, ok := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
