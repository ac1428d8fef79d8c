package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/esrioverlay/internal/engine"
	"github.com/MeKo-Tech/esrioverlay/internal/types"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 20 * time.Second
	wsMaxMessage = 4096
)

// ClientMessage is sent by browser clients over /ws.
type ClientMessage struct {
	Type string     `json:"type"` // "viewport"
	BBox [4]float64 `json:"bbox"`
	Zoom float64    `json:"zoom"`
}

// wsHandler pushes map change events to clients and accepts viewport updates.
type wsHandler struct {
	m        *engine.Map
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func newWSHandler(m *engine.Map, logger *slog.Logger) *wsHandler {
	return &wsHandler{
		m:      m,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := h.m.Changes()
	defer unsubscribe()

	c := &wsConn{conn: conn}
	done := make(chan struct{})
	go func() {
		defer close(done)
		h.readLoop(c)
	}()

	h.logger.Debug("WebSocket client connected", "remote", r.RemoteAddr)
	defer h.logger.Debug("WebSocket client disconnected", "remote", r.RemoteAddr)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := c.writeJSON(e); err != nil {
				h.logger.Debug("WebSocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.ping(); err != nil {
				h.logger.Debug("WebSocket ping failed", "error", err)
				return
			}
		}
	}
}

// readLoop applies viewport messages until the connection fails.
func (h *wsHandler) readLoop(c *wsConn) {
	c.conn.SetReadLimit(wsMaxMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocket read failed", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			h.reply(c, "invalid message: "+err.Error())
			continue
		}

		switch msg.Type {
		case "viewport":
			v := types.Viewport{Bounds: types.NewBoundingBox(msg.BBox), Zoom: msg.Zoom}
			if err := h.m.SetViewport(v); err != nil {
				h.reply(c, err.Error())
			}
		default:
			h.reply(c, "unknown message type: "+msg.Type)
		}
	}
}

func (h *wsHandler) reply(c *wsConn, message string) {
	if err := c.writeJSON(engine.Event{Type: "error", Message: message}); err != nil {
		h.logger.Debug("WebSocket write failed", "error", err)
	}
}

// wsConn serializes writes; gorilla connections allow one concurrent writer.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}
