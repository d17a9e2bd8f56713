package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/randalmurphal/orch/internal/events"
	"github.com/randalmurphal/orch/internal/task"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	snapshotTimeout = 5 * time.Second
)

// WSMessage is a message sent by a client.
type WSMessage struct {
	Type   string `json:"type"` // steer, ping
	TaskID int64  `json:"taskId,omitempty"`
	Input  string `json:"input,omitempty"`
}

// wsBackend is what the socket needs from the server.
type wsBackend interface {
	recentTasks(ctx context.Context) ([]*task.Task, error)
	steer(taskID int64, input string) bool
}

// WSHandler manages WebSocket connections. Every client receives the task
// list on connect and again after each lifecycle event, plus live output
// chunks for every running task.
type WSHandler struct {
	upgrader    websocket.Upgrader
	publisher   events.Publisher
	backend     wsBackend
	connections map[*websocket.Conn]*wsConnection
	mu          sync.RWMutex
	logger      *slog.Logger
}

// wsConnection tracks a single WebSocket connection.
type wsConnection struct {
	id        string
	conn      *websocket.Conn
	eventChan <-chan events.Event
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(pub events.Publisher, backend wsBackend, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		publisher:   pub,
		backend:     backend,
		connections: make(map[*websocket.Conn]*wsConnection),
		logger:      logger,
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	wsConn := &wsConnection{
		id:        uuid.NewString(),
		conn:      conn,
		eventChan: h.publisher.Subscribe(events.GlobalTaskID),
		send:      make(chan []byte, 256),
		done:      make(chan struct{}),
	}

	h.mu.Lock()
	h.connections[conn] = wsConn
	h.mu.Unlock()
	h.logger.Debug("websocket connected", "client_id", wsConn.id)

	go h.writePump(wsConn)
	go h.forwardEvents(wsConn)
	h.sendTasks(wsConn)
	go h.readPump(wsConn)
}

// readPump reads messages from the WebSocket connection.
func (h *WSHandler) readPump(c *wsConnection) {
	defer h.closeConnection(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}
		h.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (h *WSHandler) writePump(c *wsConnection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes incoming WebSocket messages.
func (h *WSHandler) handleMessage(c *wsConnection, data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.sendError(c, "invalid message format")
		return
	}

	switch msg.Type {
	case "steer":
		ok := msg.TaskID != 0 && msg.Input != "" && h.backend.steer(msg.TaskID, msg.Input)
		h.logger.Info("websocket steer", "task_id", msg.TaskID, "success", ok)
		h.sendJSON(c, map[string]any{
			"type":    "steerResult",
			"taskId":  msg.TaskID,
			"success": ok,
		})
	case "ping":
		h.sendJSON(c, map[string]any{"type": "pong"})
	default:
		h.sendError(c, "unknown message type: "+msg.Type)
	}
}

// forwardEvents relays published events to the client. Output chunks are
// sent as they arrive; lifecycle events trigger a fresh task list.
func (h *WSHandler) forwardEvents(c *wsConnection) {
	for {
		select {
		case <-c.done:
			return
		case event, ok := <-c.eventChan:
			if !ok {
				return
			}
			switch event.Type {
			case events.EventOutput:
				msg := map[string]any{
					"type":   "output",
					"taskId": event.TaskID,
				}
				if chunk, ok := event.Data.(events.OutputChunk); ok {
					msg["chunk"] = chunk.Chunk
					msg["stream"] = chunk.Stream
				}
				h.sendJSON(c, msg)
			case events.EventTaskCreated, events.EventTaskUpdated, events.EventTaskDeleted:
				h.sendTasks(c)
			default:
				h.sendJSON(c, map[string]any{
					"type":   "event",
					"event":  string(event.Type),
					"taskId": event.TaskID,
					"data":   event.Data,
					"time":   event.Time,
				})
			}
		}
	}
}

// sendTasks sends the current task list.
func (h *WSHandler) sendTasks(c *wsConnection) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()

	tasks, err := h.backend.recentTasks(ctx)
	if err != nil {
		h.logger.Error("load tasks for websocket failed", "client_id", c.id, "error", err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	h.sendJSON(c, map[string]any{"type": "tasks", "tasks": tasks})
}

// closeConnection cleans up a WebSocket connection.
func (h *WSHandler) closeConnection(c *wsConnection) {
	h.mu.Lock()
	_, exists := h.connections[c.conn]
	delete(h.connections, c.conn)
	h.mu.Unlock()
	if !exists {
		return
	}

	c.closeOnce.Do(func() {
		h.publisher.Unsubscribe(events.GlobalTaskID, c.eventChan)
		close(c.done)
		_ = c.conn.Close()
	})
	h.logger.Debug("websocket disconnected", "client_id", c.id)
}

// sendJSON sends a JSON message to a connection.
func (h *WSHandler) sendJSON(c *wsConnection, data any) {
	msg, err := json.Marshal(data)
	if err != nil {
		h.logger.Error("failed to marshal JSON", "error", err)
		return
	}

	select {
	case <-c.done:
	case c.send <- msg:
	default:
		h.logger.Warn("websocket send buffer full, dropping message", "client_id", c.id)
	}
}

// sendError sends an error message to a connection.
func (h *WSHandler) sendError(c *wsConnection, message string) {
	h.sendJSON(c, map[string]any{
		"type":  "error",
		"error": message,
	})
}

// ConnectionCount returns the number of active connections.
func (h *WSHandler) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Close closes all connections.
func (h *WSHandler) Close() {
	h.mu.RLock()
	conns := make([]*wsConnection, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		h.closeConnection(c)
	}
}
